package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/freedkr/bc3tree/internal/model"
)

// 记录最少字段数（含类型字段）
const (
	minConceptFields       = 3
	minDecompositionFields = 3
	minMeasurementFields   = 4
	minTextFields          = 3
	minSpecTextFields      = 3

	componentStride = 3
	lineStride      = 6
)

var bimIDRegex = regexp.MustCompile(`\{#?([^{}#]+)#?\}`)

// recordParser 按记录类型将字段数组转为实体
type recordParser struct {
	subSep string
	diag   *model.Diagnostics
}

func (rp *recordParser) malformed(rec *RawRecord, message string) *model.MalformedRecordError {
	return model.NewMalformedRecordError(rec.Type, rec.Index, len(rec.Fields), rec.Raw, message)
}

// parseConcept ~C|code|unit|summary|price|date|type|
func (rp *recordParser) parseConcept(rec *RawRecord) (*model.Concept, error) {
	if len(rec.Fields) < minConceptFields {
		return nil, rp.malformed(rec, "字段数不足")
	}
	code := firstSubField(rec.Field(1), rp.subSep)
	if code == "" {
		return nil, rp.malformed(rec, "概念编码为空")
	}

	concept := &model.Concept{
		Code:      code,
		Unit:      rec.Field(2),
		Summary:   UnescapeField(rec.Field(3)),
		PriceDate: firstSubField(rec.Field(5), rp.subSep),
		RawType:   rec.Field(6),
	}
	if raw := firstSubField(rec.Field(4), rp.subSep); raw != "" {
		concept.UnitPrice = ParseDecimal(raw)
		if !concept.UnitPrice.Valid {
			rp.diag.Warnf(DiagInvalidNumber, code, "概念 %s 的单价 '%s' 无法解析", code, raw)
		}
	}
	return concept, nil
}

// parseDecomposition ~D|parent|child\factor\yield\...|
func (rp *recordParser) parseDecomposition(rec *RawRecord) (*model.Decomposition, error) {
	if len(rec.Fields) < minDecompositionFields {
		return nil, rp.malformed(rec, "字段数不足")
	}
	parent := firstSubField(rec.Field(1), rp.subSep)
	if parent == "" {
		return nil, rp.malformed(rec, "父编码为空")
	}

	decomp := &model.Decomposition{ParentCode: parent, Components: make([]model.Component, 0)}
	parts := splitSubFields(rec.Field(2), rp.subSep)
	for i := 0; i+componentStride <= len(parts); i += componentStride {
		code := strings.TrimSpace(parts[i])
		if code == "" {
			break
		}
		decomp.Components = append(decomp.Components, model.Component{
			Code:   code,
			Factor: ParseDecimal(parts[i+1]),
			Yield:  ParseDecimal(parts[i+2]),
		})
	}
	return decomp, nil
}

// parseMeasurement ~M|[parent\]child|pos1\pos2|total|type\comment\count\length\width\height\...|[label]
func (rp *recordParser) parseMeasurement(rec *RawRecord) (*model.Measurement, error) {
	if len(rec.Fields) < minMeasurementFields {
		return nil, rp.malformed(rec, "字段数不足")
	}

	m := &model.Measurement{Lines: make([]model.MeasurementLine, 0)}
	codes := rec.Field(1)
	if idx := strings.Index(codes, rp.subSep); idx >= 0 {
		m.ParentCode = strings.TrimSpace(codes[:idx])
		m.ChildCode = firstSubField(codes[idx+len(rp.subSep):], rp.subSep)
	} else {
		m.ChildCode = strings.TrimSpace(codes)
	}
	if m.ChildCode == "" {
		return nil, rp.malformed(rec, "测量子编码为空")
	}

	positions, invalid := parsePositions(rec.Field(2), rp.subSep)
	m.Position = positions
	if invalid > 0 {
		rp.diag.Warnf(DiagInvalidNumber, m.ChildCode, "测量 %s 有 %d 个非法位置值", m.ChildCode, invalid)
	}
	m.DeclaredTotal = ParseDecimal(rec.Field(3))

	parts := splitSubFields(rec.Field(4), rp.subSep)
	for i := 0; i+lineStride <= len(parts); i += lineStride {
		m.Lines = append(m.Lines, rp.parseLine(parts[i:i+lineStride]))
	}
	m.Label = rec.Field(5)
	return m, nil
}

// parseLine type\comment\count\length\width\height
func (rp *recordParser) parseLine(parts []string) model.MeasurementLine {
	line := model.MeasurementLine{LineType: model.LineTypeUnspecified}

	if raw := strings.TrimSpace(parts[0]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			n = model.LineTypeNormal
		}
		line.LineType = n
	}

	comment := strings.TrimSpace(parts[1])
	if match := bimIDRegex.FindStringSubmatchIndex(comment); match != nil {
		line.BIMID = strings.TrimSpace(comment[match[2]:match[3]])
		comment = strings.TrimSpace(comment[:match[0]] + comment[match[1]:])
	}
	line.Comment = comment

	line.Count = ParseDecimal(parts[2])
	line.Length = ParseDecimal(parts[3])
	line.Width = ParseDecimal(parts[4])
	line.Height = ParseDecimal(parts[5])
	return line
}

// parseText ~T|code|text|
func (rp *recordParser) parseText(rec *RawRecord) (*model.Text, error) {
	if len(rec.Fields) < minTextFields {
		return nil, rp.malformed(rec, "字段数不足")
	}
	code := firstSubField(rec.Field(1), rp.subSep)
	if code == "" {
		return nil, rp.malformed(rec, "文本编码为空")
	}
	return &model.Text{Code: code, Text: UnescapeField(rec.Fields[2])}, nil
}

// parseSpecText ~X|code|text|type
func (rp *recordParser) parseSpecText(rec *RawRecord) (*model.SpecText, error) {
	if len(rec.Fields) < minSpecTextFields {
		return nil, rp.malformed(rec, "字段数不足")
	}
	code := firstSubField(rec.Field(1), rp.subSep)
	if code == "" {
		return nil, rp.malformed(rec, "条款编码为空")
	}
	return &model.SpecText{
		Code:       code,
		Text:       strings.TrimSpace(UnescapeField(rec.Fields[2])),
		ClauseType: rec.Field(3),
	}, nil
}
