// Package parser 实现BC3（FIEBDC）文件解析
package parser

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/freedkr/bc3tree/internal/model"
)

// 诊断类别
const (
	DiagMalformedRecord = "malformed_record"
	DiagUnknownRecord   = "unknown_record"
	DiagInvalidNumber   = "invalid_number"
)

// 记录类型
const (
	RecordConcept       = "C"
	RecordDecomposition = "D"
	RecordMeasurement   = "M"
	RecordText          = "T"
	RecordSpecText      = "X"
	RecordVersion       = "V"
	RecordProgram       = "K"
)

// ctxCheckInterval 每处理多少条记录检查一次取消
const ctxCheckInterval = 256

// BC3ParserImpl BC3解析器实现
type BC3ParserImpl struct {
	config       *ParserConfig
	recordStart  *regexp.Regexp
	versionRegex *regexp.Regexp
	programRegex *regexp.Regexp
}

// ParserConfig 解析器配置
type ParserConfig struct {
	Encoding          string   `yaml:"encoding" json:"encoding"`
	FallbackEncodings []string `yaml:"fallback_encodings" json:"fallback_encodings"`
	FieldSeparator    string   `yaml:"field_separator" json:"field_separator"`
	SubFieldSeparator string   `yaml:"sub_field_separator" json:"sub_field_separator"`
	RecordPrefix      string   `yaml:"record_prefix" json:"record_prefix"`
	ChapterMarker     string   `yaml:"chapter_marker" json:"chapter_marker"`
}

// DefaultParserConfig 默认配置：cp1252为主编码
func DefaultParserConfig() *ParserConfig {
	return &ParserConfig{
		Encoding:          "cp1252",
		FallbackEncodings: []string{"iso-8859-1", "utf-8", "cp850"},
		FieldSeparator:    "|",
		SubFieldSeparator: `\`,
		RecordPrefix:      "~",
		ChapterMarker:     "#",
	}
}

// NewBC3Parser 创建BC3解析器，未设置的字段使用默认值
func NewBC3Parser(config *ParserConfig) *BC3ParserImpl {
	defaults := DefaultParserConfig()
	if config == nil {
		config = defaults
	} else {
		merged := *config
		if merged.Encoding == "" {
			merged.Encoding = defaults.Encoding
		}
		if merged.FallbackEncodings == nil {
			merged.FallbackEncodings = defaults.FallbackEncodings
		}
		if merged.FieldSeparator == "" {
			merged.FieldSeparator = defaults.FieldSeparator
		}
		if merged.SubFieldSeparator == "" {
			merged.SubFieldSeparator = defaults.SubFieldSeparator
		}
		if merged.RecordPrefix == "" {
			merged.RecordPrefix = defaults.RecordPrefix
		}
		if merged.ChapterMarker == "" {
			merged.ChapterMarker = defaults.ChapterMarker
		}
		config = &merged
	}

	prefix := regexp.QuoteMeta(config.RecordPrefix)
	sep := regexp.QuoteMeta(config.FieldSeparator)
	notSep := "[^" + sep + "]*"
	return &BC3ParserImpl{
		config:       config,
		recordStart:  regexp.MustCompile(prefix + `[A-Z]`),
		versionRegex: regexp.MustCompile(prefix + `V` + sep + `(` + notSep + `)` + sep),
		programRegex: regexp.MustCompile(prefix + `K` + sep + `(` + notSep + `)` + sep + `(` + notSep + `)` + sep + `(` + notSep + `)` + sep),
	}
}

// Parse 从输入流解析BC3内容
func (p *BC3ParserImpl) Parse(ctx context.Context, input io.Reader, fileName string, diag *model.Diagnostics) (*model.ParseResult, error) {
	data, err := io.ReadAll(input)
	if err != nil {
		return nil, model.NewFileError(model.ErrCodeFileReadError, fileName, "read", "读取BC3内容失败", err)
	}
	return p.ParseBytes(ctx, data, fileName, diag)
}

// ParseFile 解析本地BC3文件
func (p *BC3ParserImpl) ParseFile(ctx context.Context, path string, diag *model.Diagnostics) (*model.ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewFileError(model.ErrCodeFileReadError, path, "open", "打开BC3文件失败", err)
	}
	return p.ParseBytes(ctx, data, filepath.Base(path), diag)
}

// ParseBytes 解析原始字节：解码、切分、实体解析、后处理、元数据
func (p *BC3ParserImpl) ParseBytes(ctx context.Context, data []byte, fileName string, diag *model.Diagnostics) (*model.ParseResult, error) {
	if diag == nil {
		diag = model.NewDiagnostics(nil)
	}
	if len(data) == 0 {
		return nil, model.NewMalformedFileError(fileName, "文件内容为空")
	}

	content, encodingName, attempted := decodeContent(data, p.config.Encoding, p.config.FallbackEncodings)
	if encodingName == "" {
		return nil, model.NewEncodingError(fileName, attempted)
	}
	if encodingName != strings.ToLower(p.config.Encoding) {
		diag.Add(model.SeverityInfo, "encoding_fallback", encodingName, "主编码 %s 解码失败，使用回退编码 %s", p.config.Encoding, encodingName)
	}

	rawRecords := splitRecords(content, p.recordStart)
	if len(rawRecords) == 0 {
		return nil, model.NewMalformedFileError(fileName, "未找到任何BC3记录")
	}

	result := &model.ParseResult{
		Concepts:       make([]*model.Concept, 0),
		Decompositions: make([]*model.Decomposition, 0),
		Measurements:   make([]*model.Measurement, 0),
		Texts:          make([]*model.Text, 0),
		SpecTexts:      make([]*model.SpecText, 0),
		Metadata: model.Metadata{
			FileName:     fileName,
			FileSize:     int64(len(data)),
			Encoding:     encodingName,
			RecordCounts: make(map[string]int),
		},
	}

	rp := &recordParser{subSep: p.config.SubFieldSeparator, diag: diag}
	for i, raw := range rawRecords {
		if i%ctxCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		rec := &RawRecord{
			Type:   raw[len(p.config.RecordPrefix) : len(p.config.RecordPrefix)+1],
			Index:  i,
			Raw:    raw,
			Fields: splitFields(raw, p.config.FieldSeparator),
		}
		result.Metadata.RecordCounts[rec.Type]++
		result.Stats.TotalRecords++
		p.dispatch(rp, rec, result, diag)
	}

	p.postProcess(result)
	p.extractMetadata(content, &result.Metadata)
	p.collectStats(result)

	return result, nil
}

// dispatch 按记录类型分派，格式错误的记录记入诊断后跳过
func (p *BC3ParserImpl) dispatch(rp *recordParser, rec *RawRecord, result *model.ParseResult, diag *model.Diagnostics) {
	var err error
	switch rec.Type {
	case RecordConcept:
		var c *model.Concept
		if c, err = rp.parseConcept(rec); err == nil {
			result.Concepts = append(result.Concepts, c)
		}
	case RecordDecomposition:
		var d *model.Decomposition
		if d, err = rp.parseDecomposition(rec); err == nil {
			result.Decompositions = append(result.Decompositions, d)
		}
	case RecordMeasurement:
		var m *model.Measurement
		if m, err = rp.parseMeasurement(rec); err == nil {
			result.Measurements = append(result.Measurements, m)
		}
	case RecordText:
		var t *model.Text
		if t, err = rp.parseText(rec); err == nil {
			result.Texts = append(result.Texts, t)
		}
	case RecordSpecText:
		var s *model.SpecText
		if s, err = rp.parseSpecText(rec); err == nil {
			result.SpecTexts = append(result.SpecTexts, s)
		}
	case RecordVersion, RecordProgram:
		// 元数据记录在后处理阶段统一提取
		result.Stats.ParsedRecords++
		return
	default:
		result.Stats.UnknownRecords++
		diag.Debugf(DiagUnknownRecord, rec.Type, "跳过不支持的记录类型 ~%s (第%d条)", rec.Type, rec.Index)
		return
	}

	if err != nil {
		result.Stats.MalformedRecords++
		diag.Warnf(DiagMalformedRecord, rec.Type, "%v", err)
		return
	}
	result.Stats.ParsedRecords++
}

// postProcess 后处理：单价表 -> 分解总额 -> 测量合计 -> 文本规范化 -> 概念分类
func (p *BC3ParserImpl) postProcess(result *model.ParseResult) {
	prices := result.PriceTable()

	for _, d := range result.Decompositions {
		d.CalculateTotal(prices)
	}
	for _, m := range result.Measurements {
		m.CalculateTotal()
	}
	for _, t := range result.Texts {
		t.Normalize()
	}
	for _, s := range result.SpecTexts {
		s.CountArticles()
	}
	for _, c := range result.Concepts {
		c.Classify(p.config.ChapterMarker)
	}
}

// extractMetadata 版本与生成程序信息取首个匹配
func (p *BC3ParserImpl) extractMetadata(content string, meta *model.Metadata) {
	if m := p.versionRegex.FindStringSubmatch(content); m != nil {
		meta.FormatVersion = strings.TrimSpace(m[1])
	}
	if m := p.programRegex.FindStringSubmatch(content); m != nil {
		meta.Generator = strings.TrimSpace(m[1])
		meta.GeneratorVersion = strings.TrimSpace(m[2])
		meta.GeneratedAt = strings.TrimSpace(m[3])
	}
}

// collectStats 章节、条目、无单价概念与单价合计
func (p *BC3ParserImpl) collectStats(result *model.ParseResult) {
	stats := &result.Stats
	stats.PriceSum = decimal.Zero
	for _, c := range result.Concepts {
		if c.IsChapter {
			stats.Chapters++
		}
		if c.IsItem {
			stats.Items++
		}
		if !c.UnitPrice.Valid {
			stats.ConceptsWithoutPrice++
			continue
		}
		stats.PriceSum = stats.PriceSum.Add(c.UnitPrice.Decimal)
	}
}

// GetName 获取解析器名称
func (p *BC3ParserImpl) GetName() string {
	return "BC3Parser"
}

// GetVersion 获取解析器版本
func (p *BC3ParserImpl) GetVersion() string {
	return "1.0.0"
}

// GetSupportedFormats 获取支持的文件格式
func (p *BC3ParserImpl) GetSupportedFormats() []string {
	return []string{".bc3", ".BC3"}
}

// Config 返回生效的配置副本
func (p *BC3ParserImpl) Config() ParserConfig {
	return *p.config
}

// String 便于日志输出
func (p *BC3ParserImpl) String() string {
	return fmt.Sprintf("%s/%s(encoding=%s)", p.GetName(), p.GetVersion(), p.config.Encoding)
}
