package parser

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedkr/bc3tree/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func parseString(t *testing.T, content string) (*model.ParseResult, *model.Diagnostics) {
	t.Helper()
	diag := model.NewDiagnostics(nil)
	result, err := NewBC3Parser(nil).Parse(context.Background(), strings.NewReader(content), "test.bc3", diag)
	require.NoError(t, err)
	return result, diag
}

func TestNewBC3Parser_Defaults(t *testing.T) {
	p := NewBC3Parser(&ParserConfig{Encoding: "utf-8"})
	cfg := p.Config()
	assert.Equal(t, "utf-8", cfg.Encoding)
	assert.Equal(t, "|", cfg.FieldSeparator)
	assert.Equal(t, `\`, cfg.SubFieldSeparator)
	assert.Equal(t, []string{"iso-8859-1", "utf-8", "cp850"}, cfg.FallbackEncodings)
	assert.Equal(t, "BC3Parser", p.GetName())
	assert.Equal(t, "1.0.0", p.GetVersion())
	assert.True(t, IsSupportedFile(p, ".bc3"))
	assert.False(t, IsSupportedFile(p, ".xlsx"))
}

func TestBC3Parser_ParseFile(t *testing.T) {
	diag := model.NewDiagnostics(nil)
	result, err := NewBC3Parser(nil).ParseFile(context.Background(), filepath.Join("testdata", "sample.bc3"), diag)
	require.NoError(t, err)

	// 元数据
	assert.Equal(t, "sample.bc3", result.Metadata.FileName)
	assert.Equal(t, "cp1252", result.Metadata.Encoding)
	assert.Equal(t, "FIEBDC-3/2016", result.Metadata.FormatVersion)
	assert.Equal(t, "Presto", result.Metadata.Generator)
	assert.Equal(t, "20.1", result.Metadata.GeneratorVersion)
	assert.Equal(t, "01012024", result.Metadata.GeneratedAt)
	assert.Equal(t, 7, result.Metadata.RecordCounts["C"])
	assert.Equal(t, 3, result.Metadata.RecordCounts["D"])

	// 统计
	assert.Equal(t, 17, result.Stats.TotalRecords)
	assert.Equal(t, 15, result.Stats.ParsedRecords)
	assert.Equal(t, 1, result.Stats.MalformedRecords)
	assert.Equal(t, 1, result.Stats.UnknownRecords)
	assert.Equal(t, 3, result.Stats.Chapters)
	assert.Equal(t, 3, result.Stats.Items)
	assert.Equal(t, 1, result.Stats.ConceptsWithoutPrice)
	assert.True(t, result.Stats.PriceSum.Equal(dec("1354.56")), result.Stats.PriceSum.String())
	assert.Equal(t, 1, diag.Get(DiagMalformedRecord))
	assert.Equal(t, 1, diag.Get(DiagUnknownRecord))

	require.Len(t, result.Concepts, 6)
	excavation := result.Concepts[2]
	assert.Equal(t, "01.01", excavation.Code)
	assert.Equal(t, "m3", excavation.Unit)
	assert.True(t, excavation.UnitPrice.Decimal.Equal(dec("12.5")))
	assert.Equal(t, "010124", excavation.PriceDate)
	assert.True(t, excavation.IsItem)
	assert.True(t, result.Concepts[5].UnitPrice.Decimal.Equal(dec("1234.56")))
	assert.False(t, result.Concepts[4].UnitPrice.Valid)
	assert.True(t, result.Concepts[1].IsChapter)

	require.Len(t, result.Decompositions, 3)
	root := result.Decompositions[0]
	assert.Equal(t, "OBRA##", root.ParentCode)
	require.Len(t, root.Components, 2)
	assert.Equal(t, "02#", root.Components[1].Code)
	// 02# 无单价，不计入
	assert.True(t, root.TotalAmount.Equal(dec("100")))
	assert.True(t, result.Decompositions[1].TotalAmount.Equal(dec("32.5")), result.Decompositions[1].TotalAmount.String())

	require.Len(t, result.Measurements, 2)
	m := result.Measurements[0]
	assert.Equal(t, "01#", m.ParentCode)
	assert.Equal(t, "01.01", m.ChildCode)
	assert.Equal(t, []int{1, 1}, m.Position)
	require.Len(t, m.Lines, 2)
	assert.Equal(t, "Zanja norte", m.Lines[0].Comment)
	assert.Equal(t, "BIM-77", m.Lines[0].BIMID)
	assert.True(t, m.Lines[0].Partial.Decimal.Equal(dec("20")))
	assert.True(t, m.Lines[1].Partial.Decimal.Equal(dec("10")))
	assert.True(t, m.ComputedTotal.Equal(dec("30")))
	assert.True(t, m.Total().Equal(dec("20")), "声明总量优先")

	unstructured := result.Measurements[1]
	assert.Empty(t, unstructured.ParentCode)
	assert.Equal(t, "01.02", unstructured.ChildCode)
	assert.False(t, unstructured.DeclaredTotal.Valid)
	assert.Empty(t, unstructured.Lines)

	require.Len(t, result.Texts, 1)
	assert.Equal(t, "Excavacion en zanja\nterreno compacto", result.Texts[0].Text)
	assert.False(t, result.Texts[0].HasFormat)

	require.Len(t, result.SpecTexts, 1)
	assert.Equal(t, 2, result.SpecTexts[0].ArticleCount)
	assert.Equal(t, "1", result.SpecTexts[0].ClauseType)
}

func TestBC3Parser_MeasurementCodeForms(t *testing.T) {
	content := strings.Join([]string{
		`~M|P1\X|1||1\a\2\\\\|`,
		`~M|\X|||`,
		`~M|X|||`,
		`~M||1||`,
		`~M|X|`,
	}, "\n")
	result, diag := parseString(t, content)

	require.Len(t, result.Measurements, 3)
	assert.Equal(t, "P1", result.Measurements[0].ParentCode)
	assert.Equal(t, "X", result.Measurements[0].ChildCode)
	assert.Empty(t, result.Measurements[1].ParentCode)
	assert.Equal(t, "X", result.Measurements[1].ChildCode)
	assert.Empty(t, result.Measurements[2].ParentCode)
	assert.Equal(t, 2, result.Stats.MalformedRecords)
	assert.Equal(t, 2, diag.Get(DiagMalformedRecord))
}

func TestBC3Parser_MeasurementLineTypes(t *testing.T) {
	content := `~M|X|1||\sin tipo\5\\\\x\otro\3\\\\2\subtotal\9\\\\3\expr\4\\\\|`
	result, _ := parseString(t, content)

	require.Len(t, result.Measurements, 1)
	lines := result.Measurements[0].Lines
	require.Len(t, lines, 4)
	assert.Equal(t, model.LineTypeUnspecified, lines[0].LineType)
	assert.Equal(t, model.LineTypeNormal, lines[1].LineType, "非法类型按1处理")
	assert.Equal(t, model.LineTypeSubtotal, lines[2].LineType)
	assert.Equal(t, model.LineTypeExpression, lines[3].LineType)
	// 3 (类型1) + 4 (类型3)；未指定类型和小计行不计入
	assert.True(t, result.Measurements[0].ComputedTotal.Equal(dec("7")))
}

func TestBC3Parser_DecompositionStrides(t *testing.T) {
	content := strings.Join([]string{
		`~D|P|A\2\1\B\\\C\1|`,
		`~D|Q|\1\1\D\1\1\|`,
		`~D|R||`,
		`~D||A\1\1\|`,
		`~D|S`,
	}, "\n")
	result, _ := parseString(t, content)

	require.Len(t, result.Decompositions, 3)
	p := result.Decompositions[0]
	require.Len(t, p.Components, 2, "不完整的分组应停止")
	assert.True(t, p.Components[0].Factor.Decimal.Equal(dec("2")))
	assert.False(t, p.Components[1].Factor.Valid)
	assert.True(t, p.Components[1].EffectiveFactor().Equal(dec("1")))

	assert.Empty(t, result.Decompositions[1].Components, "空编码应停止")
	assert.Empty(t, result.Decompositions[2].Components)
	assert.Equal(t, 2, result.Stats.MalformedRecords)
}

func TestBC3Parser_InvalidPriceIsAbsent(t *testing.T) {
	result, diag := parseString(t, "~C|A|u|x|abc||3|\n~C|B\\B2|u|y|10\\12||3|")

	require.Len(t, result.Concepts, 2)
	assert.False(t, result.Concepts[0].UnitPrice.Valid)
	assert.Equal(t, 1, diag.Get(DiagInvalidNumber))
	assert.Equal(t, "B", result.Concepts[1].Code)
	assert.True(t, result.Concepts[1].UnitPrice.Decimal.Equal(dec("10")))
}

func TestBC3Parser_FatalErrors(t *testing.T) {
	p := NewBC3Parser(nil)

	_, err := p.ParseBytes(context.Background(), nil, "empty.bc3", nil)
	assert.True(t, model.IsErrorType(err, model.ErrCodeMalformedFile))

	_, err = p.ParseBytes(context.Background(), []byte("sin registros"), "plain.txt", nil)
	assert.True(t, model.IsErrorType(err, model.ErrCodeMalformedFile))

	strict := NewBC3Parser(&ParserConfig{Encoding: "utf-8", FallbackEncodings: []string{}})
	_, err = strict.ParseBytes(context.Background(), []byte{'~', 'C', '|', 0xFF, '|'}, "bad.bc3", nil)
	var encErr *model.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, []string{"utf-8"}, encErr.Attempted)

	_, err = p.ParseFile(context.Background(), filepath.Join("testdata", "missing.bc3"), nil)
	assert.True(t, model.IsErrorType(err, model.ErrCodeFileReadError))
}

func TestBC3Parser_EncodingFallbackRecorded(t *testing.T) {
	p := NewBC3Parser(&ParserConfig{Encoding: "utf-8", FallbackEncodings: []string{"cp850"}})
	diag := model.NewDiagnostics(nil)
	result, err := p.ParseBytes(context.Background(), []byte{'~', 'C', '|', 'A', '|', 'u', '|', 'a', 0xA2, '|'}, "x.bc3", diag)
	require.NoError(t, err)

	assert.Equal(t, "cp850", result.Metadata.Encoding)
	assert.Equal(t, "aó", result.Concepts[0].Summary)
	assert.Equal(t, 1, diag.Get("encoding_fallback"))
}

func TestBC3Parser_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBC3Parser(nil).ParseBytes(ctx, []byte("~C|A|u|"), "x.bc3", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
