// Package model 定义BC3预算数据的实体与层级树结构
package model

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// 概念类型
const (
	TypeUnclassified = 0
	TypeLabor        = 1
	TypeMachinery    = 2
	TypeMaterial     = 3
)

// 测量行类型
const (
	LineTypeUnspecified = 0
	LineTypeNormal      = 1
	LineTypeSubtotal    = 2
	LineTypeExpression  = 3
)

var (
	typeDigitsRegex = regexp.MustCompile(`\d+`)
	rtfHeaderRegex  = regexp.MustCompile(`(?s)\{\\rtf.*?\}`)
	rtfControlRegex = regexp.MustCompile(`\\[a-z]+\d*\s?`)
	rtfBraceRegex   = regexp.MustCompile(`[{}]`)
)

// Concept 预算概念（~C记录）
type Concept struct {
	Code      string              `json:"code"`
	Unit      string              `json:"unit,omitempty"`
	Summary   string              `json:"summary,omitempty"`
	UnitPrice decimal.NullDecimal `json:"unit_price"`
	PriceDate string              `json:"price_date,omitempty"`
	RawType   string              `json:"raw_type,omitempty"`

	// 分类派生字段，由 Classify 填充
	TypeCode  *int `json:"type_code,omitempty"`
	IsChapter bool `json:"is_chapter"`
	IsItem    bool `json:"is_item"`
	DepthHint int  `json:"depth_hint"`
}

// Classify 计算类型编码、章节/条目标记和深度提示
func (c *Concept) Classify(marker string) {
	c.TypeCode = ParseTypeCode(c.RawType)
	c.IsChapter, c.IsItem = false, false
	if c.TypeCode != nil {
		c.IsChapter = *c.TypeCode == TypeUnclassified || *c.TypeCode == TypeLabor
		c.IsItem = *c.TypeCode == TypeMachinery || *c.TypeCode == TypeMaterial
	}
	if marker == "" {
		marker = "#"
	}
	c.DepthHint = strings.Count(c.Code, marker) + 1
}

// HasPrice 是否有单价
func (c *Concept) HasPrice() bool {
	return c.UnitPrice.Valid
}

// ParseTypeCode 从原始类型字段解析类型编码，空值返回nil
func ParseTypeCode(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	code := TypeUnclassified
	if raw != "%" {
		if digits := typeDigitsRegex.FindString(raw); digits != "" {
			if n, err := strconv.Atoi(digits); err == nil {
				code = n
			}
		}
	}
	return &code
}

// Component 分解中的一个子项
type Component struct {
	Code   string              `json:"code"`
	Factor decimal.NullDecimal `json:"factor"`
	Yield  decimal.NullDecimal `json:"yield"`
}

// EffectiveFactor 未声明系数时按1计算
func (c Component) EffectiveFactor() decimal.Decimal {
	if c.Factor.Valid {
		return c.Factor.Decimal
	}
	return decimal.NewFromInt(1)
}

// Decomposition 分解（~D记录）
type Decomposition struct {
	ParentCode     string          `json:"parent_code"`
	Components     []Component     `json:"components"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ComponentCount int             `json:"component_count"`
}

// CalculateTotal 按单价表计算分解总额，单价缺失的子项不计入
func (d *Decomposition) CalculateTotal(prices map[string]decimal.Decimal) {
	total := decimal.Zero
	for _, comp := range d.Components {
		price, ok := prices[comp.Code]
		if !ok {
			continue
		}
		total = total.Add(price.Mul(comp.EffectiveFactor()))
	}
	d.TotalAmount = total
	d.ComponentCount = len(d.Components)
}

// MeasurementLine 测量明细行
type MeasurementLine struct {
	LineType int                 `json:"line_type"`
	Comment  string              `json:"comment,omitempty"`
	BIMID    string              `json:"bim_id,omitempty"`
	Count    decimal.NullDecimal `json:"count"`
	Length   decimal.NullDecimal `json:"length"`
	Width    decimal.NullDecimal `json:"width"`
	Height   decimal.NullDecimal `json:"height"`
	Partial  decimal.NullDecimal `json:"partial"`
}

// Dimensions 返回四个数值字段
func (l *MeasurementLine) Dimensions() []decimal.NullDecimal {
	return []decimal.NullDecimal{l.Count, l.Length, l.Width, l.Height}
}

// ComputePartial 计算部分量：类型1为非零尺寸之积，类型3为数量，其他类型无部分量
func (l *MeasurementLine) ComputePartial() {
	l.Partial = decimal.NullDecimal{}
	switch l.LineType {
	case LineTypeNormal:
		product := decimal.NewFromInt(1)
		found := false
		for _, d := range l.Dimensions() {
			if d.Valid && !d.Decimal.IsZero() {
				product = product.Mul(d.Decimal)
				found = true
			}
		}
		if found {
			l.Partial = decimal.NullDecimal{Decimal: product, Valid: true}
		}
	case LineTypeExpression:
		if l.Count.Valid {
			l.Partial = l.Count
		}
	}
}

// Summable 是否计入测量合计
func (l *MeasurementLine) Summable() bool {
	return l.LineType == LineTypeNormal || l.LineType == LineTypeExpression
}

// Measurement 测量（~M记录）
type Measurement struct {
	ParentCode    string              `json:"parent_code,omitempty"`
	ChildCode     string              `json:"child_code"`
	Position      []int               `json:"position,omitempty"`
	DeclaredTotal decimal.NullDecimal `json:"declared_total"`
	Label         string              `json:"label,omitempty"`
	Lines         []MeasurementLine   `json:"lines"`
	ComputedTotal decimal.Decimal     `json:"computed_total"`
	LineCount     int                 `json:"line_count"`
}

// HasParent 是否带有父编码上下文
func (m *Measurement) HasParent() bool {
	return m.ParentCode != ""
}

// CalculateTotal 汇总类型1和类型3行的部分量
func (m *Measurement) CalculateTotal() {
	total := decimal.Zero
	for i := range m.Lines {
		line := &m.Lines[i]
		line.ComputePartial()
		if line.Summable() && line.Partial.Valid {
			total = total.Add(line.Partial.Decimal)
		}
	}
	m.ComputedTotal = total
	m.LineCount = len(m.Lines)
}

// Total 声明总量优先，计算值仅作兜底
func (m *Measurement) Total() decimal.Decimal {
	if m.DeclaredTotal.Valid {
		return m.DeclaredTotal.Decimal
	}
	return m.ComputedTotal
}

// Text 概念文本（~T记录）
type Text struct {
	Code      string `json:"code"`
	Text      string `json:"text"`
	Length    int    `json:"length"`
	HasFormat bool   `json:"has_format"`
}

// Normalize 去除首尾空白并检测格式化文本
func (t *Text) Normalize() {
	t.Text = strings.TrimSpace(t.Text)
	t.Length = len([]rune(t.Text))
	t.HasFormat = strings.HasPrefix(t.Text, `{\rtf`) || strings.Contains(strings.ToLower(t.Text), "<html>")
}

// PlainText 去除RTF控制字后的纯文本
func (t *Text) PlainText() string {
	if !t.HasFormat {
		return t.Text
	}
	return StripRTF(t.Text)
}

// StripRTF 去除RTF头、控制字与花括号
func StripRTF(s string) string {
	s = rtfHeaderRegex.ReplaceAllString(s, "")
	s = rtfControlRegex.ReplaceAllString(s, "")
	s = rtfBraceRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// SpecText 条款文本（~X记录）
type SpecText struct {
	Code         string `json:"code"`
	Text         string `json:"text"`
	ClauseType   string `json:"clause_type,omitempty"`
	ArticleCount int    `json:"article_count"`
}

// CountArticles 统计条款中的条目数
func (s *SpecText) CountArticles() {
	lower := strings.ToLower(s.Text)
	s.ArticleCount = strings.Count(lower, "articulo") + strings.Count(lower, "artículo")
}

// Metadata 文件级元数据
type Metadata struct {
	FileName         string         `json:"file_name,omitempty"`
	FileSize         int64          `json:"file_size"`
	Encoding         string         `json:"encoding"`
	FormatVersion    string         `json:"format_version,omitempty"`
	Generator        string         `json:"generator,omitempty"`
	GeneratorVersion string         `json:"generator_version,omitempty"`
	GeneratedAt      string         `json:"generated_at,omitempty"`
	RecordCounts     map[string]int `json:"record_counts"`
}

// ParseStats 解析统计
type ParseStats struct {
	TotalRecords         int             `json:"total_records"`
	ParsedRecords        int             `json:"parsed_records"`
	MalformedRecords     int             `json:"malformed_records"`
	UnknownRecords       int             `json:"unknown_records"`
	Chapters             int             `json:"chapters"`
	Items                int             `json:"items"`
	ConceptsWithoutPrice int             `json:"concepts_without_price"`
	PriceSum             decimal.Decimal `json:"price_sum"`
}

// ParseResult 单个文件的解析结果
type ParseResult struct {
	Concepts       []*Concept       `json:"concepts"`
	Decompositions []*Decomposition `json:"decompositions"`
	Measurements   []*Measurement   `json:"measurements"`
	Texts          []*Text          `json:"texts"`
	SpecTexts      []*SpecText      `json:"spec_texts"`
	Metadata       Metadata         `json:"metadata"`
	Stats          ParseStats       `json:"stats"`
}

// PriceTable 构建编码到单价的查找表，重复编码以首次出现为准
func (r *ParseResult) PriceTable() map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(r.Concepts))
	for _, c := range r.Concepts {
		if _, seen := prices[c.Code]; seen {
			continue
		}
		if c.UnitPrice.Valid {
			prices[c.Code] = c.UnitPrice.Decimal
		}
	}
	return prices
}

// TextFor 返回编码对应的文本
func (r *ParseResult) TextFor(code string) (*Text, bool) {
	for _, t := range r.Texts {
		if t.Code == code {
			return t, true
		}
	}
	return nil, false
}
