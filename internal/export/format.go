// Package export 将概念树导出为嵌套JSON和xlsx表格
package export

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount 金额格式化为两位小数、点号千分位、逗号小数点，如 1.234,56
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, fracPart := s, ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart, fracPart = s[:idx], s[idx+1:]
	}

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(fracPart)
	return b.String()
}

// FormatNullAmount 缺失值输出为空串
func FormatNullAmount(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return FormatAmount(d.Decimal)
}
