package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var numericRegex = regexp.MustCompile(`^-?[0-9.]+$`)

// RawRecord 切分后的单条记录
type RawRecord struct {
	Type   string
	Index  int
	Raw    string
	Fields []string
}

// Field 安全读取第i个字段（已去除首尾空白），越界返回空串
func (r *RawRecord) Field(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return strings.TrimSpace(r.Fields[i])
}

// splitRecords 在"前缀+大写字母"处切分记录
func splitRecords(content string, recordStart *regexp.Regexp) []string {
	locs := recordStart.FindAllStringIndex(content, -1)
	records := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		record := strings.TrimRight(content[loc[0]:end], " \t\r\n\x1a")
		records = append(records, record)
	}
	return records
}

// splitFields 按主分隔符切分字段
func splitFields(record, sep string) []string {
	return strings.Split(record, sep)
}

// splitSubFields 按次分隔符切分子字段
func splitSubFields(field, sep string) []string {
	if field == "" {
		return nil
	}
	return strings.Split(field, sep)
}

// firstSubField 取第一个子字段（编码同义词、多价格等取首个）
func firstSubField(field, sep string) string {
	if idx := strings.Index(field, sep); idx >= 0 {
		field = field[:idx]
	}
	return strings.TrimSpace(field)
}

// UnescapeField 还原转义的换行、制表符，双反斜杠折叠为一个
func UnescapeField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ParseDecimal 解析本地化数字：逗号为小数点，去除千分位；
// 空值或无法解析时返回无效值（而非零）
func ParseDecimal(s string) decimal.NullDecimal {
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return decimal.NullDecimal{}
	}

	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else if strings.Count(s, ".") > 1 {
		s = strings.ReplaceAll(s, ".", "")
	}

	if !numericRegex.MatchString(s) || strings.Count(s, ".") > 1 {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// parsePositions 解析位置序列，跳过空值和非法值
func parsePositions(field, sep string) (positions []int, invalid int) {
	for _, part := range splitSubFields(field, sep) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			invalid++
			continue
		}
		positions = append(positions, n)
	}
	return positions, invalid
}
