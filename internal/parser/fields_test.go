package parser

import (
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1.500,25", "1500.25"},
		{"12,5", "12.5"},
		{"7.5", "7.5"},
		{"1.234.567", "1234567"},
		{" 1 500,25 ", "1500.25"},
		{"-3,75", "-3.75"},
		{"0", "0"},
		{"", ""},
		{"   ", ""},
		{"abc", ""},
		{"12a", ""},
		{".", ""},
		{"1.2,3,4", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseDecimal(tt.input)
			if tt.expected == "" {
				assert.False(t, got.Valid, "'%s' 应解析为缺失值", tt.input)
				return
			}
			require.True(t, got.Valid)
			assert.True(t, got.Decimal.Equal(decimal.RequireFromString(tt.expected)), "got %s", got.Decimal)
		})
	}
}

func TestParseDecimal_ZeroIsNotAbsent(t *testing.T) {
	got := ParseDecimal("0,00")
	assert.True(t, got.Valid)
	assert.True(t, got.Decimal.IsZero())
}

func TestUnescapeField(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`linea1\nlinea2`, "linea1\nlinea2"},
		{`a\tb`, "a\tb"},
		{`ruta\\archivo`, `ruta\archivo`},
		{`sin escape`, "sin escape"},
		{`fin\`, `fin\`},
		{`\x`, `\x`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, UnescapeField(tt.input))
		})
	}
}

func TestSplitRecords(t *testing.T) {
	re := regexp.MustCompile(`~[A-Z]`)
	content := "basura inicial\r\n~V|x|\r\n~C|A|m|\r\n~D|A|B\\1\\1\\|\x1a"

	records := splitRecords(content, re)
	assert.Equal(t, []string{"~V|x|", "~C|A|m|", `~D|A|B\1\1\|`}, records)

	assert.Empty(t, splitRecords("sin registros ~c minuscula", re))
}

func TestParsePositions(t *testing.T) {
	positions, invalid := parsePositions(`1\2\\x\3`, `\`)
	assert.Equal(t, []int{1, 2, 3}, positions)
	assert.Equal(t, 1, invalid)

	positions, invalid = parsePositions("", `\`)
	assert.Nil(t, positions)
	assert.Zero(t, invalid)
}

func TestRawRecord_Field(t *testing.T) {
	rec := &RawRecord{Fields: []string{"~C", " A ", ""}}
	assert.Equal(t, "A", rec.Field(1))
	assert.Equal(t, "", rec.Field(2))
	assert.Equal(t, "", rec.Field(9))
	assert.Equal(t, "", rec.Field(-1))
}
