package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/freedkr/bc3tree/internal/model"
)

// 导出格式
const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// SupportedFormats 支持的导出格式
func SupportedFormats() []string {
	return []string{FormatJSON, FormatXLSX}
}

// Render 按格式写出树
func Render(w io.Writer, format string, tree *model.Tree, meta *model.Metadata) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		return WriteJSON(w, BuildDocument(tree, meta), true)
	case FormatXLSX:
		return NewXLSXWriter().Write(w, tree)
	default:
		return fmt.Errorf("不支持的导出格式: %s", format)
	}
}
