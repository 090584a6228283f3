package parser

import (
	"context"
	"io"

	"github.com/freedkr/bc3tree/internal/model"
)

// Parser 预算文件解析器接口
type Parser interface {
	// Parse 从输入流解析数据，fileName 仅用于元数据和错误信息
	Parse(ctx context.Context, input io.Reader, fileName string, diag *model.Diagnostics) (*model.ParseResult, error)

	// ParseFile 解析本地文件
	ParseFile(ctx context.Context, path string, diag *model.Diagnostics) (*model.ParseResult, error)

	// GetName 获取解析器名称
	GetName() string

	// GetVersion 获取解析器版本
	GetVersion() string

	// GetSupportedFormats 获取支持的文件扩展名
	GetSupportedFormats() []string
}

var _ Parser = (*BC3ParserImpl)(nil)

// IsSupportedFile 判断扩展名是否受支持
func IsSupportedFile(p Parser, ext string) bool {
	for _, f := range p.GetSupportedFormats() {
		if f == ext {
			return true
		}
	}
	return false
}
