package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEncodingError(t *testing.T) {
	err := NewEncodingError("obra.bc3", []string{"cp1252", "utf-8"})

	assert.Equal(t, ErrCodeEncoding, err.GetCode())
	assert.Contains(t, err.Error(), "obra.bc3")
	assert.Contains(t, err.Error(), "cp1252, utf-8")
}

func TestNewMalformedRecordError_TruncatesContent(t *testing.T) {
	content := strings.Repeat("x", 300)
	err := NewMalformedRecordError("C", 7, 2, content, "字段数不足")

	assert.Equal(t, "C", err.RecordType)
	assert.Equal(t, 7, err.Index)
	assert.Equal(t, 2, err.FieldCount)
	assert.Len(t, err.Content, 123)
	assert.Contains(t, err.Error(), "第7条~C记录解析失败")
}

func TestSystemError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewSystemError("database", "save", "保存失败", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "database.save失败")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsErrorType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     ErrorCode
		expected bool
	}{
		{"编码错误", NewEncodingError("a", nil), ErrCodeEncoding, true},
		{"文件格式错误", NewMalformedFileError("a", "空文件"), ErrCodeMalformedFile, true},
		{"包装后仍可识别", fmt.Errorf("解析失败: %w", NewMalformedFileError("a", "空文件")), ErrCodeMalformedFile, true},
		{"代码不匹配", NewNotFoundError("x"), ErrCodeEncoding, false},
		{"普通错误", errors.New("plain"), ErrCodeInternal, false},
		{"nil", nil, ErrCodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsErrorType(tt.err, tt.code))
		})
	}
}

func TestErrorList(t *testing.T) {
	list := NewErrorList()
	assert.False(t, list.HasError())
	assert.Equal(t, "", list.Error())

	list.Add(nil)
	list.Add(NewHierarchyError("A", "B", "cycle", "检测到循环", 1))
	assert.Equal(t, 1, list.Count())
	assert.Contains(t, list.Error(), "'A' -> 'B'")

	list.Add(NewValidationError("code", "", "required", "编码不能为空"))
	assert.Equal(t, 2, list.Count())
	assert.Contains(t, list.Error(), "发生了2个错误")
	assert.Len(t, list.GetByType(ErrCodeHierarchy), 1)
	assert.Len(t, list.GetByType(ErrCodeValidation), 1)
}

func TestNewRejectedError(t *testing.T) {
	err := NewRejectedError("拒绝导入", "rejected=10")
	assert.True(t, IsErrorType(err, ErrCodeRejected))
	assert.Contains(t, err.Error(), "rejected=10")
}
