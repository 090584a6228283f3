package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	// 通用错误
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"

	// 文件与编码错误
	ErrCodeFileReadError  ErrorCode = "FILE_READ_ERROR"
	ErrCodeEncoding       ErrorCode = "ENCODING_ERROR"
	ErrCodeMalformedFile  ErrorCode = "MALFORMED_FILE"
	ErrCodeInvalidFormat  ErrorCode = "INVALID_FORMAT"
	ErrCodeFileWriteError ErrorCode = "FILE_WRITE_ERROR"

	// 记录解析错误
	ErrCodeMalformedRecord ErrorCode = "MALFORMED_RECORD"

	// 校验与层级错误
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeHierarchy  ErrorCode = "HIERARCHY_ERROR"
	ErrCodeRejected   ErrorCode = "IMPORT_REJECTED"
)

// CodedError 携带错误代码的错误
type CodedError interface {
	error
	GetCode() ErrorCode
}

// BaseError 基础错误结构
type BaseError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newBase(code ErrorCode, message string) BaseError {
	return BaseError{Code: code, Message: message, Timestamp: time.Now()}
}

// Error 实现error接口
func (e *BaseError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// GetCode 获取错误代码
func (e *BaseError) GetCode() ErrorCode {
	return e.Code
}

// EncodingError 所有候选编码均解码失败
type EncodingError struct {
	BaseError
	FileName  string   `json:"file_name,omitempty"`
	Attempted []string `json:"attempted"`
}

// NewEncodingError 创建编码错误
func NewEncodingError(fileName string, attempted []string) *EncodingError {
	return &EncodingError{
		BaseError: newBase(ErrCodeEncoding, "所有候选编码均无法解码"),
		FileName:  fileName,
		Attempted: attempted,
	}
}

// Error 实现error接口
func (e *EncodingError) Error() string {
	return fmt.Sprintf("[%s] 文件'%s'解码失败: %s (已尝试: %s)",
		e.Code, e.FileName, e.Message, strings.Join(e.Attempted, ", "))
}

// MalformedFileError 文件整体无法解析
type MalformedFileError struct {
	BaseError
	FileName string `json:"file_name,omitempty"`
}

// NewMalformedFileError 创建文件格式错误
func NewMalformedFileError(fileName, message string) *MalformedFileError {
	return &MalformedFileError{
		BaseError: newBase(ErrCodeMalformedFile, message),
		FileName:  fileName,
	}
}

// Error 实现error接口
func (e *MalformedFileError) Error() string {
	return fmt.Sprintf("[%s] 文件'%s'格式错误: %s", e.Code, e.FileName, e.Message)
}

// MalformedRecordError 单条记录格式错误，可跳过
type MalformedRecordError struct {
	BaseError
	RecordType string `json:"record_type"`
	Index      int    `json:"index"`
	FieldCount int    `json:"field_count"`
	Content    string `json:"content,omitempty"`
}

// NewMalformedRecordError 创建记录格式错误
func NewMalformedRecordError(recordType string, index, fieldCount int, content, message string) *MalformedRecordError {
	if len(content) > 120 {
		content = content[:120] + "..."
	}
	return &MalformedRecordError{
		BaseError:  newBase(ErrCodeMalformedRecord, message),
		RecordType: recordType,
		Index:      index,
		FieldCount: fieldCount,
		Content:    content,
	}
}

// Error 实现error接口
func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("[%s] 第%d条~%s记录解析失败: %s (字段数: %d, 内容: '%s')",
		e.Code, e.Index, e.RecordType, e.Message, e.FieldCount, e.Content)
}

// ValidationError 字段校验错误
type ValidationError struct {
	BaseError
	Field      string      `json:"field"`
	Value      interface{} `json:"value"`
	Constraint string      `json:"constraint"`
}

// NewValidationError 创建校验错误
func NewValidationError(field string, value interface{}, constraint, message string) *ValidationError {
	return &ValidationError{
		BaseError:  newBase(ErrCodeValidation, message),
		Field:      field,
		Value:      value,
		Constraint: constraint,
	}
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] 字段'%s'验证失败: %s (值: %v, 约束: %s)",
		e.Code, e.Field, e.Message, e.Value, e.Constraint)
}

// SystemError 系统错误
type SystemError struct {
	BaseError
	Component string `json:"component"`
	Operation string `json:"operation"`
	Cause     error  `json:"-"`
}

// NewSystemError 创建系统错误
func NewSystemError(component, operation, message string, cause error) *SystemError {
	return &SystemError{
		BaseError: newBase(ErrCodeInternal, message),
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error 实现error接口
func (e *SystemError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s.%s失败: %s (原因: %v)",
			e.Code, e.Component, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s.%s失败: %s", e.Code, e.Component, e.Operation, e.Message)
}

// Unwrap 返回原始错误
func (e *SystemError) Unwrap() error {
	return e.Cause
}

// FileError 文件操作错误
type FileError struct {
	BaseError
	FilePath  string `json:"file_path"`
	Operation string `json:"operation"`
	Cause     error  `json:"-"`
}

// NewFileError 创建文件错误
func NewFileError(code ErrorCode, filePath, operation, message string, cause error) *FileError {
	return &FileError{
		BaseError: newBase(code, message),
		FilePath:  filePath,
		Operation: operation,
		Cause:     cause,
	}
}

// Error 实现error接口
func (e *FileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] 文件操作失败 %s('%s'): %s (原因: %v)",
			e.Code, e.Operation, e.FilePath, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] 文件操作失败 %s('%s'): %s", e.Code, e.Operation, e.FilePath, e.Message)
}

// Unwrap 返回原始错误
func (e *FileError) Unwrap() error {
	return e.Cause
}

// HierarchyError 层级结构问题
type HierarchyError struct {
	BaseError
	Code1     string   `json:"code1"`
	Code2     string   `json:"code2,omitempty"`
	Level     int      `json:"level"`
	Operation string   `json:"operation"`
	Path      []string `json:"path,omitempty"`
}

// NewHierarchyError 创建层级结构错误
func NewHierarchyError(code1, code2, operation, message string, level int) *HierarchyError {
	return &HierarchyError{
		BaseError: newBase(ErrCodeHierarchy, message),
		Code1:     code1,
		Code2:     code2,
		Level:     level,
		Operation: operation,
	}
}

// Error 实现error接口
func (e *HierarchyError) Error() string {
	if e.Code2 != "" {
		return fmt.Sprintf("[%s] 层级结构错误 %s('%s' -> '%s'): %s (层级: %d)",
			e.Code, e.Operation, e.Code1, e.Code2, e.Message, e.Level)
	}
	return fmt.Sprintf("[%s] 层级结构错误 %s('%s'): %s (层级: %d)",
		e.Code, e.Operation, e.Code1, e.Message, e.Level)
}

// ErrorList 错误列表
type ErrorList struct {
	Errors []error `json:"errors"`
}

// NewErrorList 创建错误列表
func NewErrorList() *ErrorList {
	return &ErrorList{Errors: make([]error, 0)}
}

// Add 添加错误
func (el *ErrorList) Add(err error) {
	if err != nil {
		el.Errors = append(el.Errors, err)
	}
}

// HasError 是否有错误
func (el *ErrorList) HasError() bool {
	return len(el.Errors) > 0
}

// Count 错误数量
func (el *ErrorList) Count() int {
	return len(el.Errors)
}

// Error 实现error接口
func (el *ErrorList) Error() string {
	switch len(el.Errors) {
	case 0:
		return ""
	case 1:
		return el.Errors[0].Error()
	}
	messages := make([]string, 0, len(el.Errors))
	for _, err := range el.Errors {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("发生了%d个错误: [%s]", len(el.Errors), strings.Join(messages, "; "))
}

// GetByType 根据错误代码过滤
func (el *ErrorList) GetByType(code ErrorCode) []error {
	var filtered []error
	for _, err := range el.Errors {
		if IsErrorType(err, code) {
			filtered = append(filtered, err)
		}
	}
	return filtered
}

// IsErrorType 检查错误链中是否有指定代码的错误
func IsErrorType(err error, code ErrorCode) bool {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.GetCode() == code
	}
	return false
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) error {
	base := newBase(ErrCodeNotFound, message)
	return &base
}

// NewRejectedError 导入被接受策略拒绝
func NewRejectedError(message, details string) error {
	base := newBase(ErrCodeRejected, message)
	base.Details = details
	return &base
}
