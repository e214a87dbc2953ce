package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
	CodeConfiguration     ErrorCode = "CONFIGURATION_ERROR"
	CodeUpstream          ErrorCode = "UPSTREAM_ERROR"
	CodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	CodePersistence       ErrorCode = "PERSISTENCE_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error

	// StatusCode and Body are only set for upstream errors.
	StatusCode int
	Body       string
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	msg := e.Message
	if e.Code == CodeUpstream && e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d): %s", e.Message, e.StatusCode, truncate(e.Body, 512))
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError 创建无效输入错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewAlreadyExistsError 创建已存在错误
func NewAlreadyExistsError(message string) *AppError {
	return &AppError{Code: CodeAlreadyExists, Message: message}
}

// NewInternalErrorWithCause 创建带原因的内部错误
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// NewConfigurationError 配置错误：没有可用的 provider 配置、缺少凭证等
func NewConfigurationError(message string) *AppError {
	return &AppError{Code: CodeConfiguration, Message: message}
}

// NewUpstreamError 上游后端返回非成功状态
func NewUpstreamError(message string, statusCode int, body string) *AppError {
	return &AppError{Code: CodeUpstream, Message: message, StatusCode: statusCode, Body: body}
}

// NewUpstreamErrorWithCause 上游调用在收到响应前失败（网络、超时）
func NewUpstreamErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeUpstream, Message: message, Err: cause}
}

// NewMalformedResponseError 响应无法解析为标准结构
func NewMalformedResponseError(message string, cause error) *AppError {
	return &AppError{Code: CodeMalformedResponse, Message: message, Err: cause}
}

// NewPersistenceError 存储读写失败
func NewPersistenceError(message string, cause error) *AppError {
	return &AppError{Code: CodePersistence, Message: message, Err: cause}
}

// CodeOf returns the code of the outermost AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsAlreadyExists 判断是否为已存在错误
func IsAlreadyExists(err error) bool { return CodeOf(err) == CodeAlreadyExists }

// IsInvalidInput 判断是否为无效输入错误
func IsInvalidInput(err error) bool { return CodeOf(err) == CodeInvalidInput }

// IsConfiguration 判断是否为配置错误
func IsConfiguration(err error) bool { return CodeOf(err) == CodeConfiguration }

// IsUpstream 判断是否为上游错误
func IsUpstream(err error) bool { return CodeOf(err) == CodeUpstream }

// IsMalformedResponse 判断是否为响应格式错误
func IsMalformedResponse(err error) bool { return CodeOf(err) == CodeMalformedResponse }

// IsPersistence 判断是否为持久化错误
func IsPersistence(err error) bool { return CodeOf(err) == CodePersistence }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
