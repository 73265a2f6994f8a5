package apierror

import (
	"fmt"
)

// ErrorResponse 错误响应体
type ErrorResponse struct {
	Errors    []Error `json:"errors"`
	RequestID string  `json:"request_id,omitempty"`
}

func (er *ErrorResponse) Error() string {
	str := fmt.Sprintf("RequestID: %s", er.RequestID)
	for _, e := range er.Errors {
		str += fmt.Sprintf("; %s", e.Error())
	}
	return str
}

// Error 单个错误信息
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"` // HTTP 状态码，不会序列化到响应中
	RawError   error  `json:"-"` // 内部错误，只用于日志
}

// Error 实现 error 接口
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.RawError != nil {
		str += fmt.Sprintf(" (RawError: %v)", e.RawError)
	}
	return str
}

// Is 实现 errors.Is 接口，Code 相同即视为同一错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Unwrap 返回 RawError
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.RawError
}

var _ interface {
	Error() string
	Is(target error) bool
	Unwrap() error
} = (*Error)(nil)

// NewError 创建错误，httpStatus 为 0 时按 500 处理
func NewError(code, message string, httpStatus int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// WrapError 复制预定义错误的 Code 和 HTTPStatus，使用新的消息和原始错误
func WrapError(base *Error, message string, raw error) *Error {
	if message == "" {
		message = base.Message
	}
	return &Error{
		Code:       base.Code,
		Message:    message,
		HTTPStatus: base.HTTPStatus,
		RawError:   raw,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(requestID string, errors ...*Error) *ErrorResponse {
	errs := make([]Error, len(errors))
	for i, e := range errors {
		errs[i] = *e
	}
	return &ErrorResponse{
		Errors:    errs,
		RequestID: requestID,
	}
}

// Status 返回响应使用的 HTTP 状态码
func (e *Error) Status() int {
	if e.HTTPStatus > 0 {
		return e.HTTPStatus
	}
	return 500
}
