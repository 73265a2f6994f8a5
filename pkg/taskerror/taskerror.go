// Package taskerror 提供任务执行错误的分类，供 worker 决定重试还是放弃
package taskerror

import (
	"errors"
	"fmt"
)

// Class 错误类别
type Class int

const (
	// ClassRecoverable 临时性错误，可以由 worker 重试
	ClassRecoverable Class = iota
	// ClassFatal 致命错误，不重试，实体会被强制置为失败/锁定状态
	ClassFatal
	// ClassNotReady 前置条件不满足，不盲目重试，需要实体状态先发生变化
	ClassNotReady
)

// String 返回类别名称
func (c Class) String() string {
	switch c {
	case ClassRecoverable:
		return "recoverable"
	case ClassFatal:
		return "fatal"
	case ClassNotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

// Error 任务错误
// Code 是机器可读的原因码，RawError 是底层原因，仅用于诊断
type Error struct {
	Code     string
	Class    Class
	RawError error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] %s", e.Code, e.Class)
	if e.RawError != nil {
		str += fmt.Sprintf(" (RawError: %v)", e.RawError)
	}
	return str
}

// Is 按原因码比较，忽略类别和底层错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Unwrap 返回底层错误
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

// New 创建可重试错误
func New(code string) *Error {
	return &Error{Code: code, Class: ClassRecoverable}
}

// Wrap 创建带底层原因的可重试错误
func Wrap(code string, raw error) *Error {
	return &Error{Code: code, Class: ClassRecoverable, RawError: raw}
}

// Fatal 创建致命错误，raw 可以为 nil
func Fatal(code string, raw error) *Error {
	return &Error{Code: code, Class: ClassFatal, RawError: raw}
}

// NotReady 创建前置条件错误
func NotReady(code string) *Error {
	return &Error{Code: code, Class: ClassNotReady}
}

// WithRaw 复制预定义错误并附加底层原因
func WithRaw(base *Error, raw error) *Error {
	return &Error{Code: base.Code, Class: base.Class, RawError: raw}
}

// WithClass 复制预定义错误并替换类别
func WithClass(base *Error, class Class) *Error {
	return &Error{Code: base.Code, Class: class, RawError: base.RawError}
}

// ClassOf 返回错误类别，未分类的错误视为可重试
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassRecoverable
}

// CodeOf 返回错误原因码，未分类的错误返回 "unknown"
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "unknown"
}
