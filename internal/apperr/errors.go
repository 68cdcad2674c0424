// Package apperr 定义业务错误分类，HTTP 层按 Kind 映射状态码。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 是稳定的错误类别，调用方只依赖 Kind + Code，不依赖 Message。
type Kind string

const (
	KindValidation        Kind = "validation"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindInsufficientStock Kind = "insufficient_stock"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindUnauthenticated   Kind = "unauthenticated"
)

// 对外暴露的错误码
const (
	CodeEmptyOrder        = "EMPTY_ORDER"
	CodeInvalidValue      = "INVALID_VALUE"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotCancellable    = "NOT_CANCELLABLE"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeRequestInFlight   = "REQUEST_IN_FLIGHT"
	CodeRunInProgress     = "RUN_IN_PROGRESS"
)

// Error carries a stable kind/code pair plus a message safe to show to callers.
// Err holds the underlying cause and is never rendered to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(code, msg string) *Error { return New(KindValidation, code, msg) }

func Forbidden(msg string) *Error { return New(KindForbidden, CodeForbidden, msg) }

func NotFound(msg string) *Error { return New(KindNotFound, CodeNotFound, msg) }

func InvalidTransition(code, msg string) *Error { return New(KindInvalidTransition, code, msg) }

func InsufficientStock(msg string) *Error {
	return New(KindInsufficientStock, CodeInsufficientStock, msg)
}

func Unauthenticated(msg string) *Error { return New(KindUnauthenticated, CodeUnauthenticated, msg) }

// StoreUnavailable 包装底层 I/O 错误，调用方可重试。
func StoreUnavailable(op string, err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Code: CodeStoreUnavailable, Message: op + " failed", Err: err}
}

// KindOf 返回 err 链上第一个 *Error 的 Kind；非业务错误视为存储不可用。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreUnavailable
}

func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// HTTPStatus 将错误类别映射为 HTTP 状态码。
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition, KindInsufficientStock:
		return http.StatusConflict
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Public 返回可以安全暴露给客户端的 code 与 message。
func Public(err error) (code, msg string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, e.Message
	}
	return CodeStoreUnavailable, "internal error, please retry"
}
