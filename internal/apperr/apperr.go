// Package apperr описывает закрытый набор видов ошибок приложения и их сопоставление с HTTP-статусами.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind классифицирует ошибку по способу её обработки вызывающей стороной.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindInsufficient
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficient:
		return "insufficient"
	case KindGateway:
		return "gateway"
	default:
		return "internal"
	}
}

// HTTPStatus возвращает HTTP-статус ответа для данного вида ошибки.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInsufficient:
		return http.StatusConflict
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error - ошибка предметной области с видом, машинным кодом и читаемым сообщением.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// New создаёт ошибку с указанным видом, кодом и сообщением.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду, поэтому уточнённая копия сентинела остаётся равной ему.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Kind == t.Kind
}

// Withf возвращает копию ошибки с уточнённым сообщением.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message + ": " + fmt.Sprintf(format, args...),
		Err:     e.Err,
	}
}

// Wrap возвращает копию ошибки, хранящую причину.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: cause}
}

// Validation создаёт ошибку валидации входных данных.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, "validation_failed", fmt.Sprintf(format, args...))
}

// NotFound создаёт ошибку отсутствия сущности.
func NotFound(what string) *Error {
	return New(KindNotFound, "not_found", what+" not found")
}

// Forbidden создаёт ошибку доступа.
func Forbidden(message string) *Error {
	return New(KindForbidden, "forbidden", message)
}

// KindOf возвращает вид ошибки; ошибки вне этого пакета считаются внутренними.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf возвращает машинный код ошибки.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// MessageOf возвращает сообщение для клиента без подробностей внутренних ошибок.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}
