// internal/message/errors.go
package message

import (
	"errors"
	"fmt"
)

// ErrorClass is the category carried in Error.ErrorCode
type ErrorClass int

const (
	ErrorUnknown ErrorClass = iota
	ErrorInit
	ErrorPing
	ErrorMsg
	ErrorDevice
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorInit:
		return "ERROR_INIT"
	case ErrorPing:
		return "ERROR_PING"
	case ErrorMsg:
		return "ERROR_MSG"
	case ErrorDevice:
		return "ERROR_DEVICE"
	default:
		return "ERROR_UNKNOWN"
	}
}

// Codec errors
var (
	ErrNotArray       = errors.New("message batch is not a JSON array")
	ErrEmptyBatch     = errors.New("message batch is empty")
	ErrUnknownKind    = errors.New("unknown message kind")
	ErrMalformed      = errors.New("malformed message")
	ErrVersionTooHigh = errors.New("message kind not available in schema version")
)

// Error reports a failed request, or a fault the server noticed on its own
type Error struct {
	ErrorMessage string     `json:"ErrorMessage"`
	ErrorCode    ErrorClass `json:"ErrorCode"`
	Header
}

func (*Error) Kind() Kind { return KindError }

// NewError builds an Error answering request id
func NewError(id uint32, class ErrorClass, format string, args ...interface{}) *Error {
	return &Error{
		ErrorMessage: fmt.Sprintf(format, args...),
		ErrorCode:    class,
		Header:       Header{id},
	}
}

// ErrorFrom wraps err as an Error answering request id
func ErrorFrom(id uint32, class ErrorClass, err error) *Error {
	return &Error{ErrorMessage: err.Error(), ErrorCode: class, Header: Header{id}}
}

// IsError reports whether m is an Error, and of which class
func IsError(m Message) (ErrorClass, bool) {
	e, ok := m.(*Error)
	if !ok {
		return ErrorUnknown, false
	}
	return e.ErrorCode, true
}
