package exchange

import (
	"errors"
	"fmt"
)

// Class splits exchange failures into the only two categories downstream
// logic is allowed to see: definitively rejected (HARD) and outcome unknown
// (SOFT).
type Class string

const (
	ClassHard Class = "HARD"
	ClassSoft Class = "SOFT"
)

// OrderError is the tagged error variant returned by every client method.
type OrderError struct {
	Class   Class
	Code    int64
	Message string
	cause   error
}

func (e *OrderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Code != 0 {
		return fmt.Sprintf("exchange %s error (code=%d): %s", e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange %s error: %s", e.Class, e.Message)
}

func (e *OrderError) Unwrap() error { return e.cause }

func Hard(code int64, message string, cause error) *OrderError {
	return &OrderError{Class: ClassHard, Code: code, Message: message, cause: cause}
}

func Soft(message string, cause error) *OrderError {
	return &OrderError{Class: ClassSoft, Message: message, cause: cause}
}

// IsHard reports whether err is a definitive exchange rejection.
func IsHard(err error) bool {
	var oe *OrderError
	return errors.As(err, &oe) && oe.Class == ClassHard
}

// IsSoft reports whether err is an ambiguous failure: the order may or may
// not have reached the exchange.
func IsSoft(err error) bool {
	var oe *OrderError
	return errors.As(err, &oe) && oe.Class == ClassSoft
}
