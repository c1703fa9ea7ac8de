package services

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes business-rule violations of the counting engine
type ErrorKind string

const (
	KindNotFound                 ErrorKind = "NOT_FOUND"
	KindUnauthorized             ErrorKind = "UNAUTHORIZED"
	KindInvalidTransition        ErrorKind = "INVALID_TRANSITION"
	KindProductNotInRecountScope ErrorKind = "PRODUCT_NOT_IN_RECOUNT_SCOPE"
	KindAlreadyActiveCycle       ErrorKind = "ALREADY_ACTIVE_CYCLE"
	KindInvalidQuantity          ErrorKind = "INVALID_QUANTITY"
	KindInvalidAssignment        ErrorKind = "INVALID_ASSIGNMENT"
)

// CountError is returned for every rejected operation. None of them are retried;
// the operation left no writes behind.
type CountError struct {
	Kind          ErrorKind
	Message       string
	SectorCountID int
}

func (e *CountError) Error() string {
	if e.SectorCountID != 0 {
		return fmt.Sprintf("%s: %s (sector_count=%d)", e.Kind, e.Message, e.SectorCountID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any CountError of the same kind, so errors.Is(err, ErrNotFound) works
// for every not-found error regardless of message.
func (e *CountError) Is(target error) bool {
	var t *CountError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound                 = &CountError{Kind: KindNotFound, Message: "not found"}
	ErrUnauthorized             = &CountError{Kind: KindUnauthorized, Message: "caller is not allowed"}
	ErrInvalidTransition        = &CountError{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrProductNotInRecountScope = &CountError{Kind: KindProductNotInRecountScope, Message: "product not in recount scope"}
	ErrAlreadyActiveCycle       = &CountError{Kind: KindAlreadyActiveCycle, Message: "company already has an active cycle"}
	ErrInvalidQuantity          = &CountError{Kind: KindInvalidQuantity, Message: "quantity must be positive"}
	ErrInvalidAssignment        = &CountError{Kind: KindInvalidAssignment, Message: "invalid assignment"}
)

func newError(kind ErrorKind, sectorCountID int, format string, args ...any) *CountError {
	return &CountError{Kind: kind, Message: fmt.Sprintf(format, args...), SectorCountID: sectorCountID}
}

// KindOf returns the kind of a CountError anywhere in err's chain, or "" for other errors
func KindOf(err error) ErrorKind {
	var ce *CountError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
