package errs

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable failure classification surfaced to callers.
type Kind string

const (
	// KindMalformedPackage means the uploaded bytes are not a readable container.
	KindMalformedPackage Kind = "MalformedPackage"
	// KindMissingCollectionSchema means the container holds no usable collection database.
	KindMissingCollectionSchema Kind = "MissingCollectionSchema"
	// KindDanglingModelReference means a note in the package points to a model it doesn't carry.
	KindDanglingModelReference Kind = "DanglingModelReference"
	// KindDanglingReference means a card in the package points to a missing note or deck.
	KindDanglingReference Kind = "DanglingReference"
	// KindEmptyExportSet means an export request resolved to no eligible decks.
	KindEmptyExportSet Kind = "EmptyExportSet"
)

// Error carries a classification alongside a human-readable detail.
// Rejection-class failures are never retried by the engine itself.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two engine errors by kind, so callers can use errors.Is
// against a bare New(kind, "") sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New creates an engine error with the given kind and detail.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf creates an engine error with a formatted detail.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause to an engine error.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the kind of an engine error, or "" for other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
