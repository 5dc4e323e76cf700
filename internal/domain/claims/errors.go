package claims

import (
	"github.com/cockroachdb/errors"
)

// Error categories. Every error returned by this package that belongs to a
// category is marked with one of these, so callers branch with errors.Is
// regardless of how much context has been wrapped around it.
var (
	ErrConfiguration  = errors.New("clearinghouse configuration error")
	ErrNotFound       = errors.New("not found")
	ErrInvalidStatus  = errors.New("invalid status")
	ErrCannotResubmit = errors.New("cannot resubmit")
	ErrEncoding       = errors.New("x12 encoding error")
	ErrTransport      = errors.New("clearinghouse transport error")
	ErrValidation     = errors.New("validation error")
)

// markf builds a new error with the given message, marked as sentinel.
func markf(sentinel error, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), sentinel)
}

// wrapMark wraps err with a message and marks it as sentinel.
func wrapMark(err error, sentinel error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), sentinel)
}

func IsNotFound(err error) bool       { return errors.Is(err, ErrNotFound) }
func IsConfiguration(err error) bool  { return errors.Is(err, ErrConfiguration) }
func IsInvalidStatus(err error) bool  { return errors.Is(err, ErrInvalidStatus) }
func IsCannotResubmit(err error) bool { return errors.Is(err, ErrCannotResubmit) }
func IsEncoding(err error) bool       { return errors.Is(err, ErrEncoding) }
func IsTransport(err error) bool      { return errors.Is(err, ErrTransport) }
func IsValidation(err error) bool     { return errors.Is(err, ErrValidation) }
