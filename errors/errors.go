package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller how to react to an error.
type ErrorClass int

const (
	// ErrorTransient may succeed on a later attempt.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid will fail the same way until input or config changes.
	ErrorInvalid
	// ErrorFatal must reach an operator.
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	}
	return "unknown"
}

var (
	// Provider outcomes. They select the fallback path of a load and are
	// not failures of the caller.
	ErrNoData         = errors.New("no data available")
	ErrNotModified    = errors.New("data not modified")
	ErrNotSupported   = errors.New("operation not supported")
	ErrUnavailable    = errors.New("source unavailable")
	ErrCacheCorrupted = errors.New("cache file corrupted")

	// Query outcomes.
	ErrNotCached      = errors.New("value not cached")
	ErrKeyNotFound    = errors.New("key not found")
	ErrRowNotFound    = errors.New("row not found")
	ErrColumnNotFound = errors.New("column not found")
	ErrIndexNotFound  = errors.New("index not found")

	// Data model.
	ErrInvalidSchema         = errors.New("invalid schema")
	ErrOverlappingIntervals  = errors.New("overlapping intervals")
	ErrInvalidData           = errors.New("invalid data format")
	ErrParsingFailed         = errors.New("parsing failed")
	ErrUnsupportedValueType  = errors.New("unsupported value type")
	ErrIndexColumnMismatched = errors.New("mismatched index columns")

	// Configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// Sentinels that imply a class when no ClassifiedError is in the chain.
var (
	transientSentinels = []error{ErrUnavailable, context.DeadlineExceeded, context.Canceled}
	fatalSentinels     = []error{ErrOverlappingIntervals, ErrInvalidSchema, ErrMissingConfig, ErrInvalidConfig}
	invalidSentinels   = []error{ErrInvalidData, ErrParsingFailed, ErrNotSupported, ErrUnsupportedValueType}
	noDataSentinels    = []error{ErrNoData, ErrNotModified, ErrUnavailable, ErrCacheCorrupted}

	transientWords = []string{"timeout", "connection", "network", "temporary", "unavailable"}
)

// ClassifiedError attaches an ErrorClass and the failing call site to an
// error. The outermost ClassifiedError in a chain decides the class.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string { return ce.Err.Error() }

func (ce *ClassifiedError) Unwrap() error { return ce.Err }

func explicitClass(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransient reports whether retrying err later may succeed. Unclassified
// errors count when they wrap a transient sentinel or read like a network
// failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorTransient
	}
	if isAny(err, transientSentinels) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, word := range transientWords {
		if strings.Contains(msg, word) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err breaks a data-model or configuration
// invariant.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorFatal
	}
	return isAny(err, fatalSentinels)
}

// IsInvalid reports whether err comes from bad input or an unsupported
// capability.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorInvalid
	}
	return isAny(err, invalidSentinels)
}

// Classify returns the class of err. Errors matching no rule are transient,
// so the next refresh tries again.
func Classify(err error) ErrorClass {
	switch {
	case err == nil, IsTransient(err):
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	}
	return ErrorTransient
}

// IsNoData reports whether err means a provider had nothing to load. An
// unsupported capability is not "no data".
func IsNoData(err error) bool {
	return isAny(err, noDataSentinels)
}

// Wrap adds call-site context in the form
// "component.method: action failed: <err>". A nil err stays nil.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapTransient is Wrap that also marks err transient.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapInvalid is Wrap that also marks err invalid.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// WrapFatal is Wrap that also marks err fatal.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}
