// Package rtgicore holds types shared by every stage of the RTGI pipeline:
// the error result kind, the camera description, and the viewport state.
package rtgicore

import "fmt"

// Kind identifies one of the error categories the pipeline can report.
type Kind int

const (
	// NotInitialized is returned when Render is called before a successful Init.
	NotInitialized Kind = iota
	// ResourceExhausted is returned when a GPU allocation exceeds device limits.
	ResourceExhausted
	// InvalidFormat is returned when a G-buffer texture has an unsupported format.
	InvalidFormat
	// InvalidGrid is returned when cluster grid dimensions are zero or exceed the cap.
	InvalidGrid
	// KernelLoadFailed is returned when a named compute kernel fails to compile/link.
	KernelLoadFailed
	// ViewportMismatch is returned when G-buffer or output dimensions disagree with the viewport.
	ViewportMismatch
	// ConfigurationError is returned when a kernel's binding table does not match its resources.
	ConfigurationError
	// IndexOutOfRange is returned when a light-store update references an invalid index.
	IndexOutOfRange
)

func (k Kind) String() string {
	switch k {
	case NotInitialized:
		return "NotInitialized"
	case ResourceExhausted:
		return "ResourceExhausted"
	case InvalidFormat:
		return "InvalidFormat"
	case InvalidGrid:
		return "InvalidGrid"
	case KernelLoadFailed:
		return "KernelLoadFailed"
	case ViewportMismatch:
		return "ViewportMismatch"
	case ConfigurationError:
		return "ConfigurationError"
	case IndexOutOfRange:
		return "IndexOutOfRange"
	default:
		return "Unknown"
	}
}

// Error is the uniform result type every public pipeline operation returns on
// failure. It wraps an optional underlying cause without exposing exceptions
// or panics on a caller-reachable path.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, rtgicore.Sentinel(kind)) style checks: any *Error
// target of the same Kind matches.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel returns a zero-value *Error of the given kind, suitable as the
// target of errors.Is(err, rtgicore.Sentinel(rtgicore.InvalidGrid)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }
