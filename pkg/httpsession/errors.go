package httpsession

import (
	"fmt"
)

// ErrorKind classifies a ParseError.
type ErrorKind int

const (
	// Malformed input violates HTTP/1.x syntax.
	Malformed ErrorKind = iota + 1
	// TooLarge input exceeds the header or body limit.
	TooLarge
	// Unsupported input is well formed but uses a version or transfer
	// coding the parser does not implement.
	Unsupported
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case TooLarge:
		return "too_large"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// ParseError reports input the parser cannot frame. Once returned, the
// parser keeps returning it until Reset.
type ParseError struct {
	Kind   ErrorKind
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("http parse error (%s): %s", e.Kind, e.Reason)
}

// Is matches another *ParseError of the same kind, so errors.Is can test
// for a kind with a template such as &ParseError{Kind: TooLarge}.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

func malformed(format string, args ...any) *ParseError {
	return &ParseError{Kind: Malformed, Reason: fmt.Sprintf(format, args...)}
}

func tooLarge(format string, args ...any) *ParseError {
	return &ParseError{Kind: TooLarge, Reason: fmt.Sprintf(format, args...)}
}

func unsupported(format string, args ...any) *ParseError {
	return &ParseError{Kind: Unsupported, Reason: fmt.Sprintf(format, args...)}
}
