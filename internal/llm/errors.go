package llm

import "fmt"

// ErrorKind classifies why a completion failed.
type ErrorKind string

const (
	KindTimeout  ErrorKind = "timeout"
	KindCanceled ErrorKind = "canceled"
	KindAPI      ErrorKind = "api"
	KindEmpty    ErrorKind = "empty_response"
	KindImage    ErrorKind = "image"
)

// Error is returned for any failed completion.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("model call failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
