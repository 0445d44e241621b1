package model

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers across the channel boundary can react to it.
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindModelLoad
	KindInference
)

// Code is the machine-readable name sent to callers.
func (k Kind) Code() string {
	switch k {
	case KindInvalidInput:
		return "INVALID_INPUT"
	case KindModelLoad:
		return "MODEL_LOAD_ERROR"
	case KindInference:
		return "INFERENCE_ERROR"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) String() string {
	return k.Code()
}

var (
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrModelLoad    = &Error{Kind: KindModelLoad}
	ErrInference    = &Error{Kind: KindInference}
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Code()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrInference) works
// for wrapped errors regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func invalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func modelLoad(msg string, err error) error {
	return &Error{Kind: KindModelLoad, Message: msg, Err: err}
}

func inference(msg string, err error) error {
	return &Error{Kind: KindInference, Message: msg, Err: err}
}

// KindOf reports the kind of err, or 0 when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
