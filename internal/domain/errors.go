package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission_denied"
	KindRecognition      ErrorKind = "recognition"
	KindTranscription    ErrorKind = "transcription"
	KindTranscode        ErrorKind = "transcode"
	KindSynthesis        ErrorKind = "synthesis"
	KindPlayback         ErrorKind = "playback"
	KindExchange         ErrorKind = "exchange_transport"
	KindLifecycle        ErrorKind = "lifecycle"
	KindUnsupported      ErrorKind = "unsupported"
)

// Kind sentinels, matched with errors.Is against any *Error of that kind.
var (
	ErrPermissionDenied       = errors.New("permission denied")
	ErrRecognition            = errors.New("recognition error")
	ErrTranscription          = errors.New("transcription error")
	ErrTranscode              = errors.New("transcode error")
	ErrSynthesis              = errors.New("synthesis error")
	ErrPlayback               = errors.New("playback error")
	ErrExchangeTransport      = errors.New("exchange transport error")
	ErrLifecycle              = errors.New("lifecycle error")
	ErrUnsupported            = errors.New("unsupported capability")
	ErrRestartBudgetExhausted = errors.New("recognition restart budget exhausted")
)

var kindSentinels = map[ErrorKind]error{
	KindPermissionDenied: ErrPermissionDenied,
	KindRecognition:      ErrRecognition,
	KindTranscription:    ErrTranscription,
	KindTranscode:        ErrTranscode,
	KindSynthesis:        ErrSynthesis,
	KindPlayback:         ErrPlayback,
	KindExchange:         ErrExchangeTransport,
	KindLifecycle:        ErrLifecycle,
	KindUnsupported:      ErrUnsupported,
}

// Error is a classified pipeline failure.
type Error struct {
	Kind ErrorKind
	Op   string
	// Reason is the provider reason code, when one was reported.
	Reason    string
	Transient bool
	Err       error
}

// NewError wraps err with a kind and operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RecognitionError builds a recognition failure with a provider reason code.
func RecognitionError(reason string, transient bool, err error) *Error {
	return &Error{Kind: KindRecognition, Op: "recognize", Reason: reason, Transient: transient, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Reason)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsTransient reports whether err is a classified transient failure.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient
}

// ErrorCodeFor maps an error onto the UI error code.
func ErrorCodeFor(err error) ErrorCode {
	switch KindOf(err) {
	case KindPermissionDenied:
		return ErrorCodePermission
	case KindRecognition:
		return ErrorCodeRecognition
	case KindTranscription, KindTranscode:
		return ErrorCodeTranscription
	case KindSynthesis:
		return ErrorCodeSynthesis
	case KindPlayback:
		return ErrorCodePlayback
	case KindExchange:
		return ErrorCodeExchange
	case KindLifecycle:
		return ErrorCodeLifecycle
	case KindUnsupported:
		return ErrorCodeStartup
	default:
		return ErrorCodeAudioStream
	}
}
