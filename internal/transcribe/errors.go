package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxserve/voxserve/internal/audio"
	"github.com/voxserve/voxserve/internal/scheduler"
	"github.com/voxserve/voxserve/internal/whisper"
)

// Kind is the stable, caller-facing error taxonomy. The orchestrator is
// the single translation point from component failures to these kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnsupportedFormat
	KindCorruptAudio
	KindEmptyAudio
	KindOverloaded
	KindTimeout
	KindOutOfMemory
	KindInternal
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindCorruptAudio:
		return "corrupt_audio"
	case KindEmptyAudio:
		return "empty_audio"
	case KindOverloaded:
		return "overloaded"
	case KindTimeout:
		return "timeout"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindInternal:
		return "internal"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// BadInput reports whether the failure is the caller's audio rather than
// the service; the API layer maps these to 4xx.
func (k Kind) BadInput() bool {
	switch k {
	case KindUnsupportedFormat, KindCorruptAudio, KindEmptyAudio:
		return true
	default:
		return false
	}
}

type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// classify wraps a component failure with its taxonomy kind.
func classify(err error) *Error {
	kind := KindUnknown
	switch {
	case errors.Is(err, audio.ErrUnsupportedFormat):
		kind = KindUnsupportedFormat
	case errors.Is(err, audio.ErrCorruptAudio):
		kind = KindCorruptAudio
	case errors.Is(err, audio.ErrEmptyAudio):
		kind = KindEmptyAudio
	case errors.Is(err, scheduler.ErrOverloaded):
		kind = KindOverloaded
	case errors.Is(err, scheduler.ErrTimeout):
		kind = KindTimeout
	case errors.Is(err, whisper.ErrOutOfMemory):
		kind = KindOutOfMemory
	case errors.Is(err, whisper.ErrInternalFault), errors.Is(err, scheduler.ErrClosed):
		kind = KindInternal
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = KindCanceled
	}
	return &Error{Kind: kind, err: err}
}

// KindOf extracts the taxonomy kind from any error returned by the
// orchestrator; unrecognized errors report KindUnknown.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}
