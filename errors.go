package rtcaudio

import (
	"errors"
	"fmt"
)

// Errors
var (
	// ErrInvalidBuffer is returned when a pushed buffer fails validation.
	ErrInvalidBuffer = errors.New("invalid audio buffer")

	// ErrDisposed is returned when operating on a closed resource.
	ErrDisposed = errors.New("resource disposed")

	// ErrNotReceiver is returned when a receive-side operation is used on a sender track.
	ErrNotReceiver = errors.New("track is not a receiver")

	// ErrNotSender is returned when a send-side operation is used on a receiver track.
	ErrNotSender = errors.New("track is not a sender")

	// ErrNilProducer is returned when attaching a nil local producer.
	ErrNilProducer = errors.New("local producer is nil")

	// ErrNilCallback is returned when registering a nil receive callback.
	ErrNilCallback = errors.New("callback is nil")

	// ErrNilEngine is returned when creating a Runtime without an engine.
	ErrNilEngine = errors.New("engine is nil")

	// ErrInvalidHandle is returned for the zero handle.
	ErrInvalidHandle = errors.New("invalid native handle")

	// ErrHandleInUse is returned when a handle is registered twice.
	ErrHandleInUse = errors.New("native handle already registered")

	// ErrEngineClosed is returned when creating resources after Shutdown.
	ErrEngineClosed = errors.New("engine closed")

	// ErrNotSupported is returned when the native backend is unavailable.
	ErrNotSupported = errors.New("operation not supported")
)

// BufferError describes which buffer field failed validation.
type BufferError struct {
	Field string
	Value int
	Want  int // expected value for length mismatches, zero otherwise
}

func (e *BufferError) Error() string {
	if e.Want != 0 {
		return fmt.Sprintf("%v: %s is %d, want %d", ErrInvalidBuffer, e.Field, e.Value, e.Want)
	}
	return fmt.Sprintf("%v: %s must be positive, got %d", ErrInvalidBuffer, e.Field, e.Value)
}

// Is reports whether target is ErrInvalidBuffer.
func (e *BufferError) Is(target error) bool {
	return target == ErrInvalidBuffer
}
