package types

import "errors"

var (
	// ErrNotFound means the input path does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedFormat means the container or codec could not be decoded.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrInvalidFrame means a decoded frame is malformed.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrSource wraps I/O failures of the decoder during a run.
	ErrSource = errors.New("source error")
	// ErrSink wraps I/O failures of the output during a run.
	ErrSink = errors.New("sink error")
	// ErrUsage marks bad command line arguments.
	ErrUsage = errors.New("usage error")
	// ErrCancelled is returned when the user stops an interactive run.
	ErrCancelled = errors.New("cancelled")
	// ErrUnknownMode is returned for a Mode outside the enumeration.
	ErrUnknownMode = errors.New("unknown mode")
	// ErrUnsupported is returned for features not compiled into this binary.
	ErrUnsupported = errors.New("not supported by this build")
)
