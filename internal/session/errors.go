package session

import (
	"errors"
	"fmt"
)

// Reasons an outgoing envelope was dropped. They appear in diagnostics only;
// Send never returns them.
var (
	ErrNotOpen    = errors.New("session is not open")
	ErrClosed     = errors.New("session is closed")
	ErrBufferFull = errors.New("outbound buffer is full")
	ErrQueueFull  = errors.New("outbound queue is full")
)

// TransportError reports a failed dial, read or write.
type TransportError struct {
	Op  string // "dial", "read" or "write"
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports an inbound frame the codec could not decode. The frame
// is discarded and the connection stays open.
type DecodeError struct {
	Codec string
	Size  int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %d byte %s frame: %v", e.Size, e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports an outgoing envelope the codec could not encode.
type EncodeError struct {
	Type string
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("failed to encode %q envelope: %v", e.Type, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
