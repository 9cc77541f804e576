package wire

import (
	"errors"
	"fmt"
)

var (
	ErrTruncatedHeader  = errors.New("wire: truncated header")
	ErrTruncatedPayload = errors.New("wire: truncated payload")
	ErrUnknownType      = errors.New("wire: unknown message type")
	ErrInvalidSymbol    = errors.New("wire: invalid symbol encoding")
)

// DecodeError describes a datagram that could not be fully decoded. Kind is
// one of the sentinel errors above. HasHeader is false only for
// ErrTruncatedHeader.
type DecodeError struct {
	Kind      error
	Header    Header
	HasHeader bool
	Length    int
	Raw       []byte
}

func (e *DecodeError) Error() string {
	switch {
	case !e.HasHeader:
		return fmt.Sprintf("%v: %d bytes", e.Kind, e.Length)
	case errors.Is(e.Kind, ErrInvalidSymbol):
		return fmt.Sprintf("%v: type=%s seq=%d raw=%q", e.Kind, e.Header.Type, e.Header.Sequence, e.Raw)
	default:
		return fmt.Sprintf("%v: type=%s seq=%d len=%d", e.Kind, e.Header.Type, e.Header.Sequence, e.Length)
	}
}

func (e *DecodeError) Unwrap() error { return e.Kind }

// HeaderOf returns the header carried by a decode error. The boolean is false
// when err carries no header.
func HeaderOf(err error) (Header, bool) {
	var de *DecodeError
	if errors.As(err, &de) && de.HasHeader {
		return de.Header, true
	}
	return Header{}, false
}

// Kind maps a decode error to a short label used in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTruncatedHeader):
		return "truncated_header"
	case errors.Is(err, ErrTruncatedPayload):
		return "truncated_payload"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, ErrInvalidSymbol):
		return "invalid_symbol"
	default:
		return "other"
	}
}
