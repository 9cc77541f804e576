package wire

import "encoding/binary"

// Decode parses one datagram. It never panics and never reads past len(buf).
//
// The header is read first so that sequence tracking survives unknown types
// and short payloads: for ErrUnknownType and ErrTruncatedPayload the returned
// error carries the header (see HeaderOf). When only the symbol is malformed
// Decode returns the decoded message together with an error wrapping
// ErrInvalidSymbol; callers should use the message and treat the error as a
// flag.
func Decode(buf []byte) (Message, error) {
	if len(buf) < HeaderSize {
		return nil, &DecodeError{Kind: ErrTruncatedHeader, Length: len(buf)}
	}

	h := ParseHeader(buf)

	entry, ok := Lookup(h.Type)
	if !ok {
		return nil, &DecodeError{Kind: ErrUnknownType, Header: h, HasHeader: true, Length: len(buf)}
	}
	if len(buf) < entry.MinSize {
		return nil, &DecodeError{Kind: ErrTruncatedPayload, Header: h, HasHeader: true, Length: len(buf)}
	}
	return entry.Decode(h, buf)
}

// ParseHeader reads the common header. buf must hold at least HeaderSize bytes.
func ParseHeader(buf []byte) Header {
	return Header{
		Type:          MessageType(binary.LittleEndian.Uint32(buf[0:4])),
		PayloadLength: binary.LittleEndian.Uint32(buf[4:8]),
		Sequence:      binary.LittleEndian.Uint64(buf[8:16]),
		Timestamp:     binary.LittleEndian.Uint64(buf[16:24]),
	}
}
