package wire

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a message into a datagram. PayloadLength in the written
// header is always the actual payload size; the other header fields are
// taken from the message.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case *BBOUpdate:
		buf := make([]byte, BBOSize)
		putSymbol(buf[24:32], v.Symbol)
		binary.LittleEndian.PutUint64(buf[32:40], uint64(v.BidPrice))
		binary.LittleEndian.PutUint64(buf[40:48], v.BidQuantity)
		binary.LittleEndian.PutUint64(buf[48:56], uint64(v.AskPrice))
		binary.LittleEndian.PutUint64(buf[56:64], v.AskQuantity)
		putHeader(buf, v.Head, TypeBBOUpdate)
		return buf, nil
	case *TradeUpdate:
		buf := make([]byte, TradeSize)
		binary.LittleEndian.PutUint64(buf[24:32], v.TradeID)
		putSymbol(buf[32:40], v.Symbol)
		binary.LittleEndian.PutUint64(buf[40:48], v.Quantity)
		binary.LittleEndian.PutUint64(buf[48:56], uint64(v.Price))
		buf[56] = byte(v.Side)
		putHeader(buf, v.Head, TypeTradeUpdate)
		return buf, nil
	case *DepthUpdate:
		if len(v.Bids) > 255 || len(v.Asks) > 255 {
			return nil, fmt.Errorf("wire: depth update has too many levels: bids=%d asks=%d", len(v.Bids), len(v.Asks))
		}
		buf := make([]byte, DepthMinSize+(len(v.Bids)+len(v.Asks))*DepthLevelSize)
		putSymbol(buf[24:32], v.Symbol)
		buf[32] = uint8(len(v.Bids))
		buf[33] = uint8(len(v.Asks))
		off := DepthMinSize
		for _, lvl := range append(append([]DepthLevel{}, v.Bids...), v.Asks...) {
			binary.LittleEndian.PutUint64(buf[off:off+8], uint64(lvl.Price))
			binary.LittleEndian.PutUint64(buf[off+8:off+16], lvl.Quantity)
			binary.LittleEndian.PutUint32(buf[off+16:off+20], lvl.OrderCount)
			off += DepthLevelSize
		}
		putHeader(buf, v.Head, TypeDepthUpdate)
		return buf, nil
	default:
		return nil, fmt.Errorf("wire: cannot encode %T", m)
	}
}

// EncodeHeader writes a bare header followed by payload. It is used to build
// datagrams of arbitrary type and length.
func EncodeHeader(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	copy(buf[HeaderSize:], payload)
	h.PayloadLength = uint32(len(payload))
	putHeader(buf, h, h.Type)
	return buf
}

// NewSymbol builds a NUL padded symbol; text longer than 8 bytes is cut.
func NewSymbol(text string) Symbol {
	var s Symbol
	n := copy(s.Raw[:], text)
	s.Text = text[:n]
	s.Valid = true
	return s
}

func putHeader(buf []byte, h Header, t MessageType) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-HeaderSize))
	binary.LittleEndian.PutUint64(buf[8:16], h.Sequence)
	binary.LittleEndian.PutUint64(buf[16:24], h.Timestamp)
}

func putSymbol(field []byte, s Symbol) {
	copy(field, s.Raw[:])
}
