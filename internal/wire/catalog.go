package wire

import (
	"encoding/binary"
	"sort"
)

// PayloadDecoder decodes a datagram whose header has already been read and
// whose length is at least the entry's MinSize. Offsets are absolute.
type PayloadDecoder func(h Header, buf []byte) (Message, error)

// Entry describes one message type of the wire format.
type Entry struct {
	Name    string
	MinSize int
	Decode  PayloadDecoder
}

// catalog is the complete set of message types understood by the decoder.
// New message types are added here; Decode never changes.
var catalog = map[MessageType]Entry{
	TypeBBOUpdate:   {Name: "BBO", MinSize: BBOSize, Decode: decodeBBO},
	TypeTradeUpdate: {Name: "TRADE", MinSize: TradeSize, Decode: decodeTrade},
	TypeDepthUpdate: {Name: "DEPTH", MinSize: DepthMinSize, Decode: decodeDepth},
}

// Lookup returns the catalog entry for t.
func Lookup(t MessageType) (Entry, bool) {
	e, ok := catalog[t]
	return e, ok
}

// Types returns every cataloged type code in ascending order.
func Types() []MessageType {
	out := make([]MessageType, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func decodeBBO(h Header, buf []byte) (Message, error) {
	sym, err := decodeSymbol(h, buf[24:32])
	m := &BBOUpdate{
		Head:        h,
		Symbol:      sym,
		BidPrice:    Price(binary.LittleEndian.Uint64(buf[32:40])),
		BidQuantity: binary.LittleEndian.Uint64(buf[40:48]),
		AskPrice:    Price(binary.LittleEndian.Uint64(buf[48:56])),
		AskQuantity: binary.LittleEndian.Uint64(buf[56:64]),
	}
	return m, err
}

func decodeTrade(h Header, buf []byte) (Message, error) {
	sym, err := decodeSymbol(h, buf[32:40])
	m := &TradeUpdate{
		Head:     h,
		TradeID:  binary.LittleEndian.Uint64(buf[24:32]),
		Symbol:   sym,
		Quantity: binary.LittleEndian.Uint64(buf[40:48]),
		Price:    Price(binary.LittleEndian.Uint64(buf[48:56])),
		Side:     Side(buf[56]),
	}
	return m, err
}

func decodeDepth(h Header, buf []byte) (Message, error) {
	sym, err := decodeSymbol(h, buf[24:32])
	m := &DepthUpdate{
		Head:         h,
		Symbol:       sym,
		NumBidLevels: buf[32],
		NumAskLevels: buf[33],
	}

	declared := int(m.NumBidLevels) + int(m.NumAskLevels)
	available := (len(buf) - DepthMinSize) / DepthLevelSize
	n := declared
	if available < declared {
		n = available
		m.LevelsTruncated = true
	}
	for i := 0; i < n; i++ {
		off := DepthMinSize + i*DepthLevelSize
		lvl := DepthLevel{
			Price:      Price(binary.LittleEndian.Uint64(buf[off : off+8])),
			Quantity:   binary.LittleEndian.Uint64(buf[off+8 : off+16]),
			OrderCount: binary.LittleEndian.Uint32(buf[off+16 : off+20]),
		}
		if i < int(m.NumBidLevels) {
			m.Bids = append(m.Bids, lvl)
		} else {
			m.Asks = append(m.Asks, lvl)
		}
	}
	return m, err
}

// decodeSymbol strips trailing NULs and requires printable ASCII. On failure
// the symbol keeps its raw bytes and a DecodeError wrapping ErrInvalidSymbol
// is returned alongside it.
func decodeSymbol(h Header, field []byte) (Symbol, error) {
	var sym Symbol
	copy(sym.Raw[:], field)

	end := len(field)
	for end > 0 && field[end-1] == 0 {
		end--
	}
	for _, c := range field[:end] {
		if c < 0x20 || c > 0x7e {
			raw := make([]byte, len(field))
			copy(raw, field)
			return sym, &DecodeError{Kind: ErrInvalidSymbol, Header: h, HasHeader: true, Length: len(field), Raw: raw}
		}
	}
	sym.Text = string(field[:end])
	sym.Valid = true
	return sym, nil
}
