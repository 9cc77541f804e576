package wire

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// HEADER ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// MessageType is the numeric type code carried in every header.
type MessageType uint32

const (
	TypeBBOUpdate   MessageType = 201
	TypeTradeUpdate MessageType = 202
	TypeDepthUpdate MessageType = 203
)

// String returns the catalog name for known types and UNKNOWN(<code>) otherwise.
func (t MessageType) String() string {
	if e, ok := Lookup(t); ok {
		return e.Name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
}

const (
	HeaderSize     = 24
	SymbolSize     = 8
	BBOSize        = 64
	TradeSize      = 57
	DepthMinSize   = 34
	DepthLevelSize = 20

	// PriceScale is the fixed-point divisor applied to every wire price.
	PriceScale = 10000
)

// Header is the fixed 24-byte prefix of every datagram.
type Header struct {
	Type          MessageType `json:"message_type"`
	PayloadLength uint32      `json:"payload_length"`
	Sequence      uint64      `json:"sequence"`
	Timestamp     uint64      `json:"timestamp"`
}

// Message is implemented by every decoded payload type.
type Message interface {
	Header() Header
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// FIELDS ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Price is a fixed-point price scaled by PriceScale.
type Price uint64

// Decimal returns the exact decimal value of the price.
func (p Price) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(p)), -4)
}

// Float64 returns the price as a float. Precision is lost above 2^53 raw units.
func (p Price) Float64() float64 {
	f, _ := p.Decimal().Float64()
	return f
}

func (p Price) String() string {
	return p.Decimal().StringFixed(4)
}

// MarshalJSON renders the price as a quoted decimal string so that no
// precision is lost in JSON consumers.
func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Side is the aggressor side of a trade.
type Side uint8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

// Known reports whether the side is BUY or SELL.
func (s Side) Known() bool {
	return s == SideBuy || s == SideSell
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Symbol is an 8-byte NUL padded instrument code.
type Symbol struct {
	Text  string           `json:"text"`
	Raw   [SymbolSize]byte `json:"-"`
	Valid bool             `json:"valid"`
}

// String returns the symbol text, or the raw bytes in hex when the symbol is
// not printable ASCII.
func (s Symbol) String() string {
	if s.Valid {
		return s.Text
	}
	return fmt.Sprintf("0x%x", s.Raw[:])
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// MESSAGES //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// BBOUpdate carries the top of book on both sides.
type BBOUpdate struct {
	Head        Header `json:"header"`
	Symbol      Symbol `json:"symbol"`
	BidPrice    Price  `json:"bid_price"`
	BidQuantity uint64 `json:"bid_quantity"`
	AskPrice    Price  `json:"ask_price"`
	AskQuantity uint64 `json:"ask_quantity"`
}

func (m *BBOUpdate) Header() Header { return m.Head }

// TradeUpdate carries a single execution.
type TradeUpdate struct {
	Head     Header `json:"header"`
	TradeID  uint64 `json:"trade_id"`
	Symbol   Symbol `json:"symbol"`
	Quantity uint64 `json:"quantity"`
	Price    Price  `json:"price"`
	Side     Side   `json:"side"`
}

func (m *TradeUpdate) Header() Header { return m.Head }

// DepthLevel is one price level of the depth trailer.
type DepthLevel struct {
	Price      Price  `json:"price"`
	Quantity   uint64 `json:"quantity"`
	OrderCount uint32 `json:"order_count"`
}

// DepthUpdate carries level counts and as many levels as the datagram holds.
// Bids holds at most NumBidLevels entries and Asks at most NumAskLevels.
// LevelsTruncated is set when the datagram ended before all declared levels.
type DepthUpdate struct {
	Head            Header       `json:"header"`
	Symbol          Symbol       `json:"symbol"`
	NumBidLevels    uint8        `json:"num_bid_levels"`
	NumAskLevels    uint8        `json:"num_ask_levels"`
	Bids            []DepthLevel `json:"bids,omitempty"`
	Asks            []DepthLevel `json:"asks,omitempty"`
	LevelsTruncated bool         `json:"levels_truncated"`
}

func (m *DepthUpdate) Header() Header { return m.Head }

// SymbolOf returns the symbol of a decoded message.
func SymbolOf(m Message) Symbol {
	switch v := m.(type) {
	case *BBOUpdate:
		return v.Symbol
	case *TradeUpdate:
		return v.Symbol
	case *DepthUpdate:
		return v.Symbol
	default:
		return Symbol{}
	}
}
