package writer

import (
	"strings"

	"mdfeed/internal/channel"
	"mdfeed/internal/wire"
)

// Prices are stored twice: the raw fixed-point integer, which is exact, and a
// DOUBLE for ad-hoc queries.

type bboRow struct {
	Symbol         string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence       int64   `parquet:"name=sequence, type=INT64"`
	Timestamp      int64   `parquet:"name=timestamp, type=INT64"`
	BidPrice       float64 `parquet:"name=bid_price, type=DOUBLE"`
	BidPriceRaw    int64   `parquet:"name=bid_price_raw, type=INT64"`
	BidQuantity    int64   `parquet:"name=bid_quantity, type=INT64"`
	AskPrice       float64 `parquet:"name=ask_price, type=DOUBLE"`
	AskPriceRaw    int64   `parquet:"name=ask_price_raw, type=INT64"`
	AskQuantity    int64   `parquet:"name=ask_quantity, type=INT64"`
	ReceivedTimeMs int64   `parquet:"name=received_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type tradeRow struct {
	Symbol         string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence       int64   `parquet:"name=sequence, type=INT64"`
	Timestamp      int64   `parquet:"name=timestamp, type=INT64"`
	TradeID        int64   `parquet:"name=trade_id, type=INT64"`
	Price          float64 `parquet:"name=price, type=DOUBLE"`
	PriceRaw       int64   `parquet:"name=price_raw, type=INT64"`
	Quantity       int64   `parquet:"name=quantity, type=INT64"`
	Side           string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReceivedTimeMs int64   `parquet:"name=received_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// depthRow flattens one price level. A depth update without any complete
// level still produces a single row with Level -1 so that the update itself is
// not lost.
type depthRow struct {
	Symbol          string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence        int64   `parquet:"name=sequence, type=INT64"`
	Timestamp       int64   `parquet:"name=timestamp, type=INT64"`
	NumBidLevels    int32   `parquet:"name=num_bid_levels, type=INT32"`
	NumAskLevels    int32   `parquet:"name=num_ask_levels, type=INT32"`
	Side            string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Level           int32   `parquet:"name=level, type=INT32"`
	Price           float64 `parquet:"name=price, type=DOUBLE"`
	PriceRaw        int64   `parquet:"name=price_raw, type=INT64"`
	Quantity        int64   `parquet:"name=quantity, type=INT64"`
	OrderCount      int32   `parquet:"name=order_count, type=INT32"`
	LevelsTruncated bool    `parquet:"name=levels_truncated, type=BOOLEAN"`
	ReceivedTimeMs  int64   `parquet:"name=received_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// partitionName is the lower-case type name used in storage keys.
func partitionName(t wire.MessageType) string {
	return strings.ToLower(t.String())
}

// toRows converts a record into parquet rows. Unknown message types yield nil.
func toRows(rec channel.Record) []interface{} {
	received := rec.ReceivedAt.UnixMilli()
	switch m := rec.Message.(type) {
	case *wire.BBOUpdate:
		return []interface{}{bboRow{
			Symbol:         m.Symbol.String(),
			Sequence:       int64(m.Head.Sequence),
			Timestamp:      int64(m.Head.Timestamp),
			BidPrice:       m.BidPrice.Float64(),
			BidPriceRaw:    int64(m.BidPrice),
			BidQuantity:    int64(m.BidQuantity),
			AskPrice:       m.AskPrice.Float64(),
			AskPriceRaw:    int64(m.AskPrice),
			AskQuantity:    int64(m.AskQuantity),
			ReceivedTimeMs: received,
		}}
	case *wire.TradeUpdate:
		return []interface{}{tradeRow{
			Symbol:         m.Symbol.String(),
			Sequence:       int64(m.Head.Sequence),
			Timestamp:      int64(m.Head.Timestamp),
			TradeID:        int64(m.TradeID),
			Price:          m.Price.Float64(),
			PriceRaw:       int64(m.Price),
			Quantity:       int64(m.Quantity),
			Side:           m.Side.String(),
			ReceivedTimeMs: received,
		}}
	case *wire.DepthUpdate:
		base := depthRow{
			Symbol:          m.Symbol.String(),
			Sequence:        int64(m.Head.Sequence),
			Timestamp:       int64(m.Head.Timestamp),
			NumBidLevels:    int32(m.NumBidLevels),
			NumAskLevels:    int32(m.NumAskLevels),
			LevelsTruncated: m.LevelsTruncated,
			ReceivedTimeMs:  received,
		}
		rows := make([]interface{}, 0, len(m.Bids)+len(m.Asks))
		add := func(side string, levels []wire.DepthLevel) {
			for i, l := range levels {
				r := base
				r.Side = side
				r.Level = int32(i)
				r.Price = l.Price.Float64()
				r.PriceRaw = int64(l.Price)
				r.Quantity = int64(l.Quantity)
				r.OrderCount = int32(l.OrderCount)
				rows = append(rows, r)
			}
		}
		add("BID", m.Bids)
		add("ASK", m.Asks)
		if len(rows) == 0 {
			base.Level = -1
			rows = append(rows, base)
		}
		return rows
	default:
		return nil
	}
}

// schemaFor returns the parquet schema object for a message type.
func schemaFor(t wire.MessageType) interface{} {
	switch t {
	case wire.TypeBBOUpdate:
		return new(bboRow)
	case wire.TypeTradeUpdate:
		return new(tradeRow)
	case wire.TypeDepthUpdate:
		return new(depthRow)
	default:
		return nil
	}
}
