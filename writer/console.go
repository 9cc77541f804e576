package writer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"mdfeed/internal/channel"
	"mdfeed/internal/wire"
)

// ConsoleSink prints one line per record.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (c *ConsoleSink) Name() string { return "console" }

func (c *ConsoleSink) Write(_ context.Context, rec channel.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, FormatMessage(rec.Message))
	return err
}

func (c *ConsoleSink) Flush(context.Context) error { return nil }

func (c *ConsoleSink) Close(context.Context) error { return nil }

// FormatMessage renders a decoded message as a single line.
func FormatMessage(m wire.Message) string {
	switch v := m.(type) {
	case *wire.BBOUpdate:
		return fmt.Sprintf("BBO %s Bid:%sx%d Ask:%sx%d Seq:%d",
			v.Symbol, v.BidPrice, v.BidQuantity, v.AskPrice, v.AskQuantity, v.Head.Sequence)
	case *wire.TradeUpdate:
		return fmt.Sprintf("TRADE %s ID:%d %d@%s %s Seq:%d",
			v.Symbol, v.TradeID, v.Quantity, v.Price, v.Side, v.Head.Sequence)
	case *wire.DepthUpdate:
		line := fmt.Sprintf("DEPTH %s Bids:%d Asks:%d Seq:%d",
			v.Symbol, v.NumBidLevels, v.NumAskLevels, v.Head.Sequence)
		if v.LevelsTruncated {
			line += " (levels truncated)"
		}
		return line
	default:
		h := m.Header()
		return fmt.Sprintf("%s Seq:%d", h.Type, h.Sequence)
	}
}
