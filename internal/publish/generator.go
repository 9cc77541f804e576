package publish

import (
	"math/rand"
	"time"

	"mdfeed/internal/wire"
)

const (
	basePrice = 100 * wire.PriceScale
	tick      = 100 // 0.01
)

// Generator produces a synthetic stream of BBO, trade and depth updates with
// consecutive sequence numbers starting at 1.
type Generator struct {
	rng     *rand.Rand
	symbols []wire.Symbol
	mids    []uint64
	seq     uint64
	tradeID uint64
	now     func() time.Time
}

func NewGenerator(symbols []string, seed int64) *Generator {
	if len(symbols) == 0 {
		symbols = []string{"AAPL"}
	}
	g := &Generator{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
	for i, s := range symbols {
		g.symbols = append(g.symbols, wire.NewSymbol(s))
		g.mids = append(g.mids, uint64(basePrice+i*50*wire.PriceScale))
	}
	return g
}

// Sequence returns the sequence of the last generated message.
func (g *Generator) Sequence() uint64 { return g.seq }

// Next returns the next message. Roughly 60% are BBO updates, 30% trades and
// 10% depth updates.
func (g *Generator) Next() wire.Message {
	g.seq++
	i := g.rng.Intn(len(g.symbols))
	g.walk(i)
	h := wire.Header{Sequence: g.seq, Timestamp: uint64(g.now().UnixNano())}

	switch r := g.rng.Intn(10); {
	case r < 6:
		h.Type = wire.TypeBBOUpdate
		return &wire.BBOUpdate{
			Head:        h,
			Symbol:      g.symbols[i],
			BidPrice:    wire.Price(g.mids[i] - tick),
			BidQuantity: g.quantity(),
			AskPrice:    wire.Price(g.mids[i] + tick),
			AskQuantity: g.quantity(),
		}
	case r < 9:
		h.Type = wire.TypeTradeUpdate
		g.tradeID++
		side := wire.SideBuy
		price := g.mids[i] + tick
		if g.rng.Intn(2) == 0 {
			side = wire.SideSell
			price = g.mids[i] - tick
		}
		return &wire.TradeUpdate{
			Head:     h,
			TradeID:  g.tradeID,
			Symbol:   g.symbols[i],
			Quantity: g.quantity(),
			Price:    wire.Price(price),
			Side:     side,
		}
	default:
		h.Type = wire.TypeDepthUpdate
		d := &wire.DepthUpdate{Head: h, Symbol: g.symbols[i]}
		levels := 1 + g.rng.Intn(5)
		for l := 1; l <= levels; l++ {
			d.Bids = append(d.Bids, wire.DepthLevel{
				Price:      wire.Price(g.mids[i] - uint64(l)*tick),
				Quantity:   g.quantity(),
				OrderCount: uint32(1 + g.rng.Intn(20)),
			})
			d.Asks = append(d.Asks, wire.DepthLevel{
				Price:      wire.Price(g.mids[i] + uint64(l)*tick),
				Quantity:   g.quantity(),
				OrderCount: uint32(1 + g.rng.Intn(20)),
			})
		}
		d.NumBidLevels = uint8(len(d.Bids))
		d.NumAskLevels = uint8(len(d.Asks))
		return d
	}
}

// walk moves the mid price by at most one tick, never below ten ticks.
func (g *Generator) walk(i int) {
	switch g.rng.Intn(3) {
	case 0:
		if g.mids[i] > 10*tick {
			g.mids[i] -= tick
		}
	case 1:
		g.mids[i] += tick
	}
}

func (g *Generator) quantity() uint64 {
	return uint64(1+g.rng.Intn(50)) * 100
}
