package publish

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync/atomic"

	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	appconfig "mdfeed/config"
	"mdfeed/internal/wire"
	"mdfeed/logger"
)

// Stats counts what the publisher did with generated messages.
type Stats struct {
	Generated  int64 `json:"generated"`
	Sent       int64 `json:"sent"`
	Dropped    int64 `json:"dropped"`
	Duplicated int64 `json:"duplicated"`
}

// Publisher paces generated datagrams onto a writer, optionally dropping or
// duplicating some of them so that receivers see gaps.
type Publisher struct {
	out       io.Writer
	closer    io.Closer
	gen       *Generator
	limiter   *rate.Limiter
	dropRate  float64
	dupRate   float64
	rng       *rand.Rand
	generated atomic.Int64
	sent      atomic.Int64
	dropped   atomic.Int64
	duped     atomic.Int64
	log       *logger.Log
}

// Dial connects a UDP socket to the feed group and applies the multicast TTL.
func Dial(feed appconfig.FeedConfig, pub appconfig.PublisherConfig, seed int64) (*Publisher, error) {
	conn, err := net.Dial("udp4", feed.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", feed.Addr(), err)
	}
	udp := conn.(*net.UDPConn)
	pc := ipv4.NewPacketConn(udp)
	ttl := pub.TTL
	if ttl <= 0 {
		ttl = 1
	}
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast ttl: %w", err)
	}
	if feed.Interface != "" {
		ifi, err := net.InterfaceByName(feed.Interface)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("interface %s: %w", feed.Interface, err)
		}
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set multicast interface: %w", err)
		}
	}
	p := New(udp, pub, seed)
	p.closer = udp
	return p, nil
}

// New builds a publisher writing datagrams to out.
func New(out io.Writer, pub appconfig.PublisherConfig, seed int64) *Publisher {
	limit := rate.Inf
	if pub.Rate > 0 {
		limit = rate.Limit(pub.Rate)
	}
	burst := pub.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Publisher{
		out:      out,
		gen:      NewGenerator(pub.Symbols, seed),
		limiter:  rate.NewLimiter(limit, burst),
		dropRate: pub.DropRate,
		dupRate:  pub.DuplicateRate,
		rng:      rand.New(rand.NewSource(seed + 1)),
		log:      logger.GetLogger(),
	}
}

// Run publishes until ctx is cancelled or count messages have been generated.
// count <= 0 means no limit.
func (p *Publisher) Run(ctx context.Context, count int64) error {
	log := p.log.WithComponent("publisher")
	log.WithFields(logger.Fields{"count": count, "drop_rate": p.dropRate, "duplicate_rate": p.dupRate}).Info("publisher started")
	defer func() {
		log.WithFields(logger.Fields{"stats": p.Stats()}).Info("publisher stopped")
	}()

	for count <= 0 || p.generated.Load() < count {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := p.publishOne(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishOne() error {
	msg := p.gen.Next()
	p.generated.Add(1)

	buf, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode sequence %d: %w", msg.Header().Sequence, err)
	}
	if p.dropRate > 0 && p.rng.Float64() < p.dropRate {
		p.dropped.Add(1)
		p.log.WithComponent("publisher").WithFields(logger.Fields{"sequence": msg.Header().Sequence}).Debug("dropped datagram")
		return nil
	}
	if err := p.write(buf); err != nil {
		return err
	}
	if p.dupRate > 0 && p.rng.Float64() < p.dupRate {
		p.duped.Add(1)
		return p.write(buf)
	}
	return nil
}

func (p *Publisher) write(buf []byte) error {
	if _, err := p.out.Write(buf); err != nil {
		return fmt.Errorf("write datagram: %w", err)
	}
	p.sent.Add(1)
	logger.RecordFlow("udp_publish", len(buf))
	return nil
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Generated:  p.generated.Load(),
		Sent:       p.sent.Load(),
		Dropped:    p.dropped.Load(),
		Duplicated: p.duped.Load(),
	}
}

func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
