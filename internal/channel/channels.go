package channel

import (
	"context"
	"net"
	"sync"
	"time"

	"mdfeed/internal/wire"
	"mdfeed/logger"
)

// Datagram is one UDP payload as read off the socket. Data is owned by the
// datagram; the receiver never reuses it.
type Datagram struct {
	Data       []byte
	Source     net.Addr
	ReceivedAt time.Time
}

// Record is a decoded message handed to the sinks.
type Record struct {
	Message    wire.Message
	ReceivedAt time.Time
}

type ChannelStats struct {
	RawSent        int64 `json:"raw_sent"`
	DecodedSent    int64 `json:"decoded_sent"`
	RawDropped     int64 `json:"raw_dropped"`
	DecodedDropped int64 `json:"decoded_dropped"`
}

// Channels connects the receiver to the consumer (Raw) and the consumer to the
// sinks (Decoded). Both are FIFO; sends never block the caller.
type Channels struct {
	Raw     chan Datagram
	Decoded chan Record

	stats      ChannelStats
	statsMutex sync.RWMutex
	rawOnce    sync.Once
	decOnce    sync.Once
	log        *logger.Log
}

func NewChannels(rawBufferSize, decodedBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:     make(chan Datagram, rawBufferSize),
		Decoded: make(chan Record, decodedBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer_size":     rawBufferSize,
		"decoded_buffer_size": decodedBufferSize,
	}).Info("channels initialized")

	return c
}

// CloseRaw is called by the receiver once it has stopped reading.
func (c *Channels) CloseRaw() {
	c.rawOnce.Do(func() {
		close(c.Raw)
		c.log.WithComponent("channels").Debug("raw channel closed")
	})
}

// CloseDecoded is called by the consumer once the raw channel is drained.
func (c *Channels) CloseDecoded() {
	c.decOnce.Do(func() {
		close(c.Decoded)
		c.log.WithComponent("channels").Debug("decoded channel closed")
	})
}

func (c *Channels) Close() {
	c.CloseRaw()
	c.CloseDecoded()
}

// SendRaw enqueues d and reports whether it was accepted. It never blocks and
// ignores cancellation: a datagram already read is either queued for the
// consumer or counted as dropped. A full buffer drops the datagram; the loss
// then shows up as a sequence gap downstream.
func (c *Channels) SendRaw(d Datagram) bool {
	select {
	case c.Raw <- d:
		c.bump(&c.stats.RawSent)
		return true
	default:
		c.bump(&c.stats.RawDropped)
		return false
	}
}

// SendDecoded enqueues r for the sinks, dropping and counting it when they
// fall behind.
func (c *Channels) SendDecoded(r Record) bool {
	select {
	case c.Decoded <- r:
		c.bump(&c.stats.DecodedSent)
		return true
	default:
		c.bump(&c.stats.DecodedDropped)
		return false
	}
}

func (c *Channels) bump(counter *int64) {
	c.statsMutex.Lock()
	*counter++
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartStatsReporting logs the send/drop counters every interval.
func (c *Channels) StartStatsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	stats := c.GetStats()
	entry := c.log.WithComponent("channels").WithFields(logger.Fields{
		"raw_sent":            stats.RawSent,
		"raw_dropped":         stats.RawDropped,
		"decoded_sent":        stats.DecodedSent,
		"decoded_dropped":     stats.DecodedDropped,
		"raw_channel_len":     len(c.Raw),
		"raw_channel_cap":     cap(c.Raw),
		"decoded_channel_len": len(c.Decoded),
		"decoded_channel_cap": cap(c.Decoded),
	})
	if stats.RawDropped > 0 || stats.DecodedDropped > 0 {
		entry.Warn("channel statistics")
		return
	}
	entry.Info("channel statistics")
}
