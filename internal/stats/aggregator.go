package stats

import (
	"sync"
	"time"

	"mdfeed/internal/sequence"
	"mdfeed/internal/wire"
	"mdfeed/logger"
)

// Stats is a point-in-time copy of the session counters.
type Stats struct {
	StartedAt        time.Time         `json:"started_at"`
	Datagrams        uint64            `json:"datagrams"`
	Bytes            uint64            `json:"bytes"`
	MessagesReceived uint64            `json:"messages_received"`
	Decoded          uint64            `json:"decoded"`
	PerType          map[string]uint64 `json:"per_type"`
	TruncatedHeader  uint64            `json:"truncated_header"`
	TruncatedPayload uint64            `json:"truncated_payload"`
	UnknownType      uint64            `json:"unknown_type"`
	InvalidSymbol    uint64            `json:"invalid_symbol"`
	GapsDetected     uint64            `json:"gaps_detected"`
	ForwardGaps      uint64            `json:"forward_gaps"`
	BackwardGaps     uint64            `json:"backward_gaps"`
	LastSequence     uint64            `json:"last_sequence"`
}

// Aggregator accumulates additive session counters. Record and RecordGap are
// called by the single consumer; Snapshot may be called from any goroutine.
type Aggregator struct {
	mu    sync.RWMutex
	stats Stats
}

func NewAggregator() *Aggregator {
	return &Aggregator{stats: Stats{
		StartedAt: time.Now(),
		PerType:   make(map[string]uint64),
	}}
}

// Record adds the outcome of decoding one datagram of size bytes.
func (a *Aggregator) Record(msg wire.Message, err error, size int) {
	var (
		h         wire.Header
		hasHeader bool
	)
	if msg != nil {
		h, hasHeader = msg.Header(), true
	} else {
		h, hasHeader = wire.HeaderOf(err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	s := &a.stats
	s.Datagrams++
	s.Bytes += uint64(size)
	if hasHeader {
		s.MessagesReceived++
		s.PerType[h.Type.String()]++
		s.LastSequence = h.Sequence
	}
	if msg != nil {
		s.Decoded++
	}

	switch wire.Kind(err) {
	case "truncated_header":
		s.TruncatedHeader++
	case "truncated_payload":
		s.TruncatedPayload++
	case "unknown_type":
		s.UnknownType++
	case "invalid_symbol":
		s.InvalidSymbol++
	}
}

// RecordGap adds one sequence discontinuity.
func (a *Aggregator) RecordGap(r sequence.GapReport) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.GapsDetected++
	if r.Direction() == sequence.Forward {
		a.stats.ForwardGaps++
	} else {
		a.stats.BackwardGaps++
	}
}

// Snapshot returns a deep copy of the counters.
func (a *Aggregator) Snapshot() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := a.stats
	out.PerType = make(map[string]uint64, len(a.stats.PerType))
	for k, v := range a.stats.PerType {
		out.PerType[k] = v
	}
	return out
}

// Report logs the end-of-session statistics.
func (a *Aggregator) Report(log *logger.Log) {
	if log == nil {
		log = logger.GetLogger()
	}
	s := a.Snapshot()

	perType := logger.Fields{}
	for k, v := range s.PerType {
		perType[k] = v
	}

	log.WithComponent("stats").WithFields(logger.Fields{
		"messages_received": s.MessagesReceived,
		"gaps_detected":     s.GapsDetected,
		"forward_gaps":      s.ForwardGaps,
		"backward_gaps":     s.BackwardGaps,
		"datagrams":         s.Datagrams,
		"bytes":             s.Bytes,
		"decoded":           s.Decoded,
		"truncated_header":  s.TruncatedHeader,
		"truncated_payload": s.TruncatedPayload,
		"unknown_type":      s.UnknownType,
		"invalid_symbol":    s.InvalidSymbol,
		"per_type":          perType,
		"duration_s":        time.Since(s.StartedAt).Seconds(),
	}).Info("session statistics")
}
