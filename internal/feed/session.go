// Package feed wires the decoder, the sequence monitor and the statistics
// aggregator into a receive session.
package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"mdfeed/internal/metrics"
	"mdfeed/internal/sequence"
	"mdfeed/internal/stats"
	"mdfeed/internal/wire"
	"mdfeed/logger"
)

// Outcome is the result of processing one datagram.
type Outcome struct {
	Message   wire.Message
	Err       error
	Header    wire.Header
	HasHeader bool
	Gap       sequence.GapReport
	GapFound  bool
	Size      int
}

// EventKind classifies integrity events pushed to subscribers.
type EventKind string

const (
	EventGap         EventKind = "gap"
	EventDecodeError EventKind = "decode_error"
)

// Event is an integrity event, published once at detection.
type Event struct {
	Kind      EventKind           `json:"kind"`
	Time      time.Time           `json:"time"`
	Sequence  uint64              `json:"sequence,omitempty"`
	Type      string              `json:"type,omitempty"`
	Error     string              `json:"error,omitempty"`
	ErrorKind string              `json:"error_kind,omitempty"`
	Gap       *sequence.GapReport `json:"gap,omitempty"`
	Direction sequence.Direction  `json:"direction,omitempty"`
}

type EventHandler func(Event)

// Session owns one Monitor and one Aggregator. Process must be called from a
// single goroutine; Stats, ExpectedSequence and Subscribe are safe anywhere.
type Session struct {
	monitor  *sequence.Monitor
	stats    *stats.Aggregator
	log      *logger.Log
	expected atomic.Uint64

	subMu  sync.RWMutex
	subs   map[int]EventHandler
	nextID int
}

func NewSession(log *logger.Log) *Session {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Session{
		monitor: sequence.NewMonitor(),
		stats:   stats.NewAggregator(),
		log:     log,
		subs:    make(map[int]EventHandler),
	}
}

// Process decodes buf, feeds the header sequence to the monitor whenever a
// header was read (payload failures included) and records the outcome.
func (s *Session) Process(buf []byte) Outcome {
	msg, err := wire.Decode(buf)
	out := Outcome{Message: msg, Err: err, Size: len(buf)}

	if msg != nil {
		out.Header, out.HasHeader = msg.Header(), true
	} else {
		out.Header, out.HasHeader = wire.HeaderOf(err)
	}

	metrics.ObserveDatagram(len(buf))

	if out.HasHeader {
		metrics.ObserveMessage(out.Header.Type.String())
		out.Gap, out.GapFound = s.monitor.Observe(out.Header.Sequence)
		next := s.monitor.State().ExpectedSequence
		s.expected.Store(next)
		metrics.SetExpectedSequence(next)
	}

	s.stats.Record(msg, err, len(buf))

	if err != nil {
		s.onDecodeError(out)
	}
	if out.GapFound {
		s.onGap(out)
	}
	return out
}

func (s *Session) onDecodeError(out Outcome) {
	kind := wire.Kind(out.Err)
	metrics.ObserveDecodeError(kind)

	fields := logger.Fields{"kind": kind, "size": out.Size}
	ev := Event{Kind: EventDecodeError, Time: time.Now(), Error: out.Err.Error(), ErrorKind: kind}
	if out.HasHeader {
		fields["sequence"] = out.Header.Sequence
		fields["type"] = out.Header.Type.String()
		ev.Sequence = out.Header.Sequence
		ev.Type = out.Header.Type.String()
	}
	s.log.WithComponent("feed").WithFields(fields).WithError(out.Err).Warn("decode error")
	s.publish(ev)
}

func (s *Session) onGap(out Outcome) {
	gap := out.Gap
	s.stats.RecordGap(gap)
	metrics.ObserveGap(string(gap.Direction()), gap.Missing())

	s.log.WithComponent("feed").WithFields(logger.Fields{
		"expected":  gap.Expected,
		"received":  gap.Received,
		"direction": gap.Direction(),
		"missing":   gap.Missing(),
		"type":      out.Header.Type.String(),
	}).Warn("sequence gap")

	s.publish(Event{
		Kind:      EventGap,
		Time:      time.Now(),
		Sequence:  gap.Received,
		Type:      out.Header.Type.String(),
		Gap:       &gap,
		Direction: gap.Direction(),
	})
}

// Subscribe registers h for integrity events. Handlers run on the consumer
// goroutine and must not block. The returned func removes the handler.
func (s *Session) Subscribe(h EventHandler) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[id] = h
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) publish(ev Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, h := range s.subs {
		h(ev)
	}
}

// Stats returns the session aggregator.
func (s *Session) Stats() *stats.Aggregator {
	return s.stats
}

// ExpectedSequence is the next sequence the monitor expects, or zero before
// the first header.
func (s *Session) ExpectedSequence() uint64 {
	return s.expected.Load()
}

// Report logs the final statistics. Call after the last Process.
func (s *Session) Report() {
	st := s.monitor.State()
	s.log.WithComponent("sequence").WithFields(logger.Fields{
		"expected_sequence": st.ExpectedSequence,
		"messages_received": st.MessagesReceived,
		"gaps_detected":     st.GapsDetected,
		"forward_gaps":      st.ForwardGaps,
		"backward_gaps":     st.BackwardGaps,
		"missing_estimate":  st.MissingEstimate,
	}).Info("sequence state")
	s.stats.Report(s.log)
}
