// Package sequence tracks continuity of header sequence numbers on a lossy,
// unordered feed.
//
// The monitor applies one uniform policy: any sequence other than the expected
// one counts as a gap and the monitor resynchronizes to received+1. Loss,
// reordering and duplication are not told apart in the count; GapReport only
// classifies the direction for display.
package sequence

import "fmt"

// GapReport describes one discontinuity.
type GapReport struct {
	Expected uint64 `json:"expected"`
	Received uint64 `json:"received"`
}

// Direction is the sign of a discontinuity.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// Direction reports whether the feed jumped ahead (possible loss) or went back
// (duplicate or late arrival).
func (g GapReport) Direction() Direction {
	if g.Received > g.Expected {
		return Forward
	}
	return Backward
}

// Missing is the number of sequence numbers skipped by a forward gap, and zero
// for a backward one.
func (g GapReport) Missing() uint64 {
	if g.Received > g.Expected {
		return g.Received - g.Expected
	}
	return 0
}

func (g GapReport) String() string {
	return fmt.Sprintf("expected %d, got %d", g.Expected, g.Received)
}

// State is a copy of the monitor counters.
type State struct {
	Started          bool   `json:"started"`
	ExpectedSequence uint64 `json:"expected_sequence"`
	MessagesReceived uint64 `json:"messages_received"`
	GapsDetected     uint64 `json:"gaps_detected"`
	ForwardGaps      uint64 `json:"forward_gaps"`
	BackwardGaps     uint64 `json:"backward_gaps"`
	MissingEstimate  uint64 `json:"missing_estimate"`
}

// Monitor is owned by a single goroutine; it is not safe for concurrent use.
type Monitor struct {
	state State
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// Observe records one header sequence number in arrival order. It returns a
// report and true when seq differs from the expected sequence.
func (m *Monitor) Observe(seq uint64) (GapReport, bool) {
	s := &m.state
	s.MessagesReceived++

	if !s.Started {
		s.Started = true
		s.ExpectedSequence = seq + 1
		return GapReport{}, false
	}

	if seq == s.ExpectedSequence {
		s.ExpectedSequence = seq + 1
		return GapReport{}, false
	}

	report := GapReport{Expected: s.ExpectedSequence, Received: seq}
	s.GapsDetected++
	if report.Direction() == Forward {
		s.ForwardGaps++
		s.MissingEstimate += report.Missing()
	} else {
		s.BackwardGaps++
	}
	s.ExpectedSequence = seq + 1
	return report, true
}

// State returns a copy of the current counters.
func (m *Monitor) State() State {
	return m.state
}
