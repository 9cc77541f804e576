package sequence

import "testing"

func observeAll(m *Monitor, seqs []uint64) []GapReport {
	var reports []GapReport
	for _, s := range seqs {
		if r, ok := m.Observe(s); ok {
			reports = append(reports, r)
		}
	}
	return reports
}

func TestFirstObservationPrimes(t *testing.T) {
	m := NewMonitor()
	if _, ok := m.Observe(1000); ok {
		t.Fatalf("first observation must not report a gap")
	}
	st := m.State()
	if !st.Started || st.ExpectedSequence != 1001 || st.MessagesReceived != 1 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestForwardGap(t *testing.T) {
	m := NewMonitor()
	reports := observeAll(m, []uint64{1, 2, 3, 5, 6})
	if len(reports) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(reports))
	}
	if reports[0] != (GapReport{Expected: 4, Received: 5}) {
		t.Fatalf("unexpected report: %+v", reports[0])
	}
	st := m.State()
	if st.GapsDetected != 1 || st.ForwardGaps != 1 || st.MissingEstimate != 1 || st.ExpectedSequence != 7 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestDuplicateCountsAsGap(t *testing.T) {
	m := NewMonitor()
	var reports []GapReport
	for i, s := range []uint64{1, 2, 2, 3} {
		r, ok := m.Observe(s)
		if ok {
			reports = append(reports, r)
		}
		if i == 2 && m.State().ExpectedSequence != 3 {
			t.Fatalf("expected sequence should resync to 3 after duplicate, got %d", m.State().ExpectedSequence)
		}
	}
	if len(reports) != 1 || reports[0] != (GapReport{Expected: 3, Received: 2}) {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	if reports[0].Direction() != Backward || reports[0].Missing() != 0 {
		t.Fatalf("duplicate should be classified backward: %+v", reports[0])
	}
	st := m.State()
	if st.GapsDetected != 1 || st.BackwardGaps != 1 || st.ExpectedSequence != 4 || st.MessagesReceived != 4 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestReorderCountsTwice(t *testing.T) {
	m := NewMonitor()
	reports := observeAll(m, []uint64{1, 3, 2, 4})
	want := []GapReport{{Expected: 2, Received: 3}, {Expected: 4, Received: 2}, {Expected: 3, Received: 4}}
	if len(reports) != len(want) {
		t.Fatalf("expected %d gaps, got %+v", len(want), reports)
	}
	for i := range want {
		if reports[i] != want[i] {
			t.Errorf("report %d = %+v, want %+v", i, reports[i], want[i])
		}
	}
}

func TestStateIsCopy(t *testing.T) {
	m := NewMonitor()
	m.Observe(1)
	st := m.State()
	st.GapsDetected = 99
	if m.State().GapsDetected != 0 {
		t.Fatalf("State must return a copy")
	}
}
