package stats

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"testing"

	"mdfeed/internal/sequence"
	"mdfeed/internal/wire"
	"mdfeed/logger"
)

func decode(t *testing.T, buf []byte) (wire.Message, error) {
	t.Helper()
	return wire.Decode(buf)
}

func TestRecordCountsOutcomes(t *testing.T) {
	a := NewAggregator()

	bbo, _ := wire.Encode(&wire.BBOUpdate{Head: wire.Header{Sequence: 1}, Symbol: wire.NewSymbol("AAPL")})
	unknown := wire.EncodeHeader(wire.Header{Type: 77, Sequence: 2}, nil)
	shortTrade := wire.EncodeHeader(wire.Header{Type: wire.TypeTradeUpdate, Sequence: 3}, make([]byte, 10))
	badSym, _ := wire.Encode(&wire.BBOUpdate{Head: wire.Header{Sequence: 4}, Symbol: wire.Symbol{Raw: [8]byte{0x80}}})

	for _, buf := range [][]byte{bbo, unknown, shortTrade, badSym, make([]byte, 5)} {
		msg, err := decode(t, buf)
		a.Record(msg, err, len(buf))
	}
	a.RecordGap(sequence.GapReport{Expected: 4, Received: 9})

	s := a.Snapshot()
	if s.Datagrams != 5 || s.MessagesReceived != 4 || s.Decoded != 2 {
		t.Fatalf("unexpected totals: %+v", s)
	}
	if s.TruncatedHeader != 1 || s.TruncatedPayload != 1 || s.UnknownType != 1 || s.InvalidSymbol != 1 {
		t.Fatalf("unexpected error counts: %+v", s)
	}
	if s.PerType["BBO"] != 2 || s.PerType["TRADE"] != 1 || s.PerType["UNKNOWN(77)"] != 1 {
		t.Fatalf("unexpected per type: %v", s.PerType)
	}
	if s.GapsDetected != 1 || s.ForwardGaps != 1 || s.LastSequence != 4 {
		t.Fatalf("unexpected gap counts: %+v", s)
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	a := NewAggregator()
	buf, _ := wire.Encode(&wire.TradeUpdate{Head: wire.Header{Sequence: 1}, Symbol: wire.NewSymbol("IBM")})
	msg, err := wire.Decode(buf)
	a.Record(msg, err, len(buf))

	first := a.Snapshot()
	second := a.Snapshot()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots differ: %+v vs %+v", first, second)
	}

	first.PerType["TRADE"] = 100
	if a.Snapshot().PerType["TRADE"] != 1 {
		t.Fatalf("snapshot must not alias internal map")
	}
}

func TestSnapshotConcurrentWithRecord(t *testing.T) {
	a := NewAggregator()
	buf, _ := wire.Encode(&wire.BBOUpdate{Head: wire.Header{Sequence: 1}, Symbol: wire.NewSymbol("X")})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			msg, err := wire.Decode(buf)
			a.Record(msg, err, len(buf))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = a.Snapshot()
		}
	}()
	wg.Wait()

	if got := a.Snapshot().Datagrams; got != 1000 {
		t.Fatalf("expected 1000 datagrams, got %d", got)
	}
}

func TestReportIncludesTotals(t *testing.T) {
	log := logger.Logger()
	var out bytes.Buffer
	log.SetOutput(&out)

	a := NewAggregator()
	a.RecordGap(sequence.GapReport{Expected: 2, Received: 1})
	a.Report(log)

	line := strings.TrimSpace(out.String())
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		t.Fatalf("report is not JSON: %v: %s", err, line)
	}
	if fields["gaps_detected"] != float64(1) || fields["messages_received"] != float64(0) {
		t.Fatalf("unexpected report fields: %v", fields)
	}
}
