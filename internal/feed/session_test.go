package feed

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"

	"mdfeed/internal/wire"
	"mdfeed/logger"
)

func bbo(t *testing.T, seq uint64) []byte {
	t.Helper()
	buf, err := wire.Encode(&wire.BBOUpdate{
		Head:     wire.Header{Sequence: seq, Timestamp: 1},
		Symbol:   wire.NewSymbol("AAPL"),
		BidPrice: 1500000, BidQuantity: 100,
		AskPrice: 1500500, AskQuantity: 200,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf
}

func TestSessionCountsGaps(t *testing.T) {
	s := NewSession(logger.GetLogger())
	for _, seq := range []uint64{1, 2, 3, 5, 6} {
		s.Process(bbo(t, seq))
	}

	st := s.Stats().Snapshot()
	if st.MessagesReceived != 5 || st.GapsDetected != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if s.ExpectedSequence() != 7 {
		t.Fatalf("expected next sequence 7, got %d", s.ExpectedSequence())
	}
}

func TestSessionUnknownTypeFeedsMonitor(t *testing.T) {
	s := NewSession(nil)
	s.Process(bbo(t, 1))
	out := s.Process(wire.EncodeHeader(wire.Header{Type: 250, Sequence: 2}, nil))
	if out.Err == nil || !out.HasHeader || out.GapFound {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	out = s.Process(bbo(t, 3))
	if out.GapFound {
		t.Fatalf("unknown type must advance the expected sequence")
	}
	if st := s.Stats().Snapshot(); st.UnknownType != 1 || st.MessagesReceived != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestSessionTruncatedPayloadFeedsMonitor(t *testing.T) {
	s := NewSession(nil)
	s.Process(bbo(t, 1))
	out := s.Process(bbo(t, 2)[:40])
	if !out.HasHeader || out.Message != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out := s.Process(bbo(t, 3)); out.GapFound {
		t.Fatalf("truncated payload must still advance the sequence")
	}
}

func TestSessionTruncatedHeaderSkipsMonitor(t *testing.T) {
	s := NewSession(nil)
	s.Process(bbo(t, 1))
	out := s.Process(make([]byte, 10))
	if out.HasHeader {
		t.Fatalf("short datagram must not yield a header")
	}
	if out := s.Process(bbo(t, 2)); out.GapFound {
		t.Fatalf("short datagram must not touch the monitor")
	}
	st := s.Stats().Snapshot()
	if st.MessagesReceived != 2 || st.TruncatedHeader != 1 || st.Datagrams != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestSessionPublishesEvents(t *testing.T) {
	s := NewSession(nil)
	var events []Event
	unsubscribe := s.Subscribe(func(ev Event) { events = append(events, ev) })

	s.Process(bbo(t, 1))
	s.Process(bbo(t, 4))
	s.Process(make([]byte, 3))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	gap := events[0]
	if gap.Kind != EventGap || gap.Gap == nil || gap.Gap.Expected != 2 || gap.Gap.Received != 4 || gap.Direction != "forward" {
		t.Fatalf("unexpected gap event: %+v", gap)
	}
	if events[1].Kind != EventDecodeError || events[1].ErrorKind != "truncated_header" {
		t.Fatalf("unexpected decode event: %+v", events[1])
	}

	unsubscribe()
	s.Process(bbo(t, 9))
	if len(events) != 2 {
		t.Fatalf("handler called after unsubscribe")
	}
}

func TestSessionInvalidSymbolStillDecoded(t *testing.T) {
	s := NewSession(nil)
	buf, _ := wire.Encode(&wire.TradeUpdate{
		Head:   wire.Header{Sequence: 1},
		Symbol: wire.Symbol{Raw: [8]byte{'A', 0x01}},
		Side:   wire.SideBuy,
	})
	out := s.Process(buf)
	if out.Message == nil || wire.Kind(out.Err) != "invalid_symbol" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestSessionDecodeErrorsVisibleAtInfo(t *testing.T) {
	log := logger.Logger()
	log.SetLevel(logrus.InfoLevel)
	var out bytes.Buffer
	log.SetOutput(&out)
	s := NewSession(log)

	s.Process(wire.EncodeHeader(wire.Header{Type: 999, Sequence: 1}, nil))
	trade, err := wire.Encode(&wire.TradeUpdate{
		Head:     wire.Header{Sequence: 2, Timestamp: 1},
		TradeID:  7,
		Symbol:   wire.NewSymbol("MSFT"),
		Quantity: 10,
		Price:    3000000,
		Side:     wire.SideBuy,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s.Process(trade[:40])

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	var decodeErrors []map[string]interface{}
	for _, line := range lines {
		var fields map[string]interface{}
		if err := json.Unmarshal(line, &fields); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		if fields["message"] == "decode error" {
			decodeErrors = append(decodeErrors, fields)
		}
	}
	if len(decodeErrors) != 2 {
		t.Fatalf("expected 2 decode error lines at info, got %d: %s", len(decodeErrors), out.String())
	}
	if decodeErrors[0]["level"] != "warning" || decodeErrors[1]["sequence"] != float64(2) {
		t.Fatalf("unexpected fields: %v", decodeErrors)
	}
}
