package channel

import (
	"testing"
	"time"

	"mdfeed/internal/wire"
)

func TestSendRawDropsWhenFull(t *testing.T) {
	ch := NewChannels(1, 1)

	if !ch.SendRaw(Datagram{Data: []byte{1}}) {
		t.Fatalf("first send should succeed")
	}
	if ch.SendRaw(Datagram{Data: []byte{2}}) {
		t.Fatalf("second send should be dropped")
	}

	stats := ch.GetStats()
	if stats.RawSent != 1 || stats.RawDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSendDecodedDropsWhenFull(t *testing.T) {
	ch := NewChannels(1, 1)
	rec := Record{Message: &wire.TradeUpdate{}, ReceivedAt: time.Now()}

	ch.SendDecoded(rec)
	ch.SendDecoded(rec)

	stats := ch.GetStats()
	if stats.DecodedSent != 1 || stats.DecodedDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRawPreservesOrderAcrossClose(t *testing.T) {
	ch := NewChannels(8, 1)
	for i := byte(0); i < 5; i++ {
		ch.SendRaw(Datagram{Data: []byte{i}})
	}
	ch.CloseRaw()

	var got []byte
	for d := range ch.Raw {
		got = append(got, d.Data[0])
	}
	if string(got) != string([]byte{0, 1, 2, 3, 4}) {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ch := NewChannels(1, 1)
	ch.CloseRaw()
	ch.Close()
	ch.Close()
}

// Every datagram handed over during shutdown is either queued or counted.
func TestSendRawAccountsEveryDatagram(t *testing.T) {
	const n = 1000
	ch := NewChannels(n, 1)
	for i := 0; i < n; i++ {
		if !ch.SendRaw(Datagram{Data: []byte{byte(i)}}) {
			t.Fatalf("send %d rejected with room in the buffer", i)
		}
	}
	ch.SendRaw(Datagram{})
	ch.CloseRaw()

	got := 0
	for range ch.Raw {
		got++
	}
	stats := ch.GetStats()
	if got != n || stats.RawSent != n || stats.RawDropped != 1 {
		t.Fatalf("received %d, stats %+v", got, stats)
	}
}

func TestSendDecodedAccountsEveryRecord(t *testing.T) {
	const n = 1000
	ch := NewChannels(1, n)
	rec := Record{Message: &wire.TradeUpdate{}, ReceivedAt: time.Now()}
	for i := 0; i < n+10; i++ {
		ch.SendDecoded(rec)
	}
	stats := ch.GetStats()
	if len(ch.Decoded) != n || stats.DecodedSent != n || stats.DecodedDropped != 10 {
		t.Fatalf("buffered %d, stats %+v", len(ch.Decoded), stats)
	}
}
