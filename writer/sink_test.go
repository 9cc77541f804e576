package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mdfeed/internal/channel"
	"mdfeed/internal/wire"
)

type recordingSink struct {
	mu       sync.Mutex
	records  []channel.Record
	flushes  int
	closed   bool
	writeErr error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Write(_ context.Context, rec channel.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.writeErr
}

func (r *recordingSink) Flush(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

func (r *recordingSink) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func bboRecord(symbol string, seq uint64) channel.Record {
	return channel.Record{
		Message: &wire.BBOUpdate{
			Head:        wire.Header{Type: wire.TypeBBOUpdate, PayloadLength: wire.BBOSize - wire.HeaderSize, Sequence: seq},
			Symbol:      wire.NewSymbol(symbol),
			BidPrice:    1500000,
			BidQuantity: 100,
			AskPrice:    1500500,
			AskQuantity: 200,
		},
		ReceivedAt: time.Unix(1700000000, 0),
	}
}

func TestDispatcherDeliversAndCloses(t *testing.T) {
	decoded := make(chan channel.Record, 4)
	a := &recordingSink{}
	b := &recordingSink{writeErr: errors.New("boom")}
	d := NewDispatcher(decoded, time.Hour, a, b)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatalf("expected error on second start")
	}

	for i := uint64(1); i <= 3; i++ {
		decoded <- bboRecord("AAPL", i)
	}
	close(decoded)
	d.Wait()

	for _, s := range []*recordingSink{a, b} {
		if len(s.records) != 3 {
			t.Fatalf("expected 3 records, got %d", len(s.records))
		}
		if !s.closed {
			t.Fatalf("sink not closed")
		}
	}
	if a.records[2].Message.Header().Sequence != 3 {
		t.Fatalf("records out of order")
	}
}

func TestDispatcherFlushesOnInterval(t *testing.T) {
	decoded := make(chan channel.Record)
	s := &recordingSink{}
	d := NewDispatcher(decoded, 10*time.Millisecond, s)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		n := s.flushes
		s.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no periodic flush")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(decoded)
	d.Wait()
}

func TestDispatcherIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	decoded := make(chan channel.Record, 2)
	s := &recordingSink{}
	d := NewDispatcher(decoded, time.Hour, s)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	decoded <- bboRecord("MSFT", 1)
	decoded <- bboRecord("MSFT", 2)
	close(decoded)
	d.Wait()

	if len(s.records) != 2 {
		t.Fatalf("records after cancel were lost: %d", len(s.records))
	}
}
