package feed

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"mdfeed/config"
	"mdfeed/internal/channel"
)

func loopbackReceiver(t *testing.T, rawBuffer int) (*Receiver, *channel.Channels, net.Addr) {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp loopback unavailable: %v", err)
	}
	ch := channel.NewChannels(rawBuffer, 64)
	cfg := config.FeedConfig{MaxDatagramBytes: 2048, ReadTimeout: 20 * time.Millisecond}
	return NewReceiverFromConn(cfg, ch, conn), ch, conn.LocalAddr()
}

func send(t *testing.T, addr net.Addr, payloads ...[]byte) {
	t.Helper()
	out, err := net.Dial("udp4", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer out.Close()
	for _, p := range payloads {
		if _, err := out.Write(p); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestReceiverForwardsDatagrams(t *testing.T) {
	r, ch, addr := loopbackReceiver(t, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	send(t, addr, bbo(t, 1), bbo(t, 2))

	for want := uint64(1); want <= 2; want++ {
		select {
		case d := <-ch.Raw:
			if len(d.Data) != 64 || d.ReceivedAt.IsZero() {
				t.Fatalf("unexpected datagram: %d bytes", len(d.Data))
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("datagram %d not received", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("receiver did not stop after cancel")
	}

	if _, ok := <-ch.Raw; ok {
		t.Fatalf("raw channel should be closed after Run returns")
	}
}

func TestReceiverRejectsSecondRun(t *testing.T) {
	r, _, _ := loopbackReceiver(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.Run(ctx)
	time.Sleep(10 * time.Millisecond)
	if err := r.Run(ctx); err == nil {
		t.Fatalf("expected error for concurrent run")
	}
}

func TestListenReusableSharesPort(t *testing.T) {
	first, err := listenReusable(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp loopback unavailable: %v", err)
	}
	defer first.Close()

	udp, ok := first.(*net.UDPConn)
	if !ok {
		t.Fatalf("unexpected conn type %T", first)
	}
	raw, err := udp.SyscallConn()
	if err != nil {
		t.Fatalf("syscall conn: %v", err)
	}
	var opt int
	var optErr error
	if err := raw.Control(func(fd uintptr) {
		opt, optErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR)
	}); err != nil || optErr != nil {
		t.Fatalf("getsockopt: %v %v", err, optErr)
	}
	if opt == 0 {
		t.Fatalf("SO_REUSEADDR not set")
	}

	second, err := listenReusable(context.Background(), first.LocalAddr().String())
	if err != nil {
		t.Fatalf("second listener on %s: %v", first.LocalAddr(), err)
	}
	second.Close()
}

// Datagrams read before cancellation reach the raw channel.
func TestReceiverKeepsDatagramsReadBeforeStop(t *testing.T) {
	r, ch, addr := loopbackReceiver(t, 64)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	const n = 20
	payloads := make([][]byte, n)
	for i := range payloads {
		payloads[i] = bbo(t, uint64(i+1))
	}
	send(t, addr, payloads...)

	deadline := time.Now().Add(2 * time.Second)
	for len(ch.Raw) < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}

	got := 0
	for range ch.Raw {
		got++
	}
	stats := ch.GetStats()
	if got != int(stats.RawSent) || stats.RawDropped != 0 {
		t.Fatalf("received %d, stats %+v", got, stats)
	}
	if got != n {
		t.Fatalf("expected %d datagrams, got %d", n, got)
	}
}
