package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"mdfeed/config"
	"mdfeed/internal/channel"
	"mdfeed/internal/metrics"
	"mdfeed/logger"
)

// Receiver reads datagrams from a UDP socket and forwards copies to the raw
// channel in arrival order.
type Receiver struct {
	cfg      config.FeedConfig
	channels *channel.Channels
	log      *logger.Log

	mu      sync.Mutex
	conn    net.PacketConn
	pconn   *ipv4.PacketConn
	group   *net.UDPAddr
	ifi     *net.Interface
	running bool
}

func NewReceiver(cfg config.FeedConfig, channels *channel.Channels) *Receiver {
	return &Receiver{cfg: cfg, channels: channels, log: logger.GetLogger()}
}

// NewReceiverFromConn reads from an already bound socket and skips the
// multicast join.
func NewReceiverFromConn(cfg config.FeedConfig, channels *channel.Channels, conn net.PacketConn) *Receiver {
	r := NewReceiver(cfg, channels)
	r.conn = conn
	return r
}

// Listen binds the feed port and joins the multicast group.
func (r *Receiver) Listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}

	log := r.log.WithComponent("receiver").WithFields(logger.Fields{
		"group": r.cfg.Group,
		"port":  r.cfg.Port,
	})

	conn, err := listenReusable(context.Background(), net.JoinHostPort("0.0.0.0", strconv.Itoa(r.cfg.Port)))
	if err != nil {
		return fmt.Errorf("feed: listen on port %d: %w", r.cfg.Port, err)
	}

	if r.cfg.Interface != "" {
		ifi, err := net.InterfaceByName(r.cfg.Interface)
		if err != nil {
			conn.Close()
			return fmt.Errorf("feed: interface %q: %w", r.cfg.Interface, err)
		}
		r.ifi = ifi
	}

	r.group = &net.UDPAddr{IP: net.ParseIP(r.cfg.Group)}
	r.pconn = ipv4.NewPacketConn(conn)
	if err := r.pconn.JoinGroup(r.ifi, r.group); err != nil {
		conn.Close()
		return fmt.Errorf("feed: join group %s: %w", r.cfg.Group, err)
	}

	if udp, ok := conn.(*net.UDPConn); ok && r.cfg.ReadBufferBytes > 0 {
		if err := udp.SetReadBuffer(r.cfg.ReadBufferBytes); err != nil {
			log.WithError(err).Warn("failed to set socket read buffer")
		}
	}

	r.conn = conn
	log.Info("joined multicast group")
	return nil
}

// listenReusable binds with SO_REUSEADDR so several listeners on one host can
// share the feed port.
func listenReusable(ctx context.Context, addr string) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	return lc.ListenPacket(ctx, "udp4", addr)
}

func reuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	if sockErr != nil {
		return fmt.Errorf("feed: set SO_REUSEADDR: %w", sockErr)
	}
	return nil
}

// LocalAddr is nil before Listen.
func (r *Receiver) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Run reads until ctx is cancelled or the socket fails permanently. The raw
// channel is closed on return so the consumer can drain it.
func (r *Receiver) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("feed: receiver already running")
	}
	r.running = true
	r.mu.Unlock()

	defer r.channels.CloseRaw()

	if err := r.Listen(); err != nil {
		return err
	}
	defer r.close()

	log := r.log.WithComponent("receiver")
	timeout := r.cfg.ReadTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	size := r.cfg.MaxDatagramBytes
	if size <= 0 {
		size = 65535
	}
	buf := make([]byte, size)

	log.WithFields(logger.Fields{"addr": r.conn.LocalAddr().String()}).Info("receiver started")

	for {
		if ctx.Err() != nil {
			log.Info("receiver stopped")
			return nil
		}
		if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("feed: set read deadline: %w", err)
		}

		n, src, err := r.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				log.Info("receiver stopped")
				return nil
			}
			log.WithError(err).Error("receive failed")
			return fmt.Errorf("feed: read datagram: %w", err)
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		logger.RecordFlow("udp_read", n)

		d := channel.Datagram{Data: data, Source: src, ReceivedAt: time.Now()}
		if !r.channels.SendRaw(d) {
			metrics.EmitDropMetric(r.log, metrics.DropMetricRaw, "", "receiver")
		}
	}
}

func (r *Receiver) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pconn != nil && r.group != nil {
		if err := r.pconn.LeaveGroup(r.ifi, r.group); err != nil {
			r.log.WithComponent("receiver").WithError(err).Debug("leave group failed")
		}
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
