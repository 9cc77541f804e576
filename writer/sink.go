package writer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	appconfig "mdfeed/config"
	"mdfeed/internal/channel"
	"mdfeed/logger"
)

// Sink consumes decoded records. All methods are called from the dispatcher
// goroutine only.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec channel.Record) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Dispatcher fans decoded records out to every sink and flushes them on a
// fixed interval. It drains the decoded channel until it is closed, then
// flushes and closes every sink.
type Dispatcher struct {
	decoded       <-chan channel.Record
	sinks         []Sink
	flushInterval time.Duration
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
	log           *logger.Log
}

func NewDispatcher(decoded <-chan channel.Record, flushInterval time.Duration, sinks ...Sink) *Dispatcher {
	if flushInterval <= 0 {
		flushInterval = time.Minute
	}
	return &Dispatcher{
		decoded:       decoded,
		sinks:         sinks,
		flushInterval: flushInterval,
		log:           logger.GetLogger(),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true

	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	d.log.WithComponent("dispatcher").WithFields(logger.Fields{"sinks": names}).Info("starting sinks")

	d.wg.Add(1)
	go d.run(context.WithoutCancel(ctx))
	return nil
}

// Wait blocks until every sink has been closed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// run uses a context detached from shutdown so that records drained after
// cancellation can still reach remote sinks.
func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	log := d.log.WithComponent("dispatcher")

	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	var records int64
	for {
		select {
		case rec, ok := <-d.decoded:
			if !ok {
				d.closeAll(ctx)
				log.WithFields(logger.Fields{"records": records}).Info("sinks closed")
				return
			}
			records++
			for _, s := range d.sinks {
				if err := s.Write(ctx, rec); err != nil {
					log.WithError(err).WithFields(logger.Fields{"sink": s.Name()}).Warn("sink write failed")
				}
			}
		case <-ticker.C:
			for _, s := range d.sinks {
				if err := s.Flush(ctx); err != nil {
					log.WithError(err).WithFields(logger.Fields{"sink": s.Name()}).Warn("sink flush failed")
				}
			}
		}
	}
}

func (d *Dispatcher) closeAll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, s := range d.sinks {
		if err := s.Close(ctx); err != nil {
			d.log.WithComponent("dispatcher").WithError(err).WithFields(logger.Fields{"sink": s.Name()}).Error("sink close failed")
		}
	}
}

// BuildSinks creates every sink enabled in cfg. out receives console lines.
func BuildSinks(ctx context.Context, cfg *appconfig.Config, out io.Writer) ([]Sink, error) {
	var sinks []Sink
	if cfg.Writer.Console.Enabled {
		sinks = append(sinks, NewConsoleSink(out))
	}
	if cfg.Writer.Parquet.Enabled {
		p, err := NewParquetSink(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("parquet sink: %w", err)
		}
		sinks = append(sinks, p)
	}
	if cfg.Storage.Kafka.Enabled {
		k, err := NewKafkaSink(cfg.Storage.Kafka, cfg.Writer.Batch.Size)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		sinks = append(sinks, k)
	}
	return sinks, nil
}
