package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "mdfeed/config"
	"mdfeed/internal/channel"
	"mdfeed/internal/metrics"
	"mdfeed/internal/wire"
	"mdfeed/logger"
)

// KafkaWriter is the subset of *kafka.Writer used by the sink.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaEnvelope is the JSON value of every published record.
type kafkaEnvelope struct {
	Type       string       `json:"type"`
	Symbol     string       `json:"symbol"`
	Sequence   uint64       `json:"sequence"`
	ReceivedAt time.Time    `json:"received_at"`
	Message    wire.Message `json:"message"`
}

// KafkaSink publishes records as JSON keyed by symbol, in batches.
type KafkaSink struct {
	writer    KafkaWriter
	topic     string
	batchSize int

	mu      sync.Mutex
	pending []kafka.Message
	stats   metrics.WriterStats
	log     *logger.Log
}

func NewKafkaSink(cfg appconfig.KafkaConfig, batchSize int) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	sink := newKafkaSink(w, cfg.Topic, batchSize)
	sink.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka writer initialized")
	return sink, nil
}

func newKafkaSink(w KafkaWriter, topic string, batchSize int) *KafkaSink {
	if batchSize <= 0 || batchSize > 1000 {
		batchSize = 1000
	}
	return &KafkaSink{
		writer:    w,
		topic:     topic,
		batchSize: batchSize,
		log:       logger.GetLogger(),
	}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Write(ctx context.Context, rec channel.Record) error {
	h := rec.Message.Header()
	symbol := wire.SymbolOf(rec.Message).String()
	data, err := json.Marshal(kafkaEnvelope{
		Type:       h.Type.String(),
		Symbol:     symbol,
		Sequence:   h.Sequence,
		ReceivedAt: rec.ReceivedAt,
		Message:    rec.Message,
	})
	if err != nil {
		k.mu.Lock()
		k.stats.ErrorsCount++
		k.mu.Unlock()
		return fmt.Errorf("marshal record: %w", err)
	}

	k.mu.Lock()
	k.pending = append(k.pending, kafka.Message{Key: []byte(symbol), Value: data})
	full := len(k.pending) >= k.batchSize
	k.mu.Unlock()

	if full {
		return k.Flush(ctx)
	}
	return nil
}

func (k *KafkaSink) Flush(ctx context.Context) error {
	k.mu.Lock()
	batch := k.pending
	k.pending = nil
	k.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	log := k.log.WithComponent("kafka_writer")
	if err := k.writer.WriteMessages(ctx, batch...); err != nil {
		k.mu.Lock()
		k.stats.ErrorsCount++
		k.mu.Unlock()
		log.WithError(err).WithFields(logger.Fields{"messages": len(batch)}).Warn("failed to write messages")
		return err
	}

	bytes := 0
	for _, m := range batch {
		bytes += len(m.Value)
	}
	k.mu.Lock()
	k.stats.RecordsWritten += int64(len(batch))
	k.stats.BatchesWritten++
	k.stats.BytesWritten += int64(bytes)
	k.mu.Unlock()

	logger.RecordFlow("kafka_write", bytes)
	logger.LogDataFlowEntry(log, "decoded_channel", "kafka", len(batch), "record")
	log.WithFields(logger.Fields{"topic": k.topic, "messages": len(batch)}).Debug("batch written to kafka")
	return nil
}

func (k *KafkaSink) Close(ctx context.Context) error {
	err := k.Flush(ctx)
	if cerr := k.writer.Close(); err == nil {
		err = cerr
	}
	metrics.ReportWriter(k.log, "kafka_writer", k.Stats())
	return err
}

func (k *KafkaSink) Stats() metrics.WriterStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}
