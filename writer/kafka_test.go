package writer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kafka "github.com/segmentio/kafka-go"

	appconfig "mdfeed/config"
)

type fakeKafkaWriter struct {
	batches [][]kafka.Message
	err     error
	closed  bool
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, msgs)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkBatchesBySize(t *testing.T) {
	fw := &fakeKafkaWriter{}
	sink := newKafkaSink(fw, "mdfeed", 2)
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		if err := sink.Write(ctx, bboRecord("AAPL", i)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if len(fw.batches) != 1 || len(fw.batches[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %v", fw.batches)
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(fw.batches) != 2 || !fw.closed {
		t.Fatalf("close did not flush and close writer")
	}
	if got := sink.Stats().RecordsWritten; got != 3 {
		t.Fatalf("expected 3 records written, got %d", got)
	}

	msg := fw.batches[0][0]
	if string(msg.Key) != "AAPL" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	var env map[string]interface{}
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if env["type"] != "BBO" || env["symbol"] != "AAPL" || env["sequence"] != float64(1) {
		t.Fatalf("unexpected envelope: %v", env)
	}
	body := env["message"].(map[string]interface{})
	if body["bid_price"] != "150.0000" {
		t.Fatalf("unexpected bid price: %v", body["bid_price"])
	}
}

func TestKafkaSinkWriteError(t *testing.T) {
	fw := &fakeKafkaWriter{err: errors.New("broker down")}
	sink := newKafkaSink(fw, "mdfeed", 10)
	if err := sink.Write(context.Background(), bboRecord("AAPL", 1)); err != nil {
		t.Fatalf("write should buffer: %v", err)
	}
	if err := sink.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error")
	}
	if sink.Stats().ErrorsCount != 1 {
		t.Fatalf("error not counted")
	}
}

func TestNewKafkaSinkRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaSink(appconfig.KafkaConfig{Topic: "mdfeed"}, 10); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestBuildSinks(t *testing.T) {
	cfg := appconfig.Default()
	cfg.Writer.Console.Enabled = true
	cfg.Writer.Parquet.Enabled = true
	cfg.Storage.Local = appconfig.LocalConfig{Enabled: true, Dir: t.TempDir()}
	cfg.Storage.Kafka = appconfig.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "mdfeed"}

	sinks, err := BuildSinks(context.Background(), &cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	names := []string{}
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	if len(names) != 3 || names[0] != "console" || names[1] != "parquet" || names[2] != "kafka" {
		t.Fatalf("unexpected sinks %v", names)
	}
}
