package metrics

import (
	"testing"

	"mdfeed/config"
	"mdfeed/logger"
)

func TestRegisterMetricHandlerIDs(t *testing.T) {
	subscribers.reset()
	t.Cleanup(subscribers.reset)

	if id := RegisterMetricHandler(nil); id != 0 {
		t.Fatalf("nil handler got id %d", id)
	}
	a := RegisterMetricHandler(func(Metric) {})
	b := RegisterMetricHandler(func(Metric) {})
	if a == 0 || b == 0 || a == b {
		t.Fatalf("ids not unique: %d %d", a, b)
	}
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	subscribers.reset()
	t.Cleanup(subscribers.reset)

	var order []string
	RegisterMetricHandler(func(Metric) { order = append(order, "dashboard") })
	mid := RegisterMetricHandler(func(Metric) { order = append(order, "removed") })
	RegisterMetricHandler(func(Metric) { order = append(order, "recorder") })
	UnregisterMetricHandler(mid)

	EmitMetric(nil, "feed", "gaps", 1, "counter", nil)

	if len(order) != 2 || order[0] != "dashboard" || order[1] != "recorder" {
		t.Fatalf("unexpected delivery order %v", order)
	}
}

func TestEmitMetricCopiesFields(t *testing.T) {
	subscribers.reset()
	t.Cleanup(subscribers.reset)

	var got []Metric
	RegisterMetricHandler(func(m Metric) { got = append(got, m) })

	fields := logger.Fields{"symbol": "AAPL"}
	EmitMetric(logger.Logger(), "feed", "gaps", 3, "gauge", fields)
	EmitMetric(nil, "feed", "datagrams", 7, "", nil)

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	gap := got[0]
	if gap.Component != "feed" || gap.Type != "gauge" || gap.Fields["symbol"] != "AAPL" {
		t.Fatalf("unexpected gap event %+v", gap)
	}
	if _, ok := gap.Fields["metric"]; ok {
		t.Fatalf("log-only keys leaked into event fields: %v", gap.Fields)
	}
	if len(fields) != 1 {
		t.Fatalf("caller fields mutated: %v", fields)
	}
	if got[1].Type != "counter" {
		t.Fatalf("default type = %q", got[1].Type)
	}
}

func TestEmitMetricSkipsUnnamedAndDisabled(t *testing.T) {
	subscribers.reset()
	t.Cleanup(subscribers.reset)

	Configure(config.MetricsConfig{Prometheus: true, ChannelSize: false})
	t.Cleanup(func() { Configure(config.MetricsConfig{Prometheus: true, ChannelSize: true}) })

	var got []string
	RegisterMetricHandler(func(m Metric) { got = append(got, m.Name) })

	EmitMetric(nil, "receiver", "", 1, "counter", nil)
	EmitMetric(nil, "channel_buffers", "raw_buffer_length", 1, "gauge", nil)
	EmitMetric(nil, "feed", "datagrams", 1, "counter", nil)

	if len(got) != 1 || got[0] != "datagrams" {
		t.Fatalf("expected only datagrams, got %v", got)
	}
}
