package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"mdfeed/internal/channel"
	"mdfeed/logger"
)

// value reads the current value of a single counter or gauge.
func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter != nil {
		return m.GetCounter().GetValue()
	}
	return m.GetGauge().GetValue()
}

func TestCollectorsCount(t *testing.T) {
	Init()

	beforeMsgs := value(t, messagesTotal.WithLabelValues("BBO"))
	beforeGaps := value(t, gapsTotal.WithLabelValues("forward"))
	beforeMissing := value(t, missingTotal)

	ObserveMessage("BBO")
	ObserveGap("forward", 3)
	SetExpectedSequence(42)

	if got := value(t, messagesTotal.WithLabelValues("BBO")) - beforeMsgs; got != 1 {
		t.Fatalf("expected one BBO message, got %v", got)
	}
	if got := value(t, gapsTotal.WithLabelValues("forward")) - beforeGaps; got != 1 {
		t.Fatalf("expected one gap, got %v", got)
	}
	if got := value(t, missingTotal) - beforeMissing; got != 3 {
		t.Fatalf("expected 3 missing, got %v", got)
	}
	if got := value(t, expectedSequence); got != 42 {
		t.Fatalf("unexpected expected sequence gauge: %v", got)
	}
}

func TestHandlerExposesFeedMetrics(t *testing.T) {
	Init()
	ObserveDatagram(64)
	ObserveDecodeError("unknown_type")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, name := range []string{"mdfeed_datagrams_total", "mdfeed_decode_errors_total{kind=\"unknown_type\"}"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}

func TestEmitDropMetric(t *testing.T) {
	Init()
	subscribers.reset()

	var got Metric
	id := RegisterMetricHandler(func(m Metric) { got = m })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	before := value(t, droppedTotal.WithLabelValues("raw"))
	EmitDropMetric(nil, DropMetricRaw, "", "receiver")

	if got.Name != string(DropMetricRaw) || got.Fields["channel"] != "raw" || got.Fields["stage"] != "receiver" {
		t.Fatalf("unexpected drop metric: %+v", got)
	}
	if after := value(t, droppedTotal.WithLabelValues("raw")); after-before != 1 {
		t.Fatalf("drop counter not incremented")
	}
}

func TestSampleChannelSizes(t *testing.T) {
	Init()
	subscribers.reset()

	ch := channel.NewChannels(4, 4)
	ch.SendRaw(channel.Datagram{})
	ch.SendRaw(channel.Datagram{})

	names := map[string]interface{}{}
	id := RegisterMetricHandler(func(m Metric) { names[m.Name] = m.Value })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	sampleChannelSizes(logger.GetLogger(), ch)

	if names["raw_buffer_length"] != 2 || names["decoded_buffer_length"] != 0 {
		t.Fatalf("unexpected samples: %v", names)
	}
	if got := value(t, channelLength.WithLabelValues("raw")); got != 2 {
		t.Fatalf("unexpected raw length gauge: %v", got)
	}
}

func TestReportWriter(t *testing.T) {
	subscribers.reset()

	count := 0
	id := RegisterMetricHandler(func(Metric) { count++ })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	ReportWriter(logger.GetLogger(), "parquet_writer", WriterStats{RecordsWritten: 10, BatchesWritten: 1, FilesWritten: 1, BytesWritten: 100})
	if count != 5 {
		t.Fatalf("expected 5 metrics, got %d", count)
	}
}
