package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *prometheus.Registry

	datagramsTotal    prometheus.Counter
	bytesTotal        prometheus.Counter
	messagesTotal     *prometheus.CounterVec
	decodeErrorsTotal *prometheus.CounterVec
	gapsTotal         *prometheus.CounterVec
	missingTotal      prometheus.Counter
	droppedTotal      *prometheus.CounterVec
	expectedSequence  prometheus.Gauge
	channelLength     *prometheus.GaugeVec
)

// Init registers the feed collectors plus the Go and process collectors on a
// private registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		datagramsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdfeed_datagrams_total",
			Help: "Datagrams handed to the decoder",
		})
		bytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdfeed_datagram_bytes_total",
			Help: "Bytes handed to the decoder",
		})
		messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdfeed_messages_total",
			Help: "Datagrams with a valid header by message type",
		}, []string{"type"})
		decodeErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdfeed_decode_errors_total",
			Help: "Decode failures by kind",
		}, []string{"kind"})
		gapsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdfeed_sequence_gaps_total",
			Help: "Sequence discontinuities by direction",
		}, []string{"direction"})
		missingTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdfeed_sequence_missing_total",
			Help: "Sequence numbers skipped by forward gaps",
		})
		droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdfeed_channel_dropped_total",
			Help: "Items dropped because an internal channel was full",
		}, []string{"channel"})
		expectedSequence = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdfeed_expected_sequence",
			Help: "Next sequence number the monitor expects",
		})
		channelLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mdfeed_channel_length",
			Help: "Items currently buffered in an internal channel",
		}, []string{"channel"})

		registry.MustRegister(
			datagramsTotal, bytesTotal, messagesTotal, decodeErrorsTotal,
			gapsTotal, missingTotal, droppedTotal, expectedSequence, channelLength,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mostly for tests.
func Registry() *prometheus.Registry {
	Init()
	return registry
}

func promEnabled() bool {
	return registry != nil && IsFeatureEnabled(FeaturePrometheus)
}

func ObserveDatagram(size int) {
	if !promEnabled() {
		return
	}
	datagramsTotal.Inc()
	bytesTotal.Add(float64(size))
}

func ObserveMessage(msgType string) {
	if promEnabled() {
		messagesTotal.WithLabelValues(msgType).Inc()
	}
}

func ObserveDecodeError(kind string) {
	if promEnabled() {
		decodeErrorsTotal.WithLabelValues(kind).Inc()
	}
}

func ObserveGap(direction string, missing uint64) {
	if !promEnabled() {
		return
	}
	gapsTotal.WithLabelValues(direction).Inc()
	if missing > 0 {
		missingTotal.Add(float64(missing))
	}
}

func SetExpectedSequence(seq uint64) {
	if promEnabled() {
		expectedSequence.Set(float64(seq))
	}
}

func ObserveDrop(channel string) {
	if promEnabled() {
		droppedTotal.WithLabelValues(channel).Inc()
	}
}

func setChannelLength(channel string, n int) {
	if promEnabled() {
		channelLength.WithLabelValues(channel).Set(float64(n))
	}
}
