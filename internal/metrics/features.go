package metrics

import (
	"strings"
	"sync/atomic"

	"mdfeed/config"
)

type Feature int

const (
	FeaturePrometheus Feature = iota
	FeatureChannelSize
)

var (
	prometheusEnabled  atomic.Bool
	channelSizeEnabled atomic.Bool
)

func init() {
	prometheusEnabled.Store(true)
	channelSizeEnabled.Store(true)
}

// Configure switches metric families on or off.
func Configure(cfg config.MetricsConfig) {
	prometheusEnabled.Store(cfg.Prometheus)
	channelSizeEnabled.Store(cfg.ChannelSize)
}

func IsFeatureEnabled(f Feature) bool {
	switch f {
	case FeaturePrometheus:
		return prometheusEnabled.Load()
	case FeatureChannelSize:
		return channelSizeEnabled.Load()
	default:
		return false
	}
}

// metricEnabled filters gauges belonging to a disabled family by name.
func metricEnabled(name string) bool {
	if strings.HasSuffix(name, "_buffer_length") {
		return IsFeatureEnabled(FeatureChannelSize)
	}
	return true
}
