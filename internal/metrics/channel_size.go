package metrics

import (
	"context"
	"time"

	"mdfeed/internal/channel"
	"mdfeed/logger"
)

// StartChannelSizeMetrics samples the raw and decoded buffer occupancy every
// interval (one second when interval <= 0) until ctx is cancelled.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelSize) || channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sampleChannelSizes(log, channels)
			}
		}
	}()
}

func sampleChannelSizes(log *logger.Log, channels *channel.Channels) {
	rawLen, decLen := len(channels.Raw), len(channels.Decoded)
	setChannelLength("raw", rawLen)
	setChannelLength("decoded", decLen)

	EmitMetric(log, "channel_buffers", "raw_buffer_length", rawLen, "gauge", logger.Fields{
		"buffer":   "raw",
		"capacity": cap(channels.Raw),
	})
	EmitMetric(log, "channel_buffers", "decoded_buffer_length", decLen, "gauge", logger.Fields{
		"buffer":   "decoded",
		"capacity": cap(channels.Decoded),
	})
}
