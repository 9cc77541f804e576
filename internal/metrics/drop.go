package metrics

import "mdfeed/logger"

// DropMetric names the metric emitted when a channel send is dropped.
type DropMetric string

const (
	DropMetricRaw     DropMetric = "raw_datagrams_dropped"
	DropMetricDecoded DropMetric = "decoded_records_dropped"
)

var dropChannels = map[DropMetric]string{
	DropMetricRaw:     "raw",
	DropMetricDecoded: "decoded",
}

// EmitDropMetric counts one dropped item. symbol is optional.
func EmitDropMetric(log *logger.Log, metric DropMetric, symbol, stage string) {
	channel := dropChannels[metric]
	ObserveDrop(channel)

	fields := logger.Fields{"channel": channel}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}
	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
