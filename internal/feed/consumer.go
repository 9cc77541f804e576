package feed

import (
	"mdfeed/internal/channel"
	"mdfeed/internal/metrics"
	"mdfeed/internal/wire"
	"mdfeed/logger"
)

// Consumer is the only goroutine that touches the session's monitor.
type Consumer struct {
	session  *Session
	channels *channel.Channels
	log      *logger.Log
}

func NewConsumer(session *Session, channels *channel.Channels) *Consumer {
	return &Consumer{session: session, channels: channels, log: logger.GetLogger()}
}

// Run processes datagrams in FIFO order until the raw channel is closed, so
// datagrams already queued at shutdown are still accounted for. It then
// closes the decoded channel and logs the final report.
func (c *Consumer) Run() {
	defer c.session.Report()
	defer c.channels.CloseDecoded()

	c.log.WithComponent("consumer").Info("consumer started")

	var processed int64
	for d := range c.channels.Raw {
		out := c.session.Process(d.Data)
		processed++
		if out.Message == nil {
			continue
		}
		rec := channel.Record{Message: out.Message, ReceivedAt: d.ReceivedAt}
		if !c.channels.SendDecoded(rec) {
			metrics.EmitDropMetric(c.log, metrics.DropMetricDecoded, wire.SymbolOf(out.Message).String(), "consumer")
		}
	}

	c.log.WithComponent("consumer").WithFields(logger.Fields{
		"processed": processed,
	}).Info("raw channel drained")
}
