package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"mdfeed/logger"
)

// Metric is a feed event as seen by subscribers: a gap count from the session,
// a drop from the receiver or consumer, a buffer depth sample and so on.
type Metric struct {
	Timestamp time.Time     `json:"timestamp"`
	Component string        `json:"component"`
	Name      string        `json:"name"`
	Value     interface{}   `json:"value"`
	Type      string        `json:"type"`
	Fields    logger.Fields `json:"fields,omitempty"`
}

// MetricHandler is called synchronously from the goroutine that emitted the
// event, which is often the receive or decode loop. It must return quickly.
type MetricHandler func(Metric)

type MetricHandlerID uint64

type subscriber struct {
	id MetricHandlerID
	fn MetricHandler
}

// subscriberList keeps handlers in registration order. Emitters read an
// immutable snapshot so the hot path never takes the lock.
type subscriberList struct {
	mu     sync.Mutex
	lastID MetricHandlerID
	view   atomic.Pointer[[]subscriber]
}

func (l *subscriberList) add(fn MetricHandler) MetricHandlerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastID++
	cur := l.load()
	next := make([]subscriber, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, subscriber{id: l.lastID, fn: fn})
	l.view.Store(&next)
	return l.lastID
}

func (l *subscriberList) remove(id MetricHandlerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.load()
	next := make([]subscriber, 0, len(cur))
	for _, s := range cur {
		if s.id != id {
			next = append(next, s)
		}
	}
	l.view.Store(&next)
}

func (l *subscriberList) load() []subscriber {
	if p := l.view.Load(); p != nil {
		return *p
	}
	return nil
}

func (l *subscriberList) reset() {
	l.mu.Lock()
	l.lastID = 0
	l.view.Store(nil)
	l.mu.Unlock()
}

var subscribers subscriberList

// RegisterMetricHandler subscribes fn to every feed event. A nil fn is ignored
// and yields id 0.
func RegisterMetricHandler(fn MetricHandler) MetricHandlerID {
	if fn == nil {
		return 0
	}
	return subscribers.add(fn)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id != 0 {
		subscribers.remove(id)
	}
}

// observeMetric turns one feed observation into a Metric, writes it to the
// debug log and delivers it to subscribers. Unnamed events and events whose
// family is disabled in config are discarded.
func observeMetric(log *logger.Log, component, name string, value interface{}, kind string, fields logger.Fields) (Metric, bool) {
	if name == "" || !metricEnabled(name) {
		return Metric{}, false
	}
	if kind == "" {
		kind = "counter"
	}

	m := Metric{
		Timestamp: timeNow(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      kind,
		Fields:    copyFields(fields, 0),
	}

	if log == nil {
		log = logger.GetLogger()
	}
	entry := copyFields(m.Fields, 3)
	entry["metric"], entry["metric_type"], entry["value"] = name, kind, value
	log.WithComponent(component).WithFields(entry).Debug("metric")

	for _, s := range subscribers.load() {
		s.fn(m)
	}
	return m, true
}

func copyFields(src logger.Fields, extra int) logger.Fields {
	dst := make(logger.Fields, len(src)+extra)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
