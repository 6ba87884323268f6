package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"peerescrow/core/events"
)

var eventsOnce = sync.OnceValue(func() *EventCounter { return newEventCounter(prometheus.DefaultRegisterer) })

// EventCounter is an events.Emitter that only counts what passes through it.
type EventCounter struct {
	emitted *prometheus.CounterVec
}

// Events returns the process-wide event counter.
func Events() *EventCounter { return eventsOnce() }

func newEventCounter(reg prometheus.Registerer) *EventCounter {
	return &EventCounter{
		emitted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Committed escrow events by type.",
		}, []string{"type"}),
	}
}

func (c *EventCounter) Emit(evt events.Event) {
	if c == nil || evt == nil {
		return
	}
	c.emitted.WithLabelValues(orUnknown(strings.TrimSpace(evt.EventType()))).Inc()
}
