package pipeline

import (
	"time"

	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts transitions per event, transition errors, flows entering
// the errored state and removed flows, and observes transition durations.
type Metrics struct {
	transitions *prometheus.CounterVec
	errors      prometheus.Counter
	errored     prometheus.Counter
	ended       *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notarium",
			Subsystem: "flow",
			Name:      "transitions_total",
			Help:      "Flow transitions by event.",
		}, []string{"event"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notarium",
			Subsystem: "flow",
			Name:      "transition_errors_total",
			Help:      "Transitions whose actions failed.",
		}),
		errored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notarium",
			Subsystem: "flow",
			Name:      "errored_total",
			Help:      "Flows that went from clean to errored.",
		}),
		ended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notarium",
			Subsystem: "flow",
			Name:      "ended_total",
			Help:      "Flows that ended, by final status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "notarium",
			Subsystem: "flow",
			Name:      "transition_duration_seconds",
			Help:      "Time spent executing the actions of a transition.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.transitions, m.errors, m.errored, m.ended, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Interceptor ...
func (m *Metrics) Interceptor() flow.Interceptor {
	return func(next flow.TransitionExecutor) flow.TransitionExecutor {
		return flow.TransitionExecutorFunc(func(
			fiber flow.FiberInfo,
			previous *flow.StateMachineState,
			event flow.Event,
			transition flow.TransitionResult,
			actions flow.ActionExecutor,
		) (flow.Continuation, *flow.StateMachineState, error) {
			start := time.Now()
			cont, nextState, err := next.ExecuteTransition(fiber, previous, event, transition, actions)
			m.duration.Observe(time.Since(start).Seconds())

			m.transitions.WithLabelValues(event.String()).Inc()
			if err != nil {
				m.errors.Inc()
			}
			if !previous.IsErrored() && nextState.IsErrored() {
				m.errored.Inc()
			}
			if nextState != nil && nextState.IsRemoved && !previous.IsRemoved {
				m.ended.WithLabelValues(nextState.Checkpoint.Status.String()).Inc()
			}

			return cont, nextState, err
		})
	}
}
