package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/mosaicnetworks/notarium/src/flow/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type testFiber struct {
	id     flow.FlowID
	logger *logrus.Entry
}

func (f *testFiber) ID() flow.FlowID                             { return f.id }
func (f *testFiber) FlowName() string                            { return "test" }
func (f *testFiber) Logger() *logrus.Entry                       { return f.logger }
func (f *testFiber) ScheduleEvent(e flow.Event, d time.Duration) {}

func newTestFiber(t *testing.T, id flow.FlowID) *testFiber {
	return &testFiber{id: id, logger: common.NewTestEntry(t, logrus.DebugLevel)}
}

type countingHospital struct {
	errored *atomic.Int32
	cleaned *atomic.Int32
	removed *atomic.Int32
}

func newCountingHospital() *countingHospital {
	return &countingHospital{
		errored: atomic.NewInt32(0),
		cleaned: atomic.NewInt32(0),
		removed: atomic.NewInt32(0),
	}
}

func (h *countingHospital) FlowErrored(fiber flow.FiberInfo, errors []flow.FlowError) {
	h.errored.Inc()
}
func (h *countingHospital) FlowCleaned(id flow.FlowID) { h.cleaned.Inc() }
func (h *countingHospital) FlowRemoved(id flow.FlowID) { h.removed.Inc() }

func clean() *flow.StateMachineState {
	return &flow.StateMachineState{Checkpoint: &flow.Checkpoint{Status: state.Running}}
}

func errored() *flow.StateMachineState {
	return &flow.StateMachineState{Checkpoint: &flow.Checkpoint{
		Status: state.Errored,
		ErrorState: flow.ErrorState{
			Errored: true,
			Errors:  []flow.FlowError{{Type: "*errors.errorString", Message: "boom"}},
		},
	}}
}

func removed() *flow.StateMachineState {
	return &flow.StateMachineState{
		Checkpoint: &flow.Checkpoint{Status: state.Removed},
		IsRemoved:  true,
	}
}

// to returns a base executor that moves every flow to next.
func to(next *flow.StateMachineState, err error) flow.TransitionExecutor {
	return flow.TransitionExecutorFunc(func(
		fiber flow.FiberInfo,
		previous *flow.StateMachineState,
		event flow.Event,
		transition flow.TransitionResult,
		actions flow.ActionExecutor,
	) (flow.Continuation, *flow.StateMachineState, error) {
		return flow.ProcessEvents{}, next, err
	})
}

func execute(t *testing.T, exec flow.TransitionExecutor, fiber flow.FiberInfo, previous *flow.StateMachineState, event flow.Event) error {
	_, _, err := exec.ExecuteTransition(fiber, previous, event, flow.TransitionResult{
		Actions: []flow.Action{flow.PersistCheckpoint{}},
	}, nil)
	return err
}

func TestHospitalisingReportsEdgesOnce(t *testing.T) {
	hospital := newCountingHospital()
	ward := NewHospitalising(hospital)
	fiber := newTestFiber(t, "flow-1")

	toErrored := flow.Chain(to(errored(), nil), ward.Interceptor())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			execute(t, toErrored, fiber, clean(), flow.Error{Err: errors.New("boom")})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hospital.errored.Load())
	assert.True(t, ward.InWard("flow-1"))

	// staying errored is not a new edge
	execute(t, toErrored, fiber, errored(), flow.Kill{})
	assert.Equal(t, int32(1), hospital.errored.Load())

	toClean := flow.Chain(to(clean(), nil), ward.Interceptor())
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			execute(t, toClean, fiber, errored(), flow.RetryFromSafePoint{})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hospital.cleaned.Load())
	assert.False(t, ward.InWard("flow-1"))

	execute(t, toErrored, fiber, clean(), flow.Error{Err: errors.New("again")})
	assert.Equal(t, int32(2), hospital.errored.Load())

	execute(t, flow.Chain(to(removed(), nil), ward.Interceptor()), fiber, errored(), flow.Kill{})
	assert.Equal(t, int32(1), hospital.removed.Load())
	assert.False(t, ward.InWard("flow-1"))
}

func TestHospitalisingIgnoresAbortedTransitions(t *testing.T) {
	hospital := newCountingHospital()
	exec := flow.Chain(to(nil, errors.New("aborted")), Hospitalising(hospital))

	err := execute(t, exec, newTestFiber(t, "flow-1"), clean(), flow.Start{})
	assert.EqualError(t, err, "aborted")
	assert.Equal(t, int32(0), hospital.errored.Load())
	assert.Equal(t, int32(0), hospital.removed.Load())
}

func TestHistoryKeepsLastRecords(t *testing.T) {
	history, err := NewHistory(2, 3)
	require.NoError(t, err)

	exec := flow.Chain(to(clean(), nil), history.Interceptor())

	a := newTestFiber(t, "a")
	events := []flow.Event{flow.Start{}, flow.WakeUp{}, flow.Kill{}, flow.StartErrorPropagation{}}
	for _, e := range events {
		execute(t, exec, a, clean(), e)
	}

	records := history.Records("a")
	require.Len(t, records, 3)
	assert.Equal(t, "WakeUp", records[0].Event)
	assert.Equal(t, "StartErrorPropagation", records[2].Event)
	assert.Equal(t, []string{"PersistCheckpoint"}, records[2].Actions)
	assert.Equal(t, "ProcessEvents", records[2].Continuation)
	assert.Equal(t, "Running", records[2].To)

	failing := flow.Chain(to(errored(), errors.New("disk full")), history.Interceptor())
	execute(t, failing, newTestFiber(t, "b"), clean(), flow.Start{})

	records = history.Records("b")
	require.Len(t, records, 1)
	assert.Equal(t, "disk full", records[0].Error)
	assert.Equal(t, "Errored", records[0].To)

	// a third flow evicts the least recently used one
	execute(t, exec, newTestFiber(t, "c"), clean(), flow.Start{})
	assert.Nil(t, history.Records("a"))
	assert.Len(t, history.Records("b"), 1)
	assert.Len(t, history.Records("c"), 1)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	fiber := newTestFiber(t, "flow-1")

	execute(t, flow.Chain(to(clean(), nil), m.Interceptor()), fiber, clean(), flow.Start{})
	execute(t, flow.Chain(to(clean(), nil), m.Interceptor()), fiber, clean(), flow.Start{})
	execute(t, flow.Chain(to(errored(), errors.New("failed")), m.Interceptor()), fiber, clean(), flow.Suspend{})
	execute(t, flow.Chain(to(removed(), nil), m.Interceptor()), fiber, errored(), flow.Kill{})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("Start")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("Suspend")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ended.WithLabelValues("Removed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "collectors are registered once")
}

func TestLoggingPassesThrough(t *testing.T) {
	next := errored()
	exec := flow.Chain(to(next, errors.New("failed")), Logging())

	cont, got, err := exec.ExecuteTransition(newTestFiber(t, "flow-1"), clean(), flow.Start{}, flow.TransitionResult{}, nil)
	assert.Equal(t, flow.ProcessEvents{}, cont)
	assert.Same(t, next, got)
	assert.EqualError(t, err, "failed")
}
