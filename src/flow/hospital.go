package flow

import (
	"sort"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Hospital decides what happens to errored flows. FlowErrored is called once
// when a flow goes from clean to errored, FlowCleaned once when it goes back,
// and FlowRemoved when it is removed.
type Hospital interface {
	FlowErrored(fiber FiberInfo, errors []FlowError)
	FlowCleaned(id FlowID)
	FlowRemoved(id FlowID)
}

// Diagnosis is what the hospital decided for a flow.
type Diagnosis uint8

const (
	// Discharge means the error is propagated and the flow removed.
	Discharge Diagnosis = iota
	// RetryLater means the flow is retried from its last checkpoint.
	RetryLater
	// Observe means the flow is kept until someone retries or kills it.
	Observe
)

// String ...
func (d Diagnosis) String() string {
	switch d {
	case Discharge:
		return "Discharge"
	case RetryLater:
		return "RetryLater"
	case Observe:
		return "Observe"
	default:
		return "Unknown"
	}
}

type patient struct {
	backoff retry.Backoff
	retries int
}

// StaffedHospital retries retryable errors with an exponential backoff, up
// to MaxRetries times per flow, keeps parked flows for observation and
// discharges the others.
type StaffedHospital struct {
	maxRetries uint64
	initial    time.Duration
	max        time.Duration
	logger     *logrus.Entry

	sync.Mutex
	patients    map[FlowID]*patient
	observation map[FlowID][]FlowError

	admissions *atomic.Uint64
	retries    *atomic.Uint64
	discharged *atomic.Uint64
}

// NewStaffedHospital ...
func NewStaffedHospital(maxRetries uint64, initial, max time.Duration, logger *logrus.Entry) *StaffedHospital {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &StaffedHospital{
		maxRetries:  maxRetries,
		initial:     initial,
		max:         max,
		logger:      logger.WithField("prefix", "hospital"),
		patients:    make(map[FlowID]*patient),
		observation: make(map[FlowID][]FlowError),
		admissions:  atomic.NewUint64(0),
		retries:     atomic.NewUint64(0),
		discharged:  atomic.NewUint64(0),
	}
}

// FlowErrored implements Hospital.
func (h *StaffedHospital) FlowErrored(fiber FiberInfo, errors []FlowError) {
	h.admissions.Inc()

	diagnosis, delay := h.diagnose(fiber.ID(), errors)

	logger := fiber.Logger().WithFields(logrus.Fields{
		"diagnosis": diagnosis.String(),
		"errors":    len(errors),
	})

	switch diagnosis {
	case RetryLater:
		h.retries.Inc()
		logger.WithField("delay", delay).Info("Retrying flow from last checkpoint")
		fiber.ScheduleEvent(RetryFromSafePoint{}, delay)
	case Observe:
		logger.Warn("Keeping flow for observation")
	default:
		h.discharged.Inc()
		logger.Warn("Propagating flow error")
		fiber.ScheduleEvent(StartErrorPropagation{}, 0)
	}
}

func (h *StaffedHospital) diagnose(id FlowID, errors []FlowError) (Diagnosis, time.Duration) {
	if len(errors) == 0 {
		return Discharge, 0
	}
	last := errors[len(errors)-1]

	h.Lock()
	defer h.Unlock()

	if last.Retryable {
		p, ok := h.patients[id]
		if !ok {
			b := retry.NewExponential(h.initial)
			b = retry.WithCappedDuration(h.max, b)
			b = retry.WithMaxRetries(h.maxRetries, b)
			p = &patient{backoff: b}
			h.patients[id] = p
		}
		if delay, stop := p.backoff.Next(); !stop {
			p.retries++
			return RetryLater, delay
		}
	}

	if last.Park {
		h.observation[id] = append([]FlowError(nil), errors...)
		return Observe, 0
	}

	return Discharge, 0
}

// FlowCleaned implements Hospital. Retry counts are kept until the flow is
// removed.
func (h *StaffedHospital) FlowCleaned(id FlowID) {
	h.Lock()
	defer h.Unlock()
	delete(h.observation, id)
}

// FlowRemoved implements Hospital.
func (h *StaffedHospital) FlowRemoved(id FlowID) {
	h.Lock()
	defer h.Unlock()
	delete(h.patients, id)
	delete(h.observation, id)
}

// Observed returns the flows kept for observation.
func (h *StaffedHospital) Observed() []FlowID {
	h.Lock()
	defer h.Unlock()
	res := make([]FlowID, 0, len(h.observation))
	for id := range h.observation {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// Retries returns how many times a flow was retried.
func (h *StaffedHospital) Retries(id FlowID) int {
	h.Lock()
	defer h.Unlock()
	if p, ok := h.patients[id]; ok {
		return p.retries
	}
	return 0
}

// Stats ...
func (h *StaffedHospital) Stats() (admissions, retries, discharged uint64) {
	return h.admissions.Load(), h.retries.Load(), h.discharged.Load()
}
