package flow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/flow/state"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/net"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const (
	// DefaultWorkers is the default size of the flow worker pool.
	DefaultWorkers = 16
	// DefaultDeliveryTimeout bounds how long a session request waits for
	// the flows to checkpoint its messages.
	DefaultDeliveryTimeout = 5 * time.Second

	finishedSessionsCache = 10000
)

// Config configures a Manager.
type Config struct {
	Me              identity.Party
	Registry        *Registry
	Store           CheckpointStore
	Transport       net.Transport
	Identity        identity.IdentityService
	Services        *Services
	Interceptors    []Interceptor
	Workers         int
	Clock           common.Clock
	DeliveryTimeout time.Duration
	// RedeliveryInitial and RedeliveryMax bound the backoff between
	// attempts to deliver session messages.
	RedeliveryInitial time.Duration
	RedeliveryMax     time.Duration
	Logger            *logrus.Entry
}

// Manager is the state machine manager. It starts, restores, routes
// messages to and kills flows.
type Manager struct {
	me              identity.Party
	registry        *Registry
	store           CheckpointStore
	services        *Services
	clock           common.Clock
	deliveryTimeout time.Duration
	logger          *logrus.Entry

	pool     *workerpool.WorkerPool
	outbox   *Outbox
	executor TransitionExecutor
	actions  ActionExecutor

	ctx    context.Context
	cancel context.CancelFunc

	sync.RWMutex
	fibers       map[FlowID]*fiber
	handles      map[FlowID]*FlowHandle
	routes       map[SessionKey]FlowID
	flowSessions map[FlowID][]SessionKey
	finished     *lru.Cache[SessionKey, struct{}]
	stopped      bool

	started   *atomic.Uint64
	completed *atomic.Uint64
	failed    *atomic.Uint64
}

// NewManager ...
func NewManager(conf Config) *Manager {
	if conf.Workers <= 0 {
		conf.Workers = DefaultWorkers
	}
	if conf.Clock == nil {
		conf.Clock = common.SystemClock{}
	}
	if conf.DeliveryTimeout <= 0 {
		conf.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if conf.RedeliveryInitial <= 0 {
		conf.RedeliveryInitial = 50 * time.Millisecond
	}
	if conf.RedeliveryMax <= 0 {
		conf.RedeliveryMax = 5 * time.Second
	}
	if conf.Logger == nil {
		conf.Logger = logrus.NewEntry(logrus.New())
	}
	if conf.Services == nil {
		conf.Services = &Services{Identity: conf.Identity, Clock: conf.Clock}
	}

	logger := conf.Logger.WithField("prefix", "flow")

	finished, _ := lru.New[SessionKey, struct{}](finishedSessionsCache)

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		me:              conf.Me,
		registry:        conf.Registry,
		store:           conf.Store,
		services:        conf.Services,
		clock:           conf.Clock,
		deliveryTimeout: conf.DeliveryTimeout,
		logger:          logger,
		pool:            workerpool.New(conf.Workers),
		outbox:          NewOutbox(conf.Transport, conf.Identity, conf.RedeliveryInitial, conf.RedeliveryMax, logger),
		executor:        Chain(NewTransitionExecutor(), conf.Interceptors...),
		ctx:             ctx,
		cancel:          cancel,
		fibers:          make(map[FlowID]*fiber),
		handles:         make(map[FlowID]*FlowHandle),
		routes:          make(map[SessionKey]FlowID),
		flowSessions:    make(map[FlowID][]SessionKey),
		finished:        finished,
		started:         atomic.NewUint64(0),
		completed:       atomic.NewUint64(0),
		failed:          atomic.NewUint64(0),
	}
	m.actions = &actionExecutor{m: m}

	return m
}

// Registry ...
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start runs a new flow.
func (m *Manager) Start(logic Logic) (*FlowHandle, error) {
	frame, err := m.registry.Encode(logic)
	if err != nil {
		return nil, err
	}

	cp := &Checkpoint{
		FlowID:      NewFlowID(),
		FlowName:    frame.Name,
		OurIdentity: m.me.Name,
		Status:      state.Created,
		Frames:      []Frame{frame},
		Sessions:    make(map[SessionID]*SessionState),
		Timestamp:   m.clock.Now(),
	}

	m.Lock()
	if m.stopped {
		m.Unlock()
		return nil, ErrManagerStopped
	}
	f, h := m.spawn(cp, nil)
	m.Unlock()

	m.started.Inc()
	f.logger.Debug("Starting flow")
	f.enqueue(Start{})

	return h, nil
}

// spawn must be called with the lock held.
func (m *Manager) spawn(cp *Checkpoint, safePoint *Checkpoint) (*fiber, *FlowHandle) {
	f := newFiber(m, cp, safePoint)
	h, ok := m.handles[cp.FlowID]
	if !ok {
		h = newFlowHandle(cp.FlowID)
		m.handles[cp.FlowID] = h
	}
	m.fibers[cp.FlowID] = f
	return f, h
}

// Restore resumes every flow in the checkpoint store that is not running
// yet and returns how many it resumed.
func (m *Manager) Restore() (int, error) {
	checkpoints, err := m.store.All()
	if err != nil {
		return 0, err
	}

	restored := []*fiber{}

	m.Lock()
	if m.stopped {
		m.Unlock()
		return 0, ErrManagerStopped
	}
	for _, cp := range checkpoints {
		if _, running := m.fibers[cp.FlowID]; running {
			continue
		}
		f, _ := m.spawn(cp, cp.Clone())
		m.registerLocked(cp.FlowID, sessionKeys(cp.Sessions, nil))
		restored = append(restored, f)
	}
	m.Unlock()

	for _, f := range restored {
		f.logger.WithField("suspension", f.state.Checkpoint.Suspension.Kind.String()).Info("Restoring flow")
		f.enqueue(RetryFromSafePoint{Restored: true})
	}

	return len(restored), nil
}

// HandleSessionRequest hands session messages to their flows and waits for
// them to be checkpointed. It fails when that takes longer than the
// delivery timeout; the sender then delivers again.
func (m *Manager) HandleSessionRequest(req *net.SessionRequest) (*net.SessionResponse, error) {
	acks := make([]chan struct{}, 0, len(req.Messages))
	accepted := 0
	for _, msg := range req.Messages {
		ack, ok, err := m.deliver(msg)
		if err != nil {
			return nil, err
		}
		if ok {
			accepted++
		}
		acks = append(acks, ack)
	}

	timeout := time.NewTimer(m.deliveryTimeout)
	defer timeout.Stop()

	for _, ack := range acks {
		select {
		case <-ack:
		case <-timeout.C:
			return nil, fmt.Errorf("timeout delivering session messages from %s", req.FromAddr)
		case <-m.ctx.Done():
			return nil, ErrManagerStopped
		}
	}

	return &net.SessionResponse{Accepted: accepted}, nil
}

func closedAck() chan struct{} {
	ack := make(chan struct{})
	close(ack)
	return ack
}

func (m *Manager) deliver(msg net.SessionMessage) (chan struct{}, bool, error) {
	key := SessionKey{ID: SessionID(msg.SessionID), Initiator: msg.ToInitiator}

	m.Lock()
	defer m.Unlock()

	if m.stopped {
		return nil, false, ErrManagerStopped
	}

	if id, ok := m.routes[key]; ok {
		f, ok := m.fibers[id]
		if !ok {
			return closedAck(), false, nil
		}
		ack := make(chan struct{})
		f.enqueue(DeliverSessionMessage{Message: msg, Ack: ack})
		return ack, true, nil
	}

	if msg.Kind != net.SessionInit || msg.ToInitiator || m.finished.Contains(key) {
		m.logger.WithFields(logrus.Fields{
			"session": msg.SessionID,
			"kind":    msg.Kind.String(),
			"seq":     msg.Seq,
		}).Debug("Dropping message for unknown session")
		return closedAck(), false, nil
	}

	name, ok := m.registry.Responder(msg.FlowName)
	if !ok {
		m.logger.WithField("flow", msg.FlowName).Warn("No responder registered")
		m.finished.Add(key, struct{}{})
		m.outbox.Send([]OutboundMessage{{
			To: msg.Sender,
			Message: net.SessionMessage{
				SessionID:   msg.SessionID,
				ToInitiator: true,
				Seq:         1,
				Kind:        net.SessionError,
				Sender:      m.me.Name,
				Error:       fmt.Sprintf("no responder registered for %s", msg.FlowName),
			},
		}})
		return closedAck(), false, nil
	}

	sid := SessionID(msg.SessionID)
	cp := &Checkpoint{
		FlowID:      NewFlowID(),
		FlowName:    name,
		OurIdentity: m.me.Name,
		Status:      state.Created,
		Frames:      []Frame{{Name: name}},
		Sessions: map[SessionID]*SessionState{
			sid: {
				ID:              sid,
				Counterparty:    msg.Sender,
				Initiated:       true,
				InitiatingFlow:  msg.FlowName,
				NextSendSeq:     1,
				LastReceivedSeq: msg.Seq,
			},
		},
		Timestamp: m.clock.Now(),
	}

	f, _ := m.spawn(cp, nil)
	m.registerLocked(cp.FlowID, []SessionKey{key})
	m.started.Inc()

	f.logger.WithField("initiator", msg.Sender).Debug("Starting responder")

	ack := make(chan struct{})
	f.enqueue(Start{Ack: ack})

	return ack, true, nil
}

func (m *Manager) registerSessions(id FlowID, keys []SessionKey) {
	m.Lock()
	defer m.Unlock()
	m.registerLocked(id, keys)
}

func (m *Manager) registerLocked(id FlowID, keys []SessionKey) {
	for _, k := range keys {
		if _, ok := m.routes[k]; ok {
			continue
		}
		m.routes[k] = id
		m.flowSessions[id] = append(m.flowSessions[id], k)
	}
}

func (m *Manager) flowEnded(id FlowID, result []byte, err error) {
	m.Lock()
	for _, k := range m.flowSessions[id] {
		delete(m.routes, k)
		m.finished.Add(k, struct{}{})
	}
	delete(m.flowSessions, id)
	delete(m.fibers, id)
	h := m.handles[id]
	m.Unlock()

	if err != nil {
		m.failed.Inc()
	} else {
		m.completed.Inc()
	}

	if h != nil {
		h.complete(result, err)
	}
}

// release calls Release on every frame that implements Releaser, innermost
// first. Failures are logged, the flow is removed regardless.
func (m *Manager) release(fiber FiberInfo, frames []Frame, err error) {
	for i := len(frames) - 1; i >= 0; i-- {
		logic, derr := m.registry.Decode(frames[i])
		if derr != nil {
			fiber.Logger().WithError(derr).WithField("frame", frames[i].Name).Error("Decoding frame to release")
			continue
		}
		r, ok := logic.(Releaser)
		if !ok {
			continue
		}
		fc := &Context{
			id:       fiber.ID(),
			flowName: frames[i].Name,
			me:       m.me,
			sessions: map[SessionID]*SessionState{},
			services: m.services,
			logger:   fiber.Logger(),
		}
		func() {
			defer func() {
				if p := recover(); p != nil {
					fiber.Logger().WithField("frame", frames[i].Name).Errorf("Release panicked: %v", p)
				}
			}()
			r.Release(fc, err)
		}()
	}
}

// Kill removes a flow at its next step. The flow result fails with
// ErrFlowKilled.
func (m *Manager) Kill(id FlowID) error {
	return m.schedule(id, Kill{})
}

// Retry retries an errored flow from its last checkpoint.
func (m *Manager) Retry(id FlowID) error {
	return m.schedule(id, RetryFromSafePoint{})
}

func (m *Manager) schedule(id FlowID, e Event) error {
	m.RLock()
	f, ok := m.fibers[id]
	m.RUnlock()
	if !ok {
		return ErrUnknownFlow
	}
	f.enqueue(e)
	return nil
}

// Handle returns the result future of a flow started or restored by this
// manager.
func (m *Manager) Handle(id FlowID) (*FlowHandle, bool) {
	m.RLock()
	defer m.RUnlock()
	h, ok := m.handles[id]
	return h, ok
}

// Flow returns a summary of a running flow.
func (m *Manager) Flow(id FlowID) (FlowInfo, bool) {
	m.RLock()
	f, ok := m.fibers[id]
	m.RUnlock()
	if !ok {
		return FlowInfo{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, true
}

// Flows returns a summary of every running flow, sorted by id.
func (m *Manager) Flows() []FlowInfo {
	m.RLock()
	fibers := make([]*fiber, 0, len(m.fibers))
	for _, f := range m.fibers {
		fibers = append(fibers, f)
	}
	m.RUnlock()

	res := make([]FlowInfo, 0, len(fibers))
	for _, f := range fibers {
		f.mu.Lock()
		res = append(res, f.info)
		f.mu.Unlock()
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Stats returns counters in the format of the node stats.
func (m *Manager) Stats() map[string]string {
	m.RLock()
	running := len(m.fibers)
	m.RUnlock()

	sent, dropped := m.outbox.Stats()

	return map[string]string{
		"flows_running":     strconv.Itoa(running),
		"flows_started":     strconv.FormatUint(m.started.Load(), 10),
		"flows_completed":   strconv.FormatUint(m.completed.Load(), 10),
		"flows_failed":      strconv.FormatUint(m.failed.Load(), 10),
		"session_sent":      strconv.FormatUint(sent, 10),
		"session_dropped":   strconv.FormatUint(dropped, 10),
		"flow_pool_waiting": strconv.Itoa(m.pool.WaitingQueueSize()),
	}
}

// Stop stops every flow where it is, leaving the checkpoints for Restore.
func (m *Manager) Stop() {
	m.Lock()
	if m.stopped {
		m.Unlock()
		return
	}
	m.stopped = true
	for _, f := range m.fibers {
		f.stop()
	}
	m.Unlock()

	m.cancel()
	m.pool.StopWait()
	m.outbox.Close()
}
