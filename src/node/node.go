package node

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-multierror"
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/mosaicnetworks/notarium/src/flow/pipeline"
	"github.com/mosaicnetworks/notarium/src/flows"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/ledger"
	"github.com/mosaicnetworks/notarium/src/net"
	"github.com/mosaicnetworks/notarium/src/notary"
	"github.com/mosaicnetworks/notarium/src/transaction"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Node defines a notarium node
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	me        identity.Party
	key       *ecdsa.PrivateKey
	directory *identity.Directory

	trans   net.Transport
	netCh   <-chan net.RPC
	rpcPool *workerpool.WorkerPool

	ledger        ledger.Ledger
	store         flow.CheckpointStore
	manager       *flow.Manager
	hospital      *flow.StaffedHospital
	history       *pipeline.History
	metrics       *prometheus.Registry
	notaryService *notary.Service

	shutdownCh chan struct{}

	start                time.Time
	sessionRequests      *atomic.Uint64
	notarisationRequests *atomic.Uint64
	rpcErrors            *atomic.Uint64
}

// NewNode is a factory method that returns a Node instance. notaryService is
// nil unless the node hosts a notary.
func NewNode(conf *Config,
	me identity.Party,
	key *ecdsa.PrivateKey,
	directory *identity.Directory,
	trans net.Transport,
	ledger ledger.Ledger,
	store flow.CheckpointStore,
	notaryService *notary.Service,
) (*Node, error) {
	logger := conf.Logger.WithField("moniker", me.Name)

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := pipeline.NewMetrics(metricsRegistry)
	if err != nil {
		return nil, err
	}

	history, err := pipeline.NewHistory(conf.HistoryFlows, conf.HistoryPerFlow)
	if err != nil {
		return nil, err
	}

	hospital := flow.NewStaffedHospital(conf.MaxFlowRetries, conf.RetryInitial, conf.RetryMax, logger)

	client := notary.NewClient(me, key, trans, directory, ledger, conf.NotaryRetry, logger)

	registry := flow.NewRegistry()
	if err := flows.Register(registry, ledger, client); err != nil {
		return nil, err
	}

	manager := flow.NewManager(flow.Config{
		Me:        me,
		Registry:  registry,
		Store:     store,
		Transport: trans,
		Identity:  directory,
		Services: &flow.Services{
			Identity: directory,
			Key:      key,
			Clock:    conf.Clock,
		},
		Interceptors: []flow.Interceptor{
			metrics.Interceptor(),
			history.Interceptor(),
			pipeline.NewHospitalising(hospital).Interceptor(),
			pipeline.Logging(),
		},
		Workers:           conf.FlowWorkers,
		Clock:             conf.Clock,
		DeliveryTimeout:   conf.DeliveryTimeout,
		RedeliveryInitial: conf.RedeliveryInitial,
		RedeliveryMax:     conf.RedeliveryMax,
		Logger:            logger,
	})

	node := Node{
		conf:                 conf,
		logger:               logger,
		me:                   me,
		key:                  key,
		directory:            directory,
		trans:                trans,
		netCh:                trans.Consumer(),
		rpcPool:              workerpool.New(conf.RPCWorkers),
		ledger:               ledger,
		store:                store,
		manager:              manager,
		hospital:             hospital,
		history:              history,
		metrics:              metricsRegistry,
		notaryService:        notaryService,
		shutdownCh:           make(chan struct{}),
		sessionRequests:      atomic.NewUint64(0),
		notarisationRequests: atomic.NewUint64(0),
		rpcErrors:            atomic.NewUint64(0),
	}

	return &node, nil
}

// Init restores the checkpointed flows and sets the node running. Flows
// registered through Registry after Init are not restored.
func (n *Node) Init() error {
	restored, err := n.manager.Restore()
	if err != nil {
		return err
	}
	n.logger.WithField("flows", restored).Debug("Restored flows")

	n.start = time.Now()
	n.setState(Running)

	return nil
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	n.logger.Debug("runasync")

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.run()
	}()
}

// Run consumes the transport until the node shuts down.
func (n *Node) Run() {
	n.wg.Add(1)
	defer n.wg.Done()
	n.run()
}

func (n *Node) run() {
	for {
		select {
		case rpc := <-n.netCh:
			n.rpcPool.Submit(func() {
				n.processRPC(rpc)
			})
		case <-n.shutdownCh:
			return
		}
	}
}

// Suspend stops taking new work. The notary service, if any, answers
// Unavailable until Resume.
func (n *Node) Suspend() {
	if n.getState() != Running {
		return
	}
	n.logger.Debug("Suspend")
	n.setState(Suspended)
	if n.notaryService != nil {
		n.notaryService.SetAvailable(false)
	}
}

// Resume undoes Suspend.
func (n *Node) Resume() {
	if n.getState() != Suspended {
		return
	}
	n.logger.Debug("Resume")
	if n.notaryService != nil {
		n.notaryService.SetAvailable(true)
	}
	n.setState(Running)
}

// Shutdown shuts down the node. Running flows are stopped where they are and
// resume from their checkpoints at the next start.
func (n *Node) Shutdown() error {
	if n.getState() == Shutdown {
		return nil
	}

	n.logger.Debug("Shutdown")
	n.logStats()

	n.setState(Shutdown)

	close(n.shutdownCh)
	n.waitRoutines()

	n.rpcPool.StopWait()
	n.manager.Stop()

	var result *multierror.Error
	if err := n.trans.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing transport: %w", err))
	}
	if err := n.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing checkpoint store: %w", err))
	}
	if err := n.ledger.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing ledger: %w", err))
	}

	return result.ErrorOrNil()
}

// StartFlow starts a flow registered with Registry.
func (n *Node) StartFlow(logic flow.Logic) (*flow.FlowHandle, error) {
	if s := n.getState(); s != Running {
		return nil, fmt.Errorf("node is %s", s)
	}
	return n.manager.Start(logic)
}

// Finalise starts a finality flow for stx, which must be signed by every
// required party but the notary.
func (n *Node) Finalise(stx *transaction.SignedTransaction, statesToRecord ledger.StatesToRecord, peers map[string]ledger.StatesToRecord) (*flow.FlowHandle, error) {
	logic, err := flows.NewFinalityFlow(stx, statesToRecord, peers)
	if err != nil {
		return nil, err
	}
	return n.StartFlow(logic)
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	s := n.manager.Stats()

	admissions, retries, discharged := n.hospital.Stats()

	notaryType := string(identity.NoNotary)
	if info, ok := n.directory.NodeByName(n.me.Name); ok {
		notaryType = string(info.Notary)
	}

	var uptime time.Duration
	if !n.start.IsZero() {
		uptime = time.Since(n.start)
	}

	s["hospital_admissions"] = strconv.FormatUint(admissions, 10)
	s["hospital_retries"] = strconv.FormatUint(retries, 10)
	s["hospital_discharged"] = strconv.FormatUint(discharged, 10)
	s["flows_observed"] = strconv.Itoa(len(n.hospital.Observed()))
	s["session_requests"] = strconv.FormatUint(n.sessionRequests.Load(), 10)
	s["notarisation_requests"] = strconv.FormatUint(n.notarisationRequests.Load(), 10)
	s["rpc_errors"] = strconv.FormatUint(n.rpcErrors.Load(), 10)
	s["rpc_pool_waiting"] = strconv.Itoa(n.rpcPool.WaitingQueueSize())
	s["num_peers"] = strconv.Itoa(n.directory.Len() - 1)
	s["notary"] = notaryType
	s["uptime"] = strconv.FormatFloat(uptime.Seconds(), 'f', 2, 64)
	s["state"] = n.getState().String()
	s["moniker"] = n.me.Name

	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	fields := logrus.Fields{}
	for k, v := range stats {
		fields[k] = v
	}
	n.logger.WithFields(fields).Debug("Stats")
}

// Me returns the party of the node
func (n *Node) Me() identity.Party {
	return n.me
}

// Registry is where applications register their flows, before Init.
func (n *Node) Registry() *flow.Registry {
	return n.manager.Registry()
}

// Ledger ...
func (n *Node) Ledger() ledger.Ledger {
	return n.ledger
}

// Directory ...
func (n *Node) Directory() *identity.Directory {
	return n.directory
}

// Metrics returns the registry of the node's prometheus collectors.
func (n *Node) Metrics() prometheus.Gatherer {
	return n.metrics
}

// GetFlows returns the running flows
func (n *Node) GetFlows() []flow.FlowInfo {
	return n.manager.Flows()
}

// GetFlow returns a running flow
func (n *Node) GetFlow(id flow.FlowID) (flow.FlowInfo, bool) {
	return n.manager.Flow(id)
}

// GetFlowHistory returns the last transitions of a flow.
func (n *Node) GetFlowHistory(id flow.FlowID) []pipeline.Record {
	return n.history.Records(id)
}

// GetObservedFlows returns the flows the hospital keeps for observation.
func (n *Node) GetObservedFlows() []flow.FlowID {
	return n.hospital.Observed()
}

// KillFlow ...
func (n *Node) KillFlow(id flow.FlowID) error {
	return n.manager.Kill(id)
}

// RetryFlow retries an errored flow from its last checkpoint.
func (n *Node) RetryFlow(id flow.FlowID) error {
	return n.manager.Retry(id)
}

// GetTransaction returns a transaction and its status.
func (n *Node) GetTransaction(id crypto.SecureHash) (*transaction.SignedTransaction, ledger.TransactionStatus, error) {
	return n.ledger.GetTransactionWithStatus(id)
}
