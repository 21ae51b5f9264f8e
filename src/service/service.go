package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/mosaicnetworks/notarium/src/flow/pipeline"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/ledger"
	"github.com/mosaicnetworks/notarium/src/node"
	"github.com/mosaicnetworks/notarium/src/transaction"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Service serves the node's HTTP API.
type Service struct {
	bindAddress string
	node        *node.Node
	router      *mux.Router
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		router:      mux.NewRouter(),
		logger:      logger,
	}

	service.registerHandlers()

	service.server = &http.Server{
		Addr:    bindAddress,
		Handler: service.router,
	}

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering notarium API handlers")

	s.router.Use(cors)

	s.router.HandleFunc("/stats", s.GetStats).Methods(http.MethodGet)
	s.router.HandleFunc("/flows", s.GetFlows).Methods(http.MethodGet)
	s.router.HandleFunc("/flows/{id}", s.GetFlow).Methods(http.MethodGet)
	s.router.HandleFunc("/flows/{id}/kill", s.KillFlow).Methods(http.MethodPost)
	s.router.HandleFunc("/flows/{id}/retry", s.RetryFlow).Methods(http.MethodPost)
	s.router.HandleFunc("/transactions/{id}", s.GetTransaction).Methods(http.MethodGet)
	s.router.HandleFunc("/recovery", s.GetRecovery).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.node.Metrics(), promhttp.HandlerOpts{}))
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// Handler returns the router, for embedding the API in another server.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve calls ListenAndServe. This is a blocking call which returns when the
// server fails or Shutdown is called.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving notarium API")

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error(err)
	}
}

// Shutdown stops the server gracefully.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.node.GetStats())
}

// GetFlows ...
func (s *Service) GetFlows(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.node.GetFlows())
}

// FlowResponse is the body of GET /flows/{id}. History is empty for flows the
// history interceptor no longer remembers.
type FlowResponse struct {
	flow.FlowInfo
	History []pipeline.Record
}

// GetFlow ...
func (s *Service) GetFlow(w http.ResponseWriter, r *http.Request) {
	id := flow.FlowID(mux.Vars(r)["id"])

	info, ok := s.node.GetFlow(id)
	if !ok {
		http.Error(w, fmt.Sprintf("flow %s not found", id), http.StatusNotFound)
		return
	}

	s.respond(w, FlowResponse{
		FlowInfo: info,
		History:  s.node.GetFlowHistory(id),
	})
}

// KillFlow ...
func (s *Service) KillFlow(w http.ResponseWriter, r *http.Request) {
	s.flowCommand(w, r, "kill", s.node.KillFlow)
}

// RetryFlow ...
func (s *Service) RetryFlow(w http.ResponseWriter, r *http.Request) {
	s.flowCommand(w, r, "retry", s.node.RetryFlow)
}

func (s *Service) flowCommand(w http.ResponseWriter, r *http.Request, name string, fn func(flow.FlowID) error) {
	id := flow.FlowID(mux.Vars(r)["id"])

	if _, ok := s.node.GetFlow(id); !ok {
		http.Error(w, fmt.Sprintf("flow %s not found", id), http.StatusNotFound)
		return
	}

	if err := fn(id); err != nil {
		s.logger.WithError(err).WithField("flow_id", id).Errorf("Command %s", name)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// TransactionResponse is the body of GET /transactions/{id}.
type TransactionResponse struct {
	ID                    crypto.SecureHash
	Status                string
	Inputs                []transaction.StateRef
	References            []transaction.StateRef
	Outputs               []transaction.TransactionState
	Commands              []transaction.Command
	Attachments           []crypto.SecureHash
	Notary                *identity.Party
	TimeWindow            *transaction.TimeWindow
	NetworkParametersHash *crypto.SecureHash
	RequiredSigningKeys   []string
	Sigs                  []transaction.TransactionSignature
}

// GetTransaction ...
func (s *Service) GetTransaction(w http.ResponseWriter, r *http.Request) {
	param := mux.Vars(r)["id"]

	id, err := crypto.ParseSecureHash(param)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing transaction id %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stx, status, err := s.node.GetTransaction(id)
	if err != nil {
		if common.IsStore(err, common.KeyNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Errorf("Retrieving transaction %s", id)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	wtx, err := stx.Tx()
	if err != nil {
		s.logger.WithError(err).Errorf("Decoding transaction %s", id)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.respond(w, TransactionResponse{
		ID:                    id,
		Status:                status.String(),
		Inputs:                wtx.Inputs(),
		References:            wtx.References(),
		Outputs:               wtx.Outputs(),
		Commands:              wtx.Commands(),
		Attachments:           wtx.Attachments(),
		Notary:                wtx.Notary(),
		TimeWindow:            wtx.TimeWindow(),
		NetworkParametersHash: wtx.NetworkParametersHash(),
		RequiredSigningKeys:   wtx.RequiredSigningKeys(),
		Sigs:                  stx.Sigs,
	})
}

// GetRecovery queries the distribution records. Query parameters:
//
//	type      Sender, Receiver or All (default)
//	from      RFC3339 lower bound, default the epoch
//	until     RFC3339 upper bound, default now
//	order     asc or desc, default asc
//	excluding comma separated transaction ids
func (s *Service) GetRecovery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	recordType := ledger.All
	if t := q.Get("type"); t != "" {
		var err error
		if recordType, err = ledger.ParseDistributionRecordType(t); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	from, err := parseTime(q.Get("from"), ledger.Epoch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	until, err := parseTime(q.Get("until"), time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	window, err := ledger.NewRecoveryTimeWindow(from, until)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	order := ledger.Ascending
	switch q.Get("order") {
	case "", "asc":
	case "desc":
		order = ledger.Descending
	default:
		http.Error(w, fmt.Sprintf("unknown order %q", q.Get("order")), http.StatusBadRequest)
		return
	}

	var excluding []crypto.SecureHash
	if e := q.Get("excluding"); e != "" {
		for _, p := range strings.Split(e, ",") {
			id, err := crypto.ParseSecureHash(p)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			excluding = append(excluding, id)
		}
	}

	records, err := s.node.Ledger().QueryDistributionRecords(window, recordType, excluding, order)
	if err != nil {
		s.logger.WithError(err).Errorf("Querying distribution records in %s", window)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.respond(w, records)
}

func parseTime(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func (s *Service) respond(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Encoding response")
	}
}
