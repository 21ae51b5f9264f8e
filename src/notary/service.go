package notary

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/crypto/keys"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/net"
	"github.com/mosaicnetworks/notarium/src/transaction"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// ServiceConfig ...
type ServiceConfig struct {
	// Party is the notary identity. Its owning key is the single replica key
	// or a composite key over all replica keys.
	Party identity.Party

	// Validating notaries see full transactions.
	Validating bool

	// ReplicaKeys sign every notarised transaction.
	ReplicaKeys []*ecdsa.PrivateKey

	// NetworkParametersHash is the current parameters hash. Transactions
	// referring to another hash, or to none, are rejected. Unset disables
	// the check.
	NetworkParametersHash *crypto.SecureHash

	Directory  Directory
	Uniqueness UniquenessProvider
	Clock      common.Clock
}

// Service answers notarisation requests.
type Service struct {
	conf      ServiceConfig
	twChecker TimeWindowChecker
	available *atomic.Bool
	logger    *logrus.Entry
}

// NewService ...
func NewService(conf ServiceConfig, logger *logrus.Entry) (*Service, error) {
	if len(conf.ReplicaKeys) == 0 {
		return nil, fmt.Errorf("a notary needs at least one replica key")
	}
	signers := make([]string, len(conf.ReplicaKeys))
	for i, k := range conf.ReplicaKeys {
		signers[i] = keys.PublicKeyHexOf(k)
	}
	if !keys.IsFulfilledBy(conf.Party.OwningKey, signers) {
		return nil, fmt.Errorf("replica keys do not fulfil the owning key of %s", conf.Party.Name)
	}
	if conf.Uniqueness == nil {
		conf.Uniqueness = NewInmemUniquenessProvider()
	}
	if conf.Clock == nil {
		conf.Clock = common.SystemClock{}
	}

	return &Service{
		conf:      conf,
		twChecker: TimeWindowChecker{Clock: conf.Clock},
		available: atomic.NewBool(true),
		logger:    logger.WithField("prefix", "notary"),
	}, nil
}

// Party ...
func (s *Service) Party() identity.Party {
	return s.conf.Party
}

// SetAvailable toggles the service. An unavailable service answers every
// request with an Unavailable error, which clients retry.
func (s *Service) SetAvailable(available bool) {
	s.available.Store(available)
}

// Process handles a notarisation request. Failures are encoded in the
// response.
func (s *Service) Process(msg *net.NotarisationRequestMessage) *net.NotarisationResponseMessage {
	resp := &net.NotarisationResponseMessage{VerificationID: msg.VerificationID}

	sigs, nerr := s.process(msg)
	if nerr != nil {
		s.logger.WithFields(logrus.Fields{
			"tx_id":  nerr.TxID.Short(),
			"reason": nerr.Reason,
		}).Debug(nerr.Message)

		bytes, err := EncodeError(nerr)
		if err != nil {
			s.logger.WithError(err).Error("Encoding notary error")
		}
		resp.Error = bytes
		return resp
	}

	resp.Signatures = sigs
	return resp
}

// request is the part of a transaction a notary looks at.
type request struct {
	txID       crypto.SecureHash
	inputs     []transaction.StateRef
	references []transaction.StateRef
	notary     *identity.Party
	timeWindow *transaction.TimeWindow
	paramsHash *crypto.SecureHash
}

func (s *Service) process(msg *net.NotarisationRequestMessage) ([]transaction.TransactionSignature, *NotaryError) {
	if !s.available.Load() {
		return nil, newNotaryError(Unavailable, crypto.ZeroHash, "notary service unavailable")
	}

	payload, err := UnmarshalPayload(msg.TransactionPayload)
	if err != nil {
		return nil, newNotaryError(TransactionInvalid, crypto.ZeroHash, "invalid payload: %v", err)
	}

	var req *request
	var nerr *NotaryError
	if s.conf.Validating {
		req, nerr = s.validateSigned(payload)
	} else {
		req, nerr = s.validateFiltered(payload)
	}
	if nerr != nil {
		return nil, nerr
	}

	if req.notary == nil || *req.notary != s.conf.Party {
		return nil, newNotaryError(TransactionInvalid, req.txID, "transaction is not assigned to %s", s.conf.Party.Name)
	}

	requester, ok := s.conf.Directory.PartyByName(payload.RequestSignature.Requester)
	if !ok {
		return nil, newNotaryError(RequestSignatureInvalid, req.txID, "unknown requester %s", payload.RequestSignature.Requester)
	}
	request := NotarisationRequest{StatesToConsume: req.inputs, TxID: req.txID}
	if err := request.Verify(payload.RequestSignature, requester); err != nil {
		return nil, newNotaryError(RequestSignatureInvalid, req.txID, "%v", err)
	}

	if !s.twChecker.IsValid(req.timeWindow) {
		return nil, newNotaryError(TimeWindowInvalid, req.txID, "current time %v is outside %s", s.conf.Clock.Now(), req.timeWindow)
	}

	if current := s.conf.NetworkParametersHash; current != nil {
		if req.paramsHash == nil {
			return nil, newNotaryError(ParametersStale, req.txID, "transaction names no network parameters, current are %s", current.Short())
		}
		if *req.paramsHash != *current {
			return nil, newNotaryError(ParametersStale, req.txID, "parameters %s are not the current %s",
				req.paramsHash.Short(), current.Short())
		}
	}

	conflicts, err := s.conf.Uniqueness.Commit(req.inputs, req.references, req.txID)
	if err != nil {
		return nil, newNotaryError(General, req.txID, "committing inputs: %v", err)
	}
	if len(conflicts) > 0 {
		nerr := newNotaryError(Conflict, req.txID, "input states already consumed")
		nerr.Conflicts = conflicts
		return nil, nerr
	}

	sigs := make([]transaction.TransactionSignature, 0, len(s.conf.ReplicaKeys))
	for _, k := range s.conf.ReplicaKeys {
		sig, err := transaction.Sign(k, req.txID)
		if err != nil {
			return nil, newNotaryError(General, req.txID, "signing: %v", err)
		}
		sigs = append(sigs, sig)
	}

	s.logger.WithField("tx_id", req.txID.Short()).Debug("Notarised")

	return sigs, nil
}

func (s *Service) validateSigned(payload *NotarisationPayload) (*request, *NotaryError) {
	stx := payload.SignedTransaction
	if stx == nil {
		return nil, newNotaryError(TransactionInvalid, payload.TxID(), "validating notary needs the full transaction")
	}
	wtx, err := stx.Tx()
	if err != nil {
		return nil, newNotaryError(TransactionInvalid, crypto.ZeroHash, "%v", err)
	}
	if err := stx.VerifySignaturesExcept(s.conf.Party.OwningKey); err != nil {
		return nil, newNotaryError(TransactionInvalid, wtx.ID(), "%v", err)
	}
	return &request{
		txID:       wtx.ID(),
		inputs:     wtx.Inputs(),
		references: wtx.References(),
		notary:     wtx.Notary(),
		timeWindow: wtx.TimeWindow(),
		paramsHash: wtx.NetworkParametersHash(),
	}, nil
}

func (s *Service) validateFiltered(payload *NotarisationPayload) (*request, *NotaryError) {
	ftx := payload.FilteredTransaction
	if ftx == nil {
		return nil, newNotaryError(TransactionInvalid, payload.TxID(), "non-validating notary expects a filtered transaction")
	}
	if err := ftx.Verify(ftx.ID); err != nil {
		return nil, newNotaryError(TransactionInvalid, ftx.ID, "%v", err)
	}
	for _, g := range []transaction.ComponentGroup{
		transaction.InputsGroup,
		transaction.ReferencesGroup,
		transaction.NotaryGroup,
		transaction.TimeWindowGroup,
		transaction.ParametersGroup,
	} {
		if err := ftx.CheckAllComponentsVisible(g); err != nil {
			return nil, newNotaryError(TransactionInvalid, ftx.ID, "%v", err)
		}
	}
	return &request{
		txID:       ftx.ID,
		inputs:     ftx.Inputs(),
		references: ftx.References(),
		notary:     ftx.Notary(),
		timeWindow: ftx.TimeWindow(),
		paramsHash: ftx.NetworkParametersHash(),
	}, nil
}
