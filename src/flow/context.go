package flow

import (
	"crypto/ecdsa"
	"sort"
	"time"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/sirupsen/logrus"
)

// Services are the node services every flow can use.
type Services struct {
	Identity identity.IdentityService
	Key      *ecdsa.PrivateKey
	Clock    common.Clock
}

// Context is handed to Logic.Resume. Sessions opened through it become part
// of the flow state at the next suspension point.
type Context struct {
	id       FlowID
	flowName string
	me       identity.Party
	sessions map[SessionID]*SessionState
	services *Services
	logger   *logrus.Entry
}

// FlowID ...
func (fc *Context) FlowID() FlowID {
	return fc.id
}

// FlowName is the registered name of the running logic.
func (fc *Context) FlowName() string {
	return fc.flowName
}

// OurIdentity is the party the flow runs as.
func (fc *Context) OurIdentity() identity.Party {
	return fc.me
}

// Services ...
func (fc *Context) Services() *Services {
	return fc.services
}

// Logger ...
func (fc *Context) Logger() *logrus.Entry {
	return fc.logger
}

// Now reads the node clock.
func (fc *Context) Now() time.Time {
	if fc.services != nil && fc.services.Clock != nil {
		return fc.services.Clock.Now()
	}
	return time.Now()
}

// InitiateFlow opens a session with party. The responder registered for the
// running logic is started on the counterparty when the session is first
// used.
func (fc *Context) InitiateFlow(party identity.Party) SessionID {
	id := NewSessionID()
	fc.sessions[id] = &SessionState{
		ID:             id,
		Counterparty:   party.Name,
		Initiator:      true,
		InitiatingFlow: fc.flowName,
		NextSendSeq:    1,
	}
	return id
}

// InitiatingSession returns the session that started a responder flow.
func (fc *Context) InitiatingSession() (SessionID, bool) {
	for id, s := range fc.sessions {
		if !s.Initiator {
			return id, true
		}
	}
	return "", false
}

// Counterparty returns the name of the party at the other end of a session.
func (fc *Context) Counterparty(id SessionID) (identity.Party, bool) {
	s, ok := fc.sessions[id]
	if !ok {
		return identity.Party{}, false
	}
	if fc.services != nil && fc.services.Identity != nil {
		if p, ok := fc.services.Identity.PartyByName(s.Counterparty); ok {
			return p, true
		}
	}
	return identity.Party{Name: s.Counterparty}, true
}

// Sessions returns the ids of every session of the flow, sorted.
func (fc *Context) Sessions() []SessionID {
	res := make([]SessionID, 0, len(fc.sessions))
	for id := range fc.sessions {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}
