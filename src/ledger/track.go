package ledger

import (
	"errors"
	"sync"

	"github.com/mosaicnetworks/notarium/src/transaction"
)

// SubscriptionBuffer is the number of updates a subscriber may fall behind
// before its subscription is closed.
const SubscriptionBuffer = 256

// ErrSlowSubscriber is the Err of a subscription closed because its
// updates were not consumed.
var ErrSlowSubscriber = errors.New("subscriber fell behind")

// Subscription streams transactions as they become verified.
type Subscription struct {
	feed    *feed
	updates chan *transaction.SignedTransaction

	mu     sync.Mutex
	closed bool
	err    error
}

// Updates is closed when the subscription ends.
func (s *Subscription) Updates() <-chan *transaction.SignedTransaction {
	return s.updates
}

// Err tells why the subscription ended, nil if it was closed by Close or
// by the ledger.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.feed.unsubscribe(s)
}

func (s *Subscription) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.updates)
}

type feed struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newFeed() *feed {
	return &feed{subs: make(map[*Subscription]struct{})}
}

func (f *feed) subscribe() *Subscription {
	s := &Subscription{
		feed:    f,
		updates: make(chan *transaction.SignedTransaction, SubscriptionBuffer),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		s.end(nil)
		return s
	}
	f.subs[s] = struct{}{}
	return s
}

func (f *feed) unsubscribe(s *Subscription) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
	s.end(nil)
}

func (f *feed) publish(stx *transaction.SignedTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		select {
		case s.updates <- stx:
		default:
			delete(f.subs, s)
			s.end(ErrSlowSubscriber)
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for s := range f.subs {
		delete(f.subs, s)
		s.end(nil)
	}
}
