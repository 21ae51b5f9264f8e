package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/net"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const maxBatch = 64

// Outbox delivers session messages to other nodes. Every destination has its
// own queue, drained in order by one goroutine that retries a batch until
// the receiver acknowledges it, so messages of a session arrive in order.
// Receivers drop redeliveries by sequence number.
type Outbox struct {
	transport net.Transport
	identity  identity.IdentityService
	initial   time.Duration
	max       time.Duration
	logger    *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sync.Mutex
	queues map[string]*peerQueue

	sent   *atomic.Uint64
	failed *atomic.Uint64
}

type peerQueue struct {
	sync.Mutex
	pending []net.SessionMessage
	signal  chan struct{}
}

// NewOutbox ...
func NewOutbox(transport net.Transport, ids identity.IdentityService, initial, max time.Duration, logger *logrus.Entry) *Outbox {
	ctx, cancel := context.WithCancel(context.Background())
	return &Outbox{
		transport: transport,
		identity:  ids,
		initial:   initial,
		max:       max,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string]*peerQueue),
		sent:      atomic.NewUint64(0),
		failed:    atomic.NewUint64(0),
	}
}

// Send queues messages. It never blocks on the network.
func (o *Outbox) Send(msgs []OutboundMessage) {
	for _, m := range msgs {
		q := o.queue(m.To)
		if q == nil {
			return
		}
		q.Lock()
		q.pending = append(q.pending, m.Message)
		q.Unlock()
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
}

func (o *Outbox) queue(to string) *peerQueue {
	o.Lock()
	defer o.Unlock()

	if o.ctx.Err() != nil {
		return nil
	}

	q, ok := o.queues[to]
	if !ok {
		q = &peerQueue{signal: make(chan struct{}, 1)}
		o.queues[to] = q
		o.wg.Add(1)
		go o.drain(to, q)
	}
	return q
}

func (o *Outbox) drain(to string, q *peerQueue) {
	defer o.wg.Done()

	for {
		q.Lock()
		n := len(q.pending)
		if n > maxBatch {
			n = maxBatch
		}
		batch := append([]net.SessionMessage(nil), q.pending[:n]...)
		q.Unlock()

		if len(batch) == 0 {
			select {
			case <-q.signal:
				continue
			case <-o.ctx.Done():
				return
			}
		}

		if err := o.deliver(to, batch); err != nil {
			if o.ctx.Err() != nil {
				return
			}
			o.failed.Add(uint64(len(batch)))
			o.logger.WithError(err).WithField("to", to).Error("Dropping session messages")
		} else {
			o.sent.Add(uint64(len(batch)))
		}

		q.Lock()
		q.pending = q.pending[n:]
		q.Unlock()
	}
}

func (o *Outbox) deliver(to string, batch []net.SessionMessage) error {
	party, ok := o.identity.PartyByName(to)
	if !ok {
		return fmt.Errorf("unknown party %s", to)
	}
	addr, err := o.identity.AddressOf(party)
	if err != nil {
		return err
	}

	backoff := retry.NewExponential(o.initial)
	backoff = retry.WithCappedDuration(o.max, backoff)
	backoff = retry.WithJitterPercent(10, backoff)

	req := &net.SessionRequest{
		FromAddr: o.transport.LocalAddr(),
		Messages: batch,
	}

	return retry.Do(o.ctx, backoff, func(ctx context.Context) error {
		var resp net.SessionResponse
		if err := o.transport.SendSession(addr, req, &resp); err != nil {
			o.logger.WithError(err).WithField("to", to).Debug("Session messages not acknowledged, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Stats returns the number of messages delivered and dropped.
func (o *Outbox) Stats() (sent, failed uint64) {
	return o.sent.Load(), o.failed.Load()
}

// Close stops the queues. Undelivered messages are left to the checkpoints
// that carry them.
func (o *Outbox) Close() {
	o.Lock()
	o.cancel()
	o.Unlock()
	o.wg.Wait()
}
