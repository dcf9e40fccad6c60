// Package request implements the request/response correlator that matches
// outbound stanzas to their eventual reply by id. It is modeled directly on
// the teacher's ThinClient wait-map pair (client2/thin/thin.go
// sentWaitChanMap / replyWaitChanMap): a sync.Map of pending slots, each a
// channel that is closed exactly once when a reply (or an error) arrives,
// with context-based blocking waits layered on top.
package request

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/at1559/WhatsappWeb4j/binary"
)

// ErrTimeout is returned when a blocking wait's context or default timeout
// elapses before a reply arrives.
var ErrTimeout = errors.New("request: timed out waiting for reply")

// ErrClosed is returned by Register once the correlator has been closed,
// and by every wait that was still outstanding when Close ran.
var ErrClosed = errors.New("request: correlator is closed")

// DefaultTimeout is used by BlockingSend when the caller's context carries
// no deadline.
const DefaultTimeout = 30 * time.Second

// Outbound is a stanza in flight, carrying the bookkeeping the correlator
// and its callers need alongside the wire node itself. Tag exists purely
// for logging/observability — it plays no role in matching — mirroring how
// request identifiers in the teacher's thin client are opaque beyond their
// use as a map key.
type Outbound struct {
	ID   string
	Node binary.Node
	Tag  string
}

// pendingSlot is the per-id wait point: exactly one of Reply/Err is set
// once done is closed.
type pendingSlot struct {
	done  chan struct{}
	once  sync.Once
	reply binary.Node
	err   error
}

func newPendingSlot() *pendingSlot {
	return &pendingSlot{done: make(chan struct{})}
}

func (p *pendingSlot) complete(reply binary.Node, err error) {
	p.once.Do(func() {
		p.reply = reply
		p.err = err
		close(p.done)
	})
}

// Correlator tracks outstanding requests by id and resolves them when
// Complete is called with a matching id, exactly as the teacher's
// ThinClient resolves sentWaitChanMap/replyWaitChanMap entries from its
// worker() dispatch loop.
type Correlator struct {
	pending sync.Map // id -> *pendingSlot
	closed  atomic.Bool
}

// NewCorrelator returns an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{}
}

// Register creates a wait slot for id. It must be called before the
// request is sent on the wire, so a reply arriving concurrently with
// registration is never missed.
func (c *Correlator) Register(id string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.pending.Store(id, newPendingSlot())
	return nil
}

// Complete resolves the pending wait for id with reply, or with err if
// err is non-nil (used for stream:error propagation per spec §4.4, where
// each child of a stream:error is delivered to pending as an error). It is
// a no-op if no wait is registered for id — an unsolicited or
// already-timed-out reply is not an error condition for the sender.
//
// Complete deliberately leaves the slot in the map rather than deleting it:
// Wait is the side responsible for removing it, so a reply that arrives
// before (or concurrently with) the matching Wait call is never missed.
func (c *Correlator) Complete(id string, reply binary.Node, err error) {
	v, ok := c.pending.Load(id)
	if !ok {
		return
	}
	v.(*pendingSlot).complete(reply, err)
}

// CompleteAllWithError resolves every still-pending wait with err. It is
// used when the session disconnects or reconnects and no reply for any
// outstanding request will ever arrive.
func (c *Correlator) CompleteAllWithError(err error) {
	c.pending.Range(func(key, value any) bool {
		value.(*pendingSlot).complete(binary.Node{}, err)
		return true
	})
}

// Wait blocks until id's reply arrives, ctx is done, or DefaultTimeout
// elapses (whichever comes first when ctx carries no deadline).
func (c *Correlator) Wait(ctx context.Context, id string) (binary.Node, error) {
	v, ok := c.pending.Load(id)
	if !ok {
		return binary.Node{}, fmt.Errorf("request: no pending wait registered for id %q", id)
	}
	slot := v.(*pendingSlot)

	waitCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	select {
	case <-slot.done:
		c.pending.LoadAndDelete(id)
		return slot.reply, slot.err
	case <-waitCtx.Done():
		c.pending.LoadAndDelete(id)
		return binary.Node{}, ErrTimeout
	}
}

// BlockingSend registers id, invokes send, and blocks for the reply. send
// is responsible for actually writing the node to the wire; if it fails,
// the registration is torn down and the error is returned without waiting.
func (c *Correlator) BlockingSend(ctx context.Context, id string, send func() error) (binary.Node, error) {
	if err := c.Register(id); err != nil {
		return binary.Node{}, err
	}
	if err := send(); err != nil {
		c.pending.Delete(id)
		return binary.Node{}, err
	}
	return c.Wait(ctx, id)
}

// Close marks the correlator closed and resolves every outstanding wait
// with ErrClosed.
func (c *Correlator) Close() {
	c.closed.Store(true)
	c.CompleteAllWithError(ErrClosed)
}
