package enginetime

import (
	"context"
	"sync"
	"time"

	"github.com/trex-paxos/trex2/internal/nodecond"
	"github.com/trex-paxos/trex2/internal/waiting"
	"github.com/trex-paxos/trex2/paxos"
)

// retryBackoff is how long PeerSender waits after a failed send before
// retrying the same peer. An Enqueue during that wait does not cut it
// short; only cancelling ctx does.
const retryBackoff = 50 * time.Millisecond

// PeerSender keeps at most one in-flight send per peer and always sends the
// most recently enqueued message for that peer, dropping any message a
// newer one superseded before it could go out. This matches the
// Engine's own delivery model, where a stale outbound Prepare/Accept/Fixed
// is harmless to skip once a newer one for the same peer exists.
//
// Adapted from the teacher's key_runner.KeyRunner: one goroutine per active
// key (here, per peer node id), started lazily and torn down by Close.
type PeerSender struct {
	mut     sync.Mutex
	cond    *nodecond.NodeCond
	wg      *waiting.WaitGroup
	pending map[uint8]paxos.Message
	started map[uint8]bool
	closed  bool

	send func(ctx context.Context, peer uint8, msg paxos.Message) error
}

// NewPeerSender builds a PeerSender that calls send to deliver each message.
// send should itself apply any per-call timeout via ctx.
func NewPeerSender(send func(ctx context.Context, peer uint8, msg paxos.Message) error) *PeerSender {
	p := &PeerSender{
		pending: map[uint8]paxos.Message{},
		started: map[uint8]bool{},
		send:    send,
		wg:      waiting.NewWaitGroup(),
	}
	p.cond = nodecond.New(&p.mut)
	return p
}

// Enqueue records msg as the latest outbound message for peer `to` and
// starts (or wakes) that peer's retry goroutine. ctx bounds the lifetime of
// that goroutine's sends; it is typically the caller's long-lived
// background context, not a per-call one.
func (p *PeerSender) Enqueue(ctx context.Context, to uint8, msg paxos.Message) {
	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		return
	}
	p.pending[to] = msg
	first := !p.started[to]
	p.started[to] = true
	p.cond.Signal(to)
	p.mut.Unlock()

	if first {
		p.wg.Go(func() { p.runPeer(ctx, to) })
	}
}

func (p *PeerSender) runPeer(ctx context.Context, peer uint8) {
	p.mut.Lock()
	defer p.mut.Unlock()

	for {
		msg, ok := p.takeLocked(peer)
		if p.closed {
			return
		}
		if !ok {
			if err := p.cond.Wait(ctx, peer); err != nil {
				return
			}
			continue
		}

		p.mut.Unlock()
		err := p.send(ctx, peer, msg)
		p.mut.Lock()

		if err == nil {
			continue
		}

		if _, superseded := p.pending[peer]; !superseded {
			p.pending[peer] = msg
		}

		p.mut.Unlock()
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
		}
		p.mut.Lock()
	}
}

func (p *PeerSender) takeLocked(peer uint8) (paxos.Message, bool) {
	msg, ok := p.pending[peer]
	if ok {
		delete(p.pending, peer)
	}
	return msg, ok
}

// Close stops every peer goroutine and waits for them to exit.
func (p *PeerSender) Close() {
	p.mut.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mut.Unlock()
	p.wg.Wait()
}
