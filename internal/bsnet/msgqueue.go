package bsnet

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// outboundQueueSize bounds the per-peer outbound queue (§4.D backpressure:
// "per-peer outbound queue is bounded; on overflow, oldest WANTs are
// dropped but blocks and CANCELs are never dropped").
const outboundQueueSize = 256

const sendTimeout = 30 * time.Second

// msgQueue is the per-peer outbound pump, adapted from the teacher's
// peermanager.go msgQueue/runQueue: messages accumulate in a pending
// buffer and a single writer goroutine flushes them onto one persistent
// stream to the peer. Messages are written as they were enqueued; wantlist
// updates are not merged or replaced. Messages carrying blocks, presences or
// cancels are kept in a separate list that is never trimmed.
type msgQueue struct {
	p   peer.ID
	net *impl

	mu      sync.Mutex
	pending []*Message // only WANT-ish wantlist-only messages are droppable
	blocks  []*Message // blocks/cancels: never dropped
	work    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newMsgQueue(p peer.ID, net *impl) *msgQueue {
	return &msgQueue{
		p:    p,
		net:  net,
		work: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// enqueue applies the §4.D backpressure policy: a message containing only
// non-cancel wantlist entries (a plain WANT broadcast) is droppable under
// overflow; anything carrying blocks or cancel entries is never dropped.
func (q *msgQueue) enqueue(m *Message) {
	droppable := len(m.Blocks) == 0 && len(m.Presences) == 0 && allDroppableEntries(m.Wantlist)

	q.mu.Lock()
	if droppable {
		if len(q.pending)+len(q.blocks) >= outboundQueueSize && len(q.pending) > 0 {
			q.pending = q.pending[1:] // drop the oldest droppable WANT
		}
		q.pending = append(q.pending, m)
	} else {
		q.blocks = append(q.blocks, m)
	}
	q.mu.Unlock()

	select {
	case q.work <- struct{}{}:
	default:
	}
}

func allDroppableEntries(entries []Entry) bool {
	for _, e := range entries {
		if e.Cancel {
			return false
		}
	}
	return true
}

func (q *msgQueue) drain() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append(q.blocks, q.pending...)
	q.blocks = nil
	q.pending = nil
	return out
}

func (q *msgQueue) run() {
	var stream streamWriter
	for {
		select {
		case <-q.work:
			msgs := q.drain()
			if len(msgs) == 0 {
				continue
			}
			if stream == nil {
				ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
				s, err := q.net.openStream(ctx, q.p)
				cancel()
				if err != nil {
					log.Debugf("bsnet: open stream to %s: %s", q.p, err)
					continue
				}
				stream = s
			}
			for _, m := range msgs {
				if err := WriteFrame(stream, m.Marshal()); err != nil {
					log.Debugf("bsnet: send to %s: %s", q.p, err)
					stream.Close()
					stream = nil
					break
				}
			}
		case <-q.done:
			if stream != nil {
				stream.Close()
			}
			return
		}
	}
}

func (q *msgQueue) close() {
	q.once.Do(func() { close(q.done) })
}

// streamWriter is the subset of network.Stream msgQueue needs; a separate
// interface keeps this file testable without a live libp2p stream.
type streamWriter interface {
	Write(p []byte) (int, error)
	Close() error
}
