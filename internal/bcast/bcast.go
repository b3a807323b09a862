// Package bcast implements the bounded broadcast/subscribe primitive that
// lets Bitswap's "want" waiters resolve on a notification rather than by
// polling the blockstore (see spec §9, "Coroutine-style waits").
//
// This generalizes the teacher's exchange/bitswap notifications.PubSub: one
// producer (the swarm event loop, after storing a received block) fans out
// to many subscribers keyed by CID. A subscriber that lags behind the
// bounded channel simply misses that notification; callers are expected to
// re-check their own source of truth (the blockstore) on every wakeup, so a
// dropped notification costs at most a slower resolve, never a lost update.
package bcast

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
)

const subscriberBuffer = 1

// Broadcaster fans Publish(cid) out to every currently-registered Subscribe
// waiter for that cid.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[cid.Cid][]chan struct{}
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[cid.Cid][]chan struct{})}
}

// Subscribe registers interest in c. The returned channel receives a value
// each time Publish(c) is called while the subscription is registered (at
// most one pending value is buffered). The channel is never closed; once ctx
// is done the subscription is unregistered and nothing more is delivered.
// Calling the returned cancel function unregisters the subscription; it is
// safe to call more than once.
func (b *Broadcaster) Subscribe(ctx context.Context, c cid.Cid) (<-chan struct{}, func()) {
	ch := make(chan struct{}, subscriberBuffer)

	b.mu.Lock()
	b.subs[c] = append(b.subs[c], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[c]
			for i, sub := range list {
				if sub == ch {
					b.subs[c] = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[c]) == 0 {
				delete(b.subs, c)
			}
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel
}

// Publish wakes every current subscriber of c. A subscriber whose buffer is
// already full (i.e. already has a pending wakeup) is skipped rather than
// blocked on — this is the "subscriber lag" case spec §5 explicitly
// tolerates.
func (b *Broadcaster) Publish(c cid.Cid) {
	b.mu.Lock()
	subs := append([]chan struct{}(nil), b.subs[c]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// NumSubscribers reports how many waiters are currently registered for c.
func (b *Broadcaster) NumSubscribers(c cid.Cid) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[c])
}
