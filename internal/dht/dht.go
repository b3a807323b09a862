// Package dht implements §4.G of the Helia core spec: provider discovery
// and mutable record storage over Kademlia, plus the query manager that
// registers a query's result channel before the query is dispatched so a
// synchronously-arriving result can never race past its own registration.
//
// Grounded on the oascigil-go-libp2p-kad-dht routing.go shapes (PutValue/
// GetValue/FindProvidersAsync/FindPeer/GetClosestPeers) — here consumed as
// the real github.com/libp2p/go-libp2p-kad-dht library rather than
// reimplemented, since the pack ships it as a real dependency.
package dht

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/cyberfly-io/rust-helia-sub001/internal/heliaerr"
)

var log = logging.Logger("dht")

const maxProvidersPerRequest = 20

const providerBufferSize = 16

// DefaultQueryTimeout is §4.G's default 30-second query deadline.
const DefaultQueryTimeout = 30 * time.Second

// Provider is one result of find_providers, carrying whatever addresses the
// query discovered for that peer.
type Provider struct {
	ID    peer.ID
	Addrs []multiaddrString
}

// multiaddrString avoids importing go-multiaddr here solely for a field
// type the Router never parses, only forwards; callers that need
// ma.Multiaddr convert it themselves.
type multiaddrString = string

// Router is the §4.G Provider/Record interface; KadRouter and the gateway
// variant (internal/dht/gateway) both implement it so internal/ipns and
// cmd/heliad can depend on the interface alone.
type Router interface {
	FindProviders(ctx context.Context, c cid.Cid) (<-chan Provider, error)
	Provide(ctx context.Context, c cid.Cid) error
	FindPeers(ctx context.Context, p peer.ID) (peer.AddrInfo, error)
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// QueryID identifies one in-flight Kademlia query in the manager below.
type QueryID uint64

// KadRouter wraps a live *kaddht.IpfsDHT.
type KadRouter struct {
	dht          *kaddht.IpfsDHT
	queryTimeout time.Duration

	mu      sync.Mutex
	nextID  QueryID
	queries map[QueryID]chan Provider
}

// NewKadRouter wraps d, using timeout as the default per-query deadline
// (pass 0 for DefaultQueryTimeout).
func NewKadRouter(d *kaddht.IpfsDHT, timeout time.Duration) *KadRouter {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &KadRouter{
		dht:          d,
		queryTimeout: timeout,
		queries:      make(map[QueryID]chan Provider),
	}
}

// register records ch under a fresh QueryID before the query that will feed
// it is dispatched, per §4.G's "registration happens before the query is
// dispatched to avoid a race with the result arriving synchronously".
func (r *KadRouter) register(ch chan Provider) QueryID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.queries[id] = ch
	return id
}

func (r *KadRouter) unregister(id QueryID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queries, id)
}

// InFlight reports how many queries are currently registered, for tests and
// observability.
func (r *KadRouter) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

// FindProviders dispatches a Kademlia get_providers query and streams
// results until the query completes, the timeout elapses, or the consumer
// stops pulling.
func (r *KadRouter) FindProviders(ctx context.Context, c cid.Cid) (<-chan Provider, error) {
	qctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	out := make(chan Provider, providerBufferSize)
	id := r.register(out)

	go func() {
		defer cancel()
		defer r.unregister(id)
		defer close(out)

		for info := range r.dht.FindProvidersAsync(qctx, c, maxProvidersPerRequest) {
			addrs := make([]multiaddrString, 0, len(info.Addrs))
			for _, a := range info.Addrs {
				addrs = append(addrs, a.String())
			}
			select {
			case out <- Provider{ID: info.ID, Addrs: addrs}:
			case <-qctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Provide dispatches start_providing and waits for completion.
func (r *KadRouter) Provide(ctx context.Context, c cid.Cid) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()
	return r.dht.Provide(ctx, c, true)
}

// FindPeers dispatches get_closest_peers filtered for the target, returning
// its address info.
func (r *KadRouter) FindPeers(ctx context.Context, p peer.ID) (peer.AddrInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()
	return r.dht.FindPeer(ctx, p)
}

// Put dispatches put_record; a failure is reported as ErrPublishFailed.
func (r *KadRouter) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()
	if err := r.dht.PutValue(ctx, key, value); err != nil {
		return fmt.Errorf("%w: %s", heliaerr.ErrPublishFailed, err)
	}
	return nil
}

// Get dispatches get_record; the first valid record's bytes are returned,
// or ErrNotFound/ErrTimeout.
func (r *KadRouter) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()
	val, err := r.dht.GetValue(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("get %s: %w", key, heliaerr.ErrTimeout)
		}
		return nil, fmt.Errorf("%w: %s", heliaerr.ErrNotFound, err)
	}
	return val, nil
}
