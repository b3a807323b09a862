// Package gateway implements §4.G's "HTTP Gateway Router variant": the same
// dht.Router interface backed by a static list of trustless-gateway URLs
// instead of a live Kademlia swarm.
//
// Grounded on ipfs-rainbow/setup.go's routingv1client/httpcontentrouter
// wiring, simplified to the spec's contract: synthesize a Provider per
// configured URL and fail every other operation (Provide, FindPeers, Put,
// Get) with ErrOperationNotSupported.
package gateway

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"

	"github.com/cyberfly-io/rust-helia-sub001/internal/dht"
	"github.com/cyberfly-io/rust-helia-sub001/internal/heliaerr"
)

// Router implements dht.Router over a fixed set of gateway base URLs.
type Router struct {
	urls []string
}

// New returns a Router that treats each of urls as a synthetic provider.
func New(urls []string) *Router {
	cp := make([]string, len(urls))
	copy(cp, urls)
	return &Router{urls: cp}
}

// FindProviders returns one synthetic Provider per configured gateway URL,
// each identified by a peer ID derived from the URL (no real libp2p
// identity backs it; callers fetch content over HTTP, not Bitswap).
func (r *Router) FindProviders(ctx context.Context, c cid.Cid) (<-chan dht.Provider, error) {
	out := make(chan dht.Provider, len(r.urls))
	for _, u := range r.urls {
		id, err := derivePeerID(u)
		if err != nil {
			continue
		}
		out <- dht.Provider{ID: id, Addrs: []string{u}}
	}
	close(out)
	return out, nil
}

// Provide is unsupported: a gateway has no provide side.
func (r *Router) Provide(ctx context.Context, c cid.Cid) error {
	return heliaerr.ErrOperationNotSupported
}

// FindPeers is unsupported: there is no peer routing over a gateway.
func (r *Router) FindPeers(ctx context.Context, p peer.ID) (peer.AddrInfo, error) {
	return peer.AddrInfo{}, heliaerr.ErrOperationNotSupported
}

// Put is unsupported: gateways are read-only for DHT records.
func (r *Router) Put(ctx context.Context, key string, value []byte) error {
	return heliaerr.ErrOperationNotSupported
}

// Get is unsupported: IPNS/record resolution over a plain gateway is a
// separate (HTTP) path, not the DHT record interface.
func (r *Router) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, heliaerr.ErrOperationNotSupported
}

func derivePeerID(url string) (peer.ID, error) {
	mh, err := multihash.Sum([]byte(url), multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return peer.ID(string(mh)), nil
}
