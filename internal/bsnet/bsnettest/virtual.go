// Package bsnettest provides an in-process virtual bsnet.Network for tests,
// adapted from the teacher's exchange/bitswap/testnet/virtual.go: peers are
// registered on a shared switchboard and messages are delivered directly to
// the destination's Receiver, skipping the wire, with an injectable delay to
// exercise timing-sensitive behavior (rebroadcast, timeouts).
package bsnettest

import (
	"context"
	"fmt"
	"sync"

	delay "github.com/ipfs/go-ipfs-delay"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/cyberfly-io/rust-helia-sub001/internal/bsnet"
	"github.com/cyberfly-io/rust-helia-sub001/internal/heliaerr"
)

// VirtualNetwork is a shared switchboard connecting any number of
// bsnet.Network clients created via Adapter.
type VirtualNetwork struct {
	mu      sync.Mutex
	clients map[peer.ID]*client
	delay   delay.D
}

// New returns a fresh switchboard. d may be delay.Fixed(0) for no delay.
func New(d delay.D) *VirtualNetwork {
	return &VirtualNetwork{
		clients: make(map[peer.ID]*client),
		delay:   d,
	}
}

// Adapter returns a bsnet.Network bound to p, registered on the
// switchboard so other adapters can reach it.
func (n *VirtualNetwork) Adapter(p peer.ID) bsnet.Network {
	c := &client{local: p, net: n}
	n.mu.Lock()
	n.clients[p] = c
	n.mu.Unlock()
	return c
}

func (n *VirtualNetwork) hasPeer(p peer.ID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.clients[p]
	return ok
}

func (n *VirtualNetwork) receiverFor(p peer.ID) (*client, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.clients[p]
	return c, ok
}

func (n *VirtualNetwork) deliver(from peer.ID, to peer.ID, m *bsnet.Message) {
	n.delay.Wait()

	dst, ok := n.receiverFor(to)
	if !ok {
		return
	}
	r := dst.delegate()
	if r == nil {
		return
	}
	r.ReceiveMessage(context.Background(), from, m)
}

// client is a bsnet.Network bound to one peer on the virtual switchboard.
type client struct {
	local peer.ID
	net   *VirtualNetwork

	mu sync.Mutex
	r  bsnet.Receiver
}

func (c *client) Self() peer.ID { return c.local }

func (c *client) SetDelegate(r bsnet.Receiver) {
	c.mu.Lock()
	c.r = r
	c.mu.Unlock()
}

func (c *client) delegate() bsnet.Receiver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.r
}

func (c *client) Connect(ctx context.Context, p peer.ID) error {
	if !c.net.hasPeer(p) {
		return fmt.Errorf("%w: %s not on virtual network", heliaerr.ErrNotConnected, p)
	}
	if dst, ok := c.net.receiverFor(p); ok {
		if r := dst.delegate(); r != nil {
			r.PeerConnected(c.local)
		}
	}
	if r := c.delegate(); r != nil {
		r.PeerConnected(p)
	}
	return nil
}

func (c *client) SendMessage(ctx context.Context, p peer.ID, m *bsnet.Message) error {
	if !c.net.hasPeer(p) {
		return fmt.Errorf("%w: %s not on virtual network", heliaerr.ErrNotConnected, p)
	}
	go c.net.deliver(c.local, p, m)
	return nil
}
