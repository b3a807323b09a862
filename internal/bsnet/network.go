package bsnet

import (
	"context"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/cyberfly-io/rust-helia-sub001/internal/heliaerr"
)

var log = logging.Logger("bsnet")

// ProtocolBitswap is the wire protocol ID from spec §6.
const ProtocolBitswap = protocol.ID("/ipfs/bitswap/1.2.0")

// Receiver is the event-loop side of the network: it is told about inbound
// messages and connection lifecycle events. Mirrors the teacher's
// bsnet.Receiver interface consumed by exchange/bitswap/network/ipfs_impl.go.
type Receiver interface {
	ReceiveMessage(ctx context.Context, from peer.ID, msg *Message)
	ReceiveError(from peer.ID, err error)
	PeerConnected(p peer.ID)
	PeerDisconnected(p peer.ID)
}

// Network is §4.D's contract: per-peer send with bounded backpressure, a
// cold stream of inbound messages (delivered via SetDelegate/Receiver
// instead, matching the teacher's delegate style), and connect/disconnect
// hooks driven by the underlying libp2p host.
type Network interface {
	SendMessage(ctx context.Context, p peer.ID, m *Message) error
	Connect(ctx context.Context, p peer.ID) error
	SetDelegate(r Receiver)
	Self() peer.ID
}

// impl is a Network backed by a real libp2p host, adapted from the
// teacher's exchange/bitswap/network/ipfs_impl.go. Unlike the teacher, which
// opened one stream per SendMessage call, impl keeps a persistent duplex
// stream per peer (msgQueue) so that within-peer ordering (§5: "within a
// single peer's stream, messages are delivered in send order") holds
// without relying on the transport to serialize separate streams.
type impl struct {
	host host.Host

	mu       sync.Mutex
	queues   map[peer.ID]*msgQueue
	receiver Receiver
}

// NewFromHost returns a Network driven by h, registering a stream handler
// for ProtocolBitswap and a network notifiee for connect/disconnect events
// — the same registration shape as the teacher's NewFromIpfsHost.
func NewFromHost(h host.Host) Network {
	n := &impl{
		host:   h,
		queues: make(map[peer.ID]*msgQueue),
	}
	h.SetStreamHandler(ProtocolBitswap, n.handleNewStream)
	h.Network().Notify((*notifiee)(n))
	return n
}

func (n *impl) Self() peer.ID { return n.host.ID() }

func (n *impl) SetDelegate(r Receiver) {
	n.mu.Lock()
	n.receiver = r
	n.mu.Unlock()
}

func (n *impl) delegate() Receiver {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.receiver
}

func (n *impl) Connect(ctx context.Context, p peer.ID) error {
	return n.host.Connect(ctx, peer.AddrInfo{ID: p})
}

// queueFor returns (creating if needed) the outbound queue for p.
func (n *impl) queueFor(p peer.ID) *msgQueue {
	n.mu.Lock()
	defer n.mu.Unlock()

	q, ok := n.queues[p]
	if !ok {
		q = newMsgQueue(p, n)
		n.queues[p] = q
		go q.run()
	}
	return q
}

// dropQueue tears down and forgets p's queue, called on disconnect.
func (n *impl) dropQueue(p peer.ID) {
	n.mu.Lock()
	q, ok := n.queues[p]
	if ok {
		delete(n.queues, p)
	}
	n.mu.Unlock()
	if ok {
		q.close()
	}
}

// SendMessage enqueues m for p; backpressure and drop policy live in
// msgQueue (§4.D).
func (n *impl) SendMessage(ctx context.Context, p peer.ID, m *Message) error {
	if n.host.Network().Connectedness(p) != network.Connected {
		return fmt.Errorf("%w: %s", heliaerr.ErrNotConnected, p)
	}
	n.queueFor(p).enqueue(m)
	return nil
}

func (n *impl) openStream(ctx context.Context, p peer.ID) (network.Stream, error) {
	if err := n.host.Connect(ctx, peer.AddrInfo{ID: p}); err != nil {
		return nil, err
	}
	return n.host.NewStream(ctx, p, ProtocolBitswap)
}

func (n *impl) handleNewStream(s network.Stream) {
	defer s.Close()

	p := s.Conn().RemotePeer()
	for {
		data, err := ReadFrame(s)
		if err != nil {
			if r := n.delegate(); r != nil {
				r.ReceiveError(p, err)
			}
			return
		}
		msg, err := Unmarshal(data)
		if err != nil {
			if r := n.delegate(); r != nil {
				r.ReceiveError(p, err)
			}
			continue
		}
		if r := n.delegate(); r != nil {
			r.ReceiveMessage(context.Background(), p, msg)
		}
	}
}

// notifiee adapts libp2p connection events into Receiver.PeerConnected /
// PeerDisconnected, mirroring the teacher's netNotifiee.
type notifiee impl

func (nn *notifiee) impl() *impl { return (*impl)(nn) }

func (nn *notifiee) Connected(_ network.Network, c network.Conn) {
	if r := nn.impl().delegate(); r != nil {
		r.PeerConnected(c.RemotePeer())
	}
}

func (nn *notifiee) Disconnected(_ network.Network, c network.Conn) {
	p := c.RemotePeer()
	nn.impl().dropQueue(p)
	if r := nn.impl().delegate(); r != nil {
		r.PeerDisconnected(p)
	}
}

func (nn *notifiee) OpenedStream(network.Network, network.Stream) {}
func (nn *notifiee) ClosedStream(network.Network, network.Stream) {}
func (nn *notifiee) Listen(network.Network, ma.Multiaddr)         {}
func (nn *notifiee) ListenClose(network.Network, ma.Multiaddr)    {}
