package bitswap

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	delay "github.com/ipfs/go-ipfs-delay"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/cyberfly-io/rust-helia-sub001/internal/blockstore"
	"github.com/cyberfly-io/rust-helia-sub001/internal/bsnet"
	"github.com/cyberfly-io/rust-helia-sub001/internal/bsnet/bsnettest"
	"github.com/cyberfly-io/rust-helia-sub001/internal/peerwantlists"
	"github.com/cyberfly-io/rust-helia-sub001/internal/wantlist"
)

func testCid(t *testing.T, s string) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte(s), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

// node is a minimal stand-in for §4.F's swarm event loop, just enough to
// exercise the Coordinator end to end over a virtual network: it routes
// inbound wantlist entries to PeerWantLists and inbound blocks into the
// blockstore, then lets Notify do the rest.
type node struct {
	id  peer.ID
	bs  *blockstore.Blockstore
	pwl *peerwantlists.PeerWantLists
	net bsnet.Network
	c   *Coordinator
}

func newNode(t *testing.T, vn *bsnettest.VirtualNetwork, id peer.ID) *node {
	t.Helper()
	bstore := blockstore.New(ds.NewMapDatastore())
	pwl := peerwantlists.New(context.Background(), 1024)
	net := vn.Adapter(id)

	n := &node{id: id, bs: bstore, pwl: pwl, net: net}
	n.c = New(id, net, bstore, pwl)
	net.SetDelegate(n)
	return n
}

func (n *node) ReceiveMessage(ctx context.Context, from peer.ID, msg *bsnet.Message) {
	for _, e := range msg.Wantlist {
		wt := wantlist.WantTypeBlock
		if e.WantType == bsnet.WantTypeHave {
			wt = wantlist.WantTypeHave
		}
		n.pwl.ReceivedWant(from, e.Cid, wt, e.SendDontHave, e.Cancel)
		if !e.Cancel {
			if has, _ := n.bs.Has(ctx, e.Cid); has {
				n.c.Notify(ctx, e.Cid)
			}
		}
	}
	for _, b := range msg.Blocks {
		rc, err := reconstructCid(b.Prefix, b.Data)
		if err != nil {
			continue
		}
		if err := n.bs.Put(ctx, rc, b.Data); err != nil {
			continue
		}
		n.c.Notify(ctx, rc)
	}
}

func (n *node) ReceiveError(from peer.ID, err error) {}
func (n *node) PeerConnected(p peer.ID)              { n.c.PeerConnected(p) }
func (n *node) PeerDisconnected(p peer.ID)           { n.c.PeerDisconnected(p) }

func reconstructCid(prefix, data []byte) (cid.Cid, error) {
	p, err := cid.PrefixFromBytes(prefix)
	if err != nil {
		return cid.Undef, err
	}
	mh, err := multihash.Sum(data, p.MhType, p.MhLength)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(p.Codec, mh), nil
}

func connect(t *testing.T, a, b *node) {
	t.Helper()
	require.NoError(t, a.net.Connect(context.Background(), b.id))
	require.NoError(t, b.net.Connect(context.Background(), a.id))
}

func TestWantResolvesFromRemotePeer(t *testing.T) {
	vn := bsnettest.New(delay.Fixed(0))

	provider := newNode(t, vn, peer.ID("provider"))
	requester := newNode(t, vn, peer.ID("requester"))

	c := testCid(t, "hello-bitswap")
	require.NoError(t, provider.bs.Put(context.Background(), c, []byte("hello-bitswap")))

	connect(t, requester, provider)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := requester.c.WantWithTimeout(ctx, c, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("hello-bitswap"), data)
}

func TestWantTimesOutWhenNoProvider(t *testing.T) {
	vn := bsnettest.New(delay.Fixed(0))
	requester := newNode(t, vn, peer.ID("lonely"))

	c := testCid(t, "never-arrives")

	_, err := requester.c.WantWithTimeout(context.Background(), c, 50*time.Millisecond)
	require.Error(t, err)
}

func TestWantReturnsImmediatelyFromLocalBlockstore(t *testing.T) {
	vn := bsnettest.New(delay.Fixed(0))
	n := newNode(t, vn, peer.ID("solo"))

	c := testCid(t, "local")
	require.NoError(t, n.bs.Put(context.Background(), c, []byte("local")))

	data, err := n.c.Want(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, []byte("local"), data)
}
