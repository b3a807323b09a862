package peerwantlists

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/cyberfly-io/rust-helia-sub001/internal/wantlist"
)

func testCid(t *testing.T) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte("peer-want"), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func testPeer(t *testing.T, seed byte) peer.ID {
	t.Helper()
	return peer.ID(string([]byte{seed, seed, seed}))
}

func TestReceivedBlockHaveUpgradesBelowThreshold(t *testing.T) {
	pl := New(context.Background(), 1024)
	p := testPeer(t, 1)
	c := testCid(t)

	pl.ReceivedWant(p, c, wantlist.WantTypeHave, false, false)

	resp := pl.ReceivedBlock(c, 500)
	require.Len(t, resp, 1)
	require.True(t, resp[0].SendBlock)
}

func TestReceivedBlockHaveStaysPresenceAboveThreshold(t *testing.T) {
	pl := New(context.Background(), 1024)
	p := testPeer(t, 2)
	c := testCid(t)

	pl.ReceivedWant(p, c, wantlist.WantTypeHave, false, false)

	resp := pl.ReceivedBlock(c, 2000)
	require.Len(t, resp, 1)
	require.False(t, resp[0].SendBlock)
}

func TestReceivedBlockWantBlockAlwaysSendsBlock(t *testing.T) {
	pl := New(context.Background(), 1024)
	p := testPeer(t, 3)
	c := testCid(t)

	pl.ReceivedWant(p, c, wantlist.WantTypeBlock, false, false)

	resp := pl.ReceivedBlock(c, 999999)
	require.Len(t, resp, 1)
	require.True(t, resp[0].SendBlock)
}

func TestReceivedBlockConsumesWant(t *testing.T) {
	pl := New(context.Background(), 1024)
	p := testPeer(t, 4)
	c := testCid(t)

	pl.ReceivedWant(p, c, wantlist.WantTypeBlock, false, false)
	pl.ReceivedBlock(c, 1)

	require.Empty(t, pl.WantlistForPeer(p))
}

func TestCancelRemovesWant(t *testing.T) {
	pl := New(context.Background(), 1024)
	p := testPeer(t, 5)
	c := testCid(t)

	pl.ReceivedWant(p, c, wantlist.WantTypeBlock, false, false)
	pl.ReceivedWant(p, c, wantlist.WantTypeBlock, false, true)

	require.Empty(t, pl.WantlistForPeer(p))
}

func TestRecordIntegrityFaultIncrementsLedger(t *testing.T) {
	pl := New(context.Background(), 1024)
	p := testPeer(t, 7)

	pl.RecordIntegrityFault(p)
	pl.RecordIntegrityFault(p)

	require.Equal(t, int64(2), pl.LedgerFor(p).IntegrityFaults)
}

func TestPeerDisconnectedRetainsLedgerUntilGrace(t *testing.T) {
	pl := New(context.Background(), 1024)
	p := testPeer(t, 6)

	pl.RecordReceived(p, 1, 10, false)
	pl.PeerDisconnected(p)

	pl.EvictStale(time.Now())
	require.Equal(t, int64(1), pl.LedgerFor(p).BlocksReceived)

	pl.EvictStale(time.Now().Add(disconnectGrace + time.Second))
	require.Equal(t, int64(0), pl.LedgerFor(p).BlocksReceived)
}
