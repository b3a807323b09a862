package blockservice

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

	"github.com/cyberfly-io/rust-helia-sub001/internal/bitswap"
	"github.com/cyberfly-io/rust-helia-sub001/internal/bsnet/bsnettest"
	"github.com/cyberfly-io/rust-helia-sub001/internal/blockstore"
	"github.com/cyberfly-io/rust-helia-sub001/internal/peerwantlists"
)

type fakeProvider struct {
	calls chan cid.Cid
}

func (f *fakeProvider) Provide(ctx context.Context, c cid.Cid) error {
	f.calls <- c
	return nil
}

func testCid(t *testing.T) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte("blockservice"), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func newService(t *testing.T, provider Provider) (*Service, *blockstore.Blockstore) {
	t.Helper()
	bstore := blockstore.New(ds.NewMapDatastore())
	pwl := peerwantlists.New(context.Background(), 1024)
	vn := bsnettest.New(delay.Fixed(0))
	net := vn.Adapter(peer.ID("solo"))
	exchange := bitswap.New(peer.ID("solo"), net, bstore, pwl)
	t.Cleanup(func() { exchange.Close() })
	return New(bstore, exchange, provider), bstore
}

func TestPutThenGetIsLocalFirst(t *testing.T) {
	svc, _ := newService(t, nil)
	c := testCid(t)

	require.NoError(t, svc.Put(context.Background(), c, []byte("data")))

	data, err := svc.Get(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, []byte("data"), data)
}

func TestPutAnnouncesToProvider(t *testing.T) {
	fp := &fakeProvider{calls: make(chan cid.Cid, 1)}
	svc, _ := newService(t, fp)
	c := testCid(t)

	require.NoError(t, svc.Put(context.Background(), c, []byte("data")))

	select {
	case got := <-fp.calls:
		require.Equal(t, c, got)
	case <-time.After(time.Second):
		t.Fatal("provider was never called")
	}
}

func TestHasReflectsLocalStoreOnly(t *testing.T) {
	svc, _ := newService(t, nil)
	c := testCid(t)

	has, err := svc.Has(context.Background(), c)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, svc.Put(context.Background(), c, []byte("data")))

	has, err = svc.Has(context.Background(), c)
	require.NoError(t, err)
	require.True(t, has)
}
