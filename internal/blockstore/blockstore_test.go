package blockstore

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/cyberfly-io/rust-helia-sub001/internal/heliaerr"
)

func testCid(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	bs := New(ds.NewMapDatastore())

	data := []byte("hello bitswap")
	c := testCid(t, data)

	require.NoError(t, bs.Put(ctx, c, data))

	has, err := bs.Has(ctx, c)
	require.NoError(t, err)
	require.True(t, has)

	got, err := bs.Get(ctx, c)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPutIntegrityMismatch(t *testing.T) {
	ctx := context.Background()
	bs := New(ds.NewMapDatastore())

	c := testCid(t, []byte("real bytes"))
	err := bs.Put(ctx, c, []byte("different bytes"))
	require.ErrorIs(t, err, heliaerr.ErrIntegrity)

	has, err := bs.Has(ctx, c)
	require.NoError(t, err)
	require.False(t, has)
}

func TestGetMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	bs := New(ds.NewMapDatastore())

	c := testCid(t, []byte("never stored"))
	_, err := bs.Get(ctx, c)
	require.ErrorIs(t, err, heliaerr.ErrNotFound)
}

func TestPutIdempotent(t *testing.T) {
	ctx := context.Background()
	bs := New(ds.NewMapDatastore())

	data := []byte("idempotent")
	c := testCid(t, data)

	require.NoError(t, bs.Put(ctx, c, data))
	require.NoError(t, bs.Put(ctx, c, data))

	got, err := bs.Get(ctx, c)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bs := New(ds.NewMapDatastore())

	c := testCid(t, []byte("to delete"))
	require.NoError(t, bs.Delete(ctx, c))
	require.NoError(t, bs.Delete(ctx, c))
}

func TestGetManyMixedResults(t *testing.T) {
	ctx := context.Background()
	bs := New(ds.NewMapDatastore())

	present := testCid(t, []byte("present"))
	require.NoError(t, bs.Put(ctx, present, []byte("present")))
	absent := testCid(t, []byte("absent"))

	results := map[cid.Cid]GetResult{}
	for r := range bs.GetMany(ctx, []cid.Cid{present, absent}) {
		results[r.Cid] = r
	}

	require.NoError(t, results[present].Err)
	require.ErrorIs(t, results[absent].Err, heliaerr.ErrNotFound)
}
