package wantlist

import (
	"sync/atomic"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func testCid(t *testing.T) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte("coalesce-me"), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func TestWantCoalescesOneBroadcastPerCid(t *testing.T) {
	var wantCount int32
	wl := New(func(Entry) { atomic.AddInt32(&wantCount, 1) }, nil)

	c := testCid(t)

	h1 := wl.Want(c, 0)
	h2 := wl.Want(c, 0)
	h3 := wl.Want(c, 0)

	require.Equal(t, int32(1), atomic.LoadInt32(&wantCount))
	require.Equal(t, 1, wl.Len())

	wl.Cancel(h1)
	wl.Cancel(h2)
	require.True(t, wl.Has(c))
	wl.Cancel(h3)
	require.False(t, wl.Has(c))
}

func TestCancelLastWaiterInvokesOnCancel(t *testing.T) {
	var cancelled int32
	wl := New(nil, func(cid.Cid) { atomic.AddInt32(&cancelled, 1) })

	c := testCid(t)
	h := wl.Want(c, 0)
	wl.Cancel(h)

	require.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
}

func TestWantTypeThreshold(t *testing.T) {
	require.Equal(t, WantTypeBlock, wantTypeFor(0))
	require.Equal(t, WantTypeBlock, wantTypeFor(MaxSizeReplaceHasWithBlock))
	require.Equal(t, WantTypeHave, wantTypeFor(MaxSizeReplaceHasWithBlock+1))
}

func TestPriorityDecreasesPerNewEntry(t *testing.T) {
	wl := New(nil, nil)
	mh1, _ := multihash.Sum([]byte("a"), multihash.SHA2_256, -1)
	mh2, _ := multihash.Sum([]byte("b"), multihash.SHA2_256, -1)
	c1 := cid.NewCidV1(cid.Raw, mh1)
	c2 := cid.NewCidV1(cid.Raw, mh2)

	_ = wl.Want(c1, 0)
	_ = wl.Want(c2, 0)

	entries := wl.Entries()
	var p1, p2 int32
	for _, e := range entries {
		if e.Cid == c1 {
			p1 = e.Priority
		}
		if e.Cid == c2 {
			p2 = e.Priority
		}
	}
	require.Greater(t, p1, p2)
}
