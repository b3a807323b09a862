package gateway

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/cyberfly-io/rust-helia-sub001/internal/heliaerr"
)

func testCid(t *testing.T) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte("gateway-test"), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func TestFindProvidersSynthesizesOnePerURL(t *testing.T) {
	r := New([]string{"https://ipfs.io", "https://dweb.link"})

	ch, err := r.FindProviders(context.Background(), testCid(t))
	require.NoError(t, err)

	var got []string
	for p := range ch {
		require.Len(t, p.Addrs, 1)
		got = append(got, p.Addrs[0])
	}
	require.ElementsMatch(t, []string{"https://ipfs.io", "https://dweb.link"}, got)
}

func TestMutatingOperationsAreUnsupported(t *testing.T) {
	r := New([]string{"https://ipfs.io"})
	ctx := context.Background()

	require.ErrorIs(t, r.Provide(ctx, testCid(t)), heliaerr.ErrOperationNotSupported)
	require.ErrorIs(t, r.Put(ctx, "k", []byte("v")), heliaerr.ErrOperationNotSupported)

	_, err := r.Get(ctx, "k")
	require.ErrorIs(t, err, heliaerr.ErrOperationNotSupported)

	_, err = r.FindPeers(ctx, "")
	require.ErrorIs(t, err, heliaerr.ErrOperationNotSupported)
}
