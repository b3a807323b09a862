package cidutil

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func TestReconstructRoundTripsSha256(t *testing.T) {
	data := []byte("cidutil reconstruct")
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)
	want := cid.NewCidV1(cid.Raw, mh)

	got, err := Reconstruct(EncodePrefix(PrefixOf(want)), data)
	require.NoError(t, err)
	require.True(t, want.Equals(got))
}

func TestReconstructHonorsNonDefaultHashAlgorithm(t *testing.T) {
	data := []byte("cidutil reconstruct sha512")
	mh, err := multihash.Sum(data, multihash.SHA2_512, -1)
	require.NoError(t, err)
	want := cid.NewCidV1(cid.DagCBOR, mh)

	got, err := Reconstruct(EncodePrefix(PrefixOf(want)), data)
	require.NoError(t, err)
	require.True(t, want.Equals(got))
}

func TestReconstructHonorsCidV0Prefix(t *testing.T) {
	data := []byte("cidutil reconstruct v0")
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)
	want := cid.NewCidV0(mh)

	got, err := Reconstruct(EncodePrefix(PrefixOf(want)), data)
	require.NoError(t, err)
	require.True(t, want.Equals(got))
	require.Equal(t, 0, got.Prefix().Version)
}

func TestReconstructRejectsMalformedPrefix(t *testing.T) {
	_, err := Reconstruct([]byte{0xff, 0xff, 0xff}, []byte("data"))
	require.Error(t, err)
}

func TestVerifyMultihashDetectsTamperedData(t *testing.T) {
	data := []byte("original")
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)

	require.NoError(t, VerifyMultihash(data, mh))
	require.Error(t, VerifyMultihash([]byte("tampered"), mh))
}

func TestDecodePrefixRejectsGarbage(t *testing.T) {
	_, err := DecodePrefix([]byte{0x00, 0x00, 0x00})
	require.Error(t, err)
}
