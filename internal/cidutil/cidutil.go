// Package cidutil reconstructs and encodes CIDs at the Bitswap wire
// boundary, where a block arrives as (prefix, data) rather than a full CID.
package cidutil

import (
	"bytes"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Prefix encodes the parts of a CID needed to reconstruct it given the raw
// block bytes: version, codec and the multihash algorithm/length. This is
// exactly cid.Prefix, re-exported under this package so callers don't need
// to remember that Bitswap's wire "prefix" field is a marshaled cid.Prefix.
type Prefix = cid.Prefix

// PrefixOf returns the wire prefix for c.
func PrefixOf(c cid.Cid) Prefix {
	return c.Prefix()
}

// EncodePrefix marshals a prefix to its wire bytes.
func EncodePrefix(p Prefix) []byte {
	return p.Bytes()
}

// DecodePrefix parses a wire prefix.
func DecodePrefix(b []byte) (Prefix, error) {
	return cid.PrefixFromBytes(b)
}

// Reconstruct rebuilds the full CID for a received block, honoring the
// multihash algorithm declared in the prefix rather than assuming SHA-256.
//
// This resolves the spec's Open Question about CID-prefix handling: the
// original source recomputed the multihash assuming SHA-256 unconditionally;
// here the algorithm and length come from the prefix itself.
func Reconstruct(prefixBytes, data []byte) (cid.Cid, error) {
	prefix, err := DecodePrefix(prefixBytes)
	if err != nil {
		return cid.Undef, fmt.Errorf("decode cid prefix: %w", err)
	}

	mhLen := prefix.MhLength
	if mhLen < 0 {
		mhLen = -1
	}
	mh, err := multihash.Sum(data, prefix.MhType, mhLen)
	if err != nil {
		return cid.Undef, fmt.Errorf("hash block data: %w", err)
	}

	if prefix.Version == 0 {
		return cid.NewCidV0(mh), nil
	}
	return cid.NewCidV1(prefix.Codec, mh), nil
}

// VerifyMultihash reports whether data hashes, under the algorithm and
// digest length that mh declares, to the digest carried by mh.
func VerifyMultihash(data []byte, mh multihash.Multihash) error {
	decoded, err := multihash.Decode(mh)
	if err != nil {
		return fmt.Errorf("decode multihash: %w", err)
	}

	sum, err := multihash.Sum(data, decoded.Code, len(decoded.Digest))
	if err != nil {
		return fmt.Errorf("hash block data: %w", err)
	}

	if !bytes.Equal(sum, mh) {
		return fmt.Errorf("multihash mismatch")
	}
	return nil
}
