package bsnet

import (
	"bytes"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func testCid(t *testing.T, s string) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte(s), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func TestMessageRoundTrip(t *testing.T) {
	c1 := testCid(t, "one")
	c2 := testCid(t, "two")

	m := &Message{
		Full: true,
		Wantlist: []Entry{
			{Cid: c1, Priority: 10, WantType: WantTypeHave, SendDontHave: true},
			{Cid: c2, Priority: 5, Cancel: true, WantType: WantTypeBlock},
		},
		Blocks: []BlockEntry{
			{Prefix: c1.Bytes()[:1], Data: []byte("payload")},
		},
		Presences: []Presence{
			{Cid: c2, Type: PresenceDontHave},
		},
		PendingBytes: 42,
	}

	data := m.Marshal()
	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	require.Equal(t, m.Full, decoded.Full)
	require.Equal(t, m.PendingBytes, decoded.PendingBytes)
	require.Len(t, decoded.Wantlist, 2)
	require.Equal(t, c1, decoded.Wantlist[0].Cid)
	require.Equal(t, int32(10), decoded.Wantlist[0].Priority)
	require.Equal(t, WantTypeHave, decoded.Wantlist[0].WantType)
	require.True(t, decoded.Wantlist[0].SendDontHave)
	require.True(t, decoded.Wantlist[1].Cancel)
	require.Len(t, decoded.Blocks, 1)
	require.Equal(t, []byte("payload"), decoded.Blocks[0].Data)
	require.Len(t, decoded.Presences, 1)
	require.Equal(t, PresenceDontHave, decoded.Presences[0].Type)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a bitswap frame")

	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWriteFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxFrameSize+1))
	require.Error(t, err)
}
