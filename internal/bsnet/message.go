// Package bsnet implements §4.D of the Helia core spec: frame-level I/O for
// the /ipfs/bitswap/1.2.0 wire protocol — an unsigned-varint length prefix
// followed by a protobuf-encoded Bitswap Message — plus the per-peer
// duplex channel and backpressure policy described there.
//
// Adapted from the teacher's exchange/bitswap/network/ipfs_impl.go (impl,
// netNotifiee) and peermanager.go (msgQueue, runQueue); message.go itself
// has no teacher equivalent (the teacher's bsmsg.BitSwapMessage was never
// included in the retrieval pack) and is written fresh against the §3/§6
// wire schema using google.golang.org/protobuf's low-level wire encoder.
package bsnet

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cyberfly-io/rust-helia-sub001/internal/heliaerr"
)

// WantType mirrors the wire want_type enum (§3/§6).
type WantType int32

const (
	WantTypeBlock WantType = 0
	WantTypeHave  WantType = 1
)

// PresenceType mirrors the wire block_presences.type enum (§3/§6).
type PresenceType int32

const (
	PresenceHave     PresenceType = 0
	PresenceDontHave PresenceType = 1
)

// Entry is one wantlist entry on the wire.
type Entry struct {
	Cid          cid.Cid
	Priority     int32
	Cancel       bool
	WantType     WantType
	SendDontHave bool
}

// BlockEntry is one (prefix, data) pair on the wire — §3 specifies the
// prefix as "the CID binary header sufficient to reconstruct the full CID
// given the data and its hash algorithm".
type BlockEntry struct {
	Prefix []byte
	Data   []byte
}

// Presence is one block-presence notification on the wire.
type Presence struct {
	Cid  cid.Cid
	Type PresenceType
}

// Message is the in-memory form of the Bitswap wire message (§3/§6).
type Message struct {
	Full         bool
	Wantlist     []Entry
	Blocks       []BlockEntry
	Presences    []Presence
	PendingBytes int32
}

// Protobuf field numbers, matching the go-bitswap/go-libp2p-kad-dht family's
// message.proto layout (wantlist=1, blocks=3, block_presences=4,
// pending_bytes=5; wantlist is itself a nested message with full=1,
// entries=2; an entry is cid=1,priority=2,cancel=3,want_type=4,
// send_dont_have=5; a presence is cid=1,type=2).
const (
	fieldWantlist     = 1
	fieldBlocks       = 3
	fieldPresences    = 4
	fieldPendingBytes = 5

	fieldWantlistFull    = 1
	fieldWantlistEntries = 2

	fieldEntryCid          = 1
	fieldEntryPriority     = 2
	fieldEntryCancel       = 3
	fieldEntryWantType     = 4
	fieldEntrySendDontHave = 5

	fieldBlockPrefix = 1
	fieldBlockData   = 2

	fieldPresenceCid  = 1
	fieldPresenceType = 2
)

// Marshal encodes m to its protobuf wire form.
func (m *Message) Marshal() []byte {
	var b []byte

	if m.Full || len(m.Wantlist) > 0 {
		var wl []byte
		if m.Full {
			wl = protowire.AppendTag(wl, fieldWantlistFull, protowire.VarintType)
			wl = protowire.AppendVarint(wl, 1)
		}
		for _, e := range m.Wantlist {
			wl = protowire.AppendTag(wl, fieldWantlistEntries, protowire.BytesType)
			wl = protowire.AppendBytes(wl, marshalEntry(e))
		}
		b = protowire.AppendTag(b, fieldWantlist, protowire.BytesType)
		b = protowire.AppendBytes(b, wl)
	}

	for _, blk := range m.Blocks {
		var bb []byte
		bb = protowire.AppendTag(bb, fieldBlockPrefix, protowire.BytesType)
		bb = protowire.AppendBytes(bb, blk.Prefix)
		bb = protowire.AppendTag(bb, fieldBlockData, protowire.BytesType)
		bb = protowire.AppendBytes(bb, blk.Data)

		b = protowire.AppendTag(b, fieldBlocks, protowire.BytesType)
		b = protowire.AppendBytes(b, bb)
	}

	for _, p := range m.Presences {
		var pb []byte
		pb = protowire.AppendTag(pb, fieldPresenceCid, protowire.BytesType)
		pb = protowire.AppendBytes(pb, p.Cid.Bytes())
		pb = protowire.AppendTag(pb, fieldPresenceType, protowire.VarintType)
		pb = protowire.AppendVarint(pb, uint64(p.Type))

		b = protowire.AppendTag(b, fieldPresences, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}

	if m.PendingBytes != 0 {
		b = protowire.AppendTag(b, fieldPendingBytes, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.PendingBytes))
	}

	return b
}

func marshalEntry(e Entry) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEntryCid, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Cid.Bytes())
	b = protowire.AppendTag(b, fieldEntryPriority, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(e.Priority)))
	if e.Cancel {
		b = protowire.AppendTag(b, fieldEntryCancel, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	b = protowire.AppendTag(b, fieldEntryWantType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.WantType))
	if e.SendDontHave {
		b = protowire.AppendTag(b, fieldEntrySendDontHave, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

// Unmarshal decodes a wire-format Bitswap message. Malformed input returns
// heliaerr.ErrCodec.
func Unmarshal(data []byte) (*Message, error) {
	m := &Message{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag", heliaerr.ErrCodec)
		}
		data = data[n:]

		switch num {
		case fieldWantlist:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad wantlist", heliaerr.ErrCodec)
			}
			data = data[n:]
			if err := unmarshalWantlist(m, v); err != nil {
				return nil, err
			}
		case fieldBlocks:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad block entry", heliaerr.ErrCodec)
			}
			data = data[n:]
			be, err := unmarshalBlock(v)
			if err != nil {
				return nil, err
			}
			m.Blocks = append(m.Blocks, be)
		case fieldPresences:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad presence", heliaerr.ErrCodec)
			}
			data = data[n:]
			p, err := unmarshalPresence(v)
			if err != nil {
				return nil, err
			}
			m.Presences = append(m.Presences, p)
		case fieldPendingBytes:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad pending_bytes", heliaerr.ErrCodec)
			}
			data = data[n:]
			m.PendingBytes = int32(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: unknown field", heliaerr.ErrCodec)
			}
			data = data[n:]
		}
	}

	return m, nil
}

func unmarshalWantlist(m *Message, data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: bad wantlist tag", heliaerr.ErrCodec)
		}
		data = data[n:]

		switch num {
		case fieldWantlistFull:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: bad full", heliaerr.ErrCodec)
			}
			data = data[n:]
			m.Full = v != 0
		case fieldWantlistEntries:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: bad entry", heliaerr.ErrCodec)
			}
			data = data[n:]
			e, err := unmarshalEntry(v)
			if err != nil {
				return err
			}
			m.Wantlist = append(m.Wantlist, e)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: unknown wantlist field", heliaerr.ErrCodec)
			}
			data = data[n:]
		}
	}
	return nil
}

func unmarshalEntry(data []byte) (Entry, error) {
	var e Entry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("%w: bad entry tag", heliaerr.ErrCodec)
		}
		data = data[n:]

		switch num {
		case fieldEntryCid:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return e, fmt.Errorf("%w: bad entry cid", heliaerr.ErrCodec)
			}
			data = data[n:]
			c, err := cid.Cast(v)
			if err != nil {
				return e, fmt.Errorf("%w: %s", heliaerr.ErrCodec, err)
			}
			e.Cid = c
		case fieldEntryPriority:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("%w: bad priority", heliaerr.ErrCodec)
			}
			data = data[n:]
			e.Priority = int32(int64(v))
		case fieldEntryCancel:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("%w: bad cancel", heliaerr.ErrCodec)
			}
			data = data[n:]
			e.Cancel = v != 0
		case fieldEntryWantType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("%w: bad want_type", heliaerr.ErrCodec)
			}
			data = data[n:]
			e.WantType = WantType(v)
		case fieldEntrySendDontHave:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("%w: bad send_dont_have", heliaerr.ErrCodec)
			}
			data = data[n:]
			e.SendDontHave = v != 0
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return e, fmt.Errorf("%w: unknown entry field", heliaerr.ErrCodec)
			}
			data = data[n:]
		}
	}
	return e, nil
}

func unmarshalBlock(data []byte) (BlockEntry, error) {
	var be BlockEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return be, fmt.Errorf("%w: bad block tag", heliaerr.ErrCodec)
		}
		data = data[n:]

		switch num {
		case fieldBlockPrefix:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return be, fmt.Errorf("%w: bad block prefix", heliaerr.ErrCodec)
			}
			data = data[n:]
			be.Prefix = append([]byte(nil), v...)
		case fieldBlockData:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return be, fmt.Errorf("%w: bad block data", heliaerr.ErrCodec)
			}
			data = data[n:]
			be.Data = append([]byte(nil), v...)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return be, fmt.Errorf("%w: unknown block field", heliaerr.ErrCodec)
			}
			data = data[n:]
		}
	}
	return be, nil
}

func unmarshalPresence(data []byte) (Presence, error) {
	var p Presence
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, fmt.Errorf("%w: bad presence tag", heliaerr.ErrCodec)
		}
		data = data[n:]

		switch num {
		case fieldPresenceCid:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return p, fmt.Errorf("%w: bad presence cid", heliaerr.ErrCodec)
			}
			data = data[n:]
			c, err := cid.Cast(v)
			if err != nil {
				return p, fmt.Errorf("%w: %s", heliaerr.ErrCodec, err)
			}
			p.Cid = c
		case fieldPresenceType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return p, fmt.Errorf("%w: bad presence type", heliaerr.ErrCodec)
			}
			data = data[n:]
			p.Type = PresenceType(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return p, fmt.Errorf("%w: unknown presence field", heliaerr.ErrCodec)
			}
			data = data[n:]
		}
	}
	return p, nil
}

// MaxFrameSize rejects pathologically large frames per §4.D's "frame size
// cap rejects pathological payloads".
const MaxFrameSize = 4 << 20 // 4 MiB

// WriteFrame writes a varint length prefix followed by data.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds cap", heliaerr.ErrCodec, len(data))
	}
	prefix := protowire.AppendVarint(nil, uint64(len(data)))
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads one varint-length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := 0
	for {
		if n >= len(lenBuf) {
			return nil, fmt.Errorf("%w: length prefix too long", heliaerr.ErrCodec)
		}
		if _, err := io.ReadFull(r, lenBuf[n:n+1]); err != nil {
			return nil, err
		}
		if lenBuf[n]&0x80 == 0 {
			n++
			break
		}
		n++
	}

	size, m := protowire.ConsumeVarint(lenBuf[:n])
	if m < 0 {
		return nil, fmt.Errorf("%w: bad length prefix", heliaerr.ErrCodec)
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds cap", heliaerr.ErrCodec, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
