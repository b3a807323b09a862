// Package wantlist implements §4.B of the Helia core spec: the outbound set
// of CIDs a node is actively seeking, coalesced per CID so that concurrent
// callers share a single broadcast rather than each issuing their own WANT.
// An entry's want type is fixed by the waiter that created it.
//
// Adapted from the teacher's exchange/bitswap wantlist.ThreadSafe, which
// bitswap.go/workers.go call via Add/Remove/Entries; priority assignment
// (kMaxPriority - i, monotonically decreasing per session) is ported
// verbatim from workers.go's clientWorker.
package wantlist

import (
	"math"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// WantType mirrors the wire want_type field (§3).
type WantType int

const (
	WantTypeBlock WantType = iota
	WantTypeHave
)

// MaxPriority is the highest wantlist priority, matching the teacher's
// kMaxPriority = math.MaxInt32.
const MaxPriority = math.MaxInt32

// MaxSizeReplaceHasWithBlock is the default HAVE->BLOCK upgrade threshold
// from §4.B / §6 (max_size_replace_has_with_block).
const MaxSizeReplaceHasWithBlock = 1024

// Entry is one outstanding desire, mirroring the wire Wantlist Entry (§3).
type Entry struct {
	Cid          cid.Cid
	Priority     int32
	WantType     WantType
	SendDontHave bool
	CreatedAt    time.Time
}

type waiter struct {
	id int
}

type record struct {
	entry   Entry
	waiters []waiter
}

// Wantlist is the outbound desire set. All methods are safe for concurrent
// use; the onWant/onCancel callbacks are invoked after the lock is released.
type Wantlist struct {
	mu       sync.Mutex
	entries  map[cid.Cid]*record
	nextPrio int32
	nextWID  int

	// onWant is invoked (outside the lock) whenever a new want should be
	// announced to connected peers, and onCancel when the last waiter for a
	// cid drops.
	onWant   func(Entry)
	onCancel func(cid.Cid)
}

// New returns an empty Wantlist. onWant is invoked once per newly-created
// entry (first waiter); onCancel is invoked once the last waiter for a CID
// is removed.
func New(onWant func(Entry), onCancel func(cid.Cid)) *Wantlist {
	return &Wantlist{
		entries:  make(map[cid.Cid]*record),
		nextPrio: MaxPriority,
		onWant:   onWant,
		onCancel: onCancel,
	}
}

// wantTypeFor applies the HAVE-vs-BLOCK policy from §4.B: WANT_HAVE is
// preferred for blocks expected to be larger than
// MaxSizeReplaceHasWithBlock; callers that don't know the size ahead of time
// (the common case for a first request) pass sizeHint=0 and get WANT_BLOCK,
// matching the teacher's default (bitswap.go never issues WANT_HAVE at all;
// this is the generalization the spec requires).
func wantTypeFor(sizeHint int) WantType {
	if sizeHint > MaxSizeReplaceHasWithBlock {
		return WantTypeHave
	}
	return WantTypeBlock
}

// WaiterHandle identifies a single registered waiter so Cancel can remove
// exactly one.
type WaiterHandle struct {
	Cid cid.Cid
	id  int
}

// Want registers interest in c, attaching to the existing entry if one is
// already in flight, or creating a new one (and calling onWant) otherwise.
// sizeHint, if known, selects WANT_HAVE vs WANT_BLOCK per policy; pass 0 if
// unknown. Resolution is observed via bcast, not through this call; the
// returned handle exists solely so the caller can later Cancel its waiter
// slot.
func (w *Wantlist) Want(c cid.Cid, sizeHint int) WaiterHandle {
	w.mu.Lock()

	rec, existed := w.entries[c]
	if !existed {
		w.nextPrio--
		rec = &record{
			entry: Entry{
				Cid:       c,
				Priority:  w.nextPrio,
				WantType:  wantTypeFor(sizeHint),
				CreatedAt: time.Now(),
			},
		}
		w.entries[c] = rec
	}

	w.nextWID++
	id := w.nextWID
	rec.waiters = append(rec.waiters, waiter{id: id})
	entrySnapshot := rec.entry

	w.mu.Unlock()

	if !existed && w.onWant != nil {
		w.onWant(entrySnapshot)
	}

	return WaiterHandle{Cid: c, id: id}
}

// Cancel removes the waiter identified by h. If it was the last waiter for
// that CID, the entry is purged and onCancel is invoked.
func (w *Wantlist) Cancel(h WaiterHandle) {
	w.mu.Lock()

	rec, ok := w.entries[h.Cid]
	if !ok {
		w.mu.Unlock()
		return
	}

	for i, wt := range rec.waiters {
		if wt.id == h.id {
			rec.waiters = append(rec.waiters[:i], rec.waiters[i+1:]...)
			break
		}
	}

	last := len(rec.waiters) == 0
	if last {
		delete(w.entries, h.Cid)
	}
	w.mu.Unlock()

	if last && w.onCancel != nil {
		w.onCancel(h.Cid)
	}
}

// Entries returns a snapshot of all outstanding entries, used to build a
// full wantlist message for newly-connected peers.
func (w *Wantlist) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Entry, 0, len(w.entries))
	for _, rec := range w.entries {
		out = append(out, rec.entry)
	}
	return out
}

// Len reports the number of distinct CIDs currently wanted.
func (w *Wantlist) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Has reports whether c currently has an in-flight entry.
func (w *Wantlist) Has(c cid.Cid) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[c]
	return ok
}

// PeersDiscovered returns the snapshot of outstanding entries to send as a
// "full" wantlist to newly-discovered peers; the peer list is not used. The
// full wantlist a peer actually receives on connect is sent by
// bitswap.Coordinator.PeerConnected, which reads Entries directly.
func (w *Wantlist) PeersDiscovered(_ []peer.ID) []Entry {
	return w.Entries()
}
