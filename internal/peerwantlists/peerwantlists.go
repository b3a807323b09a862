// Package peerwantlists implements §4.C of the Helia core spec: the inbound
// ledger of what each connected peer wants from us, plus the HAVE/BLOCK
// response synthesis and per-peer accounting described in §3's Peer Ledger.
//
// Grounded on the teacher's decision.Engine (referenced, never shipped, by
// exchange/bitswap/bitswap.go's engine field: MessageReceived,
// WantlistForPeer, PeerDisconnected) and the priority-task shape of
// exchange/bitswap/decision/peer_request_queue.go's activePartner.
package peerwantlists

import (
	"context"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	metrics "github.com/ipfs/go-metrics-interface"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/cyberfly-io/rust-helia-sub001/internal/wantlist"
)

// disconnectGrace is how long a disconnected peer's ledger stats are
// retained before being dropped for good, per §3's Peer Ledger lifecycle
// ("retained across brief disconnects; dropped on prolonged absence").
const disconnectGrace = 5 * time.Minute

// Response is what PeerWantLists decides to send back for a received block,
// per the §4.C response contract.
type Response struct {
	Peer      peer.ID
	Cid       cid.Cid
	SendBlock bool // true: send the block; false: send a HAVE presence.
}

// WantEntry is one CID a peer has told us it wants.
type WantEntry struct {
	WantType     wantlist.WantType
	SendDontHave bool
}

// Ledger holds the running counters from §3's Peer Ledger for a single
// remote peer: blocks/bytes sent and received, and duplicate counts. These
// are plain counters rather than per-peer metrics.Gauge instances — with
// peer churn, one gauge per peer.ID would be unbounded cardinality; instead
// PeerWantLists aggregates across all peers into a handful of process-wide
// gauges (see aggregate below), the same shape rdbox-go-ipfs's
// wantlistGauge/sentHistogram use for the wantmanager as a whole.
type Ledger struct {
	BlocksSent      int64
	BlocksReceived  int64
	BytesSent       int64
	BytesReceived   int64
	DupBlocks       int64
	DupBytes        int64
	IntegrityFaults int64

	wants          map[cid.Cid]WantEntry
	disconnectedAt time.Time
	connected      bool
}

func newLedger() *Ledger {
	return &Ledger{wants: make(map[cid.Cid]WantEntry), connected: true}
}

// aggregate holds the process-wide gauges §3's Peer Ledger model is
// surfaced through, scoped under "helia_peer_ledger" (grounded in
// rdbox-go-ipfs's metrics.NewCtx(ctx, name, help).Gauge() pattern).
type aggregate struct {
	connectedPeers metrics.Gauge
	totalDupBlocks metrics.Gauge
}

func newAggregate(ctx context.Context) aggregate {
	scope := metrics.CtxScope(ctx, "helia_peer_ledger")
	return aggregate{
		connectedPeers: metrics.NewCtx(scope, "connected_peers", "Number of peers with a live ledger.").Gauge(),
		totalDupBlocks: metrics.NewCtx(scope, "dup_blocks_total", "Duplicate blocks sent or received across all peers.").Gauge(),
	}
}

// PeerWantLists tracks, per connected peer, the set of CIDs it wants.
type PeerWantLists struct {
	mu      sync.Mutex
	peers   map[peer.ID]*Ledger
	queue   *taskQueue
	maxSize int
	agg     aggregate
	dupSeen int64
}

// New returns an empty PeerWantLists. maxSize is the HAVE->BLOCK upgrade
// threshold (max_size_replace_has_with_block, default
// wantlist.MaxSizeReplaceHasWithBlock).
func New(ctx context.Context, maxSize int) *PeerWantLists {
	if maxSize <= 0 {
		maxSize = wantlist.MaxSizeReplaceHasWithBlock
	}
	return &PeerWantLists{
		peers:   make(map[peer.ID]*Ledger),
		queue:   newTaskQueue(),
		maxSize: maxSize,
		agg:     newAggregate(ctx),
	}
}

func (pl *PeerWantLists) ledger(p peer.ID) *Ledger {
	l, ok := pl.peers[p]
	if !ok {
		l = newLedger()
		pl.peers[p] = l
		pl.agg.connectedPeers.Set(float64(len(pl.peers)))
	}
	l.connected = true
	return l
}

// ReceivedWant merges incoming wantlist entries from p. A cancelled entry
// removes the corresponding want; otherwise it is inserted/updated.
func (pl *PeerWantLists) ReceivedWant(p peer.ID, c cid.Cid, wantType wantlist.WantType, sendDontHave, cancel bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	l := pl.ledger(p)
	if cancel {
		delete(l.wants, c)
		return
	}
	l.wants[c] = WantEntry{WantType: wantType, SendDontHave: sendDontHave}
}

// ReceivedBlock synthesizes the response owed to every peer that wanted c,
// per the §4.C contract:
//   - WANT_HAVE + size <= maxSize: send the block (saves a round trip).
//   - WANT_HAVE + size >  maxSize: send a HAVE presence.
//   - WANT_BLOCK: send the block.
//
// Each satisfied peer's want entry for c is removed. Responses are returned
// ordered through taskQueue by WantEntry.priority: peers that sent
// WANT_BLOCK come before peers that sent WANT_HAVE. The wire priority a peer
// attached to its entry is not stored and plays no part, and the order among
// peers with the same want type is not defined.
func (pl *PeerWantLists) ReceivedBlock(c cid.Cid, size int) []Response {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	respByPeer := make(map[peer.ID]Response)
	for p, l := range pl.peers {
		entry, ok := l.wants[c]
		if !ok {
			continue
		}

		sendBlock := entry.WantType == wantlist.WantTypeBlock || size <= pl.maxSize
		respByPeer[p] = Response{Peer: p, Cid: c, SendBlock: sendBlock}
		pl.queue.push(&task{peer: p, cid: c, priority: entry.priority()})
		delete(l.wants, c)
	}

	// The queue only ever holds tasks pushed above, since ReceivedBlock holds
	// pl.mu for its entire body and is the queue's sole user.
	out := make([]Response, 0, len(respByPeer))
	for t := pl.queue.pop(); t != nil; t = pl.queue.pop() {
		if r, ok := respByPeer[t.peer]; ok {
			out = append(out, r)
			delete(respByPeer, t.peer)
		}
	}
	return out
}

// priority gives WANT_BLOCK requests precedence over WANT_HAVE requests in
// ReceivedBlock's response order.
func (e WantEntry) priority() int32 {
	if e.WantType == wantlist.WantTypeBlock {
		return 1
	}
	return 0
}

// PeerDisconnected drops p's want entries but retains its ledger counters
// for disconnectGrace, after which EvictStale will remove it entirely.
func (pl *PeerWantLists) PeerDisconnected(p peer.ID) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	l, ok := pl.peers[p]
	if !ok {
		return
	}
	l.wants = make(map[cid.Cid]WantEntry)
	l.connected = false
	l.disconnectedAt = time.Now()
}

// EvictStale removes ledgers for peers that disconnected more than
// disconnectGrace ago. Intended to be called periodically by the swarm
// event loop, not a background timer of its own (per §9's "no periodic
// scan" rule, this only prunes bookkeeping, never re-derives block
// availability).
func (pl *PeerWantLists) EvictStale(now time.Time) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	for p, l := range pl.peers {
		if !l.connected && now.Sub(l.disconnectedAt) > disconnectGrace {
			delete(pl.peers, p)
		}
	}
	pl.agg.connectedPeers.Set(float64(len(pl.peers)))
}

// WantlistForPeer returns the CIDs peer p currently wants.
func (pl *PeerWantLists) WantlistForPeer(p peer.ID) []cid.Cid {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	l, ok := pl.peers[p]
	if !ok {
		return nil
	}
	out := make([]cid.Cid, 0, len(l.wants))
	for c := range l.wants {
		out = append(out, c)
	}
	return out
}

// RecordSent updates accounting after a block/bytes send to p.
func (pl *PeerWantLists) RecordSent(p peer.ID, blocks, bytesN int, dup bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	l := pl.ledger(p)
	l.BlocksSent += int64(blocks)
	l.BytesSent += int64(bytesN)
	if dup {
		l.DupBlocks += int64(blocks)
		l.DupBytes += int64(bytesN)
		pl.dupSeen += int64(blocks)
		pl.agg.totalDupBlocks.Set(float64(pl.dupSeen))
	}
}

// RecordReceived updates accounting after a block/bytes receipt from p.
func (pl *PeerWantLists) RecordReceived(p peer.ID, blocks, bytesN int, dup bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	l := pl.ledger(p)
	l.BlocksReceived += int64(blocks)
	l.BytesReceived += int64(bytesN)
	if dup {
		l.DupBlocks += int64(blocks)
		l.DupBytes += int64(bytesN)
		pl.dupSeen += int64(blocks)
		pl.agg.totalDupBlocks.Set(float64(pl.dupSeen))
	}
}

// RecordIntegrityFault scores an integrity violation (§7: a received block
// whose data doesn't hash to any CID we actually wanted) against p's ledger.
func (pl *PeerWantLists) RecordIntegrityFault(p peer.ID) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	l := pl.ledger(p)
	l.IntegrityFaults++
}

// LedgerFor returns a snapshot copy of p's ledger counters (zero value if
// no ledger exists yet).
func (pl *PeerWantLists) LedgerFor(p peer.ID) Ledger {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	l, ok := pl.peers[p]
	if !ok {
		return Ledger{}
	}
	snapshot := *l
	snapshot.wants = nil
	return snapshot
}
