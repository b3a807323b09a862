// Package ipns implements §4.H of the Helia core spec: IPNS record
// publish/resolve with V1+V2 signatures, a local cache with metadata, and a
// background republisher, all serialized per key to avoid sequence-number
// races.
//
// No teacher slice touches IPNS (vijayee-go-ipfs predates it); the shapes
// here follow aschmahmann-ipfs-check/daemon.go's ipns.Validator wiring and
// ipfs-rainbow/setup.go's namesys construction, built directly on
// github.com/ipfs/boxo/ipns's record API rather than boxo's higher-level
// namesys.NameSystem, since §4.H's operations spell out the publish/resolve
// steps explicitly. The per-key lock follows the same single-lock-per-
// mutable-resource shape as the teacher's peermanager.go msgQueue.lk.
package ipns

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/boxo/ipns"
	boxopath "github.com/ipfs/boxo/path"
	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/cyberfly-io/rust-helia-sub001/internal/dht"
	"github.com/cyberfly-io/rust-helia-sub001/internal/heliaerr"
)

var log = logging.Logger("ipns")

const (
	keyPrefix  = "/keys"
	cachePrefix = "/ipns"
	metaPrefix  = "/ipns-meta"

	resolveTimeout        = 30 * time.Second
	republishCheckInterval = time.Hour
)

// Record is the decoded, locally-useful view of an *ipns.Record, carrying
// the §3 fields a caller actually needs plus the metadata (key name,
// creation time) the local store keeps alongside it.
type Record struct {
	Value     cid.Cid
	Sequence  uint64
	Validity  time.Time
	KeyName   string
	CreatedAt time.Time
	Raw       []byte
}

type keyMeta struct {
	PeerID    string
	Lifetime  time.Duration
	CreatedAt time.Time
}

// Core implements §4.H. ds holds each name's keypair (under /keys/<name>),
// its latest record (under /ipns/<peer-id>) and its metadata, and routers
// are the §4.G Router instances publish/resolve fan out to.
type Core struct {
	ds       ds.Datastore
	routers  []dht.Router
	lifetime time.Duration
	republishInterval time.Duration

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// New wires a Core over d (used for both keys and cache) and routers.
func New(d ds.Datastore, routers []dht.Router, lifetime, republishInterval time.Duration) *Core {
	return &Core{
		ds:                d,
		routers:           routers,
		lifetime:          lifetime,
		republishInterval: republishInterval,
		keyLocks:          make(map[string]*sync.Mutex),
	}
}

func (c *Core) lockFor(keyName string) func() {
	c.mu.Lock()
	l, ok := c.keyLocks[keyName]
	if !ok {
		l = &sync.Mutex{}
		c.keyLocks[keyName] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (c *Core) loadOrGenerateKey(ctx context.Context, keyName string) (crypto.PrivKey, error) {
	key := ds.NewKey(keyPrefix + "/" + keyName)
	data, err := c.ds.Get(ctx, key)
	if err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}
	if err != ds.ErrNotFound {
		return nil, fmt.Errorf("load ipns key %s: %w", keyName, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ipns key %s: %w", keyName, err)
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := c.ds.Put(ctx, key, raw); err != nil {
		return nil, fmt.Errorf("store ipns key %s: %w", keyName, err)
	}
	return priv, nil
}

func cacheKey(pid peer.ID) ds.Key {
	return ds.NewKey(cachePrefix + "/" + pid.String())
}

func metaKey(keyName string) ds.Key {
	return ds.NewKey(metaPrefix + "/" + keyName)
}

func (c *Core) decodeRecord(raw []byte, keyName string) (*Record, error) {
	rec, err := ipns.UnmarshalRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal ipns record: %w", err)
	}
	p, err := rec.Value()
	if err != nil {
		return nil, fmt.Errorf("ipns record value: %w", err)
	}
	cidVal, err := cidutilFromPath(p)
	if err != nil {
		return nil, err
	}
	seq, err := rec.Sequence()
	if err != nil {
		return nil, fmt.Errorf("ipns record sequence: %w", err)
	}
	validity, err := rec.Validity()
	if err != nil {
		return nil, fmt.Errorf("ipns record validity: %w", err)
	}
	return &Record{Value: cidVal, Sequence: seq, Validity: validity, KeyName: keyName, Raw: raw}, nil
}

func cidutilFromPath(p boxopath.Path) (cid.Cid, error) {
	s := strings.TrimPrefix(p.String(), "/ipfs/")
	return cid.Decode(s)
}

func (c *Core) loadCached(ctx context.Context, pid peer.ID, keyName string) (*Record, bool) {
	data, err := c.ds.Get(ctx, cacheKey(pid))
	if err != nil {
		return nil, false
	}
	rec, err := c.decodeRecord(data, keyName)
	if err != nil {
		return nil, false
	}
	return rec, true
}

// Publish implements §4.H's publish(key_name, cid, opts): load or generate
// the key, read the current record to compute the next sequence, build a
// V1+V2-signed record with validity = now + lifetime, persist it locally
// with its metadata, then best-effort fan out a put() to every router.
func (c *Core) Publish(ctx context.Context, keyName string, target cid.Cid) (*Record, error) {
	unlock := c.lockFor(keyName)
	defer unlock()

	priv, err := c.loadOrGenerateKey(ctx, keyName)
	if err != nil {
		return nil, err
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}

	var seq uint64
	if prev, ok := c.loadCached(ctx, pid, keyName); ok {
		seq = prev.Sequence + 1
	}

	p, err := boxopath.NewPath("/ipfs/" + target.String())
	if err != nil {
		return nil, fmt.Errorf("build ipns value path: %w", err)
	}

	eol := time.Now().Add(c.lifetime)
	rec, err := ipns.NewRecord(priv, p, seq, eol, 0)
	if err != nil {
		return nil, fmt.Errorf("sign ipns record: %w", err)
	}

	raw, err := ipns.MarshalRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal ipns record: %w", err)
	}

	if err := c.ds.Put(ctx, cacheKey(pid), raw); err != nil {
		return nil, fmt.Errorf("store ipns record: %w", err)
	}
	meta := keyMeta{PeerID: pid.String(), Lifetime: c.lifetime, CreatedAt: time.Now()}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := c.ds.Put(ctx, metaKey(keyName), metaRaw); err != nil {
		return nil, fmt.Errorf("store ipns key metadata: %w", err)
	}

	name := ipns.NameFromPeer(pid)
	var wg sync.WaitGroup
	for _, router := range c.routers {
		wg.Add(1)
		go func(r dht.Router) {
			defer wg.Done()
			if err := r.Put(ctx, string(name.RoutingKey()), raw); err != nil {
				log.Debugf("ipns publish %s: router put failed: %s", keyName, err)
			}
		}(router)
	}
	wg.Wait()

	return &Record{Value: target, Sequence: seq, Validity: eol, KeyName: keyName, CreatedAt: meta.CreatedAt, Raw: raw}, nil
}

// Resolve implements §4.H's resolve(name, opts): serve from the local cache
// when present, unexpired and refresh isn't forced; otherwise query every
// router in parallel and take the first record that validates against name,
// has a future validity and a sequence no older than the cache.
func (c *Core) Resolve(ctx context.Context, name peer.ID, forceRefresh bool) (*Record, error) {
	if !forceRefresh {
		if cached, ok := c.loadCached(ctx, name, ""); ok && cached.Validity.After(time.Now()) {
			return cached, nil
		}
	}

	var cachedSeq uint64
	if cached, ok := c.loadCached(ctx, name, ""); ok {
		cachedSeq = cached.Sequence
	}

	ipnsName := ipns.NameFromPeer(name)
	qctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	type found struct {
		rec *ipns.Record
		raw []byte
	}
	results := make(chan found, len(c.routers))
	var wg sync.WaitGroup
	for _, router := range c.routers {
		wg.Add(1)
		go func(r dht.Router) {
			defer wg.Done()
			raw, err := r.Get(qctx, string(ipnsName.RoutingKey()))
			if err != nil {
				return
			}
			rec, err := ipns.UnmarshalRecord(raw)
			if err != nil {
				return
			}
			select {
			case results <- found{rec, raw}:
			case <-qctx.Done():
			}
		}(router)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for f := range results {
		if err := ipns.ValidateWithName(f.rec, ipnsName); err != nil {
			continue
		}
		validity, err := f.rec.Validity()
		if err != nil || !validity.After(time.Now()) {
			continue
		}
		seq, err := f.rec.Sequence()
		if err != nil || seq < cachedSeq {
			continue
		}
		decoded, err := c.decodeRecord(f.raw, "")
		if err != nil {
			continue
		}
		if err := c.ds.Put(ctx, cacheKey(name), f.raw); err != nil {
			log.Debugf("ipns resolve %s: cache store failed: %s", name, err)
		}
		cancel()
		return decoded, nil
	}

	return nil, fmt.Errorf("resolve %s: %w", name, heliaerr.ErrNotFound)
}

// Republish is the background task of §4.H: for each locally-owned key
// whose record was created more than republishInterval ago, re-publish
// with an incremented sequence. Intended to be run in its own goroutine by
// the caller (cmd/heliad), ticking until ctx is cancelled.
func (c *Core) Republish(ctx context.Context) {
	ticker := time.NewTicker(republishCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.republishDue(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Core) republishDue(ctx context.Context) {
	results, err := c.ds.Query(ctx, dsq.Query{Prefix: metaPrefix})
	if err != nil {
		log.Debugf("ipns republish: query metadata failed: %s", err)
		return
	}
	defer results.Close()

	for entry := range results.Next() {
		if entry.Error != nil {
			continue
		}
		var meta keyMeta
		if err := json.Unmarshal(entry.Value, &meta); err != nil {
			continue
		}
		if time.Since(meta.CreatedAt) < c.republishInterval {
			continue
		}
		keyName := strings.TrimPrefix(entry.Key, metaPrefix+"/")
		pid, err := peer.Decode(meta.PeerID)
		if err != nil {
			continue
		}
		cached, ok := c.loadCached(ctx, pid, keyName)
		if !ok {
			continue
		}
		if _, err := c.Publish(ctx, keyName, cached.Value); err != nil {
			log.Debugf("ipns republish %s: %s", keyName, err)
		}
	}
}
