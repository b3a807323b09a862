// Package blockstore implements §4.A of the Helia core spec: durable
// CID-addressed block storage with has/put/get/delete and batched variants.
//
// Network fallback is explicitly not this package's job (see
// internal/blockservice) — Get returns ErrNotFound for anything not already
// local.
package blockstore

import (
	"context"
	"fmt"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	dsns "github.com/ipfs/go-datastore/namespace"
	logging "github.com/ipfs/go-log/v2"

	"github.com/cyberfly-io/rust-helia-sub001/internal/cidutil"
	"github.com/cyberfly-io/rust-helia-sub001/internal/heliaerr"
)

var log = logging.Logger("blockstore")

// blocksPrefix namespaces block keys away from any sibling datastore use
// (IPNS records, keypairs) sharing the same backing store.
var blocksPrefix = ds.NewKey("blocks")

// Blockstore persists CID -> bytes. Has/Put/Get/Delete are safe for
// concurrent use; a per-key lock serializes Put so that two concurrent puts
// of the same CID never interleave partial writes (ordering between them is
// otherwise irrelevant, per spec: the result is identical bytes either way).
type Blockstore struct {
	ds ds.Batching

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wraps a datastore (in-memory ds.MapDatastore for ephemeral nodes, or a
// persistent ds.Batching such as the go-ds-badger4 store cmd/heliad opens).
func New(d ds.Batching) *Blockstore {
	return &Blockstore{
		ds:    dsns.Wrap(d, blocksPrefix),
		locks: make(map[string]*sync.Mutex),
	}
}

func dsKeyFor(c cid.Cid) ds.Key {
	return ds.NewKey(c.String())
}

// lock returns the per-key mutex, already held; call the returned func to
// release it.
func (b *Blockstore) lock(key string) func() {
	b.mu.Lock()
	keyLock, ok := b.locks[key]
	if !ok {
		keyLock = &sync.Mutex{}
		b.locks[key] = keyLock
	}
	b.mu.Unlock()

	keyLock.Lock()
	return keyLock.Unlock
}

// Has reports whether the block is present locally.
func (b *Blockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	ok, err := b.ds.Has(ctx, dsKeyFor(c))
	if err != nil {
		return false, fmt.Errorf("blockstore has %s: %w", c, err)
	}
	return ok, nil
}

// Put writes bytes for c if absent, verifying that the multihash of data
// matches c's declared multihash. Re-puts of the same CID with equal bytes
// are a no-op; re-puts with differing bytes under an (impossible, given the
// integrity check) colliding CID are not a concern this layer needs to
// handle.
func (b *Blockstore) Put(ctx context.Context, c cid.Cid, data []byte) error {
	if err := cidutil.VerifyMultihash(data, c.Hash()); err != nil {
		return fmt.Errorf("%w: %s", heliaerr.ErrIntegrity, err)
	}

	unlock := b.lock(c.KeyString())
	defer unlock()

	has, err := b.ds.Has(ctx, dsKeyFor(c))
	if err != nil {
		return fmt.Errorf("blockstore has %s: %w", c, err)
	}
	if has {
		return nil
	}

	if err := b.ds.Put(ctx, dsKeyFor(c), data); err != nil {
		return fmt.Errorf("blockstore put %s: %w", c, err)
	}
	log.Debugf("put block %s (%d bytes)", c, len(data))
	return nil
}

// Get returns the bytes for c, or ErrNotFound if absent. Get never reaches
// out to the network; the façade in internal/blockservice is responsible
// for that.
func (b *Blockstore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	data, err := b.ds.Get(ctx, dsKeyFor(c))
	if err != nil {
		if err == ds.ErrNotFound {
			return nil, heliaerr.ErrNotFound
		}
		return nil, fmt.Errorf("blockstore get %s: %w", c, err)
	}
	return data, nil
}

// Delete removes a block. Deleting an absent block is a no-op.
func (b *Blockstore) Delete(ctx context.Context, c cid.Cid) error {
	if err := b.ds.Delete(ctx, dsKeyFor(c)); err != nil {
		return fmt.Errorf("blockstore delete %s: %w", c, err)
	}
	return nil
}

// PutMany writes every block in blks, verifying each one's integrity. It
// uses the underlying datastore's batching support when available.
func (b *Blockstore) PutMany(ctx context.Context, blks []blocks.Block) error {
	batch, err := b.ds.Batch(ctx)
	if err != nil {
		// Fall back to sequential Put for non-batching datastores.
		for _, blk := range blks {
			if err := b.Put(ctx, blk.Cid(), blk.RawData()); err != nil {
				return err
			}
		}
		return nil
	}

	for _, blk := range blks {
		if err := cidutil.VerifyMultihash(blk.RawData(), blk.Cid().Hash()); err != nil {
			return fmt.Errorf("%w: %s", heliaerr.ErrIntegrity, err)
		}
		if err := batch.Put(ctx, dsKeyFor(blk.Cid()), blk.RawData()); err != nil {
			return fmt.Errorf("blockstore batch put %s: %w", blk.Cid(), err)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("blockstore batch commit: %w", err)
	}
	return nil
}

// GetResult is one element of GetMany's lazy sequence.
type GetResult struct {
	Cid  cid.Cid
	Data []byte
	Err  error
}

// GetMany returns a channel yielding (cid, bytes-or-error) for each
// requested CID, closing once all have been attempted.
func (b *Blockstore) GetMany(ctx context.Context, cids []cid.Cid) <-chan GetResult {
	out := make(chan GetResult, len(cids))
	go func() {
		defer close(out)
		for _, c := range cids {
			data, err := b.Get(ctx, c)
			select {
			case out <- GetResult{Cid: c, Data: data, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
