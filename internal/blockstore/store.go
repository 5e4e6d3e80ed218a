// Package blockstore implements the deduplicating block repository:
// a map from content digest to exactly one compressed block record.
package blockstore

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/zpak/internal/imagetype"
	"github.com/meigma/zpak/internal/zcodec"
)

// shardCount is the number of digest-keyed map shards. Sharding by
// the first digest byte keeps lock contention low when many workers
// insert concurrently.
const shardCount = 16

// Record is one stored unique block: the compressed payload plus the
// metadata needed to place it in the container index. Records are
// immutable after insertion and owned exclusively by the Store.
type Record struct {
	// Digest is the BLAKE3 digest of the raw (uncompressed) bytes.
	Digest imagetype.Digest

	// Payload is the stored bytes, coded per Tag.
	Payload []byte

	// RawLen is the uncompressed length in bytes.
	RawLen uint32

	// Tag names the algorithm used to code Payload.
	Tag zcodec.Tag
}

type shard struct {
	mu sync.RWMutex
	m  map[imagetype.Digest]imagetype.BlockID
}

// Store deduplicates blocks by content digest. InsertOrGet is safe
// for concurrent use: goroutines racing to insert the same digest
// converge on a single Record, with exactly one of them observing a
// fresh insert. After the build completes the store is read-only and
// requires no locking.
type Store struct {
	shards [shardCount]shard

	mu      sync.Mutex
	records []Record

	group singleflight.Group

	totalBlocks atomic.Uint64
	rawBytes    atomic.Uint64
	storedBytes atomic.Uint64
}

// Stats summarizes store contents.
type Stats struct {
	// UniqueBlocks is the number of distinct block records.
	UniqueBlocks int

	// TotalBlocks counts every InsertOrGet call, dedup hits included.
	TotalBlocks uint64

	// RawBytes is the total uncompressed bytes pushed through the
	// store, dedup hits included.
	RawBytes uint64

	// StoredBytes is the total compressed payload bytes actually held.
	StoredBytes uint64
}

// New creates an empty block store.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].m = make(map[imagetype.Digest]imagetype.BlockID)
	}
	return s
}

func (s *Store) shardFor(digest imagetype.Digest) *shard {
	return &s.shards[digest[0]%shardCount]
}

// InsertOrGet returns the block id for the given content, storing it
// first if no block with this digest exists. raw is only read for the
// duration of the call. When the digest is new, raw is compressed
// with the given tag and level; incompressible blocks fall back to an
// uncompressed payload. dedup reports whether an existing record was
// reused.
func (s *Store) InsertOrGet(digest imagetype.Digest, raw []byte, tag zcodec.Tag, level int) (id imagetype.BlockID, dedup bool, err error) {
	s.totalBlocks.Add(1)
	s.rawBytes.Add(uint64(len(raw)))

	sh := s.shardFor(digest)
	sh.mu.RLock()
	id, ok := sh.m[digest]
	sh.mu.RUnlock()
	if ok {
		return id, true, nil
	}

	// Coalesce racing inserts of the same digest so the payload is
	// compressed at most once. inserted is set only by this caller's
	// own closure, so coalesced callers whose closure never runs
	// still report a dedup hit.
	inserted := false
	v, err, _ := s.group.Do(string(digest[:]), func() (any, error) {
		sh.mu.RLock()
		existing, ok := sh.m[digest]
		sh.mu.RUnlock()
		if ok {
			return existing, nil
		}
		inserted = true
		return s.insert(sh, digest, raw, tag, level)
	})
	if err != nil {
		return 0, false, err
	}
	return v.(imagetype.BlockID), !inserted, nil
}

// insert compresses raw and appends a new record. Called at most once
// per digest via the singleflight group.
func (s *Store) insert(sh *shard, digest imagetype.Digest, raw []byte, tag zcodec.Tag, level int) (imagetype.BlockID, error) {
	payload, err := zcodec.Compress(raw, tag, level)
	switch {
	case errors.Is(err, zcodec.ErrIncompressible):
		tag = zcodec.TagNone
		payload = raw
	case err != nil:
		return 0, fmt.Errorf("block %s: %w", digest, err)
	}
	if tag == zcodec.TagNone {
		// Uncoded payloads alias the caller's buffer; copy before
		// the caller reuses it for the next block.
		payload = bytes.Clone(payload)
	}

	s.mu.Lock()
	id := imagetype.BlockID(len(s.records))
	s.records = append(s.records, Record{
		Digest:  digest,
		Payload: payload,
		RawLen:  uint32(len(raw)),
		Tag:     tag,
	})
	s.mu.Unlock()

	sh.mu.Lock()
	sh.m[digest] = id
	sh.mu.Unlock()

	s.storedBytes.Add(uint64(len(payload)))
	return id, nil
}

// Get decompresses and returns the raw bytes of the block with the
// given id. Errors if id is out of range or the payload fails to
// decode.
func (s *Store) Get(id imagetype.BlockID) ([]byte, error) {
	rec, err := s.Record(id)
	if err != nil {
		return nil, err
	}
	raw, err := zcodec.Decompress(rec.Payload, rec.Tag, int(rec.RawLen))
	if err != nil {
		return nil, fmt.Errorf("block %d (%s): %w", id, rec.Digest, err)
	}
	return raw, nil
}

// Record returns the stored record for id without decompressing it.
func (s *Store) Record(id imagetype.BlockID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) >= len(s.records) {
		return Record{}, fmt.Errorf("%w: block id %d of %d", imagetype.ErrDanglingBlock, id, len(s.records))
	}
	return s.records[id], nil
}

// Lookup returns the block id for a digest, if present.
func (s *Store) Lookup(digest imagetype.Digest) (imagetype.BlockID, bool) {
	sh := s.shardFor(digest)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	id, ok := sh.m[digest]
	return id, ok
}

// Len returns the number of unique block records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns the record slice in insertion order. The caller
// must treat records as immutable; the slice is only stable once all
// inserts have completed.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

// Stats returns current store statistics.
func (s *Store) Stats() Stats {
	return Stats{
		UniqueBlocks: s.Len(),
		TotalBlocks:  s.totalBlocks.Load(),
		RawBytes:     s.rawBytes.Load(),
		StoredBytes:  s.storedBytes.Load(),
	}
}
