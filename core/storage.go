package core

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// BlobStore is a bounded in-process cache of immutable content-addressed
// blobs fronting the Backend's generic column, evicting by count, total
// bytes, and age (§4.10). It is consulted by protocol handlers before
// falling back to a blob-fetch request to a peer.
type BlobStore struct {
	mu sync.Mutex

	backend Backend
	log     *logrus.Entry

	maxCount int
	maxBytes int64
	ttl      time.Duration

	order      *list.List // front = most recently used
	elems      map[BlobId]*list.Element
	totalBytes int64
}

type blobEntry struct {
	id      BlobId
	bytes   []byte
	storedAt time.Time
}

// DefaultBlobCacheCount, DefaultBlobCacheBytes and DefaultBlobCacheTTL match
// §4.10's stated defaults (100 blobs / 500MiB / 5 minutes).
const (
	DefaultBlobCacheCount = 100
	DefaultBlobCacheBytes = 500 * 1024 * 1024
	DefaultBlobCacheTTL   = 5 * time.Minute
)

// NewBlobStore wires a BlobStore over backend, persisting pinned blobs to
// the ColumnGeneric column so cold-started nodes can still serve blobs they
// previously downloaded for a context they remain a member of.
func NewBlobStore(backend Backend, maxCount int, maxBytes int64, ttl time.Duration, log *logrus.Logger) *BlobStore {
	if maxCount <= 0 {
		maxCount = DefaultBlobCacheCount
	}
	if maxBytes <= 0 {
		maxBytes = DefaultBlobCacheBytes
	}
	if ttl <= 0 {
		ttl = DefaultBlobCacheTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BlobStore{
		backend:  backend,
		log:      log.WithField("component", "blob_store"),
		maxCount: maxCount,
		maxBytes: maxBytes,
		ttl:      ttl,
		order:    list.New(),
		elems:    make(map[BlobId]*list.Element),
	}
}

// ComputeBlobId hashes bytes with blake3, matching DeltaId/RootHash's
// hashing scheme (§3).
func ComputeBlobId(data []byte) BlobId {
	var out BlobId
	h := blake3.Sum256(data)
	copy(out[:], h[:])
	return out
}

// Put inserts a blob into the cache, evicting by LRU until under the
// count/byte caps, and persists it to the backend so it survives restarts;
// eviction from the cache leaves the persisted copy in place (§4.10). It refuses to store bytes whose
// content hash doesn't match b.Id, the check a receiver must run before
// accepting a blob fetched from a peer (§4.8).
func (s *BlobStore) Put(b Blob) error {
	if ComputeBlobId(b.Bytes) != b.Id {
		return fmt.Errorf("%w: blob content does not hash to %s", ErrHashMismatch, b.Id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.elems[b.Id]; ok {
		s.order.MoveToFront(el)
		return nil
	}
	el := s.order.PushFront(&blobEntry{id: b.Id, bytes: b.Bytes, storedAt: now()})
	s.elems[b.Id] = el
	s.totalBytes += int64(len(b.Bytes))
	s.evictLocked()

	var key GenericKey = append([]byte("blob:"), b.Id[:]...)
	return s.backend.Put(ColumnGeneric, key, b.Bytes)
}

// GetBlob implements BlobSource for the Network Core (§4.6): cache hit
// first, falling back to the backend for blobs evicted from the in-memory
// LRU but still persisted.
func (s *BlobStore) GetBlob(id BlobId) ([]byte, bool) {
	s.mu.Lock()
	if el, ok := s.elems[id]; ok {
		entry := el.Value.(*blobEntry)
		if now().Sub(entry.storedAt) <= s.ttl {
			s.order.MoveToFront(el)
			out := append([]byte(nil), entry.bytes...)
			s.mu.Unlock()
			return out, true
		}
		s.removeLocked(el)
	}
	s.mu.Unlock()

	var key GenericKey = append([]byte("blob:"), id[:]...)
	v, err := s.backend.Get(ColumnGeneric, key)
	if err != nil {
		return nil, false
	}
	return v, true
}

// EvictExpired drops cache entries older than the TTL, called periodically
// by the Node Runtime's maintenance loop (§4.10).
func (s *BlobStore) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now().Add(-s.ttl)
	n := 0
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*blobEntry)
		if entry.storedAt.Before(cutoff) {
			s.removeLocked(el)
			n++
		}
		el = prev
	}
	return n
}

func (s *BlobStore) evictLocked() {
	for (s.order.Len() > s.maxCount || s.totalBytes > s.maxBytes) && s.order.Len() > 0 {
		back := s.order.Back()
		if back == nil {
			return
		}
		s.removeLocked(back)
	}
}

func (s *BlobStore) removeLocked(el *list.Element) {
	entry := el.Value.(*blobEntry)
	s.totalBytes -= int64(len(entry.bytes))
	delete(s.elems, entry.id)
	s.order.Remove(el)
}

// Stats reports current cache occupancy, exported as Prometheus gauges by
// the Node Runtime's maintenance loop (§4.10).
type BlobStoreStats struct {
	Count int
	Bytes int64
}

func (s *BlobStore) Stats() BlobStoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BlobStoreStats{Count: s.order.Len(), Bytes: s.totalBytes}
}
