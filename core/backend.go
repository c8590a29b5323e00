package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Direction controls the order a Range scan yields entries in.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// KV is one (key, value) pair yielded by a Range scan.
type KV struct {
	Key   []byte
	Value []byte
}

// WriteOp is either a Put or a Delete within a WriteBatch (§3).
type WriteOp struct {
	Column Column
	Key    []byte
	Value  []byte // nil for delete
	Delete bool
}

// WriteBatch is an ordered mapping from (column, key) to Put(value) |
// Delete, applied atomically by the Backend (§3, §4.1).
type WriteBatch struct {
	ops []WriteOp
}

func (b *WriteBatch) Put(col Column, key, value []byte) {
	b.ops = append(b.ops, WriteOp{Column: col, Key: key, Value: value})
}

func (b *WriteBatch) Delete(col Column, key []byte) {
	b.ops = append(b.ops, WriteOp{Column: col, Key: key, Delete: true})
}

func (b *WriteBatch) Len() int { return len(b.ops) }

// Backend is the pluggable column-partitioned key-value store contract
// (§4.1). It is backend-agnostic: the only production implementation here
// is PebbleBackend, matched by InMemoryBackend for tests, per §9's
// "narrow capability interface... one production implementation and one
// in-memory test implementation" guidance.
type Backend interface {
	Has(col Column, key []byte) (bool, error)
	Get(col Column, key []byte) ([]byte, error)
	Put(col Column, key, value []byte) error
	Delete(col Column, key []byte) error
	Range(col Column, start []byte, dir Direction) (RangeIterator, error)
	Apply(batch *WriteBatch) error
	Close() error
}

// RangeIterator yields (key, value) pairs in lexicographic order; it is a
// point-in-time view that does not observe writes made after it was
// created (§4.1).
type RangeIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// prefixedKey composes the column-prefix layout every Backend
// implementation here uses on top of the caller-supplied per-column key.
func prefixedKey(col Column, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(col)
	copy(out[1:], key)
	return out
}

// --- PebbleBackend ---------------------------------------------------------

// PebbleBackend is the reference Backend implementation, an embedded LSM
// key-value store. Concurrent readers are allowed; writes are serialized
// per column via a lock striped over the Column byte (§4.1).
type PebbleBackend struct {
	db        *pebble.DB
	colLocks  [256]sync.Mutex
}

// OpenPebbleBackend opens (creating if absent) a Pebble database at dir.
func OpenPebbleBackend(dir string) (*PebbleBackend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: open pebble at %s: %v", ErrIO, dir, err)
	}
	return &PebbleBackend{db: db}, nil
}

func (p *PebbleBackend) Has(col Column, key []byte) (bool, error) {
	_, closer, err := p.db.Get(prefixedKey(col, key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIO, err)
	}
	_ = closer.Close()
	return true, nil
}

func (p *PebbleBackend) Get(col Column, key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(prefixedKey(col, key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

func (p *PebbleBackend) Put(col Column, key, value []byte) error {
	p.colLocks[col].Lock()
	defer p.colLocks[col].Unlock()
	if err := p.db.Set(prefixedKey(col, key), value, pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (p *PebbleBackend) Delete(col Column, key []byte) error {
	p.colLocks[col].Lock()
	defer p.colLocks[col].Unlock()
	if err := p.db.Delete(prefixedKey(col, key), pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (p *PebbleBackend) Range(col Column, start []byte, dir Direction) (RangeIterator, error) {
	lower := prefixedKey(col, start)
	upper := append([]byte{byte(col) + 1}, 0)
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return &pebbleRangeIterator{it: it, dir: dir, started: false}, nil
}

func (p *PebbleBackend) Apply(batch *WriteBatch) error {
	pb := p.db.NewBatch()
	defer pb.Close()
	for _, op := range batch.ops {
		p.colLocks[op.Column].Lock()
		var err error
		if op.Delete {
			err = pb.Delete(prefixedKey(op.Column, op.Key), nil)
		} else {
			err = pb.Set(prefixedKey(op.Column, op.Key), op.Value, nil)
		}
		p.colLocks[op.Column].Unlock()
		if err != nil {
			return fmt.Errorf("%w: stage batch op: %v", ErrIO, err)
		}
	}
	if err := pb.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: commit batch: %v", ErrIO, err)
	}
	return nil
}

func (p *PebbleBackend) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

type pebbleRangeIterator struct {
	it      *pebble.Iterator
	dir     Direction
	started bool
}

func (r *pebbleRangeIterator) Next() bool {
	if !r.started {
		r.started = true
		if r.dir == Forward {
			return r.it.First()
		}
		return r.it.Last()
	}
	if r.dir == Forward {
		return r.it.Next()
	}
	return r.it.Prev()
}

func (r *pebbleRangeIterator) Key() []byte   { return append([]byte(nil), r.it.Key()[1:]...) }
func (r *pebbleRangeIterator) Value() []byte { return append([]byte(nil), r.it.Value()...) }
func (r *pebbleRangeIterator) Err() error {
	if err := r.it.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}
func (r *pebbleRangeIterator) Close() error { return r.it.Close() }

// --- InMemoryBackend --------------------------------------------------------

// InMemoryBackend is a plain-map Backend used by tests (§9). One map per
// column, guarded by a per-column RWMutex so concurrent readers are
// allowed while writes serialize within a column, matching §4.1's
// thread-safety contract.
type InMemoryBackend struct {
	mu   [6]sync.RWMutex
	cols [6]map[string][]byte
}

func NewInMemoryBackend() *InMemoryBackend {
	b := &InMemoryBackend{}
	for i := range b.cols {
		b.cols[i] = make(map[string][]byte)
	}
	return b
}

func (b *InMemoryBackend) Has(col Column, key []byte) (bool, error) {
	b.mu[col].RLock()
	defer b.mu[col].RUnlock()
	_, ok := b.cols[col][string(key)]
	return ok, nil
}

func (b *InMemoryBackend) Get(col Column, key []byte) ([]byte, error) {
	b.mu[col].RLock()
	defer b.mu[col].RUnlock()
	v, ok := b.cols[col][string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *InMemoryBackend) Put(col Column, key, value []byte) error {
	b.mu[col].Lock()
	defer b.mu[col].Unlock()
	b.cols[col][string(key)] = append([]byte(nil), value...)
	return nil
}

func (b *InMemoryBackend) Delete(col Column, key []byte) error {
	b.mu[col].Lock()
	defer b.mu[col].Unlock()
	delete(b.cols[col], string(key))
	return nil
}

func (b *InMemoryBackend) Range(col Column, start []byte, dir Direction) (RangeIterator, error) {
	b.mu[col].RLock()
	keys := make([]string, 0, len(b.cols[col]))
	for k := range b.cols[col] {
		if k >= string(start) || len(start) == 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if dir == Backward {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), b.cols[col][k]...)
	}
	b.mu[col].RUnlock()
	return &memRangeIterator{keys: keys, values: values, idx: -1}, nil
}

func (b *InMemoryBackend) Apply(batch *WriteBatch) error {
	locked := map[Column]bool{}
	for _, op := range batch.ops {
		if !locked[op.Column] {
			b.mu[op.Column].Lock()
			locked[op.Column] = true
			defer b.mu[op.Column].Unlock()
		}
	}
	for _, op := range batch.ops {
		if op.Delete {
			delete(b.cols[op.Column], string(op.Key))
		} else {
			b.cols[op.Column][string(op.Key)] = append([]byte(nil), op.Value...)
		}
	}
	return nil
}

func (b *InMemoryBackend) Close() error { return nil }

type memRangeIterator struct {
	keys   []string
	values [][]byte
	idx    int
}

func (r *memRangeIterator) Next() bool {
	r.idx++
	return r.idx < len(r.keys)
}
func (r *memRangeIterator) Key() []byte   { return []byte(r.keys[r.idx]) }
func (r *memRangeIterator) Value() []byte { return r.values[r.idx] }
func (r *memRangeIterator) Err() error     { return nil }
func (r *memRangeIterator) Close() error   { return nil }
