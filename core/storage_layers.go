package core

import "sync"

// View exposes read-only access over a Backend or another View (§4.2).
type View interface {
	Has(col Column, key []byte) (bool, error)
	Get(col Column, key []byte) ([]byte, error)
	Range(col Column, start []byte, dir Direction) (RangeIterator, error)
}

// MutableView extends View with writes (§4.2).
type MutableView interface {
	View
	Put(col Column, key, value []byte) error
	Delete(col Column, key []byte) error
}

// BaseView reads and writes a Backend directly, with no buffering.
type BaseView struct {
	backend Backend
}

func NewBaseView(b Backend) *BaseView { return &BaseView{backend: b} }

func (v *BaseView) Has(col Column, key []byte) (bool, error) { return v.backend.Has(col, key) }
func (v *BaseView) Get(col Column, key []byte) ([]byte, error) {
	return v.backend.Get(col, key)
}
func (v *BaseView) Range(col Column, start []byte, dir Direction) (RangeIterator, error) {
	return v.backend.Range(col, start, dir)
}
func (v *BaseView) Put(col Column, key, value []byte) error { return v.backend.Put(col, key, value) }
func (v *BaseView) Delete(col Column, key []byte) error     { return v.backend.Delete(col, key) }

// shadowOp mirrors WriteOp for the in-memory overlay; value is nil and
// deleted=true for a buffered delete, distinguishing it from "absent from
// the overlay" (which means "consult underlying").
type shadowOp struct {
	value   []byte
	deleted bool
}

// ShadowBuffer is a write-buffering ("temporal") layer over an underlying
// View (§4.2). Reads consult the overlay first, then fall through.
// Writes only ever touch the overlay; Commit flushes it as a single atomic
// Apply against the underlying Backend-backed view, Rollback discards it.
// Multiple ShadowBuffers may be stacked since the underlying field is
// itself just a View.
type ShadowBuffer struct {
	mu         sync.RWMutex
	underlying View
	overlay    [6]map[string]shadowOp
}

func NewShadowBuffer(underlying View) *ShadowBuffer {
	sb := &ShadowBuffer{underlying: underlying}
	for i := range sb.overlay {
		sb.overlay[i] = make(map[string]shadowOp)
	}
	return sb
}

func (sb *ShadowBuffer) Has(col Column, key []byte) (bool, error) {
	sb.mu.RLock()
	op, ok := sb.overlay[col][string(key)]
	sb.mu.RUnlock()
	if ok {
		return !op.deleted, nil
	}
	return sb.underlying.Has(col, key)
}

func (sb *ShadowBuffer) Get(col Column, key []byte) ([]byte, error) {
	sb.mu.RLock()
	op, ok := sb.overlay[col][string(key)]
	sb.mu.RUnlock()
	if ok {
		if op.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), op.value...), nil
	}
	return sb.underlying.Get(col, key)
}

func (sb *ShadowBuffer) Put(col Column, key, value []byte) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.overlay[col][string(key)] = shadowOp{value: append([]byte(nil), value...)}
	return nil
}

func (sb *ShadowBuffer) Delete(col Column, key []byte) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.overlay[col][string(key)] = shadowOp{deleted: true}
	return nil
}

// Range merges the overlay with the underlying view, preferring overlay
// entries. The merge materializes both sides up front, which is
// acceptable for the bounded, infrequent ranges this layer is used for
// (catch-up sync, migrations); it is not meant for hot-path iteration.
func (sb *ShadowBuffer) Range(col Column, start []byte, dir Direction) (RangeIterator, error) {
	under, err := sb.underlying.Range(col, start, dir)
	if err != nil {
		return nil, err
	}
	merged := map[string][]byte{}
	for under.Next() {
		merged[string(under.Key())] = append([]byte(nil), under.Value()...)
	}
	_ = under.Close()
	if err := under.Err(); err != nil {
		return nil, err
	}

	sb.mu.RLock()
	for k, op := range sb.overlay[col] {
		if k < string(start) {
			continue
		}
		if op.deleted {
			delete(merged, k)
		} else {
			merged[k] = append([]byte(nil), op.value...)
		}
	}
	sb.mu.RUnlock()

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sortStrings(keys, dir)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = merged[k]
	}
	return &memRangeIterator{keys: keys, values: values, idx: -1}, nil
}

// Commit flushes the overlay as one atomic WriteBatch against the
// underlying Backend. It requires the underlying chain to eventually
// bottom out at a MutableView backed by a real Backend.
func (sb *ShadowBuffer) Commit(apply func(*WriteBatch) error) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	batch := &WriteBatch{}
	for col := range sb.overlay {
		for k, op := range sb.overlay[Column(col)] {
			if op.deleted {
				batch.Delete(Column(col), []byte(k))
			} else {
				batch.Put(Column(col), []byte(k), op.value)
			}
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := apply(batch); err != nil {
		return err
	}
	for i := range sb.overlay {
		sb.overlay[i] = make(map[string]shadowOp)
	}
	return nil
}

// Rollback discards the overlay without touching the underlying view.
func (sb *ShadowBuffer) Rollback() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for i := range sb.overlay {
		sb.overlay[i] = make(map[string]shadowOp)
	}
}

// ReadOnlyView exposes only read operations over any View, rejecting
// writes at runtime with ErrReadOnly (§4.2).
type ReadOnlyView struct {
	inner View
}

func NewReadOnlyView(v View) *ReadOnlyView { return &ReadOnlyView{inner: v} }

func (r *ReadOnlyView) Has(col Column, key []byte) (bool, error) { return r.inner.Has(col, key) }
func (r *ReadOnlyView) Get(col Column, key []byte) ([]byte, error) {
	return r.inner.Get(col, key)
}
func (r *ReadOnlyView) Range(col Column, start []byte, dir Direction) (RangeIterator, error) {
	return r.inner.Range(col, start, dir)
}
func (r *ReadOnlyView) Put(Column, []byte, []byte) error { return ErrReadOnly }
func (r *ReadOnlyView) Delete(Column, []byte) error      { return ErrReadOnly }

// TeeView reads from a primary view, falling back to a secondary on
// absence, and writes to both. It is used for migration-like scenarios
// where a new backend is being populated lazily from an old one (§4.2).
type TeeView struct {
	primary   MutableView
	secondary MutableView
}

func NewTeeView(primary, secondary MutableView) *TeeView {
	return &TeeView{primary: primary, secondary: secondary}
}

func (t *TeeView) Has(col Column, key []byte) (bool, error) {
	ok, err := t.primary.Has(col, key)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return t.secondary.Has(col, key)
}

func (t *TeeView) Get(col Column, key []byte) ([]byte, error) {
	v, err := t.primary.Get(col, key)
	if err == nil {
		return v, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	return t.secondary.Get(col, key)
}

func (t *TeeView) Range(col Column, start []byte, dir Direction) (RangeIterator, error) {
	return t.primary.Range(col, start, dir)
}

func (t *TeeView) Put(col Column, key, value []byte) error {
	if err := t.primary.Put(col, key, value); err != nil {
		return err
	}
	return t.secondary.Put(col, key, value)
}

func (t *TeeView) Delete(col Column, key []byte) error {
	if err := t.primary.Delete(col, key); err != nil {
		return err
	}
	return t.secondary.Delete(col, key)
}

func sortStrings(s []string, dir Direction) {
	// insertion sort is adequate: these ranges are bounded by what fits in
	// a ShadowBuffer overlay between commits, not full-table scans.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0; j-- {
			less := s[j-1] > s[j]
			if dir == Backward {
				less = s[j-1] < s[j]
			}
			if !less {
				break
			}
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
