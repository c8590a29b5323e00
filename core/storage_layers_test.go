package core

import "testing"

func TestShadowBufferReadsOverlayBeforeUnderlying(t *testing.T) {
	backend := NewInMemoryBackend()
	base := NewBaseView(backend)
	if err := base.Put(ColumnGeneric, []byte("k"), []byte("underlying")); err != nil {
		t.Fatal(err)
	}

	sb := NewShadowBuffer(base)
	if v, err := sb.Get(ColumnGeneric, []byte("k")); err != nil || string(v) != "underlying" {
		t.Fatalf("expected fallthrough to underlying, got %q err=%v", v, err)
	}

	if err := sb.Put(ColumnGeneric, []byte("k"), []byte("overlay")); err != nil {
		t.Fatal(err)
	}
	if v, err := sb.Get(ColumnGeneric, []byte("k")); err != nil || string(v) != "overlay" {
		t.Fatalf("expected overlay value, got %q err=%v", v, err)
	}

	// underlying is untouched until Commit.
	if v, err := base.Get(ColumnGeneric, []byte("k")); err != nil || string(v) != "underlying" {
		t.Fatalf("expected underlying unchanged before commit, got %q err=%v", v, err)
	}
}

func TestShadowBufferDeleteMasksUnderlying(t *testing.T) {
	backend := NewInMemoryBackend()
	base := NewBaseView(backend)
	_ = base.Put(ColumnGeneric, []byte("k"), []byte("v"))

	sb := NewShadowBuffer(base)
	if err := sb.Delete(ColumnGeneric, []byte("k")); err != nil {
		t.Fatal(err)
	}
	if ok, err := sb.Has(ColumnGeneric, []byte("k")); err != nil || ok {
		t.Fatalf("expected key masked as deleted, got ok=%v err=%v", ok, err)
	}
	if _, err := sb.Get(ColumnGeneric, []byte("k")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestShadowBufferCommitFlushesAndClearsOverlay(t *testing.T) {
	backend := NewInMemoryBackend()
	base := NewBaseView(backend)
	sb := NewShadowBuffer(base)

	_ = sb.Put(ColumnGeneric, []byte("k"), []byte("v"))
	if err := sb.Commit(backend.Apply); err != nil {
		t.Fatal(err)
	}

	if v, err := base.Get(ColumnGeneric, []byte("k")); err != nil || string(v) != "v" {
		t.Fatalf("expected underlying to have committed value, got %q err=%v", v, err)
	}

	// A second commit with no pending writes is a no-op, not an error.
	if err := sb.Commit(backend.Apply); err != nil {
		t.Fatalf("expected no-op commit to succeed, got %v", err)
	}
}

func TestShadowBufferRollbackDiscardsOverlay(t *testing.T) {
	backend := NewInMemoryBackend()
	base := NewBaseView(backend)
	sb := NewShadowBuffer(base)

	_ = sb.Put(ColumnGeneric, []byte("k"), []byte("v"))
	sb.Rollback()

	if ok, _ := sb.Has(ColumnGeneric, []byte("k")); ok {
		t.Fatal("expected rollback to discard overlay write")
	}
	if ok, _ := base.Has(ColumnGeneric, []byte("k")); ok {
		t.Fatal("expected underlying never touched")
	}
}

func TestReadOnlyViewRejectsWrites(t *testing.T) {
	backend := NewInMemoryBackend()
	ro := NewReadOnlyView(NewBaseView(backend))
	if err := ro.Put(ColumnGeneric, []byte("k"), []byte("v")); err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if err := ro.Delete(ColumnGeneric, []byte("k")); err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestTeeViewReadsFallThroughAndWritesBoth(t *testing.T) {
	primaryBackend := NewInMemoryBackend()
	secondaryBackend := NewInMemoryBackend()
	_ = secondaryBackend.Put(ColumnGeneric, []byte("legacy"), []byte("old-value"))

	tee := NewTeeView(NewBaseView(primaryBackend), NewBaseView(secondaryBackend))

	// Read falls through to secondary when primary lacks the key.
	if v, err := tee.Get(ColumnGeneric, []byte("legacy")); err != nil || string(v) != "old-value" {
		t.Fatalf("expected fallthrough read, got %q err=%v", v, err)
	}

	if err := tee.Put(ColumnGeneric, []byte("fresh"), []byte("new-value")); err != nil {
		t.Fatal(err)
	}
	if v, err := primaryBackend.Get(ColumnGeneric, []byte("fresh")); err != nil || string(v) != "new-value" {
		t.Fatalf("expected primary write, got %q err=%v", v, err)
	}
	if v, err := secondaryBackend.Get(ColumnGeneric, []byte("fresh")); err != nil || string(v) != "new-value" {
		t.Fatalf("expected secondary write, got %q err=%v", v, err)
	}
}
