package core

import (
	"testing"
)

func TestInMemoryBackendPutGetDelete(t *testing.T) {
	b := NewInMemoryBackend()

	ok, err := b.Has(ColumnGeneric, []byte("k"))
	if err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := b.Put(ColumnGeneric, []byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	v, err := b.Get(ColumnGeneric, []byte("k"))
	if err != nil || string(v) != "v1" {
		t.Fatalf("expected v1, got %q err=%v", v, err)
	}

	if err := b.Delete(ColumnGeneric, []byte("k")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(ColumnGeneric, []byte("k")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryBackendColumnsAreIsolated(t *testing.T) {
	b := NewInMemoryBackend()
	if err := b.Put(ColumnState, []byte("k"), []byte("state-value")); err != nil {
		t.Fatal(err)
	}
	if ok, _ := b.Has(ColumnMeta, []byte("k")); ok {
		t.Fatal("expected key absent from a different column")
	}
}

func TestInMemoryBackendRangeOrdering(t *testing.T) {
	b := NewInMemoryBackend()
	for _, k := range []string{"c", "a", "b"} {
		if err := b.Put(ColumnGeneric, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	it, err := b.Range(ColumnGeneric, nil, Forward)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	it2, err := b.Range(ColumnGeneric, nil, Backward)
	if err != nil {
		t.Fatal(err)
	}
	var gotRev []string
	for it2.Next() {
		gotRev = append(gotRev, string(it2.Key()))
	}
	wantRev := []string{"c", "b", "a"}
	for i := range wantRev {
		if gotRev[i] != wantRev[i] {
			t.Fatalf("got %v want %v", gotRev, wantRev)
		}
	}
}

func TestInMemoryBackendApplyIsAtomic(t *testing.T) {
	b := NewInMemoryBackend()
	if err := b.Put(ColumnGeneric, []byte("existing"), []byte("v")); err != nil {
		t.Fatal(err)
	}

	batch := &WriteBatch{}
	batch.Put(ColumnGeneric, []byte("new"), []byte("v2"))
	batch.Delete(ColumnGeneric, []byte("existing"))
	batch.Put(ColumnState, []byte("state-key"), []byte("state-val"))

	if err := b.Apply(batch); err != nil {
		t.Fatal(err)
	}

	if _, err := b.Get(ColumnGeneric, []byte("existing")); err != ErrNotFound {
		t.Fatalf("expected deletion applied, got err=%v", err)
	}
	if v, err := b.Get(ColumnGeneric, []byte("new")); err != nil || string(v) != "v2" {
		t.Fatalf("expected new=v2, got %q err=%v", v, err)
	}
	if v, err := b.Get(ColumnState, []byte("state-key")); err != nil || string(v) != "state-val" {
		t.Fatalf("expected state-val, got %q err=%v", v, err)
	}
}

func TestWriteBatchLen(t *testing.T) {
	batch := &WriteBatch{}
	if batch.Len() != 0 {
		t.Fatalf("expected empty batch")
	}
	batch.Put(ColumnGeneric, []byte("a"), []byte("b"))
	batch.Delete(ColumnGeneric, []byte("c"))
	if batch.Len() != 2 {
		t.Fatalf("expected 2 ops, got %d", batch.Len())
	}
}
