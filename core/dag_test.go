package core

import (
	"context"
	"testing"
	"time"
)

// fakeApplier deterministically "applies" a delta by hashing its payload
// alone, so the root it reports depends only on the delta being applied and
// not on the order earlier deltas were applied in.
type fakeApplier struct {
	mu    chan struct{} // binary semaphore-less guard not needed; Apply is pure
	roots map[RootHash]RootHash
}

func newFakeApplier() *fakeApplier { return &fakeApplier{} }

func (a *fakeApplier) Apply(ctx context.Context, contextId ContextId, payload []byte) (RootHash, []byte, error) {
	h := ComputeDeltaId(payload, nil, "", HybridLogicalClock{})
	var root RootHash
	copy(root[:], h[:])
	return root, nil, nil
}

func hlc(ms int64, logical uint32) HybridLogicalClock {
	return HybridLogicalClock{WallMillis: ms, Logical: logical}
}

func mkDelta(payload []byte, parents []DeltaId, author PeerId, ts HybridLogicalClock, applier Applier, contextId ContextId) Delta {
	id := ComputeDeltaId(payload, parents, author, ts)
	root, _, _ := applier.Apply(context.Background(), contextId, payload)
	return Delta{
		Id:               id,
		Parents:          parents,
		Payload:          payload,
		Author:           author,
		Timestamp:        ts,
		ExpectedRootHash: root,
	}
}

func TestDagEngineLinearChainApplies(t *testing.T) {
	var ctxId ContextId
	applier := newFakeApplier()
	eng := NewDagEngine(ctxId, RootHash{}, applier, nil)

	d1 := mkDelta([]byte("a"), nil, "p1", hlc(1, 0), applier, ctxId)
	outcome, err := eng.AddDelta(context.Background(), d1)
	if err != nil {
		t.Fatalf("add d1: %v", err)
	}
	if outcome.Kind != OutcomeApplied {
		t.Fatalf("expected applied, got %v", outcome.Kind)
	}

	d2 := mkDelta([]byte("b"), []DeltaId{d1.Id}, "p1", hlc(2, 0), applier, ctxId)
	outcome, err = eng.AddDelta(context.Background(), d2)
	if err != nil {
		t.Fatalf("add d2: %v", err)
	}
	if outcome.Kind != OutcomeApplied {
		t.Fatalf("expected applied, got %v", outcome.Kind)
	}

	heads := eng.GetHeads()
	if len(heads) != 1 {
		t.Fatalf("expected single head, got %d", len(heads))
	}
	if _, ok := heads[d2.Id]; !ok {
		t.Fatalf("expected head to be d2")
	}
}

func TestDagEngineOutOfOrderArrivalBuffers(t *testing.T) {
	var ctxId ContextId
	applier := newFakeApplier()
	eng := NewDagEngine(ctxId, RootHash{}, applier, nil)

	d1 := mkDelta([]byte("a"), nil, "p1", hlc(1, 0), applier, ctxId)
	d2 := mkDelta([]byte("b"), []DeltaId{d1.Id}, "p1", hlc(2, 0), applier, ctxId)

	// d2 arrives before d1: it should buffer, reporting d1 as missing.
	outcome, err := eng.AddDelta(context.Background(), d2)
	if err != nil {
		t.Fatalf("add d2: %v", err)
	}
	if outcome.Kind != OutcomeBuffered {
		t.Fatalf("expected buffered, got %v", outcome.Kind)
	}
	if _, ok := outcome.MissingParents[d1.Id]; !ok {
		t.Fatalf("expected d1 reported missing")
	}
	if eng.Has(d2.Id) != true {
		t.Fatalf("expected Has to report d2 known while pending")
	}

	// d1 arrives, cascading d2 into the applied set.
	outcome, err = eng.AddDelta(context.Background(), d1)
	if err != nil {
		t.Fatalf("add d1: %v", err)
	}
	if outcome.Kind != OutcomeApplied {
		t.Fatalf("expected applied, got %v", outcome.Kind)
	}
	if len(outcome.Cascaded) != 1 || outcome.Cascaded[0] != d2.Id {
		t.Fatalf("expected d2 to cascade, got %v", outcome.Cascaded)
	}

	if _, ok := eng.GetDelta(d2.Id); !ok {
		t.Fatalf("expected d2 applied after cascade")
	}
	heads := eng.GetHeads()
	if _, ok := heads[d2.Id]; !ok || len(heads) != 1 {
		t.Fatalf("expected single head d2, got %v", heads)
	}
}

func TestDagEngineConcurrentForkBothApply(t *testing.T) {
	var ctxId ContextId
	applier := newFakeApplier()
	eng := NewDagEngine(ctxId, RootHash{}, applier, nil)

	base := mkDelta([]byte("base"), nil, "p1", hlc(1, 0), applier, ctxId)
	if _, err := eng.AddDelta(context.Background(), base); err != nil {
		t.Fatal(err)
	}

	left := mkDelta([]byte("left"), []DeltaId{base.Id}, "p1", hlc(2, 0), applier, ctxId)
	right := mkDelta([]byte("right"), []DeltaId{base.Id}, "p2", hlc(2, 1), applier, ctxId)

	if outcome, err := eng.AddDelta(context.Background(), left); err != nil || outcome.Kind != OutcomeApplied {
		t.Fatalf("add left: outcome=%v err=%v", outcome, err)
	}
	if outcome, err := eng.AddDelta(context.Background(), right); err != nil || outcome.Kind != OutcomeApplied {
		t.Fatalf("add right: outcome=%v err=%v", outcome, err)
	}

	heads := eng.GetHeads()
	if len(heads) != 2 {
		t.Fatalf("expected two concurrent heads, got %d", len(heads))
	}
	if _, ok := heads[left.Id]; !ok {
		t.Fatalf("expected left as head")
	}
	if _, ok := heads[right.Id]; !ok {
		t.Fatalf("expected right as head")
	}
}

func TestDagEngineDuplicateRejected(t *testing.T) {
	var ctxId ContextId
	applier := newFakeApplier()
	eng := NewDagEngine(ctxId, RootHash{}, applier, nil)

	d1 := mkDelta([]byte("a"), nil, "p1", hlc(1, 0), applier, ctxId)
	if _, err := eng.AddDelta(context.Background(), d1); err != nil {
		t.Fatal(err)
	}
	outcome, err := eng.AddDelta(context.Background(), d1)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %v", outcome.Kind)
	}
}

func TestDagEngineHashMismatchRejectedPermanently(t *testing.T) {
	var ctxId ContextId
	applier := newFakeApplier()
	eng := NewDagEngine(ctxId, RootHash{}, applier, nil)

	d1 := mkDelta([]byte("a"), nil, "p1", hlc(1, 0), applier, ctxId)
	d1.ExpectedRootHash = RootHash{0xFF} // deliberately wrong

	outcome, err := eng.AddDelta(context.Background(), d1)
	if err == nil {
		t.Fatal("expected hash mismatch error")
	}
	if outcome.Kind != OutcomeHashMismatch {
		t.Fatalf("expected hash mismatch outcome, got %v", outcome.Kind)
	}

	// Redelivery is reported as duplicate (permanently invalid), not buffered.
	outcome, err = eng.AddDelta(context.Background(), d1)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != OutcomeDuplicate {
		t.Fatalf("expected duplicate on redelivery of invalid delta, got %v", outcome.Kind)
	}
}

func TestDagEngineEvictStale(t *testing.T) {
	var ctxId ContextId
	applier := newFakeApplier()
	eng := NewDagEngine(ctxId, RootHash{}, applier, nil)

	orig := now
	defer func() { now = orig }()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time { return base }

	missingParent := DeltaId{0x01}
	d := mkDelta([]byte("x"), []DeltaId{missingParent}, "p1", hlc(1, 0), applier, ctxId)
	if outcome, err := eng.AddDelta(context.Background(), d); err != nil || outcome.Kind != OutcomeBuffered {
		t.Fatalf("expected buffered: outcome=%v err=%v", outcome, err)
	}

	now = func() time.Time { return base.Add(time.Hour) }
	n := eng.EvictStale(10 * time.Minute)
	if n != 1 {
		t.Fatalf("expected 1 evicted, got %d", n)
	}
	if eng.Has(d.Id) {
		t.Fatalf("expected evicted delta no longer known")
	}
}
