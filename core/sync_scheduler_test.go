package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeSyncTarget is an in-memory SyncTarget double, letting the scheduler be
// exercised without a live NodeRuntime or network stack.
type fakeSyncTarget struct {
	mu                 sync.Mutex
	missing            map[ContextId]map[DeltaId]struct{}
	requests           []requestedFetch
	requestErr         error // returned by RequestDeltas on every call, nil to succeed
	fullTransfers      []requestedFetch
	fullTransferErr    error
}

type requestedFetch struct {
	ctx  ContextId
	peer PeerId
	ids  []DeltaId
}

func (f *fakeSyncTarget) Contexts() []ContextId {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ContextId, 0, len(f.missing))
	for id := range f.missing {
		out = append(out, id)
	}
	return out
}

func (f *fakeSyncTarget) MissingParents(ctxId ContextId) map[DeltaId]struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.missing[ctxId]
}

func (f *fakeSyncTarget) RequestDeltas(ctxId ContextId, peer PeerId, ids []DeltaId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, requestedFetch{ctx: ctxId, peer: peer, ids: ids})
	return f.requestErr
}

func (f *fakeSyncTarget) FullStateTransfer(ctxId ContextId, peer PeerId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fullTransfers = append(f.fullTransfers, requestedFetch{ctx: ctxId, peer: peer})
	return f.fullTransferErr
}

func connectedPeerManagement(peers ...PeerId) *PeerManagement {
	disc := NewDiscoveryState()
	for _, p := range peers {
		disc.Touch(p, func(r *PeerRecord) { r.ConnState = ConnConnected })
	}
	return NewPeerManagement(disc, nil)
}

func TestSyncSchedulerTickRequestsMissingParents(t *testing.T) {
	var ctx ContextId
	ctx[0] = 1
	missingId := DeltaId{9}

	target := &fakeSyncTarget{missing: map[ContextId]map[DeltaId]struct{}{
		ctx: {missingId: struct{}{}},
	}}
	pm := connectedPeerManagement("peer-a")

	sched := NewSyncScheduler(target, pm, SyncSchedulerConfig{
		Interval: time.Hour, MinBetween: 0, Timeout: time.Second,
	}, nil)

	sched.tick(context.Background())

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.requests) != 1 {
		t.Fatalf("expected one sync request, got %d", len(target.requests))
	}
	if target.requests[0].ctx != ctx || target.requests[0].peer != "peer-a" {
		t.Fatalf("unexpected request: %+v", target.requests[0])
	}
	if len(target.requests[0].ids) != 1 || target.requests[0].ids[0] != missingId {
		t.Fatalf("unexpected ids: %v", target.requests[0].ids)
	}
}

func TestSyncSchedulerSkipsContextWithNoMissingParents(t *testing.T) {
	var ctx ContextId
	ctx[0] = 2
	target := &fakeSyncTarget{missing: map[ContextId]map[DeltaId]struct{}{ctx: {}}}
	pm := connectedPeerManagement("peer-a")

	sched := NewSyncScheduler(target, pm, SyncSchedulerConfig{Interval: time.Hour, Timeout: time.Second}, nil)
	sched.tick(context.Background())

	if len(target.requests) != 0 {
		t.Fatalf("expected no requests when nothing is missing, got %d", len(target.requests))
	}
}

func TestSyncSchedulerSkipsWhenNoPeersAvailable(t *testing.T) {
	var ctx ContextId
	ctx[0] = 3
	target := &fakeSyncTarget{missing: map[ContextId]map[DeltaId]struct{}{
		ctx: {DeltaId{1}: struct{}{}},
	}}
	pm := connectedPeerManagement() // no connected peers

	sched := NewSyncScheduler(target, pm, SyncSchedulerConfig{Interval: time.Hour, Timeout: time.Second}, nil)
	sched.tick(context.Background())

	if len(target.requests) != 0 {
		t.Fatalf("expected no requests without peers, got %d", len(target.requests))
	}
}

func TestSyncSchedulerRespectsMinBetween(t *testing.T) {
	var ctx ContextId
	ctx[0] = 4
	target := &fakeSyncTarget{missing: map[ContextId]map[DeltaId]struct{}{
		ctx: {DeltaId{1}: struct{}{}},
	}}
	pm := connectedPeerManagement("peer-a")

	sched := NewSyncScheduler(target, pm, SyncSchedulerConfig{
		Interval: time.Hour, MinBetween: time.Hour, Timeout: time.Second,
	}, nil)

	sched.tick(context.Background())
	sched.tick(context.Background())

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.requests) != 1 {
		t.Fatalf("expected MinBetween to suppress the second tick, got %d requests", len(target.requests))
	}
}

func TestSyncSchedulerFallsBackToFullStateTransfer(t *testing.T) {
	var ctx ContextId
	ctx[0] = 5
	target := &fakeSyncTarget{
		missing:    map[ContextId]map[DeltaId]struct{}{ctx: {DeltaId{1}: struct{}{}}},
		requestErr: ErrAncestorHistoryMissing,
	}
	pm := connectedPeerManagement("peer-a")

	sched := NewSyncScheduler(target, pm, SyncSchedulerConfig{Interval: time.Hour, Timeout: time.Second}, nil)
	sched.tick(context.Background())

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.requests) != 1 {
		t.Fatalf("expected the incremental attempt to still run, got %d", len(target.requests))
	}
	if len(target.fullTransfers) != 1 {
		t.Fatalf("expected fallback to full state transfer, got %d", len(target.fullTransfers))
	}
	if target.fullTransfers[0].ctx != ctx || target.fullTransfers[0].peer != "peer-a" {
		t.Fatalf("unexpected full transfer target: %+v", target.fullTransfers[0])
	}
}

func TestSyncSchedulerConfigDefaults(t *testing.T) {
	cfg := SyncSchedulerConfig{}.withDefaults()
	if cfg.Interval != DefaultSyncInterval || cfg.MinBetween != DefaultSyncMinBetween || cfg.Timeout != DefaultSyncTimeout {
		t.Fatalf("expected defaults applied, got %+v", cfg)
	}
}
