package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Applier is the narrow capability interface the DAG engine uses to
// materialize a delta's payload into the new application root hash (§9).
// It is deliberately the only way the engine touches guest execution,
// which is out of scope for this core (§1).
type Applier interface {
	Apply(ctx context.Context, contextId ContextId, payload []byte) (RootHash, []byte, error)
}

// AddOutcome is the result of DagEngine.AddDelta (§4.4).
type AddOutcome struct {
	Kind            AddOutcomeKind
	MissingParents  map[DeltaId]struct{} // set when Kind == Buffered
	Cascaded        []DeltaId            // set when Kind == Applied
}

type AddOutcomeKind int

const (
	OutcomeApplied AddOutcomeKind = iota
	OutcomeBuffered
	OutcomeDuplicate
	OutcomeHashMismatch
)

type pendingDelta struct {
	delta     Delta
	firstSeen time.Time
}

// DagEngine owns one context's causal delta DAG: its known/pending/applied
// sets and head tracking (§3, §4.4). Exactly one AddDelta call progresses
// at a time per context, enforced by mu; the lock is always released
// before the engine calls out to Applier.Apply or reports heads, per the
// concurrency rule in §5 ("no lock held across await boundaries that
// perform I/O").
type DagEngine struct {
	contextId ContextId
	applier   Applier
	log       *logrus.Entry

	mu       sync.Mutex
	applied  map[DeltaId]Delta
	pending  map[DeltaId]pendingDelta
	heads    map[DeltaId]struct{}
	invalid  map[DeltaId]struct{} // permanently-invalid HashMismatch deltas
	genesis  RootHash
}

// NewDagEngine creates a DAG engine seeded with the context's genesis root
// hash. The genesis node itself is not represented as a Delta; it is the
// implicit parent of every delta whose Parents list is empty.
func NewDagEngine(contextId ContextId, genesis RootHash, applier Applier, log *logrus.Logger) *DagEngine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DagEngine{
		contextId: contextId,
		applier:   applier,
		log:       log.WithField("context", contextId.String()),
		applied:   make(map[DeltaId]Delta),
		pending:   make(map[DeltaId]pendingDelta),
		heads:     make(map[DeltaId]struct{}),
		invalid:   make(map[DeltaId]struct{}),
		genesis:   genesis,
	}
}

// AddDelta implements the contract of §4.4.
func (e *DagEngine) AddDelta(ctx context.Context, d Delta) (AddOutcome, error) {
	e.mu.Lock()

	if _, ok := e.applied[d.Id]; ok {
		e.mu.Unlock()
		return AddOutcome{Kind: OutcomeDuplicate}, nil
	}
	if _, ok := e.pending[d.Id]; ok {
		e.mu.Unlock()
		return AddOutcome{Kind: OutcomeDuplicate}, nil
	}
	if _, ok := e.invalid[d.Id]; ok {
		e.mu.Unlock()
		return AddOutcome{Kind: OutcomeDuplicate}, nil
	}

	if !e.parentsApplied(d.Parents) {
		e.pending[d.Id] = pendingDelta{delta: d, firstSeen: now()}
		missing := e.missingParentsOfLocked(d.Parents)
		e.mu.Unlock()
		return AddOutcome{Kind: OutcomeBuffered, MissingParents: missing}, nil
	}

	// Release the lock before calling the external Applier: it may block
	// on guest execution I/O (§5).
	e.mu.Unlock()
	outcome, err := e.applyAndCascade(ctx, d)
	return outcome, err
}

// applyAndCascade performs step 2a-2e of §4.4's AddDelta contract for d,
// then cascades every pending delta whose parents became applied as a
// result, in (timestamp, id) order, re-acquiring the lock only around the
// map mutations.
func (e *DagEngine) applyAndCascade(ctx context.Context, d Delta) (AddOutcome, error) {
	root, events, err := e.applier.Apply(ctx, e.contextId, d.Payload)
	if err != nil {
		// The delta is buffered rather than marked invalid. Nothing retries
		// it on a timer: a later cascade applies it once it is found ready
		// again, and until EvictStale drops it a redelivery reports
		// Duplicate.
		e.mu.Lock()
		e.pending[d.Id] = pendingDelta{delta: d, firstSeen: now()}
		e.mu.Unlock()
		return AddOutcome{}, fmt.Errorf("apply delta %s: %w", d.Id, err)
	}
	d.Events = events

	if root != d.ExpectedRootHash {
		e.mu.Lock()
		e.invalid[d.Id] = struct{}{}
		e.mu.Unlock()
		e.log.WithFields(logrus.Fields{"delta": d.Id.String(), "got": root.String(), "want": d.ExpectedRootHash.String()}).
			Warn("dag: hash mismatch, rejecting delta permanently")
		return AddOutcome{Kind: OutcomeHashMismatch}, ErrHashMismatch
	}

	e.mu.Lock()
	e.commitAppliedLocked(d)
	cascaded := e.cascadeLocked()
	e.mu.Unlock()

	return AddOutcome{Kind: OutcomeApplied, Cascaded: cascaded}, nil
}

// commitAppliedLocked records d as applied and updates heads. Caller holds mu.
func (e *DagEngine) commitAppliedLocked(d Delta) {
	e.applied[d.Id] = d
	delete(e.pending, d.Id)
	for _, p := range d.Parents {
		delete(e.heads, p)
	}
	e.heads[d.Id] = struct{}{}
}

// cascadeLocked repeatedly finds pending deltas whose parents are now all
// applied and applies them in (timestamp, id) ascending order until no
// more are ready (§4.4 step 2d). Because each ready delta's Applier.Apply
// call must happen outside the lock, cascadeLocked itself only decides
// readiness; applyAndCascade's caller already holds the lock when this is
// invoked, so the engine instead loops: compute the ready set under the
// lock, release, apply one, re-acquire. This keeps "lock never held across
// an await that performs I/O" true even for cascades.
func (e *DagEngine) cascadeLocked() []DeltaId {
	var cascaded []DeltaId
	for {
		ready := e.readyPendingLocked()
		if len(ready) == 0 {
			return cascaded
		}
		next := ready[0]
		d := e.pending[next].delta
		delete(e.pending, next)
		e.mu.Unlock()
		root, events, err := e.applier.Apply(context.Background(), e.contextId, d.Payload)
		e.mu.Lock()
		if err != nil {
			// put it back as pending for a later retry; stop cascading.
			e.pending[next] = pendingDelta{delta: d, firstSeen: now()}
			return cascaded
		}
		if root != d.ExpectedRootHash {
			e.invalid[next] = struct{}{}
			continue
		}
		d.Events = events
		e.commitAppliedLocked(d)
		cascaded = append(cascaded, next)
	}
}

// readyPendingLocked returns pending delta ids whose parents are all
// applied, sorted by (timestamp, id) ascending (§4.4 tie-break rule).
// Caller holds mu.
func (e *DagEngine) readyPendingLocked() []DeltaId {
	var ready []DeltaId
	for id, pd := range e.pending {
		if e.parentsApplied(pd.delta.Parents) {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		ti, tj := e.pending[ready[i]].delta.Timestamp, e.pending[ready[j]].delta.Timestamp
		if ti.Less(tj) {
			return true
		}
		if tj.Less(ti) {
			return false
		}
		return string(ready[i][:]) < string(ready[j][:])
	})
	return ready
}

func (e *DagEngine) parentsApplied(parents []DeltaId) bool {
	for _, p := range parents {
		if _, ok := e.applied[p]; !ok {
			return false
		}
	}
	return true
}

func (e *DagEngine) missingParentsOfLocked(parents []DeltaId) map[DeltaId]struct{} {
	out := make(map[DeltaId]struct{})
	for _, p := range parents {
		if _, ok := e.applied[p]; !ok {
			out[p] = struct{}{}
		}
	}
	return out
}

// GetMissingParents returns the union of parents(p) \ applied across all
// pending deltas, driving sync requests (§4.4).
func (e *DagEngine) GetMissingParents() map[DeltaId]struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[DeltaId]struct{})
	for _, pd := range e.pending {
		for k := range e.missingParentsOfLocked(pd.delta.Parents) {
			out[k] = struct{}{}
		}
	}
	return out
}

// GetHeads returns the current head set.
func (e *DagEngine) GetHeads() map[DeltaId]struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[DeltaId]struct{}, len(e.heads))
	for k := range e.heads {
		out[k] = struct{}{}
	}
	return out
}

// GetDelta returns an applied delta by id.
func (e *DagEngine) GetDelta(id DeltaId) (Delta, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.applied[id]
	return d, ok
}

// Has reports whether id is known (applied or pending).
func (e *DagEngine) Has(id DeltaId) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.applied[id]; ok {
		return true
	}
	_, ok := e.pending[id]
	return ok
}

// EvictStale drops pending deltas whose first-seen time is older than
// maxAge, returning the number evicted. Eviction is informational for
// memory control only: re-delivery causes re-buffering through the normal
// AddDelta path (§4.4).
func (e *DagEngine) EvictStale(maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := now().Add(-maxAge)
	n := 0
	for id, pd := range e.pending {
		if pd.firstSeen.Before(cutoff) {
			delete(e.pending, id)
			n++
		}
	}
	return n
}

// SeedSnapshot marks each id in heads as applied without invoking Applier,
// then cascades any pending deltas whose parents become satisfied as a
// result. It is used after a full state transfer (§4.9 fullStateTransfer):
// the peer's raw column state has already been written directly into the
// backend, so the DAG only needs to catch up on causal bookkeeping rather
// than re-materialize state it already has. Deltas marked this way carry no
// payload and are never handed to Applier.Apply again.
func (e *DagEngine) SeedSnapshot(heads map[DeltaId]struct{}) []DeltaId {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.heads = make(map[DeltaId]struct{}, len(heads))
	for id := range heads {
		delete(e.invalid, id)
		delete(e.pending, id)
		if _, ok := e.applied[id]; !ok {
			e.applied[id] = Delta{Id: id}
		}
		e.heads[id] = struct{}{}
	}
	return e.cascadeLocked()
}

// PendingStats summarizes the pending buffer (§4.4).
type PendingStatsResult struct {
	Count    int
	OldestAge time.Duration
}

func (e *DagEngine) PendingStats() PendingStatsResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	var oldest time.Time
	for _, pd := range e.pending {
		if oldest.IsZero() || pd.firstSeen.Before(oldest) {
			oldest = pd.firstSeen
		}
	}
	res := PendingStatsResult{Count: len(e.pending)}
	if !oldest.IsZero() {
		res.OldestAge = now().Sub(oldest)
	}
	return res
}
