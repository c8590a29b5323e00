package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSyncInterval, DefaultSyncMinBetween and DefaultSyncTimeout match
// §6's suggested anti-entropy cadence.
const (
	DefaultSyncInterval   = 30 * time.Second
	DefaultSyncMinBetween = 10 * time.Second
	DefaultSyncTimeout    = 15 * time.Second
)

// SyncSchedulerConfig configures the anti-entropy loop (§4.9, §6).
type SyncSchedulerConfig struct {
	Interval   time.Duration
	MinBetween time.Duration
	Timeout    time.Duration
}

func (c SyncSchedulerConfig) withDefaults() SyncSchedulerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSyncInterval
	}
	if c.MinBetween <= 0 {
		c.MinBetween = DefaultSyncMinBetween
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultSyncTimeout
	}
	return c
}

// SyncTarget is the narrow capability the scheduler needs from the Node
// Runtime, kept as an interface so tests can drive the scheduler against an
// in-memory fake instead of a live NodeRuntime (§9).
type SyncTarget interface {
	Contexts() []ContextId
	MissingParents(ctxId ContextId) map[DeltaId]struct{}
	RequestDeltas(ctxId ContextId, peer PeerId, ids []DeltaId) error
	FullStateTransfer(ctxId ContextId, peer PeerId) error
}

// SyncScheduler periodically picks peers and pulls any causally-missing
// deltas from them, the pull-based half of replication that complements
// gossip push (§4.9). Within a tick, contexts are synced one after another;
// each attempt is bounded by Timeout, so a slow or unresponsive peer for one
// context delays the following contexts' rounds by at most that deadline
// per strategy tried.
type SyncScheduler struct {
	target  SyncTarget
	peers   *PeerManagement
	cfg     SyncSchedulerConfig
	log     *logrus.Entry
	metrics *Metrics

	lastSync map[ContextId]time.Time
}

func NewSyncScheduler(target SyncTarget, peers *PeerManagement, cfg SyncSchedulerConfig, log *logrus.Logger) *SyncScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SyncScheduler{
		target:   target,
		peers:    peers,
		cfg:      cfg.withDefaults(),
		log:      log.WithField("component", "sync_scheduler"),
		lastSync: make(map[ContextId]time.Time),
	}
}

// WithMetrics attaches a metrics sink that records sync failure causes,
// returning the scheduler for chaining at construction time.
func (s *SyncScheduler) WithMetrics(m *Metrics) *SyncScheduler {
	s.metrics = m
	return s
}

func (s *SyncScheduler) recordFailure(cause string) {
	if s.metrics != nil {
		s.metrics.SyncFailures.WithLabelValues(cause).Inc()
	}
}

// Run drives the periodic tick loop until ctx is canceled.
func (s *SyncScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one round: for every joined context whose MinBetween interval
// has elapsed, sample a peer and pull missing ancestors (§4.9 steps a-d).
func (s *SyncScheduler) tick(ctx context.Context) {
	for _, ctxId := range s.target.Contexts() {
		last, ok := s.lastSync[ctxId]
		if ok && now().Sub(last) < s.cfg.MinBetween {
			continue
		}
		missing := s.target.MissingParents(ctxId)
		if len(missing) == 0 {
			continue
		}
		peers, err := s.peers.Sample(1)
		if err != nil || len(peers) == 0 {
			s.log.WithField("context", ctxId.String()).Debug("sync: no peers available")
			continue
		}
		s.lastSync[ctxId] = now()
		ids := make([]DeltaId, 0, len(missing))
		for id := range missing {
			ids = append(ids, id)
		}
		s.syncOnce(ctx, ctxId, peers[0], ids)
	}
}

// syncOnce tries incrementalCatchUp first, the cheaper of the two
// strategies (§4.9). If the peer reports ErrAncestorHistoryMissing — its
// own history doesn't reach back far enough to serve the request — it falls
// through to fullStateTransfer within the same tick. A plain timeout is not
// treated as a fallback trigger: it just ends the round for a retry against
// a different peer next tick.
func (s *SyncScheduler) syncOnce(ctx context.Context, ctxId ContextId, peer PeerId, ids []DeltaId) {
	err := s.runWithDeadline(ctx, func() error {
		return s.target.RequestDeltas(ctxId, peer, ids)
	})
	if err == nil {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.recordFailure("timeout")
		s.log.WithFields(logrus.Fields{"context": ctxId.String(), "peer": peer}).Warn("incremental sync round timed out")
		return
	}
	if !errors.Is(err, ErrAncestorHistoryMissing) {
		s.recordFailure("incremental_catch_up")
		s.log.WithFields(logrus.Fields{"context": ctxId.String(), "peer": peer}).WithError(err).Debug("incremental sync round failed")
		return
	}

	s.log.WithFields(logrus.Fields{"context": ctxId.String(), "peer": peer}).
		Info("ancestor history missing, falling back to full state transfer")
	if err := s.runWithDeadline(ctx, func() error {
		return s.target.FullStateTransfer(ctxId, peer)
	}); err != nil {
		s.recordFailure("full_state_transfer")
		s.log.WithFields(logrus.Fields{"context": ctxId.String(), "peer": peer}).WithError(err).Warn("full state transfer failed")
	}
}

// TriggerNow forces an immediate sync round for ctxId, bypassing MinBetween,
// for use by `calimerod context sync-now` (§6).
func (s *SyncScheduler) TriggerNow(ctx context.Context, ctxId ContextId) error {
	missing := s.target.MissingParents(ctxId)
	peers, err := s.peers.Sample(1)
	if err != nil || len(peers) == 0 {
		return fmt.Errorf("%w: no peers available to sync with", ErrPeerUnresponsive)
	}
	s.lastSync[ctxId] = now()
	ids := make([]DeltaId, 0, len(missing))
	for id := range missing {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		s.log.WithField("context", ctxId.String()).Debug("sync-now: no missing ancestors, nothing to do")
		return nil
	}
	s.syncOnce(ctx, ctxId, peers[0], ids)
	return nil
}

// runWithDeadline runs fn in a goroutine bounded by the scheduler's
// per-attempt timeout, returning context.DeadlineExceeded if it doesn't
// finish in time.
func (s *SyncScheduler) runWithDeadline(ctx context.Context, fn func() error) error {
	syncCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-syncCtx.Done():
		return syncCtx.Err()
	}
}
