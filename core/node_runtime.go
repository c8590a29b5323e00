package core

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NodeConfig aggregates the Network Core and blob cache configuration a
// running node needs (§6).
type NodeConfig struct {
	Network       NetworkConfig
	BlobMaxCount  int
	BlobMaxBytes  int64
	BlobTTL       time.Duration
	SyncInterval  time.Duration
	SyncMinBetween time.Duration
	SyncTimeout   time.Duration
}

// contextRuntime bundles the per-context DAG engine and storage view the
// Node Runtime owns on behalf of one replicated application context (§3).
type contextRuntime struct {
	dag     *DagEngine
	view    *ShadowBuffer
	applier Applier
	genesis RootHash
}

// NodeRuntime is the top-level object a `calimerod` process constructs: it
// owns the Network Core, Discovery state, storage backend, blob cache, and
// one DagEngine per joined context, and wires network events to the DAG and
// protocol handlers (§4.10).
type NodeRuntime struct {
	identity *NodeIdentity
	selfPeer PeerId

	network    *NetworkCore
	disc       *DiscoveryState
	backend    Backend
	blobs      *BlobStore
	dispatcher *ChanDispatcher
	metrics    *Metrics
	log        *logrus.Entry

	mu       sync.RWMutex
	contexts map[ContextId]*contextRuntime
	topics   map[string]ContextId

	sched *SyncScheduler

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNodeRuntime wires every component together and starts the event
// dispatch and sync-scheduler loops (§4.10). The runtime takes ownership of
// backend and will Close it on shutdown.
func NewNodeRuntime(cfg NodeConfig, identity *NodeIdentity, backend Backend, metrics *Metrics, log *logrus.Logger) (*NodeRuntime, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	selfPeer, err := identity.PeerId()
	if err != nil {
		return nil, fmt.Errorf("node runtime: derive peer id: %w", err)
	}

	disc := NewDiscoveryState()
	dispatcher := NewChanDispatcher(256)
	blobs := NewBlobStore(backend, cfg.BlobMaxCount, cfg.BlobMaxBytes, cfg.BlobTTL, log)

	network, err := NewNetworkCore(identity, cfg.Network, disc, dispatcher, blobs, log)
	if err != nil {
		return nil, fmt.Errorf("node runtime: start network core: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	nr := &NodeRuntime{
		identity:   identity,
		selfPeer:   selfPeer,
		network:    network,
		disc:       disc,
		backend:    backend,
		blobs:      blobs,
		dispatcher: dispatcher,
		metrics:    metrics,
		log:        log.WithField("component", "node_runtime"),
		contexts:   make(map[ContextId]*contextRuntime),
		topics:     make(map[string]ContextId),
		ctx:        ctx,
		cancel:     cancel,
	}

	nr.sched = NewSyncScheduler(nr, NewPeerManagement(disc, network), SyncSchedulerConfig{
		Interval:   cfg.SyncInterval,
		MinBetween: cfg.SyncMinBetween,
		Timeout:    cfg.SyncTimeout,
	}, log).WithMetrics(metrics)

	go nr.dispatchLoop()
	go nr.sched.Run(ctx)
	go nr.maintenanceLoop()

	return nr, nil
}

// CreateContext registers a freshly-created context this node is the first
// member of, seeding its DAG engine at genesis and subscribing to its
// gossip topic (§3, §4.4, §4.6).
func (nr *NodeRuntime) CreateContext(ctxId ContextId, genesis RootHash, applier Applier) error {
	nr.mu.Lock()
	if _, ok := nr.contexts[ctxId]; ok {
		nr.mu.Unlock()
		return fmt.Errorf("node runtime: context %s already joined", ctxId)
	}
	base := NewBaseView(nr.backend)
	rt := &contextRuntime{
		dag:     NewDagEngine(ctxId, genesis, applier, nr.logrusLogger()),
		view:    NewShadowBuffer(base),
		applier: applier,
		genesis: genesis,
	}
	nr.contexts[ctxId] = rt
	nr.topics[ctxId.Topic()] = ctxId
	nr.disc.AdmitMember(ctxId, nr.selfPeer)
	nr.mu.Unlock()

	if err := nr.persistGenesis(ctxId, genesis); err != nil {
		nr.log.WithError(err).Warn("context created: failed to persist genesis")
	}

	nr.log.WithField("context", ctxId.String()).Info("context created")
	return nr.network.Subscribe(ctxId.Topic())
}

// persistGenesis records a context's genesis root hash in ColumnMeta so a
// later process can reattach to the context without rederiving it (§6
// `calimerod context sync-now` across restarts).
func (nr *NodeRuntime) persistGenesis(ctxId ContextId, genesis RootHash) error {
	return nr.backend.Put(ColumnMeta, MetaEntryKey{Context: ctxId}.Encode(), EncodeValue(genesis[:]))
}

// LoadGenesis returns a previously-persisted genesis root hash for ctxId,
// if this node has created or joined it before.
func (nr *NodeRuntime) LoadGenesis(ctxId ContextId) (RootHash, bool, error) {
	raw, err := nr.backend.Get(ColumnMeta, MetaEntryKey{Context: ctxId}.Encode())
	if err == ErrNotFound {
		return RootHash{}, false, nil
	}
	if err != nil {
		return RootHash{}, false, err
	}
	decoded, err := DecodeValue(raw)
	if err != nil {
		return RootHash{}, false, err
	}
	var root RootHash
	copy(root[:], decoded)
	return root, true, nil
}

// JoinContext admits this node to an existing context by performing a
// key-exchange handshake against a known member, learning the context's
// genesis root and current heads, then subscribing to gossip (§4.8).
func (nr *NodeRuntime) JoinContext(ctxId ContextId, member PeerId, applier Applier) error {
	stream, err := nr.network.OpenStream(member, ctxId, nr.identity, nr.selfPeer)
	if err != nil {
		return fmt.Errorf("node runtime: open key-exchange stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Write([]byte{byte(MsgKeyExchangeRequest)}); err != nil {
		return fmt.Errorf("node runtime: send key exchange request: %w", err)
	}
	raw, err := stream.Read()
	if err != nil {
		return fmt.Errorf("node runtime: read key exchange response: %w", err)
	}
	resp, err := decodeKeyExchangeResponse(raw)
	if err != nil {
		return err
	}
	if !resp.Admitted {
		return fmt.Errorf("%w: key exchange rejected by %s", ErrAuthRejected, member)
	}

	nr.mu.Lock()
	base := NewBaseView(nr.backend)
	rt := &contextRuntime{
		dag:     NewDagEngine(ctxId, resp.Genesis, applier, nr.logrusLogger()),
		view:    NewShadowBuffer(base),
		applier: applier,
		genesis: resp.Genesis,
	}
	nr.contexts[ctxId] = rt
	nr.topics[ctxId.Topic()] = ctxId
	nr.disc.AdmitMember(ctxId, nr.selfPeer)
	nr.disc.AdmitMember(ctxId, member)
	nr.mu.Unlock()

	if err := nr.persistGenesis(ctxId, resp.Genesis); err != nil {
		nr.log.WithError(err).Warn("context joined: failed to persist genesis")
	}

	if err := nr.network.Subscribe(ctxId.Topic()); err != nil {
		return err
	}

	if len(resp.Heads) > 0 {
		_ = nr.fetchAndApply(ctxId, member, resp.Heads)
	}
	return nil
}

// BroadcastDelta applies a locally-produced delta and gossips it to the
// context's topic (§4.4, §4.6).
func (nr *NodeRuntime) BroadcastDelta(ctxId ContextId, d Delta) (AddOutcome, error) {
	rt, ok := nr.contextRuntime(ctxId)
	if !ok {
		return AddOutcome{}, fmt.Errorf("node runtime: unknown context %s", ctxId)
	}
	outcome, err := rt.dag.AddDelta(nr.ctx, d)
	if err != nil {
		return outcome, err
	}
	nr.recordOutcome(outcome)

	payload := append([]byte{byte(MsgDeltaAnnounce)}, encodeDelta(d)...)
	if _, err := nr.network.Publish(ctxId.Topic(), payload); err != nil {
		return outcome, fmt.Errorf("node runtime: publish delta: %w", err)
	}
	return outcome, nil
}

func (nr *NodeRuntime) contextRuntime(ctxId ContextId) (*contextRuntime, bool) {
	nr.mu.RLock()
	defer nr.mu.RUnlock()
	rt, ok := nr.contexts[ctxId]
	return rt, ok
}

func (nr *NodeRuntime) recordOutcome(o AddOutcome) {
	if nr.metrics == nil {
		return
	}
	switch o.Kind {
	case OutcomeApplied:
		nr.metrics.DeltasApplied.Inc()
	case OutcomeBuffered:
		nr.metrics.DeltasBuffered.Inc()
	case OutcomeHashMismatch:
		nr.metrics.DeltasRejected.WithLabelValues("hash_mismatch").Inc()
	}
}

// dispatchLoop consumes NetworkCore events and routes them to the DAG,
// protocol handlers, and discovery state (§4.6, §4.8).
func (nr *NodeRuntime) dispatchLoop() {
	for {
		select {
		case <-nr.ctx.Done():
			return
		case e := <-nr.dispatcher.Events():
			nr.handleEvent(e)
		}
	}
}

func (nr *NodeRuntime) handleEvent(e NetworkEvent) {
	switch e.Kind {
	case EvtMessage:
		nr.handleGossipMessage(e)
	case EvtStreamOpened:
		go nr.serveStream(e)
	case EvtBlobRequested:
		go nr.serveBlobStream(e)
	case EvtReachabilityChanged:
		nr.log.WithField("reachability", e.Reachability).Debug("reachability changed")
	}
}

func (nr *NodeRuntime) handleGossipMessage(e NetworkEvent) {
	nr.mu.RLock()
	ctxId, ok := nr.topics[e.Topic]
	nr.mu.RUnlock()
	if !ok || len(e.Bytes) == 0 || MessageKind(e.Bytes[0]) != MsgDeltaAnnounce {
		return
	}
	d, err := decodeDelta(e.Bytes[1:])
	if err != nil {
		nr.log.WithError(err).Warn("discarding malformed delta announce")
		return
	}
	rt, ok := nr.contextRuntime(ctxId)
	if !ok {
		return
	}
	outcome, err := rt.dag.AddDelta(nr.ctx, d)
	if err != nil {
		nr.log.WithError(err).Warn("apply gossiped delta failed")
	}
	nr.recordOutcome(outcome)
	if outcome.Kind == OutcomeBuffered {
		nr.requestMissing(ctxId, e.From, outcome.MissingParents)
	}
}

func (nr *NodeRuntime) requestMissing(ctxId ContextId, from PeerId, missing map[DeltaId]struct{}) {
	if from == "" || len(missing) == 0 {
		return
	}
	ids := make([]DeltaId, 0, len(missing))
	for id := range missing {
		ids = append(ids, id)
	}
	go func() { _ = nr.fetchAndApply(ctxId, from, ids) }()
}

// fetchAndApply opens a direct stream to peer, requests the given deltas,
// and feeds the response back through AddDelta in order (§4.8, §4.9
// incrementalCatchUp). If the peer returns fewer deltas than requested, its
// own history no longer reaches far enough back to serve the request, and
// fetchAndApply reports ErrAncestorHistoryMissing so the caller can fall
// through to fullStateTransfer instead of retrying the same strategy.
func (nr *NodeRuntime) fetchAndApply(ctxId ContextId, peer PeerId, ids []DeltaId) error {
	stream, err := nr.network.OpenStream(peer, ctxId, nr.identity, nr.selfPeer)
	if err != nil {
		nr.log.WithError(err).Debug("fetch: open stream failed")
		return fmt.Errorf("node runtime: open fetch stream: %w", err)
	}
	defer stream.Close()

	req := encodeDeltaFetchRequest(deltaFetchRequest{Context: ctxId, Ids: ids})
	if err := stream.Write(req); err != nil {
		nr.log.WithError(err).Debug("fetch: send request failed")
		return fmt.Errorf("node runtime: send fetch request: %w", err)
	}
	raw, err := stream.Read()
	if err != nil {
		nr.log.WithError(err).Debug("fetch: read response failed")
		return fmt.Errorf("node runtime: read fetch response: %w", err)
	}
	resp, err := decodeDeltaFetchResponse(raw)
	if err != nil {
		nr.log.WithError(err).Warn("fetch: malformed response")
		return err
	}
	rt, ok := nr.contextRuntime(ctxId)
	if !ok {
		return fmt.Errorf("node runtime: unknown context %s", ctxId)
	}
	for _, d := range resp.Deltas {
		outcome, err := rt.dag.AddDelta(nr.ctx, d)
		if err != nil {
			nr.log.WithError(err).Debug("fetch: apply fetched delta failed")
			continue
		}
		nr.recordOutcome(outcome)
	}
	if len(resp.Deltas) < len(ids) {
		return fmt.Errorf("%w: peer %s has only %d/%d requested deltas", ErrAncestorHistoryMissing, peer, len(resp.Deltas), len(ids))
	}
	return nil
}

// serveStream is the responder side of the direct-stream protocol: run the
// handshake, then dispatch exactly one request/response pair before closing
// (§4.5, §4.8).
func (nr *NodeRuntime) serveStream(e NetworkEvent) {
	if nr.metrics != nil {
		nr.metrics.StreamsAccepted.Inc()
	}
	auth, ctxId, err := Handshake(e.Stream, nr.identity, nr.selfPeer, e.Peer, ContextId{}, nr.disc, false)
	if err != nil {
		nr.log.WithError(err).Debug("serveStream: handshake failed")
		e.Stream.Close()
		return
	}
	defer auth.Close()

	raw, err := auth.Read()
	if err != nil || len(raw) == 0 {
		return
	}
	switch MessageKind(raw[0]) {
	case MsgKeyExchangeRequest:
		nr.serveKeyExchange(auth, ctxId, e.Peer)
	case MsgDeltaFetchRequest:
		nr.serveDeltaFetch(auth, raw)
	case MsgStateTransferRequest:
		nr.serveStateTransfer(auth, raw)
	case MsgBlobFetchRequest:
		if req, err := decodeBlobFetchRequest(raw); err == nil {
			data, found := nr.blobs.GetBlob(req.Id)
			_ = auth.Write(encodeBlobFetchResponse(blobFetchResponse{Found: found, Bytes: data}))
		}
	default:
		nr.log.WithField("kind", raw[0]).Debug("serveStream: unknown request kind")
	}
}

func (nr *NodeRuntime) serveKeyExchange(auth *AuthenticatedStream, ctxId ContextId, remote PeerId) {
	rt, ok := nr.contextRuntime(ctxId)
	if !ok {
		_ = auth.Write(encodeKeyExchangeResponse(keyExchangeResponse{Admitted: false}))
		return
	}
	nr.disc.AdmitMember(ctxId, remote)
	heads := rt.dag.GetHeads()
	headList := make([]DeltaId, 0, len(heads))
	for id := range heads {
		headList = append(headList, id)
	}
	_ = auth.Write(encodeKeyExchangeResponse(keyExchangeResponse{Admitted: true, Heads: headList, Genesis: rt.genesis}))
}

func (nr *NodeRuntime) serveDeltaFetch(auth *AuthenticatedStream, raw []byte) {
	req, err := decodeDeltaFetchRequest(raw)
	if err != nil {
		return
	}
	rt, ok := nr.contextRuntime(req.Context)
	if !ok {
		_ = auth.Write(encodeDeltaFetchResponse(deltaFetchResponse{}))
		return
	}
	deltas := make([]Delta, 0, len(req.Ids))
	for _, id := range req.Ids {
		if d, ok := rt.dag.GetDelta(id); ok {
			deltas = append(deltas, d)
		}
	}
	_ = auth.Write(encodeDeltaFetchResponse(deltaFetchResponse{Deltas: deltas}))
}

// serveStateTransfer answers a full-state-transfer request by ranging every
// ColumnState entry addressed under the requested context's key prefix and
// returning it alongside the context's current heads (§4.9 fullStateTransfer).
func (nr *NodeRuntime) serveStateTransfer(auth *AuthenticatedStream, raw []byte) {
	req, err := decodeStateTransferRequest(raw)
	if err != nil {
		return
	}
	rt, ok := nr.contextRuntime(req.Context)
	if !ok {
		_ = auth.Write(encodeStateTransferResponse(stateTransferResponse{}))
		return
	}
	prefix := req.Context[:]
	it, err := rt.view.Range(ColumnState, prefix, Forward)
	if err != nil {
		_ = auth.Write(encodeStateTransferResponse(stateTransferResponse{}))
		return
	}
	defer it.Close()
	var entries []KV
	for it.Next() {
		key := it.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		entries = append(entries, KV{Key: append([]byte(nil), key...), Value: append([]byte(nil), it.Value()...)})
	}
	heads := rt.dag.GetHeads()
	headList := make([]DeltaId, 0, len(heads))
	for id := range heads {
		headList = append(headList, id)
	}
	_ = auth.Write(encodeStateTransferResponse(stateTransferResponse{Entries: entries, Heads: headList}))
}

func (nr *NodeRuntime) serveBlobStream(e NetworkEvent) {
	auth, _, err := Handshake(e.Stream, nr.identity, nr.selfPeer, e.Peer, ContextId{}, nil, false)
	if err != nil {
		e.Stream.Close()
		return
	}
	defer auth.Close()

	raw, err := auth.Read()
	if err != nil {
		return
	}
	req, err := decodeBlobFetchRequest(raw)
	if err != nil {
		return
	}
	data, found := nr.blobs.GetBlob(req.Id)
	_ = auth.Write(encodeBlobFetchResponse(blobFetchResponse{Found: found, Bytes: data}))
}

// Contexts implements SyncTarget.
func (nr *NodeRuntime) Contexts() []ContextId {
	nr.mu.RLock()
	defer nr.mu.RUnlock()
	out := make([]ContextId, 0, len(nr.contexts))
	for id := range nr.contexts {
		out = append(out, id)
	}
	return out
}

// Heads returns the current head set of a joined context's DAG, for CLI
// callers building a new Delta on top of it (§6 `calimerod context put`).
func (nr *NodeRuntime) Heads(ctxId ContextId) ([]DeltaId, error) {
	rt, ok := nr.contextRuntime(ctxId)
	if !ok {
		return nil, fmt.Errorf("node runtime: unknown context %s", ctxId)
	}
	heads := rt.dag.GetHeads()
	out := make([]DeltaId, 0, len(heads))
	for id := range heads {
		out = append(out, id)
	}
	return out, nil
}

// MissingParents implements SyncTarget.
func (nr *NodeRuntime) MissingParents(ctxId ContextId) map[DeltaId]struct{} {
	rt, ok := nr.contextRuntime(ctxId)
	if !ok {
		return nil
	}
	return rt.dag.GetMissingParents()
}

// RequestDeltas implements SyncTarget by delegating to fetchAndApply, and
// counts the attempt in the SyncRounds metric (§4.9).
func (nr *NodeRuntime) RequestDeltas(ctxId ContextId, peer PeerId, ids []DeltaId) error {
	if nr.metrics != nil {
		nr.metrics.SyncRounds.Inc()
	}
	return nr.fetchAndApply(ctxId, peer, ids)
}

// FullStateTransfer implements SyncTarget's fallback strategy: it pulls a
// full ColumnState snapshot and head set from peer, writes the snapshot
// directly into the backend, and seeds the DAG engine from the reported
// heads (§4.9 fullStateTransfer). It is tried only after incrementalCatchUp
// reports ErrAncestorHistoryMissing, since it is far more expensive.
func (nr *NodeRuntime) FullStateTransfer(ctxId ContextId, peer PeerId) error {
	stream, err := nr.network.OpenStream(peer, ctxId, nr.identity, nr.selfPeer)
	if err != nil {
		return fmt.Errorf("node runtime: open state transfer stream: %w", err)
	}
	defer stream.Close()

	req := encodeStateTransferRequest(stateTransferRequest{Context: ctxId})
	if err := stream.Write(req); err != nil {
		return fmt.Errorf("node runtime: send state transfer request: %w", err)
	}
	raw, err := stream.Read()
	if err != nil {
		return fmt.Errorf("node runtime: read state transfer response: %w", err)
	}
	resp, err := decodeStateTransferResponse(raw)
	if err != nil {
		return err
	}

	rt, ok := nr.contextRuntime(ctxId)
	if !ok {
		return fmt.Errorf("node runtime: unknown context %s", ctxId)
	}

	if len(resp.Entries) > 0 {
		for _, kv := range resp.Entries {
			if err := rt.view.Put(ColumnState, kv.Key, kv.Value); err != nil {
				return fmt.Errorf("node runtime: buffer state snapshot entry: %w", err)
			}
		}
		if err := rt.view.Commit(nr.backend.Apply); err != nil {
			return fmt.Errorf("node runtime: commit state snapshot: %w", err)
		}
	}

	heads := make(map[DeltaId]struct{}, len(resp.Heads))
	for _, h := range resp.Heads {
		heads[h] = struct{}{}
	}
	rt.dag.SeedSnapshot(heads)

	nr.log.WithFields(logrus.Fields{"context": ctxId.String(), "peer": peer, "entries": len(resp.Entries)}).
		Info("full state transfer complete")
	return nil
}

// FetchBlob retrieves a blob from the local cache, or from peer over a
// direct stream on a cache miss (§4.10).
func (nr *NodeRuntime) FetchBlob(ctxId ContextId, id BlobId, peer PeerId) ([]byte, error) {
	if data, ok := nr.blobs.GetBlob(id); ok {
		return data, nil
	}
	stream, err := nr.network.OpenStream(peer, ctxId, nr.identity, nr.selfPeer)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	if err := stream.Write(encodeBlobFetchRequest(blobFetchRequest{Id: id})); err != nil {
		return nil, err
	}
	raw, err := stream.Read()
	if err != nil {
		return nil, err
	}
	resp, err := decodeBlobFetchResponse(raw)
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, ErrNotFound
	}
	if got := ComputeBlobId(resp.Bytes); got != id {
		return nil, fmt.Errorf("%w: peer %s returned blob %s for requested %s", ErrHashMismatch, peer, got, id)
	}
	if err := nr.blobs.Put(Blob{Id: id, Bytes: resp.Bytes}); err != nil {
		return nil, err
	}
	return resp.Bytes, nil
}

// maintenanceLoop periodically evicts stale pending deltas, expired blob
// cache entries and stale reservations, and republishes metrics gauges
// (§4.4 EvictStale, §4.7 ExpireStaleReservations, §4.10).
func (nr *NodeRuntime) maintenanceLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-nr.ctx.Done():
			return
		case <-ticker.C:
			nr.disc.ExpireStaleReservations(5 * time.Minute)
			nr.blobs.EvictExpired()
			nr.mu.RLock()
			var pending int
			for _, rt := range nr.contexts {
				pending += rt.dag.EvictStale(10 * time.Minute)
			}
			nr.mu.RUnlock()
			if nr.metrics != nil {
				stats := nr.blobs.Stats()
				nr.metrics.BlobCacheCount.Set(float64(stats.Count))
				nr.metrics.BlobCacheBytes.Set(float64(stats.Bytes))
				nr.metrics.ConnectedPeers.Set(float64(nr.network.PeerCount()))
			}
		}
	}
}

func (nr *NodeRuntime) logrusLogger() *logrus.Logger {
	return nr.log.Logger
}

// Identity exposes this node's identity and peer id for CLI/status use.
func (nr *NodeRuntime) Identity() (*NodeIdentity, PeerId) { return nr.identity, nr.selfPeer }

// Discovery exposes the discovery state for CLI `peers list` support (§6).
func (nr *NodeRuntime) Discovery() *DiscoveryState { return nr.disc }

// SyncNow forces an immediate anti-entropy round for ctxId, bypassing the
// scheduler's MinBetween cooldown (§6 `calimerod context sync-now`).
func (nr *NodeRuntime) SyncNow(ctxId ContextId) error {
	return nr.sched.TriggerNow(nr.ctx, ctxId)
}

// Backend exposes the shared storage backend so an Applier can persist
// application state through the same column store the runtime itself reads
// during full state transfer, rather than maintaining a second store.
func (nr *NodeRuntime) Backend() Backend { return nr.backend }

// Close shuts down the sync scheduler, network core, and backend.
func (nr *NodeRuntime) Close() error {
	nr.cancel()
	if err := nr.network.Close(); err != nil {
		return err
	}
	return nr.backend.Close()
}
