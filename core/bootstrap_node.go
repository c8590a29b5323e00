package core

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ContextBootstrap bundles the steps a `calimerod node start` command needs
// to get from nothing to a running, possibly-already-a-member node: open
// storage, build an identity if one isn't supplied, start the Node
// Runtime, and either create a brand-new context or join an existing one
// through a bootstrap peer (§4.6 "bootstrap" operation, §4.10).
type ContextBootstrap struct {
	Runtime *NodeRuntime
}

// BootstrapConfig aggregates the configuration sections NewContextBootstrap
// needs (§6).
type BootstrapConfig struct {
	Node         NodeConfig
	DataDir      string
	IdentityFile string          // persisted identity path; ignored if Identity is set
	Identity     *NodeIdentity   // nil to load-or-generate from IdentityFile
	Registerer   prometheus.Registerer // nil to skip metrics registration
}

// NewContextBootstrap opens the Pebble-backed storage at cfg.DataDir,
// resolves or generates the node identity, and starts the Node Runtime.
func NewContextBootstrap(cfg *BootstrapConfig, log *logrus.Logger) (*ContextBootstrap, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	identity := cfg.Identity
	if identity == nil {
		var err error
		idPath := cfg.IdentityFile
		if idPath == "" {
			idPath = filepath.Join(cfg.DataDir, "identity.key")
		}
		identity, err = LoadOrCreateNodeIdentity(idPath)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: resolve identity: %w", err)
		}
	}

	backend, err := OpenPebbleBackend(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open backend: %w", err)
	}

	var metrics *Metrics
	if cfg.Registerer != nil {
		metrics = NewMetrics(cfg.Registerer)
	}

	runtime, err := NewNodeRuntime(cfg.Node, identity, backend, metrics, log)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("bootstrap: start node runtime: %w", err)
	}

	return &ContextBootstrap{Runtime: runtime}, nil
}

// CreateContext creates a brand-new context this node seeds.
func (b *ContextBootstrap) CreateContext(ctxId ContextId, genesis RootHash, applier Applier) error {
	return b.Runtime.CreateContext(ctxId, genesis, applier)
}

// JoinContext joins an existing context through a known member peer.
func (b *ContextBootstrap) JoinContext(ctxId ContextId, member PeerId, applier Applier) error {
	return b.Runtime.JoinContext(ctxId, member, applier)
}

// Stop shuts the node down.
func (b *ContextBootstrap) Stop() error {
	return b.Runtime.Close()
}

// Backend exposes the shared storage backend for Applier implementations.
func (b *ContextBootstrap) Backend() Backend { return b.Runtime.Backend() }

// SyncNow forces an immediate anti-entropy round for ctxId.
func (b *ContextBootstrap) SyncNow(ctxId ContextId) error { return b.Runtime.SyncNow(ctxId) }

// LoadGenesis returns a previously-persisted genesis root hash for ctxId.
func (b *ContextBootstrap) LoadGenesis(ctxId ContextId) (RootHash, bool, error) {
	return b.Runtime.LoadGenesis(ctxId)
}
