package core

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/zeebo/blake3"
)

// ContextId is the 32-byte opaque identifier of a replicated application
// context. It also serves as the gossip topic label (§3, §6).
type ContextId [32]byte

func (c ContextId) String() string { return hex.EncodeToString(c[:]) }

// ParseContextId decodes the hex form produced by ContextId.String.
func ParseContextId(s string) (ContextId, error) {
	var c ContextId
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(c) {
		return c, fmt.Errorf("%w: context id must be %d hex bytes", ErrBadEncoding, len(c))
	}
	copy(c[:], b)
	return c, nil
}

// Topic renders the ContextId as its fixed hex gossip topic label (§6).
func (c ContextId) Topic() string { return "/calimero/ctx/" + c.String() }

// DeltaId is the content hash of a delta's payload and causal parents.
type DeltaId [32]byte

func (d DeltaId) String() string { return hex.EncodeToString(d[:]) }

// RootHash is the hash of materialized application state after applying
// all ancestors of a DAG head set.
type RootHash [32]byte

func (r RootHash) String() string { return hex.EncodeToString(r[:]) }

// BlobId is the content hash of an immutable blob.
type BlobId [32]byte

func (b BlobId) String() string { return hex.EncodeToString(b[:]) }

// PeerId identifies a node on the network. It wraps the libp2p peer
// identifier so the rest of the core package never imports libp2p types
// directly outside of network.go, discovery.go and this file.
type PeerId string

func PeerIdFromLibp2p(id peer.ID) PeerId { return PeerId(id.String()) }

func (p PeerId) Libp2p() (peer.ID, error) { return peer.Decode(string(p)) }

// NodeIdentity is a node's cryptographic key pair. The signing key
// authenticates gossip messages and stream handshakes (§3).
type NodeIdentity struct {
	Priv crypto.PrivKey
	Pub  crypto.PubKey
}

// NewNodeIdentity generates a fresh Ed25519 identity.
func NewNodeIdentity() (*NodeIdentity, error) {
	priv, pub, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &NodeIdentity{Priv: priv, Pub: pub}, nil
}

// PeerId derives this identity's stable PeerId.
func (ni *NodeIdentity) PeerId() (PeerId, error) {
	id, err := peer.IDFromPublicKey(ni.Pub)
	if err != nil {
		return "", err
	}
	return PeerIdFromLibp2p(id), nil
}

// Sign authenticates arbitrary bytes with the node's signing key.
func (ni *NodeIdentity) Sign(data []byte) ([]byte, error) { return ni.Priv.Sign(data) }

// LoadOrCreateNodeIdentity reads a marshaled private key from path, or
// generates a fresh identity and persists it there if the file doesn't
// exist yet, so a node's PeerId stays stable across restarts (§6
// node.identity_file).
func LoadOrCreateNodeIdentity(path string) (*NodeIdentity, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("load identity %s: %w", path, err)
		}
		return &NodeIdentity{Priv: priv, Pub: priv.GetPublic()}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity %s: %w", path, err)
	}

	identity, err := NewNodeIdentity()
	if err != nil {
		return nil, err
	}
	marshaled, err := crypto.MarshalPrivateKey(identity.Priv)
	if err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(path, marshaled, 0600); err != nil {
		return nil, fmt.Errorf("write identity %s: %w", path, err)
	}
	return identity, nil
}

// HybridLogicalClock is a coarse HLC timestamp: wall-clock milliseconds in
// the high bits, a logical counter in the low bits, so concurrently
// authored deltas still compare deterministically.
type HybridLogicalClock struct {
	WallMillis int64
	Logical    uint32
}

// Less defines the (timestamp, id) ascending tie-break order used by the
// DAG cascade (§4.4, invariant 5).
func (h HybridLogicalClock) Less(o HybridLogicalClock) bool {
	if h.WallMillis != o.WallMillis {
		return h.WallMillis < o.WallMillis
	}
	return h.Logical < o.Logical
}

// Delta is a causally-linked record of state changes produced by one guest
// execution (§3).
type Delta struct {
	Id                DeltaId
	Parents           []DeltaId
	Payload           []byte
	Author            PeerId
	Timestamp         HybridLogicalClock
	ExpectedRootHash  RootHash
	Events            []byte // optional, opaque
}

// SortedParents returns a defensive copy of Parents in a stable byte order,
// the same order ComputeDeltaId sorts its own copy of the parents into, so
// the same causal set always hashes the same regardless of slice
// construction order.
func (d *Delta) SortedParents() []DeltaId {
	out := append([]DeltaId(nil), d.Parents...)
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

// ComputeDeltaId hashes the payload and causal parents with blake3,
// matching §3's "content hash of a delta's payload and causal parents".
func ComputeDeltaId(payload []byte, parents []DeltaId, author PeerId, ts HybridLogicalClock) DeltaId {
	h := blake3.New()
	h.Write(payload)
	sorted := append([]DeltaId(nil), parents...)
	sort.Slice(sorted, func(i, j int) bool { return string(sorted[i][:]) < string(sorted[j][:]) })
	for _, p := range sorted {
		h.Write(p[:])
	}
	h.Write([]byte(author))
	var tsBuf [12]byte
	putUint64(tsBuf[0:8], uint64(ts.WallMillis))
	putUint32(tsBuf[8:12], ts.Logical)
	h.Write(tsBuf[:])
	var out DeltaId
	copy(out[:], h.Sum(nil))
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

func putUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (24 - 8*i))
	}
}

// Blob is an immutable content-addressed byte string (§3).
type Blob struct {
	Id    BlobId
	Bytes []byte
}

// now is indirected for testability (eviction, timestamps).
var now = time.Now
