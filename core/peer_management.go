package core

import (
	"context"
	crand "crypto/rand"
	"math/big"
	"sort"
	"time"
)

// PeerManagement provides the peer-sampling and liveness helpers the Sync
// Scheduler uses to pick anti-entropy partners (§4.9). It is a thin layer
// over DiscoveryState and NetworkCore, carrying no state of its own, so it
// can be constructed cheaply per context.
type PeerManagement struct {
	disc    *DiscoveryState
	network *NetworkCore
}

func NewPeerManagement(disc *DiscoveryState, network *NetworkCore) *PeerManagement {
	return &PeerManagement{disc: disc, network: network}
}

// ConnectedPeers returns every peer currently in the Connected,
// ConnectedDirect or Relaying state.
func (pm *PeerManagement) ConnectedPeers() []PeerId {
	var out []PeerId
	for _, rec := range pm.disc.All() {
		if rec.ConnState == ConnConnected || rec.ConnState == ConnConnectedDirect || rec.ConnState == ConnRelaying {
			out = append(out, rec.Id)
		}
	}
	return out
}

// Sample returns up to n distinct connected peers chosen uniformly at
// random, used by the Sync Scheduler's per-tick partner selection (§4.9).
func (pm *PeerManagement) Sample(n int) ([]PeerId, error) {
	peers := pm.ConnectedPeers()
	if n > len(peers) {
		n = len(peers)
	}
	for i := len(peers) - 1; i > 0; i-- {
		j, err := randIntn(i + 1)
		if err != nil {
			return nil, err
		}
		peers[i], peers[j] = peers[j], peers[i]
	}
	return peers[:n], nil
}

// LeastRecentlySynced returns connected peers ordered by oldest LastSeen
// first, a secondary selection heuristic alongside random sampling (§4.9:
// "prefer peers not recently synced").
func (pm *PeerManagement) LeastRecentlySynced(n int) []PeerId {
	peers := pm.disc.All()
	sort.Slice(peers, func(i, j int) bool { return peers[i].LastSeen.Before(peers[j].LastSeen) })
	out := make([]PeerId, 0, n)
	for _, rec := range peers {
		if rec.ConnState != ConnConnected && rec.ConnState != ConnConnectedDirect && rec.ConnState != ConnRelaying {
			continue
		}
		out = append(out, rec.Id)
		if len(out) == n {
			break
		}
	}
	return out
}

// Connect dials addr and waits for the connection to settle.
func (pm *PeerManagement) Connect(addr string) error {
	return pm.network.Dial(addr)
}

// PingRTT measures round-trip time to a peer with a bounded deadline,
// returning ErrPeerUnresponsive on timeout (§4.9's liveness check).
func (pm *PeerManagement) PingRTT(p PeerId, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	rtt, err := pm.network.Ping(ctx, p)
	if err != nil {
		return 0, ErrPeerUnresponsive
	}
	return rtt, nil
}

func randIntn(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
