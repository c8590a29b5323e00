package core

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// ReservationStatus is the relay-reservation or rendezvous-registration
// lifecycle shared shape described in §4.7.
type ReservationStatus int

const (
	ReservationDiscovered ReservationStatus = iota
	ReservationRequested
	ReservationAccepted
	ReservationRejected
	ReservationExpired
)

// Reachability classifies whether a peer (or the local node) can accept
// direct inbound connections, as determined by AutoNAT (§4.7).
type Reachability int

const (
	ReachabilityUnknown Reachability = iota
	ReachabilityPublic
	ReachabilityPrivate
)

// PeerRecord holds everything the Network Core knows about one peer:
// addresses, supported protocols, role flags, reservation/registration
// state, and reachability (§4.7). Records are retained across
// Disconnected to support reconnection (§3).
type PeerRecord struct {
	Id          PeerId
	Addrs       map[string]string // transport name -> latest multiaddr
	Protocols   map[protocol.ID]struct{}
	RelayCapable      bool
	RendezvousCapable bool

	RelayReservation     ReservationStatus
	RelayReservationAt   time.Time
	RendezvousReg        ReservationStatus
	RendezvousRegAt      time.Time

	Reachability Reachability
	LastSeen     time.Time

	ConnState ConnState
}

// ConnState is the per-peer connection lifecycle state machine (§4.6).
type ConnState int

const (
	ConnUnknown ConnState = iota
	ConnDiscovered
	ConnDialing
	ConnConnected
	ConnDisconnected
	ConnRelaying
	ConnHolePunching
	ConnConnectedDirect
)

// DiscoveryState is the single flat PeerId -> PeerRecord map owned by the
// Network Core event loop (§4.7, §9 "cyclic references": other components
// hold PeerId and resolve through this map rather than sharing ownership
// of records). It is mutated from several goroutines (stream handlers,
// mDNS notifications, stream-servicing tasks admitting members, the
// maintenance loop), not only from the event loop; every method takes the
// mutex.
type DiscoveryState struct {
	mu      sync.RWMutex
	records map[PeerId]*PeerRecord
	// members maps a context to the set of peers admitted to it, used to
	// satisfy §4.5's AuthRejected / MemberChecker contract and §9's "do
	// both" decision on verifying gossip signatures against membership.
	members map[ContextId]map[PeerId]struct{}
}

func NewDiscoveryState() *DiscoveryState {
	return &DiscoveryState{
		records: make(map[PeerId]*PeerRecord),
		members: make(map[ContextId]map[PeerId]struct{}),
	}
}

// Touch creates or updates a peer record on discovery/connection events.
func (d *DiscoveryState) Touch(id PeerId, fn func(*PeerRecord)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[id]
	if !ok {
		rec = &PeerRecord{Id: id, Addrs: map[string]string{}, Protocols: map[protocol.ID]struct{}{}}
		d.records[id] = rec
	}
	rec.LastSeen = now()
	if fn != nil {
		fn(rec)
	}
}

// Get returns a copy of the record for id, if known.
func (d *DiscoveryState) Get(id PeerId) (PeerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[id]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// All returns a snapshot of every known peer record.
func (d *DiscoveryState) All() []PeerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PeerRecord, 0, len(d.records))
	for _, r := range d.records {
		out = append(out, *r)
	}
	return out
}

// SetConnState transitions a peer's connection lifecycle state (§4.6).
func (d *DiscoveryState) SetConnState(id PeerId, s ConnState) {
	d.Touch(id, func(r *PeerRecord) { r.ConnState = s })
}

// AdmitMember records that peer is a member of context ctx. Called when a
// node learns of context membership via the key-exchange handler (§4.8).
func (d *DiscoveryState) AdmitMember(ctx ContextId, peer PeerId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.members[ctx]
	if !ok {
		set = make(map[PeerId]struct{})
		d.members[ctx] = set
	}
	set[peer] = struct{}{}
}

// IsMember implements MemberChecker (§4.5): a peer identity not admitted
// to the context fails the authenticated-stream handshake.
func (d *DiscoveryState) IsMember(ctx ContextId, peer PeerId) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set, ok := d.members[ctx]
	if !ok {
		return false
	}
	_, ok = set[peer]
	return ok
}

// ExpireStaleReservations walks every record and marks relay reservations
// and rendezvous registrations as Expired once older than ttl, after which
// NeedsRelayReservation / NeedsRendezvousRegistration report true for them
// (§4.7). Nothing in the Network Core reads these statuses or re-requests
// an expired reservation or registration.
func (d *DiscoveryState) ExpireStaleReservations(ttl time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := now().Add(-ttl)
	for _, r := range d.records {
		if r.RelayReservation == ReservationAccepted && r.RelayReservationAt.Before(cutoff) {
			r.RelayReservation = ReservationExpired
		}
		if r.RendezvousReg == ReservationAccepted && r.RendezvousRegAt.Before(cutoff) {
			r.RendezvousReg = ReservationExpired
		}
	}
}

// NeedsRelayReservation reports whether a private peer (whatever its
// RelayCapable flag) should be requesting a relay reservation right now (§4.7: "Private peers
// actively request relay reservations").
func (r PeerRecord) NeedsRelayReservation() bool {
	return r.Reachability == ReachabilityPrivate &&
		(r.RelayReservation == ReservationDiscovered || r.RelayReservation == ReservationExpired || r.RelayReservation == ReservationRejected)
}

// NeedsRendezvousRegistration reports whether a public peer should
// (re)register with rendezvous (§4.7: "Public peers... register themselves
// with rendezvous").
func (r PeerRecord) NeedsRendezvousRegistration() bool {
	return r.Reachability == ReachabilityPublic &&
		(r.RendezvousReg == ReservationDiscovered || r.RendezvousReg == ReservationExpired || r.RendezvousReg == ReservationRejected)
}
