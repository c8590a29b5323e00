package core

import (
	"testing"
	"time"
)

func TestDiscoveryStateTouchCreatesAndUpdates(t *testing.T) {
	d := NewDiscoveryState()
	d.Touch("p1", func(r *PeerRecord) { r.Reachability = ReachabilityPublic })

	rec, ok := d.Get("p1")
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.Reachability != ReachabilityPublic {
		t.Fatalf("expected public reachability, got %v", rec.Reachability)
	}

	d.Touch("p1", func(r *PeerRecord) { r.ConnState = ConnConnected })
	rec, _ = d.Get("p1")
	if rec.ConnState != ConnConnected {
		t.Fatalf("expected updated conn state")
	}
	// earlier field should persist across updates.
	if rec.Reachability != ReachabilityPublic {
		t.Fatalf("expected reachability to persist")
	}
}

func TestDiscoveryStateAllSnapshotsAllPeers(t *testing.T) {
	d := NewDiscoveryState()
	d.Touch("p1", nil)
	d.Touch("p2", nil)
	all := d.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
}

func TestDiscoveryStateMembership(t *testing.T) {
	d := NewDiscoveryState()
	var ctx ContextId
	ctx[0] = 1

	if d.IsMember(ctx, "p1") {
		t.Fatal("expected not a member before admission")
	}
	d.AdmitMember(ctx, "p1")
	if !d.IsMember(ctx, "p1") {
		t.Fatal("expected member after admission")
	}
	if d.IsMember(ctx, "p2") {
		t.Fatal("expected p2 not a member")
	}

	var otherCtx ContextId
	otherCtx[0] = 2
	if d.IsMember(otherCtx, "p1") {
		t.Fatal("membership must not leak across contexts")
	}
}

func TestDiscoveryStateExpireStaleReservations(t *testing.T) {
	d := NewDiscoveryState()
	orig := now
	defer func() { now = orig }()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time { return base }

	d.Touch("p1", func(r *PeerRecord) {
		r.RelayReservation = ReservationAccepted
		r.RelayReservationAt = base
	})

	now = func() time.Time { return base.Add(10 * time.Minute) }
	d.ExpireStaleReservations(5 * time.Minute)

	rec, _ := d.Get("p1")
	if rec.RelayReservation != ReservationExpired {
		t.Fatalf("expected reservation expired, got %v", rec.RelayReservation)
	}
}

func TestPeerRecordNeedsRelayReservation(t *testing.T) {
	r := PeerRecord{Reachability: ReachabilityPrivate, RelayReservation: ReservationDiscovered}
	if !r.NeedsRelayReservation() {
		t.Fatal("expected private undiscovered peer to need a relay reservation")
	}
	r.RelayReservation = ReservationAccepted
	if r.NeedsRelayReservation() {
		t.Fatal("expected accepted reservation to not need renewal")
	}
}

func TestPeerRecordNeedsRendezvousRegistration(t *testing.T) {
	r := PeerRecord{Reachability: ReachabilityPublic, RendezvousReg: ReservationExpired}
	if !r.NeedsRendezvousRegistration() {
		t.Fatal("expected expired registration to need renewal")
	}
	r = PeerRecord{Reachability: ReachabilityPrivate, RendezvousReg: ReservationExpired}
	if r.NeedsRendezvousRegistration() {
		t.Fatal("private peers should not need rendezvous registration")
	}
}
