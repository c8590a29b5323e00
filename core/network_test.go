package core

import "testing"

func TestRecordingDispatcherCollectsEvents(t *testing.T) {
	d := &RecordingDispatcher{}
	if !d.Dispatch(NetworkEvent{Kind: EvtSubscribed, Topic: "t1"}) {
		t.Fatal("expected dispatch to accept")
	}
	if !d.Dispatch(NetworkEvent{Kind: EvtMessage, Topic: "t1", Bytes: []byte("hi")}) {
		t.Fatal("expected dispatch to accept")
	}
	events := d.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Kind != EvtMessage || string(events[1].Bytes) != "hi" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestChanDispatcherRejectsWhenFull(t *testing.T) {
	d := NewChanDispatcher(1)
	if !d.Dispatch(NetworkEvent{Kind: EvtSubscribed}) {
		t.Fatal("first dispatch should succeed")
	}
	if d.Dispatch(NetworkEvent{Kind: EvtSubscribed}) {
		t.Fatal("second dispatch should be rejected under backpressure")
	}
	<-d.Events()
	if !d.Dispatch(NetworkEvent{Kind: EvtSubscribed}) {
		t.Fatal("dispatch should succeed again once drained")
	}
}

func TestBlobIdToCidIsDeterministic(t *testing.T) {
	id := ComputeBlobId([]byte("some blob contents"))
	c1, err := blobIdToCid(id)
	if err != nil {
		t.Fatalf("blobIdToCid: %v", err)
	}
	c2, err := blobIdToCid(id)
	if err != nil {
		t.Fatalf("blobIdToCid: %v", err)
	}
	if !c1.Equals(c2) {
		t.Fatalf("expected deterministic cid, got %s and %s", c1, c2)
	}
}
