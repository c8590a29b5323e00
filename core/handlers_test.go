package core

import (
	"bytes"
	"testing"
)

func sampleDelta() Delta {
	var parent DeltaId
	parent[0] = 0x01
	var root RootHash
	root[0] = 0xFF
	return Delta{
		Id:               DeltaId{0xAA},
		Parents:          []DeltaId{parent},
		Payload:          []byte("payload bytes"),
		Author:           "author-peer",
		Timestamp:        HybridLogicalClock{WallMillis: 12345, Logical: 7},
		ExpectedRootHash: root,
		Events:           []byte("event bytes"),
	}
}

func TestEncodeDecodeDeltaRoundTrip(t *testing.T) {
	d := sampleDelta()
	enc := encodeDelta(d)
	dec, err := decodeDelta(enc)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Id != d.Id || dec.Author != d.Author || dec.Timestamp != d.Timestamp || dec.ExpectedRootHash != d.ExpectedRootHash {
		t.Fatalf("round trip mismatch: %+v vs %+v", dec, d)
	}
	if !bytes.Equal(dec.Payload, d.Payload) || !bytes.Equal(dec.Events, d.Events) {
		t.Fatalf("payload/events mismatch")
	}
	if len(dec.Parents) != 1 || dec.Parents[0] != d.Parents[0] {
		t.Fatalf("parents mismatch: %v", dec.Parents)
	}
}

func TestEncodeDecodeDeltaWithNoParentsOrEvents(t *testing.T) {
	d := Delta{Id: DeltaId{1}, Payload: []byte("x"), Author: "a"}
	dec, err := decodeDelta(encodeDelta(d))
	if err != nil {
		t.Fatal(err)
	}
	if len(dec.Parents) != 0 {
		t.Fatalf("expected no parents, got %v", dec.Parents)
	}
	if len(dec.Events) != 0 {
		t.Fatalf("expected no events, got %v", dec.Events)
	}
}

func TestDecodeDeltaRejectsTruncated(t *testing.T) {
	if _, err := decodeDelta([]byte{0, 0, 0, 1}); err == nil {
		t.Fatal("expected error for truncated delta")
	}
}

func TestDeltaFetchRequestRoundTrip(t *testing.T) {
	var ctx ContextId
	ctx[3] = 9
	req := deltaFetchRequest{Context: ctx, Ids: []DeltaId{{1}, {2}, {3}}}
	dec, err := decodeDeltaFetchRequest(encodeDeltaFetchRequest(req))
	if err != nil {
		t.Fatal(err)
	}
	if dec.Context != req.Context {
		t.Fatalf("context mismatch")
	}
	if len(dec.Ids) != 3 || dec.Ids[1] != req.Ids[1] {
		t.Fatalf("ids mismatch: %v", dec.Ids)
	}
}

func TestDeltaFetchResponseRoundTrip(t *testing.T) {
	resp := deltaFetchResponse{Deltas: []Delta{sampleDelta(), sampleDelta()}}
	dec, err := decodeDeltaFetchResponse(encodeDeltaFetchResponse(resp))
	if err != nil {
		t.Fatal(err)
	}
	if len(dec.Deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(dec.Deltas))
	}
}

func TestBlobFetchRequestResponseRoundTrip(t *testing.T) {
	req := blobFetchRequest{Id: BlobId{0x11}}
	dec, err := decodeBlobFetchRequest(encodeBlobFetchRequest(req))
	if err != nil {
		t.Fatal(err)
	}
	if dec.Id != req.Id {
		t.Fatalf("id mismatch")
	}

	resp := blobFetchResponse{Found: true, Bytes: []byte("blob contents")}
	decResp, err := decodeBlobFetchResponse(encodeBlobFetchResponse(resp))
	if err != nil {
		t.Fatal(err)
	}
	if !decResp.Found || !bytes.Equal(decResp.Bytes, resp.Bytes) {
		t.Fatalf("mismatch: %+v", decResp)
	}

	notFound := blobFetchResponse{Found: false}
	decNF, err := decodeBlobFetchResponse(encodeBlobFetchResponse(notFound))
	if err != nil {
		t.Fatal(err)
	}
	if decNF.Found {
		t.Fatal("expected not found")
	}
}

func TestKeyExchangeResponseRoundTrip(t *testing.T) {
	resp := keyExchangeResponse{Admitted: true, Heads: []DeltaId{{1}, {2}}, Genesis: RootHash{0x77}}
	dec, err := decodeKeyExchangeResponse(encodeKeyExchangeResponse(resp))
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Admitted || dec.Genesis != resp.Genesis || len(dec.Heads) != 2 {
		t.Fatalf("mismatch: %+v", dec)
	}

	rejected := keyExchangeResponse{Admitted: false}
	decR, err := decodeKeyExchangeResponse(encodeKeyExchangeResponse(rejected))
	if err != nil {
		t.Fatal(err)
	}
	if decR.Admitted {
		t.Fatal("expected not admitted")
	}
}

func TestByteReaderBoundsChecking(t *testing.T) {
	r := byteReader{buf: []byte{0, 0, 0, 1, 0xFF}}
	v, err := r.readU32()
	if err != nil || v != 1 {
		t.Fatalf("got %d err=%v", v, err)
	}
	if _, err := r.readU32(); err == nil {
		t.Fatal("expected short read error")
	}
}
