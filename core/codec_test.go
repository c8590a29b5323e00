package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a frame payload")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestWriteFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, MaxFrame+1)); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsOversizeHeader(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrame+1)
	buf.Write(hdr[:])
	if _, err := ReadFrame(&buf); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

type staticMembers struct {
	allowed map[PeerId]bool
}

func (m staticMembers) IsMember(ctx ContextId, p PeerId) bool { return m.allowed[p] }

func TestHandshakeInitiatorAndResponderDeriveSameKeyAndContext(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var ctxId ContextId
	ctxId[0] = 0x42

	members := staticMembers{allowed: map[PeerId]bool{"client": true, "server": true}}

	type result struct {
		stream *AuthenticatedStream
		ctx    ContextId
		err    error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		s, c, err := Handshake(clientConn, nil, "client", "server", ctxId, members, true)
		clientCh <- result{s, c, err}
	}()
	go func() {
		// Responder doesn't know the context ahead of time.
		s, c, err := Handshake(serverConn, nil, "server", "client", ContextId{}, members, false)
		serverCh <- result{s, c, err}
	}()

	cr := <-clientCh
	sr := <-serverCh
	if cr.err != nil {
		t.Fatalf("client handshake: %v", cr.err)
	}
	if sr.err != nil {
		t.Fatalf("server handshake: %v", sr.err)
	}
	if cr.ctx != ctxId {
		t.Fatalf("client effective context mismatch: %v", cr.ctx)
	}
	if sr.ctx != ctxId {
		t.Fatalf("server did not learn initiator's context: %v", sr.ctx)
	}

	// Exercise the derived key: client writes, server reads.
	msg := []byte("hello over authenticated stream")
	errCh := make(chan error, 1)
	go func() { errCh <- cr.stream.Write(msg) }()
	got, err := sr.stream.Read()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("client write: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("got %q want %q", got, msg)
	}
}

func TestHandshakeRejectsNonMember(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var ctxId ContextId
	members := staticMembers{allowed: map[PeerId]bool{"server": true}} // "client" not admitted

	type result struct {
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		_, _, err := Handshake(clientConn, nil, "client", "server", ctxId, members, true)
		clientCh <- result{err}
	}()
	go func() {
		_, _, err := Handshake(serverConn, nil, "server", "client", ContextId{}, members, false)
		serverCh <- result{err}
	}()

	cr := <-clientCh
	sr := <-serverCh
	_ = cr // the initiator may or may not fail depending on timing of its own read
	if sr.err == nil {
		t.Fatal("expected server to reject non-member client")
	}
}

func TestAuthenticatedStreamRejectsReplayedNonce(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var ctxId ContextId
	members := staticMembers{allowed: map[PeerId]bool{"client": true, "server": true}}

	type result struct {
		stream *AuthenticatedStream
		err    error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)
	go func() {
		s, _, err := Handshake(clientConn, nil, "client", "server", ctxId, members, true)
		clientCh <- result{s, err}
	}()
	go func() {
		s, _, err := Handshake(serverConn, nil, "server", "client", ContextId{}, members, false)
		serverCh <- result{s, err}
	}()
	cr := <-clientCh
	sr := <-serverCh
	if cr.err != nil || sr.err != nil {
		t.Fatalf("handshake failed: client=%v server=%v", cr.err, sr.err)
	}

	// Deliver two frames in order, then resend the first frame (sealed under
	// nonce 0) and expect the reader, now waiting for nonce 2, to reject it.
	errCh := make(chan error, 1)
	go func() { errCh <- cr.stream.Write([]byte("first")) }()
	if _, err := sr.stream.Read(); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}

	go func() { errCh <- cr.stream.Write([]byte("second")) }()
	if _, err := sr.stream.Read(); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}

	go func() {
		nb := nonceBytes(0)
		replayed := cr.stream.aead.send.Seal(nil, nb[:], []byte("first"), nil)
		errCh <- WriteFrame(clientConn, replayed)
	}()
	if _, err := sr.stream.Read(); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("replayed frame: expected ErrReplayDetected, got %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
}
