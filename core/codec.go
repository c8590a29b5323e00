package core

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// MaxFrame is the maximum payload size a single frame may carry before the
// stream is closed with ErrFrameTooLarge (§4.5, §6).
const MaxFrame = 8 * 1024 * 1024

// WriteFrame writes a u32-BE length-prefixed frame to w. Payload is
// uninterpreted bytes at this layer (§4.5).
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrame {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: write frame header: %v", ErrConnectionClosed, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("%w: write frame body: %v", ErrConnectionClosed, err)
	}
	return nil
}

// ReadFrame reads one complete frame from r, tolerating partial reads by
// accumulating until the declared length is available (§4.5).
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read frame header: %v", ErrConnectionClosed, err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrame {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read frame body: %v", ErrConnectionClosed, err)
	}
	return buf, nil
}

// rawStream is the minimal surface AuthenticatedStream needs from an
// underlying libp2p network.Stream (or net.Conn), kept narrow so tests can
// supply an in-memory pipe.
type rawStream interface {
	io.Reader
	io.Writer
	io.Closer
}

// handshakeMessage is exchanged once per direction to bootstrap the shared
// key (§4.5 step a-c).
type handshakeMessage struct {
	Ephemeral [32]byte
	PeerId    PeerId
	Context   ContextId
}

// MemberChecker answers whether a PeerId belongs to a context, used by the
// handshake to enforce §4.5's AuthRejected rule.
type MemberChecker interface {
	IsMember(ctx ContextId, p PeerId) bool
}

// AuthenticatedStream wraps a raw bidirectional stream with a handshake
// that derives a context-and-identity-bound symmetric key, then
// encrypts-then-authenticates every frame with strictly increasing
// per-direction nonces, rejecting replayed or out-of-order frames (§4.5).
type AuthenticatedStream struct {
	raw        rawStream
	aead       aeadPair
	sendNonce  uint64
	recvNonce  uint64
	mu         sync.Mutex
}

type aeadPair struct {
	send interface{ Seal([]byte, []byte, []byte, []byte) []byte }
	recv interface {
		Open([]byte, []byte, []byte, []byte) ([]byte, error)
	}
}

// Handshake performs the fixed authenticated-stream handshake described in
// §4.5: exchange ephemeral X25519 public material, derive a shared
// ChaCha20-Poly1305 key via HKDF bound to the context and both
// identities, and commit to starting at nonce zero on both sides.
// isInitiator determines message ordering so both sides don't write
// simultaneously on a stream that doesn't support that. ctxId is the
// context the initiator wants to talk about; a responder accepting a
// freshly opened, not-yet-demultiplexed stream passes the zero ContextId
// and learns the actual context from the initiator's message, returned as
// the second value.
func Handshake(raw rawStream, self *NodeIdentity, selfPeer PeerId, remotePeer PeerId, ctxId ContextId, members MemberChecker, isInitiator bool) (*AuthenticatedStream, ContextId, error) {
	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, ContextId{}, fmt.Errorf("handshake: generate ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, ContextId{}, fmt.Errorf("handshake: derive ephemeral public: %w", err)
	}

	local := handshakeMessage{PeerId: selfPeer, Context: ctxId}
	copy(local.Ephemeral[:], ephPub)

	var remote handshakeMessage
	if isInitiator {
		if err := writeHandshake(raw, local); err != nil {
			return nil, ContextId{}, err
		}
		remote, err = readHandshake(raw)
	} else {
		remote, err = readHandshake(raw)
		if err == nil {
			local.Context = remote.Context
			err = writeHandshake(raw, local)
		}
	}
	if err != nil {
		return nil, ContextId{}, err
	}

	effectiveCtx := ctxId
	if !isInitiator {
		effectiveCtx = remote.Context
	}
	if remote.Context != effectiveCtx {
		return nil, ContextId{}, fmt.Errorf("%w: context mismatch", ErrAuthRejected)
	}
	if members != nil && !members.IsMember(effectiveCtx, remote.PeerId) {
		return nil, ContextId{}, fmt.Errorf("%w: peer %s not a member of context %s", ErrAuthRejected, remote.PeerId, effectiveCtx)
	}

	shared, err := curve25519.X25519(ephPriv[:], remote.Ephemeral[:])
	if err != nil {
		return nil, ContextId{}, fmt.Errorf("%w: derive shared secret: %v", ErrAuthRejected, err)
	}

	first, second := string(selfPeer), string(remotePeer)
	if first > second {
		first, second = second, first
	}
	salt := append(append([]byte{}, effectiveCtx[:]...), []byte(first+second)...)
	kdf := hkdf.New(sha256New, shared, salt, []byte("calimero-stream-v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, ContextId{}, fmt.Errorf("handshake: derive stream key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ContextId{}, fmt.Errorf("handshake: init aead: %w", err)
	}

	return &AuthenticatedStream{
		raw:  raw,
		aead: aeadPair{send: aead, recv: aead},
	}, effectiveCtx, nil
}

func writeHandshake(raw rawStream, m handshakeMessage) error {
	buf := make([]byte, 0, 32+len(m.PeerId)+32)
	buf = append(buf, m.Ephemeral[:]...)
	buf = append(buf, m.Context[:]...)
	var idLen [2]byte
	binary.BigEndian.PutUint16(idLen[:], uint16(len(m.PeerId)))
	buf = append(buf, idLen[:]...)
	buf = append(buf, []byte(m.PeerId)...)
	return WriteFrame(raw, buf)
}

func readHandshake(raw rawStream) (handshakeMessage, error) {
	buf, err := ReadFrame(raw)
	if err != nil {
		return handshakeMessage{}, err
	}
	if len(buf) < 32+32+2 {
		return handshakeMessage{}, fmt.Errorf("%w: truncated handshake message", ErrBadEncoding)
	}
	var m handshakeMessage
	copy(m.Ephemeral[:], buf[0:32])
	copy(m.Context[:], buf[32:64])
	idLen := binary.BigEndian.Uint16(buf[64:66])
	if len(buf) < 66+int(idLen) {
		return handshakeMessage{}, fmt.Errorf("%w: truncated handshake peer id", ErrBadEncoding)
	}
	m.PeerId = PeerId(buf[66 : 66+int(idLen)])
	return m, nil
}

// Write encrypts payload with the current send nonce, then frames and
// writes it.
func (s *AuthenticatedStream) Write(payload []byte) error {
	s.mu.Lock()
	nonce := s.sendNonce
	s.sendNonce++
	s.mu.Unlock()

	nb := nonceBytes(nonce)
	sealed := s.aead.send.Seal(nil, nb[:], payload, nil)
	return WriteFrame(s.raw, sealed)
}

// Read blocks for the next frame, verifies and decrypts it, and rejects
// replayed or out-of-order frames by requiring the expected next nonce
// (§4.5).
func (s *AuthenticatedStream) Read() ([]byte, error) {
	sealed, err := ReadFrame(s.raw)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	nonce := s.recvNonce
	s.mu.Unlock()

	nb := nonceBytes(nonce)
	plain, err := s.aead.recv.Open(nil, nb[:], sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReplayDetected, err)
	}
	s.mu.Lock()
	s.recvNonce++
	s.mu.Unlock()
	return plain, nil
}

func (s *AuthenticatedStream) Close() error { return s.raw.Close() }

func nonceBytes(n uint64) [chacha20poly1305.NonceSize]byte {
	var nb [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint64(nb[4:], n)
	return nb
}

func sha256New() hash.Hash { return sha256.New() }
