package core

import (
	"encoding/binary"
	"fmt"
)

// MessageKind tags every gossip and direct-stream payload exchanged between
// nodes (§4.8). Gossip only ever carries MsgDeltaAnnounce; direct streams
// carry the request/response pairs for delta and blob catch-up plus the
// one-shot key exchange performed on context join.
type MessageKind byte

const (
	MsgDeltaAnnounce MessageKind = iota
	MsgDeltaFetchRequest
	MsgDeltaFetchResponse
	MsgBlobFetchRequest
	MsgBlobFetchResponse
	MsgKeyExchangeRequest
	MsgKeyExchangeResponse
	MsgSyncHello
	MsgStateTransferRequest
	MsgStateTransferResponse
)

// encodeDelta/decodeDelta implement the fixed binary layout for a Delta
// (§4.3): u32-length-prefixed byte fields and big-endian integers. keys.go's
// EncodeValue uses the same length-prefix discipline, in little-endian.
func encodeDelta(d Delta) []byte {
	buf := make([]byte, 0, 128+len(d.Payload))
	buf = appendU32Bytes(buf, d.Id[:])
	buf = appendU32(buf, uint32(len(d.Parents)))
	for _, p := range d.Parents {
		buf = appendU32Bytes(buf, p[:])
	}
	buf = appendU32Bytes(buf, d.Payload)
	buf = appendU32Bytes(buf, []byte(d.Author))
	buf = appendU64(buf, uint64(d.Timestamp.WallMillis))
	buf = appendU32(buf, d.Timestamp.Logical)
	buf = appendU32Bytes(buf, d.ExpectedRootHash[:])
	buf = appendU32Bytes(buf, d.Events)
	return buf
}

func decodeDelta(b []byte) (Delta, error) {
	var d Delta
	r := byteReader{buf: b}

	id, err := r.readU32Bytes()
	if err != nil || len(id) != 32 {
		return d, fmt.Errorf("%w: delta id", ErrBadEncoding)
	}
	copy(d.Id[:], id)

	n, err := r.readU32()
	if err != nil {
		return d, fmt.Errorf("%w: parent count", ErrBadEncoding)
	}
	d.Parents = make([]DeltaId, n)
	for i := range d.Parents {
		p, err := r.readU32Bytes()
		if err != nil || len(p) != 32 {
			return d, fmt.Errorf("%w: parent %d", ErrBadEncoding, i)
		}
		copy(d.Parents[i][:], p)
	}

	payload, err := r.readU32Bytes()
	if err != nil {
		return d, fmt.Errorf("%w: payload", ErrBadEncoding)
	}
	d.Payload = payload

	author, err := r.readU32Bytes()
	if err != nil {
		return d, fmt.Errorf("%w: author", ErrBadEncoding)
	}
	d.Author = PeerId(author)

	wall, err := r.readU64()
	if err != nil {
		return d, fmt.Errorf("%w: timestamp", ErrBadEncoding)
	}
	d.Timestamp.WallMillis = int64(wall)

	logical, err := r.readU32()
	if err != nil {
		return d, fmt.Errorf("%w: logical clock", ErrBadEncoding)
	}
	d.Timestamp.Logical = logical

	root, err := r.readU32Bytes()
	if err != nil || len(root) != 32 {
		return d, fmt.Errorf("%w: expected root hash", ErrBadEncoding)
	}
	copy(d.ExpectedRootHash[:], root)

	events, err := r.readU32Bytes()
	if err != nil {
		return d, fmt.Errorf("%w: events", ErrBadEncoding)
	}
	d.Events = events

	return d, nil
}

// deltaFetchRequest asks a peer for specific deltas by id (§4.8, §4.9).
type deltaFetchRequest struct {
	Context ContextId
	Ids     []DeltaId
}

func encodeDeltaFetchRequest(r deltaFetchRequest) []byte {
	buf := []byte{byte(MsgDeltaFetchRequest)}
	buf = append(buf, r.Context[:]...)
	buf = appendU32(buf, uint32(len(r.Ids)))
	for _, id := range r.Ids {
		buf = append(buf, id[:]...)
	}
	return buf
}

func decodeDeltaFetchRequest(b []byte) (deltaFetchRequest, error) {
	var r deltaFetchRequest
	if len(b) < 1+32+4 {
		return r, fmt.Errorf("%w: truncated delta fetch request", ErrBadEncoding)
	}
	copy(r.Context[:], b[1:33])
	n := binary.BigEndian.Uint32(b[33:37])
	off := 37
	r.Ids = make([]DeltaId, n)
	for i := range r.Ids {
		if off+32 > len(b) {
			return r, fmt.Errorf("%w: truncated delta fetch request ids", ErrBadEncoding)
		}
		copy(r.Ids[i][:], b[off:off+32])
		off += 32
	}
	return r, nil
}

// deltaFetchResponse carries the requested deltas in causal (parent-before-
// child) order so the receiver's DagEngine applies them without buffering
// (§4.8, §4.9 incremental catch-up).
type deltaFetchResponse struct {
	Deltas []Delta
}

func encodeDeltaFetchResponse(r deltaFetchResponse) []byte {
	buf := []byte{byte(MsgDeltaFetchResponse)}
	buf = appendU32(buf, uint32(len(r.Deltas)))
	for _, d := range r.Deltas {
		buf = appendU32Bytes(buf, encodeDelta(d))
	}
	return buf
}

func decodeDeltaFetchResponse(b []byte) (deltaFetchResponse, error) {
	var r deltaFetchResponse
	if len(b) < 5 {
		return r, fmt.Errorf("%w: truncated delta fetch response", ErrBadEncoding)
	}
	br := byteReader{buf: b[1:]}
	n, err := br.readU32()
	if err != nil {
		return r, fmt.Errorf("%w: delta count", ErrBadEncoding)
	}
	r.Deltas = make([]Delta, n)
	for i := range r.Deltas {
		raw, err := br.readU32Bytes()
		if err != nil {
			return r, fmt.Errorf("%w: delta %d", ErrBadEncoding, i)
		}
		d, err := decodeDelta(raw)
		if err != nil {
			return r, err
		}
		r.Deltas[i] = d
	}
	return r, nil
}

// blobFetchRequest/Response move a single immutable blob across a direct
// stream (§4.8, §6).
type blobFetchRequest struct {
	Id BlobId
}

func encodeBlobFetchRequest(r blobFetchRequest) []byte {
	return append([]byte{byte(MsgBlobFetchRequest)}, r.Id[:]...)
}

func decodeBlobFetchRequest(b []byte) (blobFetchRequest, error) {
	var r blobFetchRequest
	if len(b) != 33 {
		return r, fmt.Errorf("%w: truncated blob fetch request", ErrBadEncoding)
	}
	copy(r.Id[:], b[1:33])
	return r, nil
}

type blobFetchResponse struct {
	Found bool
	Bytes []byte
}

func encodeBlobFetchResponse(r blobFetchResponse) []byte {
	buf := []byte{byte(MsgBlobFetchResponse)}
	if r.Found {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU32Bytes(buf, r.Bytes)
	return buf
}

func decodeBlobFetchResponse(b []byte) (blobFetchResponse, error) {
	var r blobFetchResponse
	if len(b) < 6 {
		return r, fmt.Errorf("%w: truncated blob fetch response", ErrBadEncoding)
	}
	r.Found = b[1] == 1
	br := byteReader{buf: b[2:]}
	data, err := br.readU32Bytes()
	if err != nil {
		return r, fmt.Errorf("%w: blob bytes", ErrBadEncoding)
	}
	r.Bytes = data
	return r, nil
}

// keyExchangeResponse answers a key-exchange request, which is the bare
// MsgKeyExchangeRequest kind byte, and admits a newly-joined peer to a
// context's member set (§4.8 key-exchange handler, §4.7 MemberChecker). The exchange
// runs over an already-authenticated stream, so the remote's PeerId is
// known from the handshake rather than carried in the payload.
type keyExchangeResponse struct {
	Admitted bool
	Heads    []DeltaId
	Genesis  RootHash
}

func encodeKeyExchangeResponse(r keyExchangeResponse) []byte {
	buf := []byte{byte(MsgKeyExchangeResponse)}
	if r.Admitted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, r.Genesis[:]...)
	buf = appendU32(buf, uint32(len(r.Heads)))
	for _, h := range r.Heads {
		buf = append(buf, h[:]...)
	}
	return buf
}

func decodeKeyExchangeResponse(b []byte) (keyExchangeResponse, error) {
	var r keyExchangeResponse
	if len(b) < 1+1+32+4 {
		return r, fmt.Errorf("%w: truncated key exchange response", ErrBadEncoding)
	}
	r.Admitted = b[1] == 1
	copy(r.Genesis[:], b[2:34])
	n := binary.BigEndian.Uint32(b[34:38])
	off := 38
	r.Heads = make([]DeltaId, n)
	for i := range r.Heads {
		if off+32 > len(b) {
			return r, fmt.Errorf("%w: truncated key exchange heads", ErrBadEncoding)
		}
		copy(r.Heads[i][:], b[off:off+32])
		off += 32
	}
	return r, nil
}

// stateTransferRequest asks a peer for a full snapshot of a context's
// column state, used as the fallback sync strategy (§4.9 fullStateTransfer)
// when incremental catch-up reports ErrAncestorHistoryMissing.
type stateTransferRequest struct {
	Context ContextId
}

func encodeStateTransferRequest(r stateTransferRequest) []byte {
	buf := []byte{byte(MsgStateTransferRequest)}
	buf = append(buf, r.Context[:]...)
	return buf
}

func decodeStateTransferRequest(b []byte) (stateTransferRequest, error) {
	var r stateTransferRequest
	if len(b) != 33 {
		return r, fmt.Errorf("%w: truncated state transfer request", ErrBadEncoding)
	}
	copy(r.Context[:], b[1:33])
	return r, nil
}

// stateTransferResponse carries every ColumnState entry for a context plus
// the snapshot's current heads, so the receiver can seed its DagEngine
// without re-deriving the causal history that produced the state (§4.9).
type stateTransferResponse struct {
	Entries []KV
	Heads   []DeltaId
}

func encodeStateTransferResponse(r stateTransferResponse) []byte {
	buf := []byte{byte(MsgStateTransferResponse)}
	buf = appendU32(buf, uint32(len(r.Entries)))
	for _, kv := range r.Entries {
		buf = appendU32Bytes(buf, kv.Key)
		buf = appendU32Bytes(buf, kv.Value)
	}
	buf = appendU32(buf, uint32(len(r.Heads)))
	for _, h := range r.Heads {
		buf = append(buf, h[:]...)
	}
	return buf
}

func decodeStateTransferResponse(b []byte) (stateTransferResponse, error) {
	var r stateTransferResponse
	if len(b) < 5 {
		return r, fmt.Errorf("%w: truncated state transfer response", ErrBadEncoding)
	}
	br := byteReader{buf: b[1:]}
	n, err := br.readU32()
	if err != nil {
		return r, fmt.Errorf("%w: entry count", ErrBadEncoding)
	}
	r.Entries = make([]KV, n)
	for i := range r.Entries {
		key, err := br.readU32Bytes()
		if err != nil {
			return r, fmt.Errorf("%w: entry %d key", ErrBadEncoding, i)
		}
		val, err := br.readU32Bytes()
		if err != nil {
			return r, fmt.Errorf("%w: entry %d value", ErrBadEncoding, i)
		}
		r.Entries[i] = KV{Key: key, Value: val}
	}
	hn, err := br.readU32()
	if err != nil {
		return r, fmt.Errorf("%w: head count", ErrBadEncoding)
	}
	r.Heads = make([]DeltaId, hn)
	for i := range r.Heads {
		if br.pos+32 > len(br.buf) {
			return r, fmt.Errorf("%w: head %d", ErrBadEncoding, i)
		}
		copy(r.Heads[i][:], br.buf[br.pos:br.pos+32])
		br.pos += 32
	}
	return r, nil
}

// --- small binary helpers ---------------------------------------------------

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32Bytes(b []byte, v []byte) []byte {
	b = appendU32(b, uint32(len(v)))
	return append(b, v...)
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) readU32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("%w: short read", ErrBadEncoding)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *byteReader) readU64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("%w: short read", ErrBadEncoding)
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *byteReader) readU32Bytes() ([]byte, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("%w: short read", ErrBadEncoding)
	}
	v := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}
