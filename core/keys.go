package core

import (
	"encoding/binary"
	"fmt"
)

// Column identifies one of the closed set of key/value partitions the
// Backend exposes (§3). Each column owns its own key layout and value
// encoding.
type Column byte

const (
	ColumnState Column = iota
	ColumnIdentity
	ColumnMeta
	ColumnTransactionLog
	ColumnAlias
	ColumnGeneric
)

func (c Column) String() string {
	switch c {
	case ColumnState:
		return "state"
	case ColumnIdentity:
		return "identity"
	case ColumnMeta:
		return "meta"
	case ColumnTransactionLog:
		return "txlog"
	case ColumnAlias:
		return "alias"
	case ColumnGeneric:
		return "generic"
	default:
		return fmt.Sprintf("column(%d)", byte(c))
	}
}

// StateKey is the 32-byte application-defined key component used together
// with a ContextId to address state entries (§6: "state column key =
// ContextId || StateKey (32B)").
type StateKey [32]byte

// StateEntryKey is the fixed-size concatenation (ContextId || StateKey)
// that addresses one entry in ColumnState.
type StateEntryKey struct {
	Context ContextId
	Key     StateKey
}

// Encode produces the injective, lexicographically-ordered byte layout for
// this key (§4.3).
func (k StateEntryKey) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, k.Context[:]...)
	buf = append(buf, k.Key[:]...)
	return buf
}

// DecodeStateEntryKey is the inverse of Encode.
func DecodeStateEntryKey(b []byte) (StateEntryKey, error) {
	if len(b) != 64 {
		return StateEntryKey{}, fmt.Errorf("%w: state key must be 64 bytes, got %d", ErrBadEncoding, len(b))
	}
	var k StateEntryKey
	copy(k.Context[:], b[0:32])
	copy(k.Key[:], b[32:64])
	return k, nil
}

// MetaEntryKey addresses one entry in ColumnMeta; §6 defines the meta
// column key as simply the ContextId.
type MetaEntryKey struct {
	Context ContextId
}

func (k MetaEntryKey) Encode() []byte { return append([]byte(nil), k.Context[:]...) }

func DecodeMetaEntryKey(b []byte) (MetaEntryKey, error) {
	if len(b) != 32 {
		return MetaEntryKey{}, fmt.Errorf("%w: meta key must be 32 bytes, got %d", ErrBadEncoding, len(b))
	}
	var k MetaEntryKey
	copy(k.Context[:], b)
	return k, nil
}

// TransactionLogKey orders log entries within a context by a monotonic
// sequence number, so a Range scan over the column yields them in
// application order.
type TransactionLogKey struct {
	Context ContextId
	Seq     uint64
}

func (k TransactionLogKey) Encode() []byte {
	buf := make([]byte, 0, 40)
	buf = append(buf, k.Context[:]...)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], k.Seq)
	return append(buf, seqBuf[:]...)
}

func DecodeTransactionLogKey(b []byte) (TransactionLogKey, error) {
	if len(b) != 40 {
		return TransactionLogKey{}, fmt.Errorf("%w: txlog key must be 40 bytes, got %d", ErrBadEncoding, len(b))
	}
	var k TransactionLogKey
	copy(k.Context[:], b[0:32])
	k.Seq = binary.BigEndian.Uint64(b[32:40])
	return k, nil
}

// AliasKey maps a human-readable context-scoped alias name to a target
// identifier (e.g. a DeltaId or a peer nickname).
type AliasKey struct {
	Context ContextId
	Name    string
}

func (k AliasKey) Encode() []byte {
	buf := make([]byte, 0, 32+len(k.Name))
	buf = append(buf, k.Context[:]...)
	return append(buf, []byte(k.Name)...)
}

// IdentityKey addresses one peer's discovery/identity record, keyed by its
// stable PeerId string form.
type IdentityKey struct {
	Peer PeerId
}

func (k IdentityKey) Encode() []byte { return []byte(k.Peer) }

// GenericKey is a raw opaque key for the catch-all column.
type GenericKey []byte

func (k GenericKey) Encode() []byte { return []byte(k) }

// EncodeValue applies the fixed binary serialization discipline required
// by §4.3: a u32 little-endian length prefix followed by the raw bytes.
// JSON is reserved for cross-process event payloads only and must never be
// used for persisted column values.
func EncodeValue(raw []byte) []byte {
	buf := make([]byte, 4+len(raw))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(raw)))
	copy(buf[4:], raw)
	return buf
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: value truncated before length prefix", ErrBadEncoding)
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	if uint32(len(buf)-4) != n {
		return nil, fmt.Errorf("%w: value length prefix %d does not match payload %d", ErrBadEncoding, n, len(buf)-4)
	}
	return buf[4:], nil
}
