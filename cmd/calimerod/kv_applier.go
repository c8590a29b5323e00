package main

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/calimero-network/core/core"
)

// kvOpKind distinguishes a Put from a Delete within a kvApplier delta
// payload.
type kvOpKind byte

const (
	kvOpPut kvOpKind = iota
	kvOpDelete
)

// kvOp is one write against a single 32-byte state key.
type kvOp struct {
	kind  kvOpKind
	key   core.StateKey
	value []byte
}

// encodeKVOps serializes a set of writes into a delta payload: each op is
// kind(1) || key(32) || [len(4) || value] for Put ops. Guest execution
// proper is out of scope (§1); this is the reference Applier the CLI uses
// to demonstrate the DAG against real column state.
func encodeKVOps(ops []kvOp) []byte {
	buf := make([]byte, 0, 64*len(ops))
	for _, op := range ops {
		buf = append(buf, byte(op.kind))
		buf = append(buf, op.key[:]...)
		if op.kind == kvOpPut {
			var lenBuf [4]byte
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(op.value)))
			buf = append(buf, lenBuf[:]...)
			buf = append(buf, op.value...)
		}
	}
	return buf
}

func decodeKVOps(payload []byte) ([]kvOp, error) {
	var ops []kvOp
	pos := 0
	for pos < len(payload) {
		if pos+1+32 > len(payload) {
			return nil, fmt.Errorf("kv applier: truncated op header")
		}
		kind := kvOpKind(payload[pos])
		pos++
		var key core.StateKey
		copy(key[:], payload[pos:pos+32])
		pos += 32
		op := kvOp{kind: kind, key: key}
		if kind == kvOpPut {
			if pos+4 > len(payload) {
				return nil, fmt.Errorf("kv applier: truncated value length")
			}
			n := binary.BigEndian.Uint32(payload[pos : pos+4])
			pos += 4
			if pos+int(n) > len(payload) {
				return nil, fmt.Errorf("kv applier: truncated value")
			}
			op.value = append([]byte(nil), payload[pos:pos+int(n)]...)
			pos += int(n)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// kvApplier is the reference core.Applier this daemon runs: it materializes
// a delta's Put/Delete ops into ColumnState and derives the new root hash
// by hashing the context's full state, since no guest execution engine is
// wired in (§1 Non-goals).
type kvApplier struct {
	backend core.Backend
}

func newKVApplier(backend core.Backend) *kvApplier {
	return &kvApplier{backend: backend}
}

func (a *kvApplier) Apply(ctx context.Context, ctxId core.ContextId, payload []byte) (core.RootHash, []byte, error) {
	ops, err := decodeKVOps(payload)
	if err != nil {
		return core.RootHash{}, nil, err
	}

	batch := &core.WriteBatch{}
	for _, op := range ops {
		entryKey := core.StateEntryKey{Context: ctxId, Key: op.key}.Encode()
		if op.kind == kvOpDelete {
			batch.Delete(core.ColumnState, entryKey)
		} else {
			batch.Put(core.ColumnState, entryKey, core.EncodeValue(op.value))
		}
	}
	if batch.Len() > 0 {
		if err := a.backend.Apply(batch); err != nil {
			return core.RootHash{}, nil, err
		}
	}

	root, err := core.ComputeStateRootHash(core.NewBaseView(a.backend), ctxId)
	if err != nil {
		return core.RootHash{}, nil, err
	}
	events := []byte(fmt.Sprintf("applied %d ops", len(ops)))
	return root, events, nil
}
