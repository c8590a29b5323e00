package core

import (
	"bytes"

	"github.com/zeebo/blake3"
)

// ComputeStateRootHash hashes every ColumnState entry addressed under ctxId
// in ascending key order, so the root hash depends only on the materialized
// state itself and not on the order its deltas happened to apply in (§3
// RootHash, §4.4 invariant that AddDelta verifies against it).
func ComputeStateRootHash(v View, ctxId ContextId) (RootHash, error) {
	it, err := v.Range(ColumnState, ctxId[:], Forward)
	if err != nil {
		return RootHash{}, err
	}
	defer it.Close()

	h := blake3.New()
	prefix := ctxId[:]
	for it.Next() {
		key := it.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		h.Write(key)
		h.Write(it.Value())
	}
	if err := it.Err(); err != nil {
		return RootHash{}, err
	}
	var out RootHash
	copy(out[:], h.Sum(nil))
	return out, nil
}
