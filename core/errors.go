package core

import "errors"

// Transport errors (§7).
var (
	ErrNoRoute          = errors.New("core: no route to peer")
	ErrRefused          = errors.New("core: connection refused")
	ErrTimedOut         = errors.New("core: operation timed out")
	ErrConnectionClosed = errors.New("core: connection closed")
)

// Protocol errors (§7).
var (
	ErrFrameTooLarge  = errors.New("core: frame exceeds MAX_FRAME")
	ErrBadEncoding    = errors.New("core: malformed wire encoding")
	ErrAuthRejected   = errors.New("core: peer identity rejected during handshake")
	ErrReplayDetected = errors.New("core: replayed or out-of-order frame")
)

// DAG errors (§7). Duplicate and Buffered are reported as AddOutcome kinds,
// not errors; AddDelta does not return ErrDuplicateDelta, and there is no
// Buffered sentinel.
var (
	ErrDuplicateDelta     = errors.New("core: delta already known")
	ErrHashMismatch       = errors.New("core: applied root hash does not match expected root hash")
	ErrPermanentlyInvalid = errors.New("core: delta permanently invalid")
)

// Storage errors (§7).
var (
	ErrNotFound   = errors.New("core: key not found")
	ErrCorruption = errors.New("core: backend column corrupted")
	ErrIO         = errors.New("core: backend i/o error")
	ErrReadOnly   = errors.New("core: view is read-only")
)

// Sync errors (§7).
var (
	ErrAncestorHistoryMissing = errors.New("core: peer cannot supply requested ancestor history")
	ErrPeerUnresponsive       = errors.New("core: peer did not respond before deadline")
	ErrStrategyFailed         = errors.New("core: sync strategy failed")
)

// ErrBackpressureRejected is returned by publish/dispatch operations that
// would otherwise block or overflow an internal buffer (§7, §6).
var ErrBackpressureRejected = errors.New("core: rejected due to backpressure")
