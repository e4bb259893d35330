package platform

import "errors"

// Failure taxonomy. Callers match with errors.Is; every store/network
// failure is converted at the call site into a reverted optimistic update
// or a cached/empty view, never a crash.
var (
	// ErrStoreUnavailable marks a failed network call to the hosted store.
	// Single attempt, no retry; the user re-triggers.
	ErrStoreUnavailable = errors.New("hosted store unavailable")

	// ErrAuthRequired means there is no active session; the UI redirects
	// to sign-in.
	ErrAuthRequired = errors.New("authentication required")

	// ErrProcessKickoff marks a failed best-effort start-process call after
	// a successful activation toggle. The activation flag is NOT rolled
	// back; the inconsistency is surfaced, not silently swallowed.
	ErrProcessKickoff = errors.New("start-process kickoff failed")
)
