package engine

import "errors"

// Sentinel errors for turn processing. Checked with errors.Is().
var (
	// ErrInvalidInput indicates a missing thread ID or empty user message.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRouting indicates the router model produced neither a usable text
	// answer nor a well-formed retrieval request.
	ErrRouting = errors.New("routing failed")

	// ErrDependencyTimeout indicates an outbound call (model, embedder,
	// search, persistence) exceeded its configured deadline.
	ErrDependencyTimeout = errors.New("dependency timed out")

	// ErrUnknownThread indicates an inspection request for a thread that
	// has never been committed.
	ErrUnknownThread = errors.New("unknown thread")
)
