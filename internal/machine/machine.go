// Package machine holds the small set of wire constants shared across the
// manifold/guard/oracle/config/breaker packages, kept in one leaf package
// so none of them need to import each other just to agree on a string.
package machine

const (
	// NoWriteMarker is the canonical s_prime value meaning "do not alter the
	// current cell this tick".
	NoWriteMarker = "👆"

	// SliceLinesDefault is the hard truncation threshold for a full-file
	// Observe before it falls back to a head/tail window.
	SliceLinesDefault = 2000
	// SliceHeadLines and SliceTailLines bound the visible window of a
	// truncated slice.
	SliceHeadLines = 500
	SliceTailLines = 1500

	// MaxStdoutDefault bounds captured shell/URL output.
	MaxStdoutDefault = 64 * 1024

	// ExecTimeoutDefault is the per-command subprocess timeout.
	ExecTimeoutDefault = 600 // seconds

	FileNotFound = "[FILE_NOT_FOUND]"

	// OracleTimeoutDefaultMS is the per-attempt oracle call timeout.
	OracleTimeoutDefaultMS = 90_000
	// OracleMaxAttempts bounds retries on malformed oracle output.
	OracleMaxAttempts = 3
)
