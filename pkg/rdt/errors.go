package rdt

import "github.com/pkg/errors"

// Sentinel errors surfaced to callers of Send/Recv/Close. Engine-internal
// faults (malformed packets, checksum mismatches, duplicate ACKs,
// out-of-order arrivals) are all recovered silently and never produce one
// of these; they only appear when spec.md's "fatal" conditions are hit.
var (
	// ErrConnectionLost is returned when MAX_TIMEOUT consecutive
	// retransmit rounds made no progress.
	ErrConnectionLost = errors.New("rdt: connection lost (timeout)")

	// ErrCapacityExceeded is returned synchronously by Send when the
	// caller tried to enqueue 128 or more chunks in one call.
	ErrCapacityExceeded = errors.New("rdt: send batch too large (>=128 chunks)")

	// ErrClosed is returned by Send on an endpoint that is not
	// established, including when the peer's FIN closes it mid-send.
	// Recv reports a closed endpoint as (nil, nil) and Close returns nil.
	ErrClosed = errors.New("rdt: connection closed")
)

// wrapf annotates err with a formatted message while preserving Is/As
// compatibility with the wrapped sentinel, using the pkg/errors wrap/cause
// convention used throughout this module's call sites.
func wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
