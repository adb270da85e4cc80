package wal

import "errors"

// Codec-level sentinels (spec.md §4.1/§7). These are recovered from during
// replay and are never surfaced to a log_* caller: a corrupt-header,
// corrupt-payload or truncated record met during forward replay is counted
// in ReplayResult.CorruptedRecords and logged.
var (
	// ErrEndOfStream means fewer than a full header remains: a clean end of
	// segment, not a corruption.
	ErrEndOfStream = errors.New("wal: end of stream")
	// ErrCorruptHeader means the magic or header checksum did not verify,
	// or the version byte is unrecognised.
	ErrCorruptHeader = errors.New("wal: corrupt header")
	// ErrCorruptPayload means the payload checksum did not verify.
	ErrCorruptPayload = errors.New("wal: corrupt payload")
	// ErrTruncated means fewer bytes remain than payload_length declares: a
	// torn write at the tail of a segment.
	ErrTruncated = errors.New("wal: truncated record")
)

// ErrorCode is the tagged-union discriminator for Writer-facing failures
// (spec.md §7), mirroring matching.ErrorCode.
type ErrorCode uint8

const (
	// ErrorOK indicates success.
	ErrorOK ErrorCode = iota
	// ErrorIO is an underlying storage error on append, sync, or open. It
	// transitions the Writer to Sealed.
	ErrorIO
	// ErrorSealed is an attempt to write to a Sealed Writer.
	ErrorSealed
	// ErrorLocked means another live process holds the directory lock.
	ErrorLocked
	// ErrorReplayGap is a missing segment file encountered during replay.
	// Fatal: history before the gap cannot be reconstructed.
	ErrorReplayGap
	// ErrorInvalidArgument covers WAL-level validation (e.g. a request that
	// fails NewOrderRequest.Validate, which separately wraps order.ErrInvalidArgument).
	ErrorInvalidArgument
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorOK:
		return "OK"
	case ErrorIO:
		return "WAL_IO"
	case ErrorSealed:
		return "WAL_SEALED"
	case ErrorLocked:
		return "WAL_LOCKED"
	case ErrorReplayGap:
		return "REPLAY_GAP"
	case ErrorInvalidArgument:
		return "INVALID_ARGUMENT"
	default:
		return "UNKNOWN"
	}
}

// Error returns the sentinel error for e (one of those below), or nil for
// ErrorOK. Callers compare against the sentinels with errors.Is.
func (e ErrorCode) Error() error {
	switch e {
	case ErrorOK:
		return nil
	case ErrorIO:
		return ErrIO
	case ErrorSealed:
		return ErrSealed
	case ErrorLocked:
		return ErrLocked
	case ErrorReplayGap:
		return ErrReplayGap
	case ErrorInvalidArgument:
		return ErrInvalidArgument
	default:
		return errors.New("wal: unknown error")
	}
}

// Writer- and Replay-facing sentinel errors, one per ErrorCode above.
var (
	ErrIO              = errors.New("wal: I/O error")
	ErrSealed          = errors.New("wal: writer is sealed")
	ErrLocked          = errors.New("wal: directory is locked by another process")
	ErrReplayGap       = errors.New("wal: missing segment — history before the gap is unrecoverable")
	ErrInvalidArgument = errors.New("wal: invalid argument")
)
