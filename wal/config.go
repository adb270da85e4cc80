package wal

import "time"

// Defaults for the Config knobs enumerated in spec.md §6.
const (
	// DefaultSegmentMaxBytes is the rotation threshold: 64 MiB.
	DefaultSegmentMaxBytes int64 = 64 * 1024 * 1024
	// DefaultCheckpointRecords is the record-count auto-checkpoint trigger.
	DefaultCheckpointRecords uint64 = 100_000
	// DefaultCheckpointInterval is the time-based auto-checkpoint trigger.
	DefaultCheckpointInterval = 60 * time.Second
	// DefaultReplayMaxGapTolerance is the maximum acceptable sequence gap
	// before a REPLAY_GAP is raised.
	DefaultReplayMaxGapTolerance uint64 = 0
	// DefaultLockStaleAge is how old a lock file's owning PID must be
	// presumed dead before the lock may be reclaimed.
	DefaultLockStaleAge = 30 * time.Second
)

// Config is the set of configuration knobs spec.md §6 enumerates.
type Config struct {
	// Dir is the directory holding segment and lock files.
	Dir string
	// FilePrefix is the directory-relative filename stem.
	FilePrefix string

	// SyncOnWrite, when true, forces a durability barrier after every
	// log_* call (safest, lowest throughput). When false, the caller
	// batches and calls Sync explicitly.
	SyncOnWrite bool

	// SegmentMaxBytes is the rotation threshold.
	SegmentMaxBytes int64
	// SegmentMaxRecords is an additional, optional record-count rotation
	// threshold; rotation triggers on whichever of the two is hit first.
	// Zero disables the record-count trigger.
	SegmentMaxRecords uint64

	// CheckpointRecords and CheckpointInterval are the auto-checkpoint
	// triggers: after N records since the last checkpoint, or M duration,
	// whichever comes first. Either may be zero to disable that trigger.
	CheckpointRecords  uint64
	CheckpointInterval time.Duration

	// ReplayMaxGapTolerance is the maximum acceptable sequence gap before
	// replay raises REPLAY_GAP.
	ReplayMaxGapTolerance uint64

	// LockStaleAge is the age after which a lock file's recorded PID, if no
	// longer alive, may be reclaimed.
	LockStaleAge time.Duration
}

// DefaultConfig returns a Config with every spec.md §6 default applied,
// for the given directory and file prefix.
func DefaultConfig(dir, filePrefix string) Config {
	return Config{
		Dir:                   dir,
		FilePrefix:            filePrefix,
		SyncOnWrite:           true,
		SegmentMaxBytes:       DefaultSegmentMaxBytes,
		CheckpointRecords:     DefaultCheckpointRecords,
		CheckpointInterval:    DefaultCheckpointInterval,
		ReplayMaxGapTolerance: DefaultReplayMaxGapTolerance,
		LockStaleAge:          DefaultLockStaleAge,
	}
}
