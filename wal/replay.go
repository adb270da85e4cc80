package wal

import (
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/Zzzode/veloz/order"
)

// ReplayResult summarises one Replay run: the recovered sequence state and
// enough information for the Writer to continue appending where replay left
// off (spec.md §4.5).
type ReplayResult struct {
	// Segments is every segment file discovered, ordered by FirstSeq.
	Segments []SegmentInfo
	// LastSequence is the highest sequence number successfully applied.
	LastSequence uint64
	// ValidTailSize is the byte offset in the last segment up to which
	// records decoded cleanly; bytes beyond it are a torn write and are
	// truncated away before the Writer reopens the segment for append.
	ValidTailSize int64
	// CorruptedRecords counts records skipped during forward replay: those
	// whose header or payload checksum did not verify, plus a record cut
	// short by a torn write at a segment's end. A torn tail shorter than a
	// full header is not counted.
	CorruptedRecords int
	// CheckpointsApplied is 1 when the Store was seeded from a CHECKPOINT
	// record (the most recent one that verifies, found by scanning backward
	// past corrupt ones), and 0 otherwise.
	CheckpointsApplied int
}

// Replay is the Replay Engine (spec.md §4.5): it loads store with the most
// recent valid checkpoint, then replays every record after it forward,
// resynchronising past any corrupt record in the middle of a segment and
// tolerating a torn write at the very end of the last segment (cut off at
// ValidTailSize). maxGapTolerance bounds how many sequence numbers may be
// missing across a segment-file boundary; a larger gap is logged and ends
// replay with ErrReplayGap (the default, DefaultReplayMaxGapTolerance, is
// zero: any gap is fatal). Sequence continuity inside a segment is not
// checked. Every corrupted record's segment and offset is logged via
// logger. logger may be nil, in which case nothing is logged.
func Replay(segs *SegmentStore, store *order.Store, maxGapTolerance uint64, logger log.Logger) (ReplayResult, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	infos, err := segs.List()
	if err != nil {
		return ReplayResult{}, err
	}
	result := ReplayResult{Segments: infos}
	if len(infos) == 0 {
		return result, nil
	}

	startIdx, startOffset, ckptSeq, ckptApplied, err := findCheckpoint(infos, store, maxGapTolerance, logger)
	if err != nil {
		return result, err
	}
	result.CheckpointsApplied = ckptApplied

	lastSeq := ckptSeq
	var lastSegSize int64

	for i := startIdx; i < len(infos); i++ {
		offset := int64(0)
		if i == startIdx {
			offset = startOffset
		}
		prevSeq := lastSeq
		segSeq, validSize, corrupted, err := replaySegment(infos[i], store, offset, &lastSeq, logger)
		if err != nil {
			return result, err
		}
		result.CorruptedRecords += corrupted
		if i > startIdx && segSeq > 0 {
			if gap, gapErr := checkSequenceGap(prevSeq, segSeq, maxGapTolerance); gapErr != nil {
				return result, gapErr
			} else if gap {
				level.Warn(logger).Log("msg", "replay gap detected", "segment", infos[i].Path,
					"previous_sequence", prevSeq, "next_sequence", segSeq)
				return result, fmt.Errorf("%w: segment %s", ErrReplayGap, infos[i].Path)
			}
		}
		if i == len(infos)-1 {
			lastSegSize = validSize
		}
	}

	result.LastSequence = lastSeq
	result.ValidTailSize = lastSegSize
	return result, nil
}

// findCheckpoint scans segments in reverse order looking for the most
// recent CHECKPOINT record whose payload decodes cleanly, applies it to
// store, and returns the segment index/byte offset replay should resume
// forward-scanning from together with the checkpoint's own sequence number
// (0 when no checkpoint is found). If a checkpoint's payload is corrupt, the
// scan continues backward to the previous one (spec.md §9 Open Questions).
func findCheckpoint(infos []SegmentInfo, store *order.Store, maxGapTolerance uint64, logger log.Logger) (idx int, offset int64, ckptSeq uint64, applied int, err error) {
	for i := len(infos) - 1; i >= 0; i-- {
		r, openErr := OpenSegmentReader(infos[i])
		if openErr != nil {
			return 0, 0, 0, applied, openErr
		}

		var checkpointOffset int64 = -1
		var checkpointRec Record

		for {
			before := r.Offset()
			rec, decErr := r.ReadRecord()
			if decErr != nil {
				if errors.Is(decErr, ErrEndOfStream) {
					break
				}
				if errors.Is(decErr, ErrTruncated) {
					break // torn tail; not relevant to the backward checkpoint scan
				}
				// Corrupt record mid-segment: resynchronise by scanning
				// forward one byte at a time for the next plausible header.
				level.Warn(logger).Log("msg", "corrupt record during checkpoint scan", "segment", infos[i].Path, "offset", before, "err", decErr)
				next, resyncErr := resync(r, before)
				if resyncErr != nil {
					break
				}
				r.Seek(next)
				continue
			}
			if rec.Kind == KindCheckpoint {
				checkpointOffset = before
				checkpointRec = rec
			}
		}
		_ = r.Close()

		if checkpointOffset < 0 {
			continue // no checkpoint in this segment, keep scanning backward
		}

		// Re-apply: seed the store from this checkpoint's orders.
		for _, o := range checkpointRec.Checkpoint.Orders {
			store.Restore(o)
		}

		// Resume forward replay right after the checkpoint record itself.
		resumeReader, openErr := OpenSegmentReader(infos[i])
		if openErr != nil {
			return 0, 0, 0, applied + 1, openErr
		}
		resumeReader.Seek(checkpointOffset)
		if _, decErr := resumeReader.ReadRecord(); decErr != nil {
			_ = resumeReader.Close()
			return 0, 0, 0, applied + 1, fmt.Errorf("wal: re-reading located checkpoint: %w", decErr)
		}
		resumeOffset := resumeReader.Offset()
		_ = resumeReader.Close()

		return i, resumeOffset, checkpointRec.Sequence, applied + 1, nil
	}

	// No checkpoint found anywhere: replay every segment from the start.
	return 0, 0, 0, applied, nil
}

// resync scans forward byte-by-byte from badOffset looking for the next
// position where a record decodes cleanly, so one corrupt record does not
// halt replay of everything after it (spec.md §4.5/§8 "bit flip" scenario).
func resync(r *SegmentReader, badOffset int64) (int64, error) {
	for candidate := badOffset + 1; candidate+int64(headerSize) <= r.Size(); candidate++ {
		r.Seek(candidate)
		if _, err := r.ReadRecord(); err == nil {
			return candidate, nil // caller re-seeks here and decodes again
		}
	}
	return 0, ErrEndOfStream
}

// replaySegment decodes every record in info starting at byte offset
// startOffset, applying each to store in order, and returns the segment's
// first observed sequence number, the byte offset up to which decoding was
// clean (for torn-tail truncation if this is the last segment), and how
// many records were skipped for corruption.
func replaySegment(info SegmentInfo, store *order.Store, startOffset int64, lastSeq *uint64, logger log.Logger) (firstSeq uint64, validSize int64, corrupted int, err error) {
	r, openErr := OpenSegmentReader(info)
	if openErr != nil {
		return 0, 0, 0, openErr
	}
	defer r.Close()

	r.Seek(startOffset)
	validSize = startOffset
	seenFirst := false

	for {
		before := r.Offset()
		rec, decErr := r.ReadRecord()
		if decErr != nil {
			if errors.Is(decErr, ErrEndOfStream) {
				break
			}
			if errors.Is(decErr, ErrTruncated) {
				// torn tail: validSize already reflects the last good record
				corrupted++
				level.Warn(logger).Log("msg", "truncated record at segment tail", "segment", info.Path, "offset", before)
				break
			}
			corrupted++
			level.Warn(logger).Log("msg", "corrupt record, resynchronising", "segment", info.Path, "offset", before, "err", decErr)
			next, resyncErr := resync(r, before)
			if resyncErr != nil {
				break
			}
			r.Seek(next)
			continue
		}

		if !seenFirst {
			firstSeq = rec.Sequence
			seenFirst = true
		}
		applyRecord(store, rec)
		*lastSeq = rec.Sequence
		validSize = r.Offset()
	}

	return firstSeq, validSize, corrupted, nil
}

// applyRecord folds one decoded record into store, the same way the Writer
// applies it live (spec.md §4.3/§4.5): replay must reach identical state to
// the original live application.
func applyRecord(store *order.Store, rec Record) {
	switch rec.Kind {
	case KindNew:
		p := rec.New
		store.NoteOrderParams(order.NewOrderRequest{
			ClientOrderID: p.ClientOrderID,
			Symbol:        p.Symbol,
			Side:          order.Side(p.Side),
			Type:          order.Type(p.Type),
			TimeInForce:   order.TimeInForce(p.TimeInForce),
			OriginalQty:   p.OriginalQty,
			Price:         p.Price,
		}, rec.TimestampNS)
	case KindUpdate:
		p := rec.Update
		store.ApplyUpdate(p.ClientOrderID, p.ExchangeID, order.Status(p.Status), p.Reason, rec.TimestampNS)
	case KindFill:
		p := rec.Fill
		store.ApplyFill(p.ClientOrderID, p.Symbol, p.Qty, p.Price, rec.TimestampNS)
	case KindCheckpoint:
		for _, o := range rec.Checkpoint.Orders {
			store.Restore(o)
		}
	}
}

// checkSequenceGap reports whether the jump from lastSeq to nextSeq across
// a segment-file boundary exceeds maxGapTolerance. A gap of exactly
// maxGapTolerance is tolerated; anything larger raises ErrReplayGap in the
// caller.
func checkSequenceGap(lastSeq, nextSeq uint64, maxGapTolerance uint64) (bool, error) {
	if nextSeq <= lastSeq {
		return false, nil // duplicate or out-of-order restart; not a gap
	}
	missing := nextSeq - lastSeq - 1
	return missing > maxGapTolerance, nil
}
