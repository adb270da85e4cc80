package wal

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Zzzode/veloz/order"
)

// WriterState is the Writer's state machine (spec.md §3): Healthy is the
// normal operating state; Degraded follows a failed Sync and recovers back
// to Healthy on the next successful one; Sealed follows a failed Append and
// is terminal — a Sealed Writer accepts no further writes.
type WriterState int

const (
	WriterHealthy WriterState = iota
	WriterDegraded
	WriterSealed
)

// String returns the writer state's name.
func (s WriterState) String() string {
	switch s {
	case WriterHealthy:
		return "healthy"
	case WriterDegraded:
		return "degraded"
	case WriterSealed:
		return "sealed"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of Writer counters (spec.md §7).
type Stats struct {
	State              WriterState
	CurrentSequence    uint64
	RecordsWritten     uint64
	BytesWritten       int64
	SegmentRotations   uint64
	Checkpoints        uint64
	RecordsSinceCkpt   uint64
	SyncLatencyP50NS   int64
	SyncLatencyP99NS   int64
	LastSyncErr        error
}

// Writer is the WAL Writer (spec.md §3/§4.2/§4.4): the single serialising
// append path for every order-state event, driving the Segment Store,
// rotation, and checkpoint scheduling.
//
// A Writer is safe for concurrent use: one mutex orders every log_* call the
// same way the teacher's persistence.Manager orders journal writes ahead of
// engine calls.
type Writer struct {
	mu sync.Mutex

	cfg     Config
	store   *order.Store
	segs    *SegmentStore
	lock    *DirLock
	active  *Segment
	metrics *writerMetrics
	logger  log.Logger

	state           WriterState
	seq             uint64
	recordsSinceCkp uint64
	lastCheckpoint  time.Time
	segmentOpenedAt time.Time
	lastSyncErr     error

	recordsWritten   uint64
	bytesWritten     int64
	segmentRotations uint64
	checkpoints      uint64
}

// Open acquires the directory lock, recovers any existing segments by
// replaying them into store, and returns a Writer ready to append new
// records starting right after the recovered sequence (spec.md §4.5).
func Open(cfg Config, store *order.Store, logger log.Logger, reg prometheus.Registerer) (*Writer, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	lk, err := AcquireLock(cfg.Dir, cfg.FilePrefix, cfg.LockStaleAge)
	if err != nil {
		return nil, err
	}

	segs, err := OpenSegmentStore(cfg.Dir, cfg.FilePrefix)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}

	replayLogger := log.With(logger, "component", "wal_replay")
	result, err := Replay(segs, store, cfg.ReplayMaxGapTolerance, replayLogger)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}

	w := &Writer{
		cfg:             cfg,
		store:           store,
		segs:            segs,
		lock:            lk,
		metrics:         newWriterMetrics(reg),
		logger:          log.With(logger, "component", "wal_writer"),
		state:           WriterHealthy,
		seq:             result.LastSequence,
		lastCheckpoint:  time.Now(),
		segmentOpenedAt: time.Now(),
	}

	active, err := w.openActiveSegment(result)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}
	w.active = active
	w.metrics.setState(w.state)

	level.Info(w.logger).Log("msg", "wal opened", "sequence", w.seq, "segments", len(result.Segments))
	return w, nil
}

// openActiveSegment either continues the existing tail segment (truncating
// any torn bytes the Replay Engine found) or, if no segment exists yet,
// creates the first one at sequence 1.
func (w *Writer) openActiveSegment(result ReplayResult) (*Segment, error) {
	if len(result.Segments) == 0 {
		return w.segs.CreateNew(1)
	}
	tail := result.Segments[len(result.Segments)-1]
	return w.segs.OpenExistingForAppend(tail, result.ValidTailSize)
}

// CurrentSequence returns the sequence number of the most recently written
// record (0 if none have been written yet).
func (w *Writer) CurrentSequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Stats returns a point-in-time snapshot of the Writer's counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		State:            w.state,
		CurrentSequence:  w.seq,
		RecordsWritten:   w.recordsWritten,
		BytesWritten:     w.bytesWritten,
		SegmentRotations: w.segmentRotations,
		Checkpoints:      w.checkpoints,
		RecordsSinceCkpt: w.recordsSinceCkp,
		SyncLatencyP50NS: w.metrics.syncLatency.ValueAtQuantile(50),
		SyncLatencyP99NS: w.metrics.syncLatency.ValueAtQuantile(99),
		LastSyncErr:      w.lastSyncErr,
	}
}

// LogOrderNew appends a KindNew record describing req, applies it to the
// Order Store, and returns the assigned sequence number (spec.md §4.3/§5).
func (w *Writer) LogOrderNew(req order.NewOrderRequest, tsNS int64) (uint64, error) {
	if err := req.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	rec := Record{
		Kind:        KindNew,
		TimestampNS: tsNS,
		New: &NewPayload{
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          byte(req.Side),
			Type:          byte(req.Type),
			TimeInForce:   byte(req.TimeInForce),
			OriginalQty:   req.OriginalQty,
			Price:         req.Price,
		},
	}
	return w.append(rec, func() {
		w.store.NoteOrderParams(req, tsNS)
	})
}

// LogOrderUpdate appends a KindUpdate record and applies it to the Order
// Store.
func (w *Writer) LogOrderUpdate(clientOrderID, exchangeID string, status order.Status, reason string, tsNS int64) (uint64, error) {
	if len(reason) > order.MaxReasonLen {
		return 0, fmt.Errorf("%w: reason exceeds %d bytes", ErrInvalidArgument, order.MaxReasonLen)
	}
	rec := Record{
		Kind:        KindUpdate,
		TimestampNS: tsNS,
		Update: &UpdatePayload{
			ClientOrderID: clientOrderID,
			ExchangeID:    exchangeID,
			Status:        byte(status),
			Reason:        reason,
		},
	}
	return w.append(rec, func() {
		w.store.ApplyUpdate(clientOrderID, exchangeID, status, reason, tsNS)
	})
}

// LogOrderFill appends a KindFill record and applies it to the Order Store.
func (w *Writer) LogOrderFill(clientOrderID, symbol string, qty, price float64, tsNS int64) (uint64, error) {
	rec := Record{
		Kind:        KindFill,
		TimestampNS: tsNS,
		Fill: &FillPayload{
			ClientOrderID: clientOrderID,
			Symbol:        symbol,
			Qty:           qty,
			Price:         price,
		},
	}
	return w.append(rec, func() {
		w.store.ApplyFill(clientOrderID, symbol, qty, price, tsNS)
	})
}

// WriteCheckpoint appends a KindCheckpoint record capturing the Order
// Store's current state (spec.md §3/§4.4). It is safe to call manually in
// addition to the automatic CheckpointRecords/CheckpointInterval triggers.
func (w *Writer) WriteCheckpoint(tsNS int64) (uint64, error) {
	snap := w.store.Snapshot()
	rec := Record{
		Kind:        KindCheckpoint,
		TimestampNS: tsNS,
		Checkpoint:  &CheckpointPayload{Orders: snap},
	}
	seq, err := w.append(rec, func() {
		w.recordsSinceCkp = 0
		w.lastCheckpoint = time.Now()
		w.checkpoints++
	})
	if err != nil {
		return 0, err
	}
	w.metrics.checkpoints.Inc()

	if err := w.Sync(); err != nil {
		return seq, err
	}
	if err := w.segs.DeleteBefore(firstSequenceCovered(seq)); err != nil {
		level.Warn(w.logger).Log("msg", "segment retirement failed", "err", err)
	}
	return seq, nil
}

// firstSequenceCovered is the oldest sequence a checkpoint at seq makes
// replayable without any earlier segment: the checkpoint record itself.
// Segments whose entire sequence range is below it may be retired.
func firstSequenceCovered(checkpointSeq uint64) uint64 { return checkpointSeq }

// append assigns the next sequence number, encodes rec, writes it to the
// active segment, maybe rotates, maybe syncs, applies applyFn to the Order
// Store, and maybe auto-checkpoints — all while w.mu is held. It is the
// single serialisation point every LogOrder*/WriteCheckpoint call funnels
// through, and the single mutex held across the critical section spec.md
// §4.4 names: assign sequence, encode, append, optionally sync, apply to
// Order Store. applyFn may be nil (WriteCheckpoint's own bookkeeping is
// itself a no-op apply beyond the counters it updates directly).
func (w *Writer) append(rec Record, applyFn func()) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == WriterSealed {
		return 0, ErrSealed
	}

	rec.Sequence = w.seq + 1
	encoded, err := encode(rec)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if err := w.maybeRotateLocked(int64(len(encoded))); err != nil {
		w.seal(err)
		return 0, err
	}

	if _, err := w.active.Append(encoded); err != nil {
		w.seal(err)
		return 0, err
	}

	w.seq = rec.Sequence
	w.recordsSinceCkp++
	w.recordsWritten++
	w.bytesWritten += int64(len(encoded))
	w.metrics.recordsWritten.WithLabelValues(rec.Kind.String()).Inc()
	w.metrics.bytesWritten.Add(float64(len(encoded)))

	var syncErr error
	if w.cfg.SyncOnWrite {
		syncErr = w.syncLocked()
	}

	// The record is already appended, so it is applied even when the sync
	// failed: the Store keeps matching what replay would rebuild.
	if applyFn != nil {
		applyFn()
	}
	if syncErr != nil {
		return rec.Sequence, syncErr
	}

	if w.shouldAutoCheckpointLocked() {
		w.mu.Unlock()
		_, ckErr := w.WriteCheckpoint(rec.TimestampNS)
		w.mu.Lock()
		if ckErr != nil {
			level.Warn(w.logger).Log("msg", "auto checkpoint failed", "err", ckErr)
		}
	}

	return rec.Sequence, nil
}

// maybeRotateLocked rotates to a fresh segment if appending nextLen bytes
// would exceed SegmentMaxBytes, or SegmentMaxRecords has been reached.
// Rotation is transactional (spec.md §3): the old segment is synced and
// closed before the new segment accepts its first record.
func (w *Writer) maybeRotateLocked(nextLen int64) error {
	overSize := w.cfg.SegmentMaxBytes > 0 && w.active.Size()+nextLen > w.cfg.SegmentMaxBytes
	overRecords := w.cfg.SegmentMaxRecords > 0 && w.active.RecordCount() >= w.cfg.SegmentMaxRecords
	if !overSize && !overRecords {
		return nil
	}

	if err := w.active.Sync(); err != nil {
		return fmt.Errorf("%w: syncing segment before rotation: %v", ErrIO, err)
	}
	if err := w.active.Close(); err != nil {
		return fmt.Errorf("%w: closing segment before rotation: %v", ErrIO, err)
	}

	next, err := w.segs.CreateNew(w.seq + 1)
	if err != nil {
		return fmt.Errorf("%w: creating next segment: %v", ErrIO, err)
	}
	w.active = next
	w.segmentOpenedAt = time.Now()
	w.segmentRotations++
	w.metrics.segmentRotations.Inc()
	level.Info(w.logger).Log("msg", "segment rotated", "first_sequence", w.seq+1)
	return nil
}

func (w *Writer) shouldAutoCheckpointLocked() bool {
	if w.cfg.CheckpointRecords > 0 && w.recordsSinceCkp >= w.cfg.CheckpointRecords {
		return true
	}
	if w.cfg.CheckpointInterval > 0 && time.Since(w.lastCheckpoint) >= w.cfg.CheckpointInterval {
		return true
	}
	return false
}

// Sync forces the active segment's buffered writes to stable storage.
// A failure transitions the Writer to Degraded (not Sealed): the process
// is still making forward progress in memory, but durability has lapsed
// until the next successful Sync (spec.md §3).
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if w.state == WriterSealed {
		return ErrSealed
	}
	start := time.Now()
	err := w.active.Sync()
	w.metrics.observeSync(time.Since(start), err)
	w.lastSyncErr = err
	if err != nil {
		if w.state != WriterDegraded {
			w.state = WriterDegraded
			w.metrics.setState(w.state)
			level.Error(w.logger).Log("msg", "sync failed, writer degraded", "err", err)
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if w.state == WriterDegraded {
		w.state = WriterHealthy
		w.metrics.setState(w.state)
		level.Info(w.logger).Log("msg", "sync recovered, writer healthy")
	}
	return nil
}

// seal transitions the Writer to the terminal Sealed state following an
// unrecoverable append/rotation failure. Once sealed, every subsequent
// call returns ErrSealed (spec.md §3).
func (w *Writer) seal(cause error) {
	if w.state == WriterSealed {
		return
	}
	w.state = WriterSealed
	w.metrics.setState(w.state)
	level.Error(w.logger).Log("msg", "writer sealed", "err", cause)
}

// Close syncs and closes the active segment and releases the directory
// lock. It does not seal the Writer; a sealed Writer that is later reopened
// via Open recovers via the normal replay path.
func (w *Writer) Close() error {
	w.mu.Lock()
	var syncErr error
	if w.state != WriterSealed {
		syncErr = w.active.Sync()
	}
	closeErr := w.active.Close()
	w.mu.Unlock()

	lockErr := w.lock.Release()
	switch {
	case syncErr != nil:
		return fmt.Errorf("%w: %v", ErrIO, syncErr)
	case closeErr != nil:
		return fmt.Errorf("%w: %v", ErrIO, closeErr)
	default:
		return lockErr
	}
}
