package order

import "sync"

// Store is the in-memory Order Store (spec.md §4.3): a mapping from client
// order id to live order state, guarded by a reader/writer lock so that
// monitoring/UI readers (shared access) never observe a half-applied
// transition while the WAL writer (exclusive access, held only for the
// application step) mutates it.
type Store struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

// NewStore returns an empty Order Store.
func NewStore() *Store {
	return &Store{orders: make(map[string]*Order)}
}

// NoteOrderParams creates or overwrites the initial record for req's
// ClientOrderID. tsNS is the event timestamp (nanoseconds).
//
// Overwriting an existing id is intentional: a later NEW for an id replaces
// the earlier record, so the most recent description always wins.
// (Checkpoints load through Restore, not through this method.)
func (s *Store) NoteOrderParams(req NewOrderRequest, tsNS int64) {
	o := newFromRequest(req, tsNS)
	s.mu.Lock()
	s.orders[req.ClientOrderID] = o
	s.mu.Unlock()
}

// ApplyUpdate mutates the status of id and optionally binds an exchange id.
// Applying an update to an unknown id creates a synthetic shell record
// (Synthetic=true) so the transition is not silently dropped; an update to a
// record already in a terminal state leaves its status and timestamp
// unchanged (spec.md §4.3).
func (s *Store) ApplyUpdate(id string, exchangeID string, status Status, reason string, tsNS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		o = &Order{ClientOrderID: id, Status: StatusPendingNew, Synthetic: true}
		s.orders[id] = o
	}
	o.applyUpdate(exchangeID, status, tsNS)
	_ = reason // reason is carried for audit by the WAL record, not stored in memory
}

// ApplyFill adds a fill to id, recomputing ExecutedQty and AvgPrice, and
// advances Status toward partially-filled/filled. Applying a fill to an
// unknown id is tolerated (spec.md §4.3): a synthetic shell record is
// created so fill information survives out-of-order replay.
func (s *Store) ApplyFill(id string, symbol string, qty, price float64, tsNS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		o = &Order{ClientOrderID: id, Symbol: symbol, Status: StatusPendingNew, Synthetic: true}
		s.orders[id] = o
	}
	if o.Symbol == "" {
		o.Symbol = symbol
	}
	o.applyFill(qty, price, tsNS)
}

// Get returns a point-in-time copy of the order for id, or false if absent.
func (s *Store) Get(id string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.Clone(), true
}

// Snapshot returns a point-in-time copy of every order in the store. The
// order of the returned slice is unspecified.
func (s *Store) Snapshot() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	return out
}

// Len returns the number of orders currently tracked (active or terminal;
// the store never prunes — spec.md §9 Open Questions).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Restore seeds the store directly from a decoded record, preserving
// whatever execution state the record carries. Used by package wal's
// Replay Engine to load a CHECKPOINT snapshot without going through the
// incremental NoteOrderParams/ApplyFill path, which would recompute
// ExecutedQty/AvgPrice from scratch.
func (s *Store) Restore(o Order) {
	cp := o
	// fillValue is not part of the wire-visible Order; rebuild it from
	// AvgPrice*ExecutedQty so a later ApplyFill's incremental recompute
	// stays consistent with the restored state.
	cp.fillValue = cp.AvgPrice * cp.ExecutedQty
	s.mu.Lock()
	s.orders[cp.ClientOrderID] = &cp
	s.mu.Unlock()
}
