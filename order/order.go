package order

import (
	"fmt"
	"math"
)

// Fill is a single execution recorded against an order. It is not stored
// independently; Order accumulates the running totals Fill implies
// (ExecutedQty, AvgPrice) as fills are applied.
type Fill struct {
	// Symbol is the traded instrument.
	Symbol string
	// Qty is the executed quantity of this fill.
	Qty float64
	// Price is the execution price of this fill.
	Price float64
	// TimestampNS is the event time in Unix nanoseconds.
	TimestampNS int64
}

// NewOrderRequest is the payload of a log_order_new call: the caller-facing
// submission of a new order, before an exchange id is known.
type NewOrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          Type
	TimeInForce   TimeInForce
	OriginalQty   float64
	// Price is meaningful only for TypeLimit orders.
	Price float64
}

// Validate checks the bounded-length and numeric-sanity constraints spec.md
// §6/§7 assign to INVALID_ARGUMENT.
func (r NewOrderRequest) Validate() error {
	if r.ClientOrderID == "" {
		return fmt.Errorf("%w: client_order_id must not be empty", ErrInvalidArgument)
	}
	if len(r.ClientOrderID) > MaxClientOrderIDLen {
		return lengthError("client_order_id", len(r.ClientOrderID), MaxClientOrderIDLen)
	}
	if len(r.Symbol) > MaxSymbolLen {
		return lengthError("symbol", len(r.Symbol), MaxSymbolLen)
	}
	if r.OriginalQty < 0 || math.IsNaN(r.OriginalQty) || math.IsInf(r.OriginalQty, 0) {
		return fmt.Errorf("%w: quantity %v is not a finite non-negative value", ErrInvalidArgument, r.OriginalQty)
	}
	if r.Type == TypeLimit && (math.IsNaN(r.Price) || math.IsInf(r.Price, 0) || r.Price < 0) {
		return fmt.Errorf("%w: limit price %v is not a finite non-negative value", ErrInvalidArgument, r.Price)
	}
	return nil
}

// Order is the durable state of one client order (spec.md §3).
type Order struct {
	ClientOrderID string
	ExchangeID    string // optional; bound after acknowledgement
	Symbol        string
	Side          Side
	Type          Type
	TimeInForce   TimeInForce

	OriginalQty float64
	ExecutedQty float64
	AvgPrice    float64
	Price       float64 // limit price; zero for market orders

	Status Status

	// LastUpdateNS is the last-update timestamp in Unix nanoseconds.
	LastUpdateNS int64

	// fillValue is Σ(fill_i.price × fill_i.qty), kept so AvgPrice can be
	// recomputed in O(1) as fills accumulate.
	fillValue float64

	// Overfilled is set when cumulative fill quantity exceeded OriginalQty
	// by more than quantityTolerance. Fills are ground truth (spec.md §9
	// Open Questions): the excess is recorded and surfaced, never rejected
	// or clamped.
	Overfilled bool

	// Synthetic marks a shell record created by applying a fill (or update)
	// against an id the store has never seen NEW for — tolerated during
	// out-of-order replay per spec.md §4.3.
	Synthetic bool
}

// newFromRequest builds the initial Order record for a NEW event.
func newFromRequest(r NewOrderRequest, tsNS int64) *Order {
	return &Order{
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Type:          r.Type,
		TimeInForce:   r.TimeInForce,
		OriginalQty:   r.OriginalQty,
		Price:         r.Price,
		Status:        StatusPendingNew,
		LastUpdateNS:  tsNS,
	}
}

// applyFill folds a single execution into the order, recomputing
// ExecutedQty and the quantity-weighted AvgPrice, and advances Status to
// partially-filled or filled depending on progress against OriginalQty.
func (o *Order) applyFill(qty, price float64, tsNS int64) {
	o.fillValue += price * qty
	o.ExecutedQty += qty
	if o.ExecutedQty > 0 {
		o.AvgPrice = o.fillValue / o.ExecutedQty
	}
	if o.ExecutedQty > o.OriginalQty+quantityTolerance {
		o.Overfilled = true
	}

	next := StatusPartiallyFilled
	if o.ExecutedQty >= o.OriginalQty-quantityTolerance {
		next = StatusFilled
	}
	// A fill never regresses status (duplicate/out-of-order replay across a
	// checkpoint boundary can re-apply a fill whose bump already landed);
	// it also never reopens a terminal order — spec.md §4.3 requires both
	// to be no-ops rather than errors.
	if !o.Status.IsTerminal() && statusRank(next) > statusRank(o.Status) {
		o.Status = next
	}
	o.LastUpdateNS = tsNS
}

// statusRank orders the non-terminal progression so duplicate/out-of-order
// fill replay never regresses status.
func statusRank(s Status) int {
	switch s {
	case StatusPendingNew:
		return 0
	case StatusAcknowledged:
		return 1
	case StatusPartiallyFilled:
		return 2
	case StatusFilled, StatusCanceled, StatusRejected:
		return 3
	default:
		return -1
	}
}

// applyUpdate mutates status and (optionally) binds the exchange id. Once
// the order is in a terminal state, status and LastUpdateNS no longer change
// (a non-empty exchangeID is still bound), per spec.md §4.3: replay can
// encounter duplicated semantic events across checkpoints.
func (o *Order) applyUpdate(exchangeID string, next Status, tsNS int64) {
	if exchangeID != "" {
		o.ExchangeID = exchangeID
	}
	if o.Status.IsTerminal() {
		return
	}
	if o.Status.CanTransitionTo(next) || o.Status == next {
		o.Status = next
	}
	o.LastUpdateNS = tsNS
}

// Clone returns a value copy of o suitable for a point-in-time snapshot
// read (Store.Get/Snapshot never hand out the live pointer).
func (o *Order) Clone() Order {
	return *o
}

// String renders a compact human-readable summary, in the teacher's
// Sprintf-struct-dump style.
func (o *Order) String() string {
	return fmt.Sprintf(
		"Order(ID=%s, Exch=%s, Symbol=%s, Side=%s, Type=%s, Price=%g, "+
			"Qty=%g, Executed=%g, Avg=%g, Status=%s)",
		o.ClientOrderID, o.ExchangeID, o.Symbol, o.Side, o.Type, o.Price,
		o.OriginalQty, o.ExecutedQty, o.AvgPrice, o.Status,
	)
}
