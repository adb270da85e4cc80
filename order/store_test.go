package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_BasicRoundTrip(t *testing.T) {
	s := NewStore()
	s.NoteOrderParams(NewOrderRequest{
		ClientOrderID: "ORDER-001",
		Symbol:        "BTCUSDT",
		Side:          SideBuy,
		Type:          TypeLimit,
		OriginalQty:   1.0,
		Price:         50000.0,
	}, 0)

	got, ok := s.Get("ORDER-001")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.OriginalQty)
	assert.Equal(t, 50000.0, got.Price)
	assert.Equal(t, StatusPendingNew, got.Status)
	assert.Equal(t, 0.0, got.ExecutedQty)
}

func TestStore_Lifecycle(t *testing.T) {
	s := NewStore()
	s.NoteOrderParams(NewOrderRequest{
		ClientOrderID: "O-1",
		Symbol:        "BTCUSDT",
		Side:          SideBuy,
		Type:          TypeLimit,
		OriginalQty:   1.0,
		Price:         50000.0,
	}, 0)
	s.ApplyUpdate("O-1", "EX-1", StatusAcknowledged, "", 1000)
	s.ApplyFill("O-1", "BTCUSDT", 0.5, 50000.0, 2000)
	s.ApplyFill("O-1", "BTCUSDT", 0.3, 50010.0, 3000)
	s.ApplyFill("O-1", "BTCUSDT", 0.2, 50020.0, 4000)
	s.ApplyUpdate("O-1", "EX-1", StatusFilled, "", 5000)

	got, ok := s.Get("O-1")
	require.True(t, ok)
	assert.InDelta(t, 1.0, got.ExecutedQty, 1e-8)
	assert.InDelta(t, 50007.0, got.AvgPrice, 1e-8)
	assert.Equal(t, StatusFilled, got.Status)
	assert.False(t, got.Overfilled)
}

func TestStore_ApplyFillToUnknownIDCreatesSyntheticShell(t *testing.T) {
	s := NewStore()
	s.ApplyFill("GHOST", "ETHUSDT", 1.0, 2500.0, 100)

	got, ok := s.Get("GHOST")
	require.True(t, ok)
	assert.True(t, got.Synthetic)
	assert.InDelta(t, 1.0, got.ExecutedQty, 1e-8)
}

func TestStore_TerminalTransitionIsNoOp(t *testing.T) {
	s := NewStore()
	s.NoteOrderParams(NewOrderRequest{ClientOrderID: "O-2", OriginalQty: 1.0}, 0)
	s.ApplyUpdate("O-2", "", StatusAcknowledged, "", 1)
	s.ApplyUpdate("O-2", "", StatusCanceled, "", 2)

	// Replay can re-deliver the same cancel, or even try to push it
	// somewhere else entirely; both must be no-ops once terminal.
	s.ApplyUpdate("O-2", "", StatusCanceled, "", 3)
	s.ApplyUpdate("O-2", "", StatusAcknowledged, "", 4)

	got, ok := s.Get("O-2")
	require.True(t, ok)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.EqualValues(t, 2, got.LastUpdateNS)
}

func TestStore_OverfillIsAppliedAndFlagged(t *testing.T) {
	s := NewStore()
	s.NoteOrderParams(NewOrderRequest{ClientOrderID: "O-3", OriginalQty: 1.0}, 0)
	s.ApplyFill("O-3", "BTCUSDT", 1.5, 100.0, 1)

	got, ok := s.Get("O-3")
	require.True(t, ok)
	assert.True(t, got.Overfilled)
	assert.InDelta(t, 1.5, got.ExecutedQty, 1e-8)
	assert.Equal(t, StatusFilled, got.Status)
}

func TestStore_InvalidNewOrderRequest(t *testing.T) {
	bad := []NewOrderRequest{
		{ClientOrderID: "", OriginalQty: 1},
		{ClientOrderID: "x", OriginalQty: -1},
		{ClientOrderID: "x", Type: TypeLimit, OriginalQty: 1, Price: -5},
	}
	for _, r := range bad {
		assert.Error(t, r.Validate())
	}
}

func TestStore_SnapshotAndLenNeverPrune(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"A", "B", "C"} {
		s.NoteOrderParams(NewOrderRequest{ClientOrderID: id, OriginalQty: 1}, 0)
	}
	s.ApplyUpdate("A", "", StatusAcknowledged, "", 1)
	s.ApplyUpdate("A", "", StatusCanceled, "", 2) // terminal, but stays in the store

	assert.Equal(t, 3, s.Len())
	snap := s.Snapshot()
	assert.Len(t, snap, 3)
}

func TestStore_RestoreFromCheckpointPreservesExecutionState(t *testing.T) {
	s := NewStore()
	s.Restore(Order{
		ClientOrderID: "O-9",
		OriginalQty:   100,
		ExecutedQty:   40,
		AvgPrice:      10000,
		Status:        StatusPartiallyFilled,
	})

	got, ok := s.Get("O-9")
	require.True(t, ok)
	assert.InDelta(t, 40.0, got.ExecutedQty, 1e-8)
	assert.Equal(t, StatusPartiallyFilled, got.Status)
}
