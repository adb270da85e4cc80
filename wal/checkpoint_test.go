package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zzzode/veloz/order"
)

func TestCheckpointPayload_RoundTrip(t *testing.T) {
	cp := &CheckpointPayload{
		Orders: []order.Order{
			{
				ClientOrderID: "c1", ExchangeID: "e1", Symbol: "BTC-USD",
				Side: order.SideBuy, Type: order.TypeLimit, TimeInForce: order.TimeInForceGTC,
				OriginalQty: 10, ExecutedQty: 4, AvgPrice: 50010, Price: 50000,
				Status: order.StatusPartiallyFilled, LastUpdateNS: 123, Overfilled: false, Synthetic: false,
			},
			{
				ClientOrderID: "c2", Symbol: "ETH-USD",
				Side: order.SideSell, Type: order.TypeMarket, TimeInForce: order.TimeInForceIOC,
				OriginalQty: 2, ExecutedQty: 3, AvgPrice: 3000, Price: 0,
				Status: order.StatusFilled, LastUpdateNS: 456, Overfilled: true, Synthetic: true,
			},
		},
	}

	payload, err := encodeCheckpointPayload(cp)
	require.NoError(t, err)

	got, err := decodeCheckpointPayload(payload)
	require.NoError(t, err)
	require.Len(t, got.Orders, 2)
	assert.Equal(t, cp.Orders[0], got.Orders[0])
	assert.Equal(t, cp.Orders[1], got.Orders[1])
}

func TestCheckpointPayload_EmptySnapshot(t *testing.T) {
	payload, err := encodeCheckpointPayload(&CheckpointPayload{})
	require.NoError(t, err)

	got, err := decodeCheckpointPayload(payload)
	require.NoError(t, err)
	assert.Empty(t, got.Orders)
}

func TestCheckpointPayload_AsRecord(t *testing.T) {
	rec := Record{
		Kind: KindCheckpoint, Sequence: 100, TimestampNS: 1,
		Checkpoint: &CheckpointPayload{Orders: []order.Order{{ClientOrderID: "c1", OriginalQty: 1}}},
	}
	buf, err := encode(rec)
	require.NoError(t, err)

	res, err := decode(buf)
	require.NoError(t, err)
	require.NotNil(t, res.record.Checkpoint)
	require.Len(t, res.record.Checkpoint.Orders, 1)
	assert.Equal(t, "c1", res.record.Checkpoint.Orders[0].ClientOrderID)
}
