package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/Zzzode/veloz/order"
)

// CheckpointPayload is the KindCheckpoint payload: a full, self-contained
// snapshot of the Order Store at a sequence boundary (spec.md §3).
type CheckpointPayload struct {
	Orders []order.Order
}

// encodeCheckpointPayload serialises every order in cp as a count-prefixed
// sequence of length-prefixed records, then zstd-compresses the whole
// blob — the compressed bytes are what the record's payload checksum
// covers, same as any other kind (see SPEC_FULL.md §4.1).
func encodeCheckpointPayload(cp *CheckpointPayload) ([]byte, error) {
	var raw bytes.Buffer

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(cp.Orders)))
	raw.Write(countBuf[:])

	for _, o := range cp.Orders {
		rec := marshalCheckpointOrder(o)
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rec)))
		raw.Write(lenBuf[:])
		raw.Write(rec)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("wal: creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

// decodeCheckpointPayload reverses encodeCheckpointPayload.
func decodeCheckpointPayload(payload []byte) (*CheckpointPayload, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("wal: creating zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("wal: decompressing checkpoint payload: %w", err)
	}

	if len(raw) < 4 {
		return nil, fmt.Errorf("wal: truncated checkpoint payload")
	}
	count := binary.LittleEndian.Uint32(raw[0:4])
	raw = raw[4:]

	orders := make([]order.Order, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(raw) < 4 {
			return nil, fmt.Errorf("wal: truncated checkpoint entry %d", i)
		}
		n := binary.LittleEndian.Uint32(raw[0:4])
		raw = raw[4:]
		if uint32(len(raw)) < n {
			return nil, fmt.Errorf("wal: truncated checkpoint entry %d body", i)
		}
		o, err := unmarshalCheckpointOrder(raw[:n])
		if err != nil {
			return nil, fmt.Errorf("wal: checkpoint entry %d: %w", i, err)
		}
		orders = append(orders, o)
		raw = raw[n:]
	}
	return &CheckpointPayload{Orders: orders}, nil
}

// marshalCheckpointOrder encodes every §3 field of an order.Order as a
// length-prefixed record, flags included so a reload via order.Store.Restore
// reproduces the exact pre-checkpoint state (including Synthetic/Overfilled
// bookkeeping, not just the caller-visible fields).
func marshalCheckpointOrder(o order.Order) []byte {
	buf := make([]byte, 0, 96)
	buf = putString(buf, o.ClientOrderID)
	buf = putString(buf, o.ExchangeID)
	buf = putString(buf, o.Symbol)
	buf = append(buf, byte(o.Side), byte(o.Type), byte(o.TimeInForce), byte(o.Status))
	buf = putFloat64(buf, o.OriginalQty)
	buf = putFloat64(buf, o.ExecutedQty)
	buf = putFloat64(buf, o.AvgPrice)
	buf = putFloat64(buf, o.Price)
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(o.LastUpdateNS))
	buf = append(buf, tsBuf[:]...)
	flags := byte(0)
	if o.Overfilled {
		flags |= 1
	}
	if o.Synthetic {
		flags |= 2
	}
	buf = append(buf, flags)
	return buf
}

func unmarshalCheckpointOrder(buf []byte) (order.Order, error) {
	var o order.Order
	var err error
	if o.ClientOrderID, buf, err = takeString(buf); err != nil {
		return o, err
	}
	if o.ExchangeID, buf, err = takeString(buf); err != nil {
		return o, err
	}
	if o.Symbol, buf, err = takeString(buf); err != nil {
		return o, err
	}
	if len(buf) < 4 {
		return o, fmt.Errorf("wal: short checkpoint order enum fields")
	}
	o.Side, o.Type, o.TimeInForce, o.Status = order.Side(buf[0]), order.Type(buf[1]), order.TimeInForce(buf[2]), order.Status(buf[3])
	buf = buf[4:]
	if o.OriginalQty, buf, err = takeFloat64(buf); err != nil {
		return o, err
	}
	if o.ExecutedQty, buf, err = takeFloat64(buf); err != nil {
		return o, err
	}
	if o.AvgPrice, buf, err = takeFloat64(buf); err != nil {
		return o, err
	}
	if o.Price, buf, err = takeFloat64(buf); err != nil {
		return o, err
	}
	if len(buf) < 9 {
		return o, fmt.Errorf("wal: short checkpoint order trailer")
	}
	o.LastUpdateNS = int64(binary.LittleEndian.Uint64(buf[0:8]))
	flags := buf[8]
	o.Overfilled = flags&1 != 0
	o.Synthetic = flags&2 != 0
	return o, nil
}
