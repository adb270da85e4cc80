package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
)

// castagnoli is the CRC32C table spec.md §6 names explicitly for both the
// header and payload checksums.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// magic identifies a VeloZ WAL record header ("V Z W L", spec.md §6).
var magic = [4]byte{'V', 'Z', 'W', 'L'}

// currentVersion is the only payload schema this codec understands.
// Decoding fails a record stamped with any other version, per spec.md §4.1.
const currentVersion = 1

// headerSize is the fixed on-disk size of a record header (spec.md §6).
const headerSize = 32

// Kind discriminates the four record payload shapes (spec.md §3/§6).
type Kind uint8

const (
	// KindNew carries a full order submission payload.
	KindNew Kind = 1
	// KindUpdate carries a status change with optional exchange id/reason.
	KindUpdate Kind = 2
	// KindFill carries a single execution.
	KindFill Kind = 3
	// KindCheckpoint carries a full Order Store snapshot.
	KindCheckpoint Kind = 4
)

// String returns the wire name of a Kind.
func (k Kind) String() string {
	switch k {
	case KindNew:
		return "NEW"
	case KindUpdate:
		return "UPDATE"
	case KindFill:
		return "FILL"
	case KindCheckpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

// NewPayload is the KindNew payload: a full order submission.
type NewPayload struct {
	ClientOrderID string
	Symbol        string
	Side          uint8
	Type          uint8
	TimeInForce   uint8
	OriginalQty   float64
	Price         float64
}

// UpdatePayload is the KindUpdate payload: a status change.
type UpdatePayload struct {
	ClientOrderID string
	ExchangeID    string // empty if not bound by this event
	Status        uint8
	Reason        string
}

// FillPayload is the KindFill payload: a single execution.
type FillPayload struct {
	ClientOrderID string
	Symbol        string
	Qty           float64
	Price         float64
}

// Record is one decoded log record (spec.md §3/§6). Exactly one of
// New/Update/Fill/Checkpoint is populated, selected by Kind — a
// tagged union over plain value structs rather than an interface
// hierarchy, per spec.md §9.
type Record struct {
	Kind        Kind
	Sequence    uint64
	TimestampNS int64

	New        *NewPayload
	Update     *UpdatePayload
	Fill       *FillPayload
	Checkpoint *CheckpointPayload
}

// encode serialises r into a freshly-allocated byte slice: header, payload,
// payload checksum (spec.md §6).
func encode(r Record) ([]byte, error) {
	payload, err := encodePayload(r)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, headerSize+len(payload)+4)
	copy(buf[0:4], magic[:])
	buf[4] = currentVersion
	buf[5] = byte(r.Kind)
	// bytes [6:8) reserved, left zero
	binary.LittleEndian.PutUint64(buf[8:16], r.Sequence)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.TimestampNS))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(payload)))
	headerSum := crc32.Checksum(buf[0:28], castagnoli)
	binary.LittleEndian.PutUint32(buf[28:32], headerSum)

	copy(buf[headerSize:], payload)

	payloadSum := payloadChecksum(byte(r.Kind), r.Sequence, r.TimestampNS, payload)
	binary.LittleEndian.PutUint32(buf[headerSize+len(payload):], payloadSum)

	return buf, nil
}

// payloadChecksum computes the CRC32C over kind || sequence || timestamp ||
// payload, exactly as spec.md §6 defines it.
func payloadChecksum(kind byte, seq uint64, tsNS int64, payload []byte) uint32 {
	var hdr [17]byte
	hdr[0] = kind
	binary.LittleEndian.PutUint64(hdr[1:9], seq)
	binary.LittleEndian.PutUint64(hdr[9:17], uint64(tsNS))

	h := crc32.New(castagnoli)
	h.Write(hdr[:])
	h.Write(payload)
	return h.Sum32()
}

// decodeResult is returned by decode alongside the number of bytes
// consumed from buf (header + payload + payload checksum).
type decodeResult struct {
	record   Record
	consumed int
}

// decode parses one record from the head of buf, per the contract in
// spec.md §4.1:
//
//	fewer than headerSize bytes remain       -> ErrEndOfStream
//	magic/header checksum mismatch           -> ErrCorruptHeader
//	fewer than payload_length bytes remain   -> ErrTruncated
//	payload checksum mismatch                -> ErrCorruptPayload
func decode(buf []byte) (decodeResult, error) {
	if len(buf) < headerSize {
		return decodeResult{}, ErrEndOfStream
	}

	if [4]byte(buf[0:4]) != magic {
		return decodeResult{}, ErrCorruptHeader
	}
	version := buf[4]
	kind := Kind(buf[5])
	seq := binary.LittleEndian.Uint64(buf[8:16])
	tsNS := int64(binary.LittleEndian.Uint64(buf[16:24]))
	payloadLen := binary.LittleEndian.Uint32(buf[24:28])
	wantHeaderSum := binary.LittleEndian.Uint32(buf[28:32])

	gotHeaderSum := crc32.Checksum(buf[0:28], castagnoli)
	if gotHeaderSum != wantHeaderSum {
		return decodeResult{}, ErrCorruptHeader
	}
	if version != currentVersion {
		return decodeResult{}, fmt.Errorf("%w: version %d", ErrCorruptHeader, version)
	}

	total := headerSize + int(payloadLen) + 4
	if len(buf) < total {
		return decodeResult{}, ErrTruncated
	}
	payload := buf[headerSize : headerSize+int(payloadLen)]
	wantPayloadSum := binary.LittleEndian.Uint32(buf[headerSize+int(payloadLen):])
	gotPayloadSum := payloadChecksum(byte(kind), seq, tsNS, payload)
	if gotPayloadSum != wantPayloadSum {
		return decodeResult{}, ErrCorruptPayload
	}

	r := Record{Kind: kind, Sequence: seq, TimestampNS: tsNS}
	if err := decodePayload(&r, payload); err != nil {
		return decodeResult{}, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}

	return decodeResult{record: r, consumed: total}, nil
}

// ─── length-prefixed primitive helpers ──────────────────────────────────────

// putString appends a string prefixed by its length as a little-endian
// uint16. The entity-level bounds of 64/32/256 bytes fit that prefix; they
// are checked by NewOrderRequest.Validate and LogOrderUpdate, not here, and a
// string longer than 65535 bytes cannot be represented.
func putString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// takeString reads a uint16-length-prefixed string from the head of buf and
// returns the string plus the remaining bytes.
func takeString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("wal: short buffer reading string length")
	}
	n := int(binary.LittleEndian.Uint16(buf[:2]))
	buf = buf[2:]
	if len(buf) < n {
		return "", nil, fmt.Errorf("wal: short buffer reading string body")
	}
	return string(buf[:n]), buf[n:], nil
}

func putFloat64(buf []byte, v float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

func takeFloat64(buf []byte) (float64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("wal: short buffer reading float64")
	}
	bits := binary.LittleEndian.Uint64(buf[:8])
	return math.Float64frombits(bits), buf[8:], nil
}

func encodePayload(r Record) ([]byte, error) {
	switch r.Kind {
	case KindNew:
		p := r.New
		buf := make([]byte, 0, 2+len(p.ClientOrderID)+len(p.Symbol)+3+16)
		buf = putString(buf, p.ClientOrderID)
		buf = putString(buf, p.Symbol)
		buf = append(buf, p.Side, p.Type, p.TimeInForce)
		buf = putFloat64(buf, p.OriginalQty)
		buf = putFloat64(buf, p.Price)
		return buf, nil
	case KindUpdate:
		p := r.Update
		buf := make([]byte, 0, 3+len(p.ClientOrderID)+len(p.ExchangeID)+len(p.Reason)+1)
		buf = putString(buf, p.ClientOrderID)
		buf = putString(buf, p.ExchangeID)
		buf = append(buf, p.Status)
		buf = putString(buf, p.Reason)
		return buf, nil
	case KindFill:
		p := r.Fill
		buf := make([]byte, 0, 2+len(p.ClientOrderID)+len(p.Symbol)+16)
		buf = putString(buf, p.ClientOrderID)
		buf = putString(buf, p.Symbol)
		buf = putFloat64(buf, p.Qty)
		buf = putFloat64(buf, p.Price)
		return buf, nil
	case KindCheckpoint:
		return encodeCheckpointPayload(r.Checkpoint)
	default:
		return nil, fmt.Errorf("wal: unknown record kind %d", r.Kind)
	}
}

func decodePayload(r *Record, payload []byte) error {
	var err error
	switch r.Kind {
	case KindNew:
		p := &NewPayload{}
		if p.ClientOrderID, payload, err = takeString(payload); err != nil {
			return err
		}
		if p.Symbol, payload, err = takeString(payload); err != nil {
			return err
		}
		if len(payload) < 3 {
			return fmt.Errorf("wal: short NEW payload")
		}
		p.Side, p.Type, p.TimeInForce = payload[0], payload[1], payload[2]
		payload = payload[3:]
		if p.OriginalQty, payload, err = takeFloat64(payload); err != nil {
			return err
		}
		if p.Price, _, err = takeFloat64(payload); err != nil {
			return err
		}
		r.New = p
	case KindUpdate:
		p := &UpdatePayload{}
		if p.ClientOrderID, payload, err = takeString(payload); err != nil {
			return err
		}
		if p.ExchangeID, payload, err = takeString(payload); err != nil {
			return err
		}
		if len(payload) < 1 {
			return fmt.Errorf("wal: short UPDATE payload")
		}
		p.Status = payload[0]
		payload = payload[1:]
		if p.Reason, _, err = takeString(payload); err != nil {
			return err
		}
		r.Update = p
	case KindFill:
		p := &FillPayload{}
		if p.ClientOrderID, payload, err = takeString(payload); err != nil {
			return err
		}
		if p.Symbol, payload, err = takeString(payload); err != nil {
			return err
		}
		if p.Qty, payload, err = takeFloat64(payload); err != nil {
			return err
		}
		if p.Price, _, err = takeFloat64(payload); err != nil {
			return err
		}
		r.Fill = p
	case KindCheckpoint:
		cp, err := decodeCheckpointPayload(payload)
		if err != nil {
			return err
		}
		r.Checkpoint = cp
	default:
		return fmt.Errorf("wal: unknown record kind %d", r.Kind)
	}
	return nil
}
