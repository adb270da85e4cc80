package wal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentFilename_RoundTrip(t *testing.T) {
	name := segmentFilename("veloz", 0x1a)
	assert.Equal(t, "veloz_000000000000001a.wal", name)

	seq, ok := parseSegmentFilename("veloz", name)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1a), seq)
}

func TestParseSegmentFilename_RejectsOtherPrefixesAndJunk(t *testing.T) {
	_, ok := parseSegmentFilename("veloz", "other_000000000000001a.wal")
	assert.False(t, ok)

	_, ok = parseSegmentFilename("veloz", "veloz.lock")
	assert.False(t, ok)

	_, ok = parseSegmentFilename("veloz", "veloz_notahexnumber.wal")
	assert.False(t, ok)
}

func TestSegmentStore_CreateAppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSegmentStore(dir, "veloz")
	require.NoError(t, err)

	seg, err := store.CreateNew(1)
	require.NoError(t, err)

	rec := Record{Kind: KindFill, Sequence: 1, TimestampNS: 1, Fill: &FillPayload{ClientOrderID: "a", Symbol: "s", Qty: 1, Price: 2}}
	encoded, err := encode(rec)
	require.NoError(t, err)

	off, err := seg.Append(encoded)
	require.NoError(t, err)
	assert.Equal(t, int64(0), off)
	require.NoError(t, seg.Sync())
	require.NoError(t, seg.Close())

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, uint64(1), infos[0].FirstSeq)

	r, err := OpenSegmentReader(infos[0])
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Sequence)
	require.NotNil(t, got.Fill)
	assert.Equal(t, "a", got.Fill.ClientOrderID)

	_, err = r.ReadRecord()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestSegmentStore_ListOrdersByFirstSeq(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSegmentStore(dir, "veloz")
	require.NoError(t, err)

	for _, seq := range []uint64{5, 1, 10} {
		seg, err := store.CreateNew(seq)
		require.NoError(t, err)
		require.NoError(t, seg.Close())
	}

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, []uint64{1, 5, 10}, []uint64{infos[0].FirstSeq, infos[1].FirstSeq, infos[2].FirstSeq})
}

func TestSegmentStore_DeleteBeforeKeepsTailSegment(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSegmentStore(dir, "veloz")
	require.NoError(t, err)

	for _, seq := range []uint64{1, 100, 200} {
		seg, err := store.CreateNew(seq)
		require.NoError(t, err)
		require.NoError(t, seg.Close())
	}

	require.NoError(t, store.DeleteBefore(150))

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, uint64(100), infos[0].FirstSeq)
	assert.Equal(t, uint64(200), infos[1].FirstSeq)
}

func TestSegment_OpenExistingForAppendTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSegmentStore(dir, "veloz")
	require.NoError(t, err)

	seg, err := store.CreateNew(1)
	require.NoError(t, err)
	rec := Record{Kind: KindFill, Sequence: 1, TimestampNS: 1, Fill: &FillPayload{ClientOrderID: "a", Symbol: "s", Qty: 1, Price: 2}}
	encoded, err := encode(rec)
	require.NoError(t, err)
	_, err = seg.Append(encoded)
	require.NoError(t, err)
	// A partial second record: the torn tail a crash mid-write leaves behind.
	_, err = seg.Append(encoded[:headerSize/2])
	require.NoError(t, err)
	require.NoError(t, seg.Close())

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)

	reopened, err := store.OpenExistingForAppend(infos[0], int64(len(encoded)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(encoded)), reopened.Size())
	require.NoError(t, reopened.Close())

	fi, err := os.Stat(infos[0].Path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(encoded)), fi.Size())
}
