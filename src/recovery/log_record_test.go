package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

func roundTrip(t *testing.T, rec *LogRecord) *LogRecord {
	t.Helper()

	rec.LSN = 7
	buf := make([]byte, rec.Size)
	rec.SerializeTo(buf)

	var out LogRecord
	require.True(t, out.DeserializeFrom(buf))
	return &out
}

func TestInsertRecordWireFormat(t *testing.T) {
	rid := common.RID{PageID: 3, SlotNum: 2}
	rec := NewTupleRecord(TypeInsert, 5, common.InvalidLSN, rid, []byte("tuple-T"))

	out := roundTrip(t, rec)
	assert.Equal(t, TypeInsert, out.Type)
	assert.Equal(t, common.LSN(7), out.LSN)
	assert.Equal(t, common.TxnID(5), out.TxnID)
	assert.Equal(t, common.InvalidLSN, out.PrevLSN)
	assert.Equal(t, rid, out.RID)
	assert.Equal(t, []byte("tuple-T"), out.Tuple)
	assert.Equal(t, int32(HeaderSize+8+4+7), out.Size)
}

func TestUpdateRecordCarriesBothImages(t *testing.T) {
	rid := common.RID{PageID: 1, SlotNum: 9}
	rec := NewUpdateRecord(2, 4, rid, []byte("before"), []byte("afterwards"))

	out := roundTrip(t, rec)
	assert.Equal(t, TypeUpdate, out.Type)
	assert.Equal(t, []byte("before"), out.OldTuple)
	assert.Equal(t, []byte("afterwards"), out.NewTuple)
	assert.Equal(t, common.LSN(4), out.PrevLSN)
}

func TestControlRecordsHaveNoPayload(t *testing.T) {
	begin := roundTrip(t, NewBeginRecord(11))
	assert.Equal(t, TypeBegin, begin.Type)
	assert.Equal(t, int32(HeaderSize), begin.Size)

	commit := roundTrip(t, NewCommitRecord(11, 3))
	assert.Equal(t, TypeCommit, commit.Type)

	abort := roundTrip(t, NewAbortRecord(11, 3))
	assert.Equal(t, TypeAbort, abort.Type)
}

func TestNewPageRecord(t *testing.T) {
	rec := NewNewPageRecord(1, 2, 6, common.RID{PageID: 7})

	out := roundTrip(t, rec)
	assert.Equal(t, TypeNewPage, out.Type)
	assert.Equal(t, common.PageID(6), out.PrevPageID)
	assert.Equal(t, common.PageID(7), out.RID.PageID)
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	var rec LogRecord

	assert.False(t, rec.DeserializeFrom(nil))
	assert.False(t, rec.DeserializeFrom(make([]byte, HeaderSize-1)))

	// a zeroed header has an invalid size and type
	assert.False(t, rec.DeserializeFrom(make([]byte, 64)))

	// truncated payload
	good := NewTupleRecord(TypeInsert, 1, common.InvalidLSN, common.RID{}, []byte("x"))
	good.LSN = 1
	buf := make([]byte, good.Size)
	good.SerializeTo(buf)
	assert.False(t, rec.DeserializeFrom(buf[:len(buf)-1]))
}
