package recovery

import (
	"encoding/binary"

	"github.com/Blackdeer1524/RelStore/src/pkg/assert"
	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

type LogRecordType int32

const (
	TypeInvalid LogRecordType = iota
	TypeInsert
	TypeMarkDelete
	TypeApplyDelete
	TypeRollbackDelete
	TypeUpdate
	TypeBegin
	TypeCommit
	TypeAbort
	TypeNewPage
)

func (t LogRecordType) String() string {
	switch t {
	case TypeInsert:
		return "INSERT"
	case TypeMarkDelete:
		return "MARKDELETE"
	case TypeApplyDelete:
		return "APPLYDELETE"
	case TypeRollbackDelete:
		return "ROLLBACKDELETE"
	case TypeUpdate:
		return "UPDATE"
	case TypeBegin:
		return "BEGIN"
	case TypeCommit:
		return "COMMIT"
	case TypeAbort:
		return "ABORT"
	case TypeNewPage:
		return "NEWPAGE"
	}
	return "INVALID"
}

// HeaderSize is the fixed prefix of every record on the wire:
// size, lsn, txnID, prevLSN, type — five little-endian int32s.
const HeaderSize = 20

// LogRecord is one immutable entry of the write-ahead log. The payload
// fields used depend on Type: tuple records carry RID and tuple bytes,
// UPDATE carries both images, NEWPAGE carries the previous page id.
type LogRecord struct {
	Size    int32
	LSN     common.LSN
	TxnID   common.TxnID
	PrevLSN common.LSN
	Type    LogRecordType

	RID      common.RID
	Tuple    []byte
	OldTuple []byte
	NewTuple []byte

	PrevPageID common.PageID
}

func tupleSize(t []byte) int32 {
	return 4 + int32(len(t))
}

func NewBeginRecord(txnID common.TxnID) *LogRecord {
	return &LogRecord{
		Size:    HeaderSize,
		TxnID:   txnID,
		PrevLSN: common.InvalidLSN,
		Type:    TypeBegin,
	}
}

func NewCommitRecord(txnID common.TxnID, prevLSN common.LSN) *LogRecord {
	return &LogRecord{
		Size:    HeaderSize,
		TxnID:   txnID,
		PrevLSN: prevLSN,
		Type:    TypeCommit,
	}
}

func NewAbortRecord(txnID common.TxnID, prevLSN common.LSN) *LogRecord {
	return &LogRecord{
		Size:    HeaderSize,
		TxnID:   txnID,
		PrevLSN: prevLSN,
		Type:    TypeAbort,
	}
}

// NewTupleRecord builds an INSERT, MARKDELETE, APPLYDELETE or
// ROLLBACKDELETE record.
func NewTupleRecord(
	t LogRecordType,
	txnID common.TxnID,
	prevLSN common.LSN,
	rid common.RID,
	tuple []byte,
) *LogRecord {
	assert.Assert(
		t == TypeInsert || t == TypeMarkDelete ||
			t == TypeApplyDelete || t == TypeRollbackDelete,
		"record type %v does not carry a single tuple", t,
	)

	return &LogRecord{
		Size:    HeaderSize + common.SerializedRIDSize + tupleSize(tuple),
		TxnID:   txnID,
		PrevLSN: prevLSN,
		Type:    t,
		RID:     rid,
		Tuple:   tuple,
	}
}

func NewUpdateRecord(
	txnID common.TxnID,
	prevLSN common.LSN,
	rid common.RID,
	oldTuple, newTuple []byte,
) *LogRecord {
	return &LogRecord{
		Size: HeaderSize + common.SerializedRIDSize +
			tupleSize(oldTuple) + tupleSize(newTuple),
		TxnID:    txnID,
		PrevLSN:  prevLSN,
		Type:     TypeUpdate,
		RID:      rid,
		OldTuple: oldTuple,
		NewTuple: newTuple,
	}
}

func NewNewPageRecord(
	txnID common.TxnID,
	prevLSN common.LSN,
	prevPageID common.PageID,
	rid common.RID,
) *LogRecord {
	return &LogRecord{
		Size:       HeaderSize + 4 + common.SerializedRIDSize,
		TxnID:      txnID,
		PrevLSN:    prevLSN,
		Type:       TypeNewPage,
		PrevPageID: prevPageID,
		RID:        rid,
	}
}

func putTuple(buf []byte, t []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(t)))
	copy(buf[4:], t)
	return 4 + len(t)
}

// SerializeTo writes the record into buf, which must hold Size bytes.
func (r *LogRecord) SerializeTo(buf []byte) {
	assert.Assert(int32(len(buf)) >= r.Size, "log buffer too small")

	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.LSN))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.TxnID))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.PrevLSN))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(r.Type))

	pos := HeaderSize
	switch r.Type {
	case TypeInsert, TypeMarkDelete, TypeApplyDelete, TypeRollbackDelete:
		r.RID.SerializeTo(buf[pos:])
		pos += common.SerializedRIDSize
		pos += putTuple(buf[pos:], r.Tuple)
	case TypeUpdate:
		r.RID.SerializeTo(buf[pos:])
		pos += common.SerializedRIDSize
		pos += putTuple(buf[pos:], r.OldTuple)
		pos += putTuple(buf[pos:], r.NewTuple)
	case TypeNewPage:
		binary.LittleEndian.PutUint32(buf[pos:pos+4], uint32(r.PrevPageID))
		pos += 4
		r.RID.SerializeTo(buf[pos:])
		pos += common.SerializedRIDSize
	case TypeBegin, TypeCommit, TypeAbort:
	default:
		assert.Assert(false, "cannot serialize record of type %d", r.Type)
	}

	assert.Assert(int32(pos) == r.Size, "record size mismatch: %d != %d", pos, r.Size)
}

// DeserializeFrom parses one record from the head of data. Returns
// false when data does not hold a complete, well-formed record.
func (r *LogRecord) DeserializeFrom(data []byte) bool {
	if len(data) < HeaderSize {
		return false
	}

	r.Size = int32(binary.LittleEndian.Uint32(data[0:4]))
	r.LSN = common.LSN(binary.LittleEndian.Uint32(data[4:8]))
	r.TxnID = common.TxnID(binary.LittleEndian.Uint32(data[8:12]))
	r.PrevLSN = common.LSN(binary.LittleEndian.Uint32(data[12:16]))
	r.Type = LogRecordType(binary.LittleEndian.Uint32(data[16:20]))

	if r.Size < HeaderSize || int(r.Size) > len(data) {
		return false
	}
	if r.Type <= TypeInvalid || r.Type > TypeNewPage {
		return false
	}

	body := data[HeaderSize:r.Size]
	switch r.Type {
	case TypeInsert, TypeMarkDelete, TypeApplyDelete, TypeRollbackDelete:
		if len(body) < common.SerializedRIDSize+4 {
			return false
		}
		r.RID.DeserializeFrom(body)
		tuple, _, ok := readTuple(body[common.SerializedRIDSize:])
		if !ok {
			return false
		}
		r.Tuple = tuple
	case TypeUpdate:
		if len(body) < common.SerializedRIDSize+8 {
			return false
		}
		r.RID.DeserializeFrom(body)
		rest := body[common.SerializedRIDSize:]
		oldTuple, n, ok := readTuple(rest)
		if !ok {
			return false
		}
		newTuple, _, ok := readTuple(rest[n:])
		if !ok {
			return false
		}
		r.OldTuple = oldTuple
		r.NewTuple = newTuple
	case TypeNewPage:
		if len(body) < 4+common.SerializedRIDSize {
			return false
		}
		r.PrevPageID = common.PageID(binary.LittleEndian.Uint32(body[0:4]))
		r.RID.DeserializeFrom(body[4:])
	case TypeBegin, TypeCommit, TypeAbort:
	}

	return true
}

func readTuple(data []byte) ([]byte, int, bool) {
	if len(data) < 4 {
		return nil, 0, false
	}
	size := int(binary.LittleEndian.Uint32(data[0:4]))
	if size < 0 || len(data) < 4+size {
		return nil, 0, false
	}
	out := make([]byte, size)
	copy(out, data[4:4+size])
	return out, 4 + size, true
}
