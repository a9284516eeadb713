package page

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
)

func TestHeaderPageDirectory(t *testing.T) {
	h := AsHeaderPage(NewPage())
	id := uuid.New()
	h.Init(id)

	assert.Equal(t, id, h.InstanceID())
	assert.Equal(t, 0, h.RecordCount())

	require.True(t, h.InsertRecord("primary", 4))
	require.True(t, h.InsertRecord("secondary", 9))
	assert.False(t, h.InsertRecord("primary", 12), "duplicate name")

	root := h.GetRootID("primary")
	require.True(t, root.IsSome())
	assert.Equal(t, common.PageID(4), root.Unwrap())

	require.True(t, h.UpdateRecord("primary", 17))
	assert.Equal(t, common.PageID(17), h.GetRootID("primary").Unwrap())
	assert.False(t, h.UpdateRecord("missing", 1))

	require.True(t, h.DeleteRecord("primary"))
	assert.True(t, h.GetRootID("primary").IsNone())
	assert.Equal(t, 1, h.RecordCount())
	assert.Equal(t, common.PageID(9), h.GetRootID("secondary").Unwrap())
}

func TestHeaderPageNameValidation(t *testing.T) {
	h := AsHeaderPage(NewPage())
	h.Init(uuid.New())

	assert.False(t, h.InsertRecord("", 1))

	long := make([]byte, headerNameSize+1)
	for i := range long {
		long[i] = 'x'
	}
	assert.False(t, h.InsertRecord(string(long), 1))
}

func TestHeaderPageNamedRoots(t *testing.T) {
	h := AsHeaderPage(NewPage())
	h.Init(uuid.New())

	require.True(t, h.InsertRecord("a", 1))
	require.True(t, h.InsertRecord("b", 2))

	roots := h.NamedRoots()
	require.Len(t, roots, 2)
	assert.Equal(t, NamedRoot{Name: "a", Root: 1}, roots[0])
	assert.Equal(t, NamedRoot{Name: "b", Root: 2}, roots[1])
}
