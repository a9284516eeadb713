package bufferpool

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/storage/disk"
)

func newTestPool(t *testing.T, poolSize uint64) *Manager {
	t.Helper()

	diskManager, err := disk.New(afero.NewMemMapFs(), "", "pool")
	require.NoError(t, err)
	t.Cleanup(func() { _ = diskManager.Close() })

	return New(poolSize, diskManager, nil, nil)
}

func TestNewPagePinsAndDirties(t *testing.T) {
	pool := newTestPool(t, 4)

	p, err := pool.NewPage()
	require.NoError(t, err)
	assert.Equal(t, common.PageID(0), p.ID())
	assert.True(t, p.IsDirty())

	pins, resident := pool.PinCount(p.ID())
	require.True(t, resident)
	assert.Equal(t, 1, pins)
}

func TestNewPageFailsWhenAllPinned(t *testing.T) {
	pool := newTestPool(t, 3)

	for range 3 {
		_, err := pool.NewPage()
		require.NoError(t, err)
	}

	_, err := pool.NewPage()
	require.ErrorIs(t, err, ErrNoFreeFrame)
}

func TestEvictionWritesDirtyVictim(t *testing.T) {
	pool := newTestPool(t, 2)

	first, err := pool.NewPage()
	require.NoError(t, err)
	firstID := first.ID()
	copy(first.Data()[100:], "persist me")
	require.True(t, pool.UnpinPage(firstID, true))

	// fill the pool so the first page is evicted
	for range 2 {
		p, err := pool.NewPage()
		require.NoError(t, err)
		require.True(t, pool.UnpinPage(p.ID(), false))
	}

	reread, err := pool.FetchPage(firstID)
	require.NoError(t, err)
	assert.Equal(t, []byte("persist me"), reread.Data()[100:110])
	assert.False(t, reread.IsDirty())
	require.True(t, pool.UnpinPage(firstID, false))
}

func TestUnpinBookkeeping(t *testing.T) {
	pool := newTestPool(t, 2)

	p, err := pool.NewPage()
	require.NoError(t, err)
	id := p.ID()

	// second pin through fetch
	_, err = pool.FetchPage(id)
	require.NoError(t, err)
	pins, _ := pool.PinCount(id)
	assert.Equal(t, 2, pins)

	require.True(t, pool.UnpinPage(id, false))
	require.True(t, pool.UnpinPage(id, true))
	assert.False(t, pool.UnpinPage(id, false), "pin count already zero")

	assert.False(t, pool.UnpinPage(99, false), "not resident")
}

func TestDirtyFlagIsSticky(t *testing.T) {
	pool := newTestPool(t, 2)

	p, err := pool.NewPage()
	require.NoError(t, err)
	id := p.ID()
	require.NoError(t, pool.FlushPage(id))
	assert.False(t, p.IsDirty())

	_, err = pool.FetchPage(id)
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(id, true))
	// the later clean unpin must not clear the dirty bit
	require.True(t, pool.UnpinPage(id, false))
	assert.True(t, p.IsDirty())
}

func TestDeletePage(t *testing.T) {
	pool := newTestPool(t, 2)

	p, err := pool.NewPage()
	require.NoError(t, err)
	id := p.ID()

	assert.False(t, pool.DeletePage(id), "pinned pages cannot be deleted")

	require.True(t, pool.UnpinPage(id, false))
	assert.True(t, pool.DeletePage(id))

	_, resident := pool.PinCount(id)
	assert.False(t, resident)
}

func TestUnpinnedPageGoesToReplacerAndBack(t *testing.T) {
	pool := newTestPool(t, 2)

	a, err := pool.NewPage()
	require.NoError(t, err)
	b, err := pool.NewPage()
	require.NoError(t, err)

	require.True(t, pool.UnpinPage(a.ID(), true))

	// a is evictable, b is pinned: the third page must replace a
	c, err := pool.NewPage()
	require.NoError(t, err)

	_, aResident := pool.PinCount(a.ID())
	assert.False(t, aResident)

	for _, id := range []common.PageID{b.ID(), c.ID()} {
		pins, resident := pool.PinCount(id)
		require.True(t, resident)
		assert.Equal(t, 1, pins)
	}
}

func TestFetchMissingPageRecyclesFrame(t *testing.T) {
	pool := newTestPool(t, 1)

	_, err := pool.FetchPage(41)
	require.ErrorIs(t, err, disk.ErrPageNotFound)

	// the frame must be reusable after the failed read
	p, err := pool.NewPage()
	require.NoError(t, err)
	assert.True(t, p.ID().IsValid())
}
