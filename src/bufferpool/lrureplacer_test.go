package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUVictimOrder(t *testing.T) {
	l := NewLRUReplacer[int]()

	for _, v := range []int{1, 2, 3, 4, 5} {
		l.Insert(v)
	}

	victim := l.Victim()
	require.True(t, victim.IsSome())
	assert.Equal(t, 1, victim.Unwrap())

	l.Insert(1)
	require.True(t, l.Erase(3))

	victim = l.Victim()
	require.True(t, victim.IsSome())
	assert.Equal(t, 2, victim.Unwrap())

	assert.Equal(t, uint64(3), l.Size())
}

func TestLRUInsertPromotes(t *testing.T) {
	l := NewLRUReplacer[int]()

	l.Insert(1)
	l.Insert(2)
	l.Insert(1) // moves 1 to most-recently-used

	victim := l.Victim()
	require.True(t, victim.IsSome())
	assert.Equal(t, 2, victim.Unwrap())
}

func TestLRUEmptyVictim(t *testing.T) {
	l := NewLRUReplacer[int]()

	assert.True(t, l.Victim().IsNone())
	assert.False(t, l.Erase(9))
	assert.Equal(t, uint64(0), l.Size())
}
