package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRU_NeverExceedsCapacity(t *testing.T) {
	l := newLRU(3)
	for i := 0; i < 20; i++ {
		l.add(fmt.Sprintf("k%d", i), Entry{})
		assert.LessOrEqual(t, l.len(), 3)
	}
	assert.Equal(t, []string{"k19", "k18", "k17"}, l.keys())
}

func TestLRU_EvictsLeastRecentlyAccessed(t *testing.T) {
	l := newLRU(2)
	l.add("a", Entry{})
	l.add("b", Entry{})
	l.get("a")

	evicted := l.add("c", Entry{})
	assert.Equal(t, []string{"b"}, evicted)

	// Writes refresh recency too
	l.add("a", Entry{Checksum: "2"})
	evicted = l.add("d", Entry{})
	assert.Equal(t, []string{"c"}, evicted)

	e, ok := l.get("a")
	assert.True(t, ok)
	assert.Equal(t, "2", e.Checksum)
}

func TestLRU_RemoveAndClear(t *testing.T) {
	l := newLRU(4)
	l.add("x:1", Entry{})
	l.add("x:2", Entry{})
	l.add("y:1", Entry{})

	assert.True(t, l.remove("x:1"))
	assert.False(t, l.remove("x:1"))

	n := l.removeFunc(func(k string) bool { return k[0] == 'x' })
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"y:1"}, l.keys())

	l.clear()
	assert.Equal(t, 0, l.len())
	assert.Empty(t, l.keys())
}
