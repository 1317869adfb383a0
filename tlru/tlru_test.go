package tlru

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGetRoundTrip(t *testing.T) {
	c := New[string, string]()
	c.Insert("a", "A")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "A", v)
}

func TestGetMissOnAbsentKey(t *testing.T) {
	c := New[string, string]()
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

// With max_items=2, inserting a third entry evicts the oldest, and a Get
// promotion decides which of the survivors goes next: after 3 is read and
// then 2 is read, 3 is the least recently used, so inserting 4 evicts 3.
func TestEvictionFollowsRecency(t *testing.T) {
	c := New[int, string](WithMaxItems(2))
	c.Insert(1, "A")
	c.Insert(2, "B")
	c.Insert(3, "C")

	_, ok := c.Get(1)
	assert.False(t, ok, "1 was the oldest entry when 3 was inserted")
	v, ok := c.Get(3)
	require.True(t, ok)
	assert.Equal(t, "C", v)
	v, ok = c.Get(2)
	require.True(t, ok)
	assert.Equal(t, "B", v)

	c.Insert(4, "D")

	_, ok = c.Get(3)
	assert.False(t, ok, "3 was least recently used once 2 was promoted")
	v, ok = c.Get(2)
	require.True(t, ok)
	assert.Equal(t, "B", v)
	v, ok = c.Get(4)
	require.True(t, ok)
	assert.Equal(t, "D", v)
}

func TestRecencyPromotionOnGet(t *testing.T) {
	c := New[string, int]()
	c.Insert("a", 1)
	c.Insert("b", 2)

	_, ok := c.Get("a")
	require.True(t, ok)

	newest, ok := c.Newest()
	require.True(t, ok)
	assert.Equal(t, "a", newest)
}

func TestRemoveOnlyEntry(t *testing.T) {
	c := New[string, int]()
	c.Insert("a", 1)
	c.Remove("a")
	_, ok := c.Newest()
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestRemoveNewestFallsBackToOlder(t *testing.T) {
	c := New[string, int]()
	c.Insert("a", 1)
	c.Insert("b", 2)
	c.Remove("b")
	newest, ok := c.Newest()
	require.True(t, ok)
	assert.Equal(t, "a", newest)
}

func TestMaxCreateAgeExpiry(t *testing.T) {
	c := New[string, int](WithMaxCreateAge(time.Millisecond))
	c.Insert("a", 1)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestMaxIdleAgeExpiry(t *testing.T) {
	c := New[string, int](WithMaxIdleAge(time.Millisecond))
	c.Insert("a", 1)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c := New[string, int]()
	c.Insert("a", 1)
	c.Insert("b", 2)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Newest()
	assert.False(t, ok)
}

// TestRingIntegrityRandomized checks that under any sequence of
// insert/get/remove, the ring remains a single cycle visiting every live
// key exactly once, with consistent newer/older back-pointers.
func TestRingIntegrityRandomized(t *testing.T) {
	const keyspace = 12
	c := New[int, int]()
	r := rand.New(rand.NewSource(1))

	live := make(map[int]bool)
	for i := 0; i < 2000; i++ {
		k := r.Intn(keyspace)
		switch r.Intn(3) {
		case 0:
			c.Insert(k, k)
			live[k] = true
		case 1:
			if _, ok := c.Get(k); !ok {
				delete(live, k)
			}
		case 2:
			c.Remove(k)
			delete(live, k)
		}

		assertRingIntegrity(t, c, live)
	}
}

func assertRingIntegrity(t *testing.T, c *Cache[int, int], live map[int]bool) {
	t.Helper()

	assert.Equal(t, len(live), c.Len())

	newest, ok := c.Newest()
	if len(live) == 0 {
		assert.False(t, ok)
		return
	}
	require.True(t, ok)

	visited := make(map[int]bool, len(live))
	current := newest
	for i := 0; i < len(live); i++ {
		assert.False(t, visited[current], "key %d visited twice while walking the ring", current)
		visited[current] = true

		n := c.entries[current]
		nn := c.entries[n.newer]
		assert.Equal(t, current, nn.older, "older(newer(%d)) != %d", current, current)
		oo := c.entries[n.older]
		assert.Equal(t, current, oo.newer, "newer(older(%d)) != %d", current, current)

		current = n.newer
	}
	assert.Equal(t, len(live), len(visited))
	assert.Equal(t, newest, current, "forward walk did not return to newest")
}
