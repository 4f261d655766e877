package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowSuppressesWithinTTL(t *testing.T) {
	c := NewCache(10 * time.Second)
	t0 := time.Now()

	assert.True(t, c.Allow("entry:KA01AB1234", t0))
	assert.False(t, c.Allow("entry:KA01AB1234", t0.Add(time.Second)))
	assert.False(t, c.Allow("entry:KA01AB1234", t0.Add(9*time.Second)))
	assert.True(t, c.Allow("entry:KA01AB1234", t0.Add(10*time.Second)))
}

func TestAllowKeysAreIndependent(t *testing.T) {
	c := NewCache(10 * time.Second)
	t0 := time.Now()

	assert.True(t, c.Allow("entry:KA01AB1234", t0))
	assert.True(t, c.Allow("exit:KA01AB1234", t0))
	assert.True(t, c.Allow("entry:MH12XY0001", t0))
}

func TestPrune(t *testing.T) {
	c := NewCache(10 * time.Second)
	t0 := time.Now()

	c.Allow("a", t0)
	c.Allow("b", t0.Add(5*time.Second))
	assert.Equal(t, 2, c.Len())

	c.Allow("c", t0.Add(10*time.Second))
	c.Prune()
	assert.Equal(t, 2, c.Len())

	c.Allow("d", t0.Add(15*time.Second))
	c.Prune()
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Allow("c", t0.Add(16*time.Second)))
}

func TestPruneUsesObservationClock(t *testing.T) {
	c := NewCache(10 * time.Second)

	// Event times can trail the wall clock. Pruning must not expire a
	// cooldown the observed timeline says is still live.
	t0 := time.Now().Add(-time.Hour)
	assert.True(t, c.Allow("entry:KA01AB1234", t0))
	c.Prune()

	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Allow("entry:KA01AB1234", t0.Add(time.Second)))
}
