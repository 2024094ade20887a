package ontology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typegraph/typegraph/internal/concept"
)

func TestCacheGetMiss(t *testing.T) {
	c := New(DefaultConfig(time.Minute, time.Hour))
	_, ok := c.Get("person")
	assert.False(t, ok)
}

func TestCachePutGetReturnsClone(t *testing.T) {
	c := New(DefaultConfig(time.Minute, time.Hour))
	c.Put("person", &concept.Type{Label: "person", InstanceCount: 1}, Interactive)

	got, ok := c.Get("person")
	require.True(t, ok)
	got.InstanceCount = 99

	got2, ok := c.Get("person")
	require.True(t, ok)
	assert.Equal(t, int64(1), got2.InstanceCount, "mutating a returned clone must not affect the cached snapshot")
}

func TestCacheNormalModeExpires(t *testing.T) {
	c := New(DefaultConfig(time.Millisecond, time.Hour))
	c.Put("person", &concept.Type{Label: "person"}, Interactive)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("person")
	assert.False(t, ok, "entry should have passed its normal-mode expiry")
}

func TestCacheBatchModeUsesLongerTTL(t *testing.T) {
	c := New(DefaultConfig(time.Millisecond, time.Hour))
	c.Put("person", &concept.Type{Label: "person"}, BatchLoad)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("person")
	assert.True(t, ok, "batch-mode entry should still be live under its much longer TTL")
}

func TestCacheRemove(t *testing.T) {
	c := New(DefaultConfig(time.Minute, time.Hour))
	c.Put("person", &concept.Type{Label: "person"}, Interactive)
	c.Remove("person")
	_, ok := c.Get("person")
	assert.False(t, ok)
}

func TestCacheLen(t *testing.T) {
	c := New(DefaultConfig(time.Minute, time.Hour))
	assert.Equal(t, 0, c.Len())
	c.Put("a", &concept.Type{Label: "a"}, Interactive)
	c.Put("b", &concept.Type{Label: "b"}, Interactive)
	assert.Equal(t, 2, c.Len())
}
