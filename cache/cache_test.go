package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStableUnderKeyOrder(t *testing.T) {
	a := []byte(`{"a":1,"b":2}`)
	b := []byte(`{"b":2,"a":1}`)
	assert.Equal(t, Fingerprint("rk", a), Fingerprint("rk", b))
}

func TestFingerprintDiffersByRoutingKey(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.NotEqual(t, Fingerprint("rk1", body), Fingerprint("rk2", body))
}

func TestGetSetRoundTrip(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)

	fp := Fingerprint("rk", []byte(`{"a":1}`))
	_, ok := c.Get(fp)
	assert.False(t, ok)

	c.Set(fp, []byte(`{"result":true}`), 0)
	body, ok := c.Get(fp)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"result":true}`), body)
}

func TestTTLExpiry(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)

	fp := "fp"
	c.Set(fp, []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(fp)
	assert.False(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	c.Set("a", []byte("1"), 0)
	c.Set("b", []byte("2"), 0)
	c.Set("c", []byte("3"), 0)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	assert.Equal(t, 2, c.Len())
}
