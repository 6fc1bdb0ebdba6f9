package stateprovider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMethodCachePutGet(t *testing.T) {
	c := newMethodCache()
	c.put("reserves:0xabc:100", 100, 42)

	v, ok := c.get("reserves:0xabc:100")
	require.True(t, ok)
	require.Equal(t, 42, v)

	_, ok = c.get("missing")
	require.False(t, ok)
}

func TestMethodCacheEvictFrom(t *testing.T) {
	c := newMethodCache()
	c.put("a", 10, "value-a")
	c.put("b", 20, "value-b")
	c.put("c", 5, "value-c")

	c.evictFrom(15)

	_, ok := c.get("a")
	require.True(t, ok, "block 10 < 15 must survive")
	_, ok = c.get("b")
	require.False(t, ok, "block 20 >= 15 must be evicted")
	_, ok = c.get("c")
	require.True(t, ok, "block 5 < 15 must survive")
}

func TestIsRetryableDistinguishesDecodeFailures(t *testing.T) {
	decodeErr := nonRetryable(assertionError("bad abi"))
	require.False(t, isRetryable(decodeErr))

	transportErr := assertionError("connection refused")
	require.True(t, isRetryable(transportErr))
}

type assertionError string

func (e assertionError) Error() string { return string(e) }
