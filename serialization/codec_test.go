package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidrun/amqprpc/contracts"
)

func TestEncodeDecodeJSON(t *testing.T) {
	c := New()
	body, ct, ce, err := c.Encode(map[string]any{"a": 1}, false)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, ct)
	assert.Equal(t, ContentEncodingPlain, ce)

	decoded, err := c.Decode(body, ct, ce)
	require.NoError(t, err)
	m, ok := decoded.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), m["a"])
}

func TestEncodeDecodeString(t *testing.T) {
	c := New()
	body, ct, ce, err := c.Encode("hello", false)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeText, ct)

	decoded, err := c.Decode(body, ct, ce)
	require.NoError(t, err)
	assert.Equal(t, "hello", decoded)
}

func TestEncodeDecodeGzip(t *testing.T) {
	c := New()
	body, ct, ce, err := c.Encode(map[string]any{"big": "payload"}, true)
	require.NoError(t, err)
	assert.Equal(t, ContentEncodingGzip, ce)

	decoded, err := c.Decode(body, ct, ce)
	require.NoError(t, err)
	m := decoded.(map[string]any)
	assert.Equal(t, "payload", m["big"])
}

func TestEncodeErrorValue(t *testing.T) {
	c := New()
	body, ct, _, err := c.Encode(&contracts.TimeoutError{RoutingKey: "rk"}, false)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, ct)
	assert.Contains(t, string(body), "TimeoutError")
}

func TestDecodeMalformedBodyReturnsParseError(t *testing.T) {
	c := New()
	_, err := c.Decode([]byte("{not json"), ContentTypeJSON, ContentEncodingPlain)
	require.Error(t, err)
	var parseErr *contracts.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestDecodeUnsupportedContentEncodingReturnsParseError(t *testing.T) {
	c := New()
	_, err := c.Decode([]byte(`"hello"`), ContentTypeJSON, "deflate")
	require.Error(t, err)
	var parseErr *contracts.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestSafeMarshalHandlesCyclicMap(t *testing.T) {
	m := map[string]any{}
	m["self"] = m

	c := New()
	body, _, _, err := c.Encode(m, false)
	require.NoError(t, err)
	assert.Contains(t, string(body), "[Circular]")
}
