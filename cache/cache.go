// Package cache implements the response cache: equivalent requests,
// identified by a fingerprint of their body and routing key, share a
// single cached response once one call has completed. Identical calls
// that are in flight at the same time are not coalesced; each is
// published.
package cache

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	body    []byte
	storeAt time.Time
	ttl     time.Duration
}

func (e entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.storeAt) >= e.ttl
}

// Cache is a bounded, fingerprint-keyed store of cached reply bodies.
type Cache struct {
	lru *lru.Cache[string, entry]
}

// New creates a Cache holding at most capacity entries, evicting the
// least-recently-written entry once full.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = 1
	}
	l, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the cached body for fingerprint, if present and not
// expired relative to its own TTL.
func (c *Cache) Get(fingerprint string) ([]byte, bool) {
	// Peek leaves recency untouched, so eviction order stays by write.
	e, ok := c.lru.Peek(fingerprint)
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		c.lru.Remove(fingerprint)
		return nil, false
	}
	return e.body, true
}

// Set stores body under fingerprint with the given TTL (zero means no
// expiration beyond LRU eviction).
func (c *Cache) Set(fingerprint string, body []byte, ttl time.Duration) {
	c.lru.Add(fingerprint, entry{body: body, storeAt: time.Now(), ttl: ttl})
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Fingerprint computes a stable, key-order-independent hash of body,
// combined with the routing key, so that two structurally identical
// requests sent to the same destination collide regardless of JSON key
// order.
func Fingerprint(routingKey string, body []byte) string {
	canon := canonicalize(body)

	bodyHash := fnv.New64a()
	bodyHash.Write(canon)

	keyHash := fnv.New64a()
	keyHash.Write([]byte(routingKey))

	combined := bodyHash.Sum64() ^ keyHash.Sum64()
	return fnvHexString(combined)
}

// canonicalize re-encodes a JSON document with object keys sorted, so
// that equivalent documents with differently-ordered keys hash
// identically. Inputs that fail to parse as JSON are hashed as-is;
// any other JSON value, scalars included, is re-encoded.
func canonicalize(body []byte) []byte {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	out, err := json.Marshal(sortValue(v))
	if err != nil {
		return body
	}
	return out
}

func sortValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]keyValue, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, keyValue{k, sortValue(t[k])})
		}
		return ordered
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortValue(e)
		}
		return out
	default:
		return t
	}
}

// keyValue marshals as a two-element array so sortValue's map output
// keeps a deterministic key order through json.Marshal, which would
// otherwise re-sort a Go map[string]any itself (harmlessly, but this
// keeps the canonicalization explicit rather than relying on that).
type keyValue struct {
	Key   string
	Value any
}

func (kv keyValue) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{kv.Key, kv.Value})
}

func fnvHexString(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}
