package condition

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// DefaultCacheSize bounds the is-new negative cache
const DefaultCacheSize = 4096

type cacheKey struct {
	sink   string
	source string
	field  string
	value  string
}

// SeenCache remembers (sink, source, field, value) tuples known not to be
// new. Positive answers are never stored: they must be checked against the
// sink every time. Safe for concurrent use.
type SeenCache struct {
	entries *lru.Cache[cacheKey, struct{}]
}

// NewSeenCache creates a cache holding up to size entries
func NewSeenCache(size int) *SeenCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, struct{}](size)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return &SeenCache{entries: c}
}

func key(sink, source, field string, value any) cacheKey {
	return cacheKey{sink: sink, source: source, field: field, value: types.FormatValue(value)}
}

// Seen reports whether the tuple is known not to be new
func (c *SeenCache) Seen(sink, source, field string, value any) bool {
	return c.entries.Contains(key(sink, source, field, value))
}

// MarkSeen records that the tuple is not new
func (c *SeenCache) MarkSeen(sink, source, field string, value any) {
	c.entries.Add(key(sink, source, field, value), struct{}{})
}

// Len returns the number of cached tuples
func (c *SeenCache) Len() int {
	return c.entries.Len()
}
