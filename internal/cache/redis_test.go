package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "counts:sector:7:round:2:user:11", Key(7, 2, "user:11"))
	assert.Equal(t, "counts:sector:7:*", sectorPattern(7))
}

func TestDisabledCacheIsNoop(t *testing.T) {
	c := NewConsolidationCache(nil, 0, zap.NewNop())
	ctx := context.Background()

	c.Set(ctx, Key(1, 0, "comparison"), map[string]int{"a": 1})
	var out map[string]int
	assert.False(t, c.Get(ctx, Key(1, 0, "comparison"), &out))
	c.InvalidateSector(ctx, 1)

	assert.False(t, c.Enabled())
	assert.Error(t, c.Ping(ctx))

	var nilCache *ConsolidationCache
	assert.False(t, nilCache.Get(ctx, "k", &out))
}
