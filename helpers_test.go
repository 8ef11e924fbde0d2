package taskgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestCache opens a throwaway filesystem cache rooted at a fresh temp
// directory, cleaned up automatically when t ends.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := OpenCache(context.Background(), t.TempDir())
	require.NoError(t, err)
	return cache
}
