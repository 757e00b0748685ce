package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/memory"
)

// TestOpenStoreRoundTrip drives the same helper the memory subcommands use
// against a fresh state root: open, remember, recall.
func TestOpenStoreRoundTrip(t *testing.T) {
	t.Setenv(config.EnvPath, t.TempDir())
	config.Reset()
	t.Cleanup(config.Reset)

	store, database, err := openStore("")
	require.NoError(t, err)
	defer database.Close()

	ctx := context.Background()
	result, err := store.Remember(ctx, memory.RememberInput{
		Content: "The staging cluster lives in us-east-2",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)

	results, method, err := store.Recall(ctx, memory.RecallQuery{Query: "staging cluster"})
	require.NoError(t, err)
	assert.Equal(t, memory.SourceKeyword, method)
	require.Len(t, results, 1)
	assert.Equal(t, result.ID, results[0].ID)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "short", firstLine("short", 20))
	assert.Equal(t, "first", firstLine("first\nsecond\nthird", 20))

	long := firstLine("abcdefghijklmnopqrstuvwxyz", 10)
	assert.Equal(t, "abcdefghi…", long)
	assert.Len(t, []rune(long), 10)
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "", formatCounts(nil))
	assert.Equal(t, "screen=12 terminal=3", formatCounts(map[string]int{
		"terminal": 3,
		"screen":   12,
	}))
}
