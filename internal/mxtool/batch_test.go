package mxtool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serializedSize(batch []string) int {
	size := 0
	for _, item := range batch {
		size += len(item) + 1
	}
	return size
}

func TestSplitArgsReconstructsInput(t *testing.T) {
	items := []string{"alpha.java", "beta.java", "gamma.java", "delta.java", "epsilon.java"}

	batches := SplitArgs(items, 25)
	require.NotEmpty(t, batches)

	var flattened []string
	for _, batch := range batches {
		require.NotEmpty(t, batch)
		flattened = append(flattened, batch...)
	}
	assert.Equal(t, items, flattened)
}

func TestSplitArgsRespectsBound(t *testing.T) {
	var items []string
	for i := 0; i < 50; i++ {
		items = append(items, strings.Repeat("x", 10))
	}

	const bound = 100
	for _, batch := range SplitArgs(items, bound) {
		assert.Less(t, serializedSize(batch), bound)
	}
}

func TestSplitArgsOversizedItemAlone(t *testing.T) {
	long := strings.Repeat("y", 200)
	items := []string{"short", long, "tail"}

	batches := SplitArgs(items, 50)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"short"}, batches[0])
	assert.Equal(t, []string{long}, batches[1])
	assert.Equal(t, []string{"tail"}, batches[2])
}

func TestSplitArgsEmptyInput(t *testing.T) {
	assert.Empty(t, SplitArgs(nil, 100))
}

func TestSplitArgsSingleBatchWhenSmall(t *testing.T) {
	items := []string{"a", "b", "c"}
	batches := SplitArgs(items, 30000)
	require.Len(t, batches, 1)
	assert.Equal(t, items, batches[0])
}
