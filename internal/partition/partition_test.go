package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestSplitSizes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		items   int
		workers int
		sizes   []int
	}{
		{"even", 15, 3, []int{5, 5, 5}},
		{"remainder", 10, 4, []int{3, 3, 2, 2}},
		{"fewer items than workers", 2, 4, []int{1, 1, 0, 0}},
		{"empty", 0, 3, []int{0, 0, 0}},
		{"single worker", 7, 1, []int{7}},
		{"zero workers", 5, 0, []int{5}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			chunks := Split(seq(tc.items), tc.workers)
			sizes := make([]int, len(chunks))
			for i, c := range chunks {
				sizes[i] = len(c)
			}
			require.Equal(t, tc.sizes, sizes)
		})
	}
}

func TestSplitCoversAllItemsInOrder(t *testing.T) {
	t.Parallel()

	for n := 0; n < 40; n++ {
		for w := 1; w <= 9; w++ {
			chunks := Split(seq(n), w)
			require.Len(t, chunks, w)

			var flat []int
			minSize, maxSize := n, 0
			for _, c := range chunks {
				flat = append(flat, c...)
				minSize = min(minSize, len(c))
				maxSize = max(maxSize, len(c))
			}
			if n == 0 {
				require.Empty(t, flat)
				continue
			}
			require.Equal(t, seq(n), flat, "n=%d w=%d", n, w)
			require.LessOrEqual(t, maxSize-minSize, 1, "n=%d w=%d", n, w)
		}
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	t.Parallel()

	items := []string{"a", "b", "c", "d", "e"}
	require.Equal(t, Split(items, 2), Split(items, 2))
}
