// Package partition splits work into contiguous chunks for parallel workers.
package partition

// Split divides items into exactly workers contiguous chunks without
// reordering. Chunk sizes differ by at most one: the first len%workers chunks
// receive ceil(len/workers) items and the rest floor(len/workers), so trailing
// chunks may be shorter or empty. A non-positive worker count is treated as 1.
func Split[T any](items []T, workers int) [][]T {
	if workers <= 0 {
		workers = 1
	}
	chunks := make([][]T, workers)
	base, extra := len(items)/workers, len(items)%workers
	start := 0
	for i := range chunks {
		size := base
		if i < extra {
			size++
		}
		chunks[i] = items[start : start+size : start+size]
		start += size
	}
	return chunks
}
