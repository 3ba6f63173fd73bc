// Package chunk provides the arithmetic for slicing a file into fixed-size
// chunks: chunk counts, per-index sizes, and byte offsets. Chunks are the
// unit of placement, replication, and retry; the last chunk of a file may be
// smaller than the configured chunk size, and a file whose size is an exact
// multiple has a full-sized last chunk with no empty trailer.
package chunk

import "fmt"

// Count returns the number of chunks needed for a file of the given size.
// A zero-byte file has zero chunks.
func Count(size, chunkSize int64) (int, error) {
	if chunkSize <= 0 {
		return 0, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if size < 0 {
		return 0, fmt.Errorf("file size must be non-negative, got %d", size)
	}
	return int((size + chunkSize - 1) / chunkSize), nil
}

// SizeOf returns the byte size of the chunk at the given sequence index.
func SizeOf(index int, size, chunkSize int64) (int64, error) {
	n, err := Count(size, chunkSize)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= n {
		return 0, fmt.Errorf("chunk index %d out of range [0, %d)", index, n)
	}
	if index == n-1 {
		if rem := size % chunkSize; rem != 0 {
			return rem, nil
		}
	}
	return chunkSize, nil
}

// Offset returns the byte offset of the chunk at the given sequence index.
func Offset(index int, chunkSize int64) int64 {
	return int64(index) * chunkSize
}
