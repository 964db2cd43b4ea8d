// Package chunker splits document text into overlapping word windows.
package chunker

import "strings"

// Default window sizes, in words.
const (
	DefaultSize    = 500
	DefaultOverlap = 100
)

// Split breaks text into windows of size words, each starting size-overlap
// words after the previous one. The last windows may be shorter than size.
// An overlap that is negative or not smaller than size disables overlap.
func Split(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	chunks := make([]string, 0, len(words)/step+1)
	for i := 0; i < len(words); i += step {
		end := min(i+size, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}
