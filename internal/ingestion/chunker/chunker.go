// Package chunker splits document text into overlapping word windows.
package chunker

import "strings"

const (
	DefaultSize    = 750
	DefaultOverlap = 100
)

// Params holds a requested window size and overlap, in words. Zero values
// mean "use the configured default".
type Params struct {
	Size    int
	Overlap *int
}

// Resolve fills unset values from defaults and clamps the result so that
// size >= 1 and 0 <= overlap < size.
func (p Params) Resolve(defaults Params) (size, overlap int) {
	size = p.Size
	if size == 0 {
		size = defaults.Size
	}
	switch {
	case p.Overlap != nil:
		overlap = *p.Overlap
	case defaults.Overlap != nil:
		overlap = *defaults.Overlap
	}
	return clamp(size, overlap)
}

func clamp(size, overlap int) (int, int) {
	if size <= 0 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return size, overlap
}

// Chunk splits text on whitespace and returns windows of size words that
// advance by size-overlap words. The last window may be short. Empty text
// yields no chunks.
func Chunk(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{}
	}
	size, overlap = clamp(size, overlap)
	step := size - overlap

	out := make([]string, 0, (len(words)/step)+1)
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}
