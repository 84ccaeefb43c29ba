package project

import "strings"

// Chunk is one window of a document's content.
type Chunk struct {
	Index int
	Start int
	End   int
	Text  string
}

// SplitText windows text into chunks of at most size characters with the
// given overlap between consecutive chunks. When a chunk does not end the
// text, the split prefers the last space past the chunk's midpoint so words
// stay intact. Offsets are byte-based and cover the whole text:
// chunk[i].End - overlap == chunk[i+1].Start for full-size chunks.
func SplitText(text string, size, overlap int) []Chunk {
	if text == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else if cut := lastSpaceAfterMidpoint(text[start:end]); cut > 0 {
			end = start + cut
		}

		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  text[start:end],
		})
		if end == len(text) {
			break
		}
		start = end - overlap
	}
	return chunks
}

// lastSpaceAfterMidpoint returns the index just past the last space in the
// second half of window, or 0 when no such break exists.
func lastSpaceAfterMidpoint(window string) int {
	mid := len(window) / 2
	idx := strings.LastIndexByte(window, ' ')
	if idx <= mid {
		return 0
	}
	return idx + 1
}

// QualityScore scores a processed document in [0,1]. Short content, failed
// extraction steps and degenerate chunk counts push the score down; a
// healthy chunk spread nudges it up.
func QualityScore(charCount, errorCount, chunkCount int) float64 {
	score := 1.0

	switch {
	case charCount < 100:
		score *= 0.5
	case charCount < 500:
		score *= 0.8
	}

	if errorCount > 0 {
		factor := 1.0 - 0.1*float64(errorCount)
		if factor < 0.1 {
			factor = 0.1
		}
		score *= factor
	}

	switch {
	case chunkCount < 2:
		score *= 0.7
	case chunkCount >= 5 && chunkCount <= 50:
		score *= 1.1
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}
