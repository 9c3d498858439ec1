package session

import "github.com/skypro1111/live-transcription-service/internal/engine"

// The transcription engine has no cross-chunk memory: every chunk is
// transcribed independently and reports times relative to the start of that
// chunk. The pipeline rebases those times into the session-absolute timeline
// using the chunk's index and the fixed chunk interval agreed with the
// producer of chunks.

// ChunkOffset returns the session-absolute start time of the chunk at the
// given 0-based index.
func ChunkOffset(index int, intervalSeconds float64) float64 {
	return float64(index) * intervalSeconds
}

// Rebase shifts chunk-relative segment and word times by offset seconds,
// returning new segments. The input is not modified.
func Rebase(segments []engine.Segment, offset float64) []engine.Segment {
	out := make([]engine.Segment, len(segments))
	for i, seg := range segments {
		seg.Start += offset
		seg.End += offset

		if len(seg.Words) > 0 {
			words := make([]engine.Word, len(seg.Words))
			for j, w := range seg.Words {
				w.Start += offset
				w.End += offset
				words[j] = w
			}
			seg.Words = words
		}

		out[i] = seg
	}
	return out
}
