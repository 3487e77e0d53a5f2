package retrieval

import (
	"math"

	"docqa/internal/model"
)

// CosineSimilarity returns 0 for mismatched or zero-length vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// VectorTopK scores every chunk against the query embedding and keeps the best k.
// Chunks without a stored embedding are skipped.
func VectorTopK(query []float64, chunks []model.Chunk, k int) []model.ScoredChunk {
	if k <= 0 || len(query) == 0 {
		return nil
	}
	scored := make([]model.ScoredChunk, 0, len(chunks))
	for i := range chunks {
		vec := chunks[i].EmbeddingVector()
		if len(vec) == 0 {
			continue
		}
		scored = append(scored, model.ScoredChunk{
			Chunk: chunks[i],
			Score: CosineSimilarity(query, vec),
		})
	}
	sortScored(scored)
	return truncate(scored, k)
}
