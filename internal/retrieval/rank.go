package retrieval

import (
	"sort"

	"docqa/internal/model"
)

// sortScored orders by score descending, ties by chunk id ascending.
func sortScored(scored []model.ScoredChunk) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].Chunk.ID < scored[j].Chunk.ID
		}
		return scored[i].Score > scored[j].Score
	})
}

func truncate(scored []model.ScoredChunk, k int) []model.ScoredChunk {
	if k <= 0 {
		return nil
	}
	if k < len(scored) {
		return scored[:k]
	}
	return scored
}
