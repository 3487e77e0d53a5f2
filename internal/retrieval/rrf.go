package retrieval

import "docqa/internal/model"

const DefaultRRFK = 60

// ReciprocalRankFusion merges ranked lists: every appearance of a chunk at 0-based
// rank r adds 1/(r+k) to its fused score.
type ReciprocalRankFusion struct {
	k int
}

func NewReciprocalRankFusion(k int) *ReciprocalRankFusion {
	if k <= 0 {
		k = DefaultRRFK
	}
	return &ReciprocalRankFusion{k: k}
}

// Fuse returns every chunk seen in lists, ordered by fused score descending and
// chunk id ascending on ties. The result does not depend on map iteration order.
func (r *ReciprocalRankFusion) Fuse(lists ...[]model.ScoredChunk) []model.ScoredChunk {
	if len(lists) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	chunks := make(map[string]model.Chunk)
	var order []string
	for _, list := range lists {
		for rank, sc := range list {
			if _, seen := chunks[sc.Chunk.ID]; !seen {
				chunks[sc.Chunk.ID] = sc.Chunk
				order = append(order, sc.Chunk.ID)
			}
			scores[sc.Chunk.ID] += 1.0 / float64(rank+r.k)
		}
	}

	fused := make([]model.ScoredChunk, 0, len(order))
	for _, id := range order {
		fused = append(fused, model.ScoredChunk{Chunk: chunks[id], Score: scores[id]})
	}
	sortScored(fused)
	return fused
}
