package retrieval

import (
	"math"

	"docqa/internal/model"
)

const (
	defaultBM25K1 = 1.5
	defaultBM25B  = 0.75
)

// BM25Scorer ranks chunks against a keyword query. Index must be called before Score.
type BM25Scorer struct {
	k1 float64
	b  float64

	avgDocLen float64
	docCount  int
	docFreq   map[string]int
	termFreqs map[string]map[string]int
	docLens   map[string]int
	idf       map[string]float64
}

func NewBM25Scorer() *BM25Scorer {
	return &BM25Scorer{
		k1:        defaultBM25K1,
		b:         defaultBM25B,
		docFreq:   make(map[string]int),
		termFreqs: make(map[string]map[string]int),
		docLens:   make(map[string]int),
		idf:       make(map[string]float64),
	}
}

// Index computes corpus statistics for the given chunks, replacing any previous index.
func (s *BM25Scorer) Index(chunks []model.Chunk) {
	s.docCount = len(chunks)
	s.docFreq = make(map[string]int)
	s.termFreqs = make(map[string]map[string]int, len(chunks))
	s.docLens = make(map[string]int, len(chunks))
	s.idf = make(map[string]float64)

	var totalLen int
	for _, c := range chunks {
		tokens := Tokenize(c.Content)
		s.docLens[c.ID] = len(tokens)
		totalLen += len(tokens)

		tf := make(map[string]int)
		for _, token := range tokens {
			if tf[token] == 0 {
				s.docFreq[token]++
			}
			tf[token]++
		}
		s.termFreqs[c.ID] = tf
	}

	if s.docCount > 0 {
		s.avgDocLen = float64(totalLen) / float64(s.docCount)
	}

	n := float64(s.docCount)
	for term, df := range s.docFreq {
		s.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
}

// Score returns the BM25 score of one indexed chunk. Unindexed chunks score 0.
func (s *BM25Scorer) Score(query string, chunkID string) float64 {
	tf, ok := s.termFreqs[chunkID]
	if !ok || s.avgDocLen == 0 {
		return 0
	}
	docLen := float64(s.docLens[chunkID])

	var score float64
	for _, token := range Tokenize(query) {
		freq := float64(tf[token])
		if freq == 0 {
			continue
		}
		numerator := freq * (s.k1 + 1)
		denominator := freq + s.k1*(1-s.b+s.b*docLen/s.avgDocLen)
		score += s.idf[token] * (numerator / denominator)
	}
	return score
}

// TopK returns the k best chunks with a positive score.
func (s *BM25Scorer) TopK(query string, chunks []model.Chunk, k int) []model.ScoredChunk {
	if k <= 0 {
		return nil
	}
	scored := make([]model.ScoredChunk, 0, len(chunks))
	for i := range chunks {
		score := s.Score(query, chunks[i].ID)
		if score <= 0 {
			continue
		}
		scored = append(scored, model.ScoredChunk{Chunk: chunks[i], Score: score})
	}
	sortScored(scored)
	return truncate(scored, k)
}
