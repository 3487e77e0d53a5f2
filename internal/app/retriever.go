package app

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"docqa/internal/ai"
	"docqa/internal/model"
	"docqa/internal/retrieval"
)

const (
	ModeSimple = "simple"
	ModeFusion = "fusion"

	defaultSimilarityTopK = 2
	defaultFusionTopK     = 2
	defaultNumExpansions  = 4
)

// Retriever selects the chunks of a collection that best answer query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, chunks []model.Chunk) ([]model.ScoredChunk, error)
}

// SimpleRetriever ranks chunks by cosine similarity to the query embedding.
type SimpleRetriever struct {
	embedder Embedder
	topK     int
}

func NewSimpleRetriever(embedder Embedder, topK int) *SimpleRetriever {
	if topK <= 0 {
		topK = defaultSimilarityTopK
	}
	return &SimpleRetriever{embedder: embedder, topK: topK}
}

func (r *SimpleRetriever) Retrieve(ctx context.Context, query string, chunks []model.Chunk) ([]model.ScoredChunk, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, newError(ErrRetrieval, "failed to embed query", err)
	}
	return retrieval.VectorTopK(vec, chunks, r.topK), nil
}

type FusionOptions struct {
	TopK          int
	NumExpansions int
	RRFK          int
}

// FusionRetriever expands the query with the LLM, runs vector and BM25 search for
// every variant and merges the lists with reciprocal rank fusion.
type FusionRetriever struct {
	embedder Embedder
	chat     ChatModel
	topK     int
	numExp   int
	fusion   *retrieval.ReciprocalRankFusion
}

func NewFusionRetriever(embedder Embedder, chat ChatModel, opts FusionOptions) *FusionRetriever {
	if opts.TopK <= 0 {
		opts.TopK = defaultFusionTopK
	}
	if opts.NumExpansions < 0 {
		opts.NumExpansions = defaultNumExpansions
	}
	return &FusionRetriever{
		embedder: embedder,
		chat:     chat,
		topK:     opts.TopK,
		numExp:   opts.NumExpansions,
		fusion:   retrieval.NewReciprocalRankFusion(opts.RRFK),
	}
}

func (r *FusionRetriever) Retrieve(ctx context.Context, query string, chunks []model.Chunk) ([]model.ScoredChunk, error) {
	queries := []string{query}
	if r.numExp > 0 {
		expanded, err := r.expandQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		queries = append(queries, expanded...)
	}

	bm25 := retrieval.NewBM25Scorer()
	bm25.Index(chunks)

	// Slot 2*i holds the vector hits of queries[i], slot 2*i+1 its BM25 hits.
	results := make([][]model.ScoredChunk, 2*len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			vec, err := r.embedder.Embed(gctx, q)
			if err != nil {
				return err
			}
			results[2*i] = retrieval.VectorTopK(vec, chunks, r.topK)
			return nil
		})
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[2*i+1] = bm25.TopK(q, chunks, r.topK)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, newError(ErrRetrieval, "failed to retrieve context", err)
	}

	fused := r.fusion.Fuse(results...)
	if len(fused) > r.topK {
		fused = fused[:r.topK]
	}
	return fused, nil
}

const queryGenPrompt = `You are a helpful assistant that generates multiple search queries based on a single input query. Generate %d search queries, one on each line, related to the following input query:
Query: %s
Queries:
`

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

func (r *FusionRetriever) expandQuery(ctx context.Context, query string) ([]string, error) {
	out, err := r.chat.Complete(ctx, []ai.ChatMessage{
		{Role: "user", Content: fmt.Sprintf(queryGenPrompt, r.numExp, query)},
	})
	if err != nil {
		return nil, newError(ErrGeneration, "failed to generate query variants", err)
	}
	return parseQueries(out, query, r.numExp), nil
}

// parseQueries keeps up to n distinct non-empty lines that differ from the original.
func parseQueries(out, original string, n int) []string {
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(original)): true}
	var queries []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		line = strings.Trim(line, `"`)
		key := strings.ToLower(line)
		if line == "" || seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, line)
		if len(queries) == n {
			break
		}
	}
	return queries
}
