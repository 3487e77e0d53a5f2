package app

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"docqa/internal/ai"
	"docqa/internal/ingest"
	"docqa/internal/model"
	"docqa/internal/platform/database"
	"docqa/internal/registry"
	"docqa/internal/repository"
	"docqa/internal/retrieval"
)

const embeddingDims = 256

// fakeEmbedder hashes tokens into a bag-of-words vector so that texts sharing
// words are close under cosine similarity.
type fakeEmbedder struct {
	calls atomic.Int64
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return bagOfWords(text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func bagOfWords(text string) []float64 {
	vec := make([]float64, embeddingDims)
	for _, token := range retrieval.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%embeddingDims]++
	}
	return vec
}

// fakeChat answers by prompt kind. Unset handlers fall back to canned replies.
type fakeChat struct {
	mu      sync.Mutex
	prompts []string

	answer       func(ctx context.Context, prompt string) (string, error)
	judge        func(ctx context.Context, prompt string) (string, error)
	expandedList string
	expandErr    error
}

func (f *fakeChat) Complete(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	prompt := messages[len(messages)-1].Content
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	switch {
	case strings.Contains(prompt, "generates multiple search queries"):
		if f.expandErr != nil {
			return "", f.expandErr
		}
		if f.expandedList != "" {
			return f.expandedList, nil
		}
		return "1. capital city of France\n2. France capital\n3. Paris France\n4. which city is the capital", nil
	case strings.Contains(prompt, "Please tell if a given piece of information"),
		strings.Contains(prompt, "Your task is to evaluate if the response"):
		if f.judge != nil {
			return f.judge(ctx, prompt)
		}
		return "YES", nil
	default:
		if f.answer != nil {
			return f.answer(ctx, prompt)
		}
		if strings.Contains(prompt, "Paris") {
			return "The capital of France is Paris.", nil
		}
		return "I don't know.", nil
	}
}

func (f *fakeChat) countPrompts(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.CollectionEvent
	err    error
}

func (p *recordingPublisher) PublishCollectionReady(_ context.Context, event model.CollectionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(context.Background(), database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "docqa.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Collection{}, &model.Chunk{}))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newTestStore(t *testing.T, db *gorm.DB, embedder Embedder) *IndexStore {
	t.Helper()
	return NewIndexStore(db,
		repository.NewCollectionRepository(db),
		repository.NewChunkRepository(db),
		embedder,
		IndexStoreOptions{ChunkSize: 64, ChunkOverlap: 8, EmbeddingBatchSize: 4},
	)
}

type testEnv struct {
	service   *DocQAService
	store     *IndexStore
	registry  *registry.MemoryRegistry
	chat      *fakeChat
	embedder  *fakeEmbedder
	publisher *recordingPublisher
}

type envOption func(*DocQAOptions)

func withQueryTimeout(d time.Duration) envOption {
	return func(o *DocQAOptions) { o.QueryTimeout = d }
}

func withEvaluation(enabled bool) envOption {
	return func(o *DocQAOptions) { o.EvaluationEnabled = enabled }
}

func newTestEnv(t *testing.T, db *gorm.DB, opts ...envOption) *testEnv {
	t.Helper()
	if db == nil {
		db = openTestDB(t)
	}
	env := &testEnv{
		registry:  registry.NewMemoryRegistry(),
		chat:      &fakeChat{},
		embedder:  &fakeEmbedder{},
		publisher: &recordingPublisher{},
	}
	env.store = newTestStore(t, db, env.embedder)

	o := DocQAOptions{
		QueryTimeout:      5 * time.Second,
		IngestTimeout:     5 * time.Second,
		DefaultMode:       ModeSimple,
		EvaluationEnabled: true,
		Origin:            "test-node",
	}
	for _, apply := range opts {
		apply(&o)
	}

	retrievers := map[string]Retriever{
		ModeSimple: NewSimpleRetriever(env.embedder, 2),
		ModeFusion: NewFusionRetriever(env.embedder, env.chat, FusionOptions{TopK: 2, NumExpansions: 4, RRFK: 60}),
	}
	env.service = NewDocQAService(
		ingest.NewIngestor(ingest.Options{FetchTimeout: time.Second}),
		env.store,
		env.registry,
		retrievers,
		env.chat,
		NewEvaluator(env.chat, 0.5),
		env.publisher,
		o,
	)
	return env
}

var errBoom = errors.New("boom")
