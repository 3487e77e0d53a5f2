package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/registry"
)

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestProcessDocumentThenQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.service.ProcessDocument(ctx, writeDoc(t, "doc.txt", "The capital of France is Paris."))
	require.NoError(t, err)
	_, err = uuid.Parse(res.CollectionName)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DocumentCount)
	assert.Equal(t, 1, res.ChunkCount)

	state, err := env.registry.State(ctx, res.CollectionName)
	require.NoError(t, err)
	assert.Equal(t, registry.StateReady, state)

	out, err := env.service.Query(ctx, QueryInput{Query: "What is the capital of France?", IndexID: res.CollectionName})
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "Paris")
	assert.Equal(t, ModeSimple, out.Mode)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, "The capital of France is Paris.", out.Sources[0].Content)
	assert.Equal(t, "doc.txt", out.Sources[0].Source)

	list, err := env.service.Collections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "doc.txt", list[0].Source)

	ev := out.Evaluation
	require.True(t, ev.Available)
	require.NotNil(t, ev.FaithfulnessScore)
	require.NotNil(t, ev.RelevancyScore)
	assert.Equal(t, 1.0, *ev.FaithfulnessScore)
	assert.Equal(t, 1.0, *ev.RelevancyScore)
	assert.True(t, *ev.FaithfulnessPassing)
	assert.True(t, *ev.RelevancyPassing)

	require.Len(t, env.publisher.events, 1)
	assert.Equal(t, res.CollectionName, env.publisher.events[0].CollectionName)
	assert.Equal(t, "test-node", env.publisher.events[0].Origin)
	assert.Equal(t, "file", env.publisher.events[0].SourceType)
}

func TestQuery_FusionMode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	text := "The capital of France is Paris. " +
		"Berlin is the capital of Germany. " +
		"Madrid is the capital of Spain. " +
		"Rome is the capital of Italy."
	res, err := env.service.ProcessDocument(ctx, writeDoc(t, "capitals.txt", text))
	require.NoError(t, err)
	require.Greater(t, res.ChunkCount, 1)

	first, err := env.service.Query(ctx, QueryInput{Query: "capital of France", IndexID: res.CollectionName, Mode: ModeFusion})
	require.NoError(t, err)
	assert.Equal(t, ModeFusion, first.Mode)
	assert.LessOrEqual(t, len(first.Sources), 2)
	assert.NotEmpty(t, first.Sources)
	assert.Equal(t, 1, env.chat.countPrompts("generates multiple search queries"))

	second, err := env.service.Query(ctx, QueryInput{Query: "capital of France", IndexID: res.CollectionName, Mode: ModeFusion})
	require.NoError(t, err)
	assert.Equal(t, first.Sources, second.Sources)
}

func TestQuery_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.service.Query(ctx, QueryInput{Query: "  ", IndexID: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.service.Query(ctx, QueryInput{Query: "q"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.service.Query(ctx, QueryInput{Query: "q", IndexID: "x", Mode: "hybrid"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestQuery_UnknownCollection(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.service.Query(context.Background(), QueryInput{Query: "anything", IndexID: "does-not-exist"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.Contains(t, PublicMessage(err), "does-not-exist")
	assert.Zero(t, env.chat.countPrompts(""))
}

func TestQuery_BuildingCollectionIsNotQueryable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.registry.Begin(ctx, "pending"))

	_, err := env.service.Query(ctx, QueryInput{Query: "q", IndexID: "pending"})
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestQuery_ReadyButMissingFromStore(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.registry.Begin(ctx, "peer-only"))
	require.NoError(t, env.registry.MarkReady(ctx, "peer-only"))

	_, err := env.service.Query(ctx, QueryInput{Query: "q", IndexID: "peer-only"})
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.Contains(t, PublicMessage(err), "not present in this store")
	assert.Zero(t, env.chat.countPrompts(""))
}

func TestProcessURL_UnreachableRegistersNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := env.service.ProcessURL(context.Background(), addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIngest)
	assert.Zero(t, env.registry.Len())

	list, err := env.service.Collections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProcessURL(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>The capital of France is Paris.</p></body></html>`))
	}))
	defer srv.Close()

	res, err := env.service.ProcessURL(context.Background(), srv.URL)
	require.NoError(t, err)

	list, err := env.service.Collections(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.CollectionName, list[0].ID)
	assert.Equal(t, "url", list[0].SourceType)
	assert.Equal(t, srv.URL, list[0].Source)

	_, err = env.service.ProcessURL(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProcessDocument_IngestErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.service.ProcessDocument(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, ErrIngest)

	_, err = env.service.ProcessDocument(context.Background(), writeDoc(t, "empty.txt", "   "))
	assert.ErrorIs(t, err, ErrIngest)
	assert.Zero(t, env.registry.Len())
}

func TestProcessDocument_EmbeddingFailureAbortsRegistration(t *testing.T) {
	env := newTestEnv(t, nil)
	env.embedder.err = errBoom

	_, err := env.service.ProcessDocument(context.Background(), writeDoc(t, "doc.txt", "some text"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndex)
	assert.Zero(t, env.registry.Len())
	assert.Empty(t, env.publisher.events)

	list, err := env.service.Collections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProcessDocument_ConcurrentIngestionsGetDistinctIDs(t *testing.T) {
	env := newTestEnv(t, nil)
	path := writeDoc(t, "doc.txt", "The capital of France is Paris.")

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.service.ProcessDocument(context.Background(), path)
			errs[i] = err
			if err == nil {
				ids[i] = res.CollectionName
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "duplicate id %s", ids[i])
		seen[ids[i]] = true

		state, err := env.registry.State(context.Background(), ids[i])
		require.NoError(t, err)
		assert.Equal(t, registry.StateReady, state)
	}
	assert.Equal(t, n, env.registry.Len())
}

func TestProcessDocument_ConcurrentDistinctFilesStayIsolated(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	files := map[string]string{
		"france.txt": "The capital of France is Paris. Paris sits on the Seine. " +
			"France borders Spain and Italy. Lyon is a large French city.",
		"japan.txt": "Tokyo is the capital of Japan. Mount Fuji is the tallest peak. " +
			"Japan is an island nation. Osaka is known for its food.",
	}
	paths := map[string]string{}
	for name, content := range files {
		paths[name] = writeDoc(t, name, content)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		ids = map[string]string{}
	)
	for name, path := range paths {
		wg.Add(1)
		go func(name, path string) {
			defer wg.Done()
			res, err := env.service.ProcessDocument(ctx, path)
			assert.NoError(t, err)
			if err == nil {
				mu.Lock()
				ids[name] = res.CollectionName
				mu.Unlock()
			}
		}(name, path)
	}
	wg.Wait()
	require.Len(t, ids, 2)
	require.NotEqual(t, ids["france.txt"], ids["japan.txt"])

	queries := map[string]string{
		"france.txt": "What is the capital of France?",
		"japan.txt":  "What is the capital of Japan?",
	}
	for name, id := range ids {
		other := "japan.txt"
		if name == other {
			other = "france.txt"
		}
		for _, mode := range []string{ModeSimple, ModeFusion} {
			out, err := env.service.Query(ctx, QueryInput{Query: queries[name], IndexID: id, Mode: mode})
			require.NoError(t, err, "%s/%s", name, mode)
			require.NotEmpty(t, out.Sources, "%s/%s", name, mode)
			for _, src := range out.Sources {
				assert.Equal(t, name, src.Source, "%s/%s", name, mode)
				assert.True(t, strings.HasPrefix(src.ID, id+"-"), "chunk %s not from %s", src.ID, id)
				assert.NotContains(t, files[other], strings.TrimSpace(src.Content), "%s/%s", name, mode)
			}
		}
	}
}

func TestQuery_EvaluationFailureKeepsAnswer(t *testing.T) {
	env := newTestEnv(t, nil)
	env.chat.judge = func(ctx context.Context, prompt string) (string, error) {
		return "", errBoom
	}
	ctx := context.Background()

	res, err := env.service.ProcessDocument(ctx, writeDoc(t, "doc.txt", "The capital of France is Paris."))
	require.NoError(t, err)

	out, err := env.service.Query(ctx, QueryInput{Query: "What is the capital of France?", IndexID: res.CollectionName})
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "Paris")
	assert.False(t, out.Evaluation.Available)
	assert.Nil(t, out.Evaluation.FaithfulnessScore)
	assert.Nil(t, out.Evaluation.RelevancyPassing)
	assert.NotEmpty(t, out.Evaluation.Message)
}

func TestQuery_PartialEvaluation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.chat.judge = func(ctx context.Context, prompt string) (string, error) {
		if strings.HasPrefix(prompt, "Your task") {
			return "", errBoom
		}
		return "NO", nil
	}
	ctx := context.Background()

	res, err := env.service.ProcessDocument(ctx, writeDoc(t, "doc.txt", "The capital of France is Paris."))
	require.NoError(t, err)

	out, err := env.service.Query(ctx, QueryInput{Query: "capital?", IndexID: res.CollectionName})
	require.NoError(t, err)
	require.NotNil(t, out.Evaluation.FaithfulnessScore)
	assert.Equal(t, 0.0, *out.Evaluation.FaithfulnessScore)
	assert.False(t, *out.Evaluation.FaithfulnessPassing)
	assert.Nil(t, out.Evaluation.RelevancyScore)
	assert.False(t, out.Evaluation.Available)
	assert.Equal(t, "relevancy evaluation unavailable", out.Evaluation.Message)
}

func TestQuery_EvaluationDisabled(t *testing.T) {
	env := newTestEnv(t, nil, withEvaluation(false))
	ctx := context.Background()

	res, err := env.service.ProcessDocument(ctx, writeDoc(t, "doc.txt", "The capital of France is Paris."))
	require.NoError(t, err)

	out, err := env.service.Query(ctx, QueryInput{Query: "capital?", IndexID: res.CollectionName})
	require.NoError(t, err)
	assert.False(t, out.Evaluation.Available)
	assert.Zero(t, env.chat.countPrompts("YES or NO"))
}

func TestQuery_GenerationFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.chat.answer = func(ctx context.Context, prompt string) (string, error) {
		return "", errBoom
	}
	ctx := context.Background()

	res, err := env.service.ProcessDocument(ctx, writeDoc(t, "doc.txt", "The capital of France is Paris."))
	require.NoError(t, err)

	_, err = env.service.Query(ctx, QueryInput{Query: "capital?", IndexID: res.CollectionName})
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Equal(t, "failed to generate answer", PublicMessage(err))
}

func TestQuery_ExpansionFailureIsGenerationError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.chat.expandErr = errBoom
	ctx := context.Background()

	res, err := env.service.ProcessDocument(ctx, writeDoc(t, "doc.txt", "The capital of France is Paris."))
	require.NoError(t, err)

	_, err = env.service.Query(ctx, QueryInput{Query: "capital?", IndexID: res.CollectionName, Mode: ModeFusion})
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestQuery_DeadlineMapsToTimeout(t *testing.T) {
	env := newTestEnv(t, nil, withQueryTimeout(50*time.Millisecond))
	env.chat.answer = func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	ctx := context.Background()

	res, err := env.service.ProcessDocument(ctx, writeDoc(t, "doc.txt", "The capital of France is Paris."))
	require.NoError(t, err)

	_, err = env.service.Query(ctx, QueryInput{Query: "capital?", IndexID: res.CollectionName})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRestoreRegistry(t *testing.T) {
	db := openTestDB(t)
	first := newTestEnv(t, db)
	ctx := context.Background()

	res, err := first.service.ProcessDocument(ctx, writeDoc(t, "doc.txt", "The capital of France is Paris."))
	require.NoError(t, err)

	restarted := newTestEnv(t, db)
	_, err = restarted.service.Query(ctx, QueryInput{Query: "capital?", IndexID: res.CollectionName})
	require.ErrorIs(t, err, ErrCollectionNotFound)

	n, err := restarted.service.RestoreRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out, err := restarted.service.Query(ctx, QueryInput{Query: "What is the capital of France?", IndexID: res.CollectionName})
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "Paris")

	n, err = restarted.service.RestoreRegistry(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublishFailureDoesNotFailIngestion(t *testing.T) {
	env := newTestEnv(t, nil)
	env.publisher.err = errors.New("broker down")

	res, err := env.service.ProcessDocument(context.Background(), writeDoc(t, "doc.txt", "hello world"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.CollectionName)
}
