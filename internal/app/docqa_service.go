package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"docqa/internal/ai"
	"docqa/internal/model"
	"docqa/internal/registry"
)

var ErrCollectionNotFound = errors.New("collection not found")

const (
	defaultQueryTimeout  = 120 * time.Second
	defaultIngestTimeout = 300 * time.Second
)

const textQAPrompt = `Context information is below.
---------------------
%s
---------------------
Given the context information and not prior knowledge, answer the query.
Query: %s
Answer: `

type DocumentIngestor interface {
	IngestFile(ctx context.Context, path string) ([]model.Document, error)
	IngestURL(ctx context.Context, rawURL string) ([]model.Document, error)
}

type DocQAOptions struct {
	QueryTimeout      time.Duration
	IngestTimeout     time.Duration
	DefaultMode       string
	EvaluationEnabled bool
	// Origin identifies this process in published collection events.
	Origin string
}

// DocQAService turns documents into queryable collections and answers questions
// against them.
type DocQAService struct {
	ingestor   DocumentIngestor
	store      *IndexStore
	registry   registry.Registry
	retrievers map[string]Retriever
	chat       ChatModel
	evaluator  *Evaluator
	publisher  EventPublisher
	opts       DocQAOptions
	newID      func() string
}

type IngestResult struct {
	CollectionName string `json:"collection_name"`
	DocumentCount  int    `json:"document_count"`
	ChunkCount     int    `json:"chunk_count"`
}

type QueryInput struct {
	Query   string
	IndexID string
	Mode    string
}

// Source is a retrieved chunk as shown to clients.
type Source struct {
	ID      string  `json:"id"`
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type QueryResult struct {
	Answer     string     `json:"response"`
	Mode       string     `json:"mode"`
	Sources    []Source   `json:"sources"`
	Evaluation Evaluation `json:"evaluation"`
}

func NewDocQAService(
	ingestor DocumentIngestor,
	store *IndexStore,
	reg registry.Registry,
	retrievers map[string]Retriever,
	chat ChatModel,
	evaluator *Evaluator,
	publisher EventPublisher,
	opts DocQAOptions,
) *DocQAService {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.IngestTimeout <= 0 {
		opts.IngestTimeout = defaultIngestTimeout
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModeSimple
	}
	return &DocQAService{
		ingestor:   ingestor,
		store:      store,
		registry:   reg,
		retrievers: retrievers,
		chat:       chat,
		evaluator:  evaluator,
		publisher:  publisher,
		opts:       opts,
		newID:      uuid.NewString,
	}
}

// ProcessDocument ingests a saved upload into a new collection.
func (s *DocQAService) ProcessDocument(ctx context.Context, path string) (*IngestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.IngestTimeout)
	defer cancel()

	docs, err := s.ingestor.IngestFile(ctx, path)
	if err != nil {
		return nil, newError(ErrIngest, "failed to process document: "+err.Error(), err)
	}
	return s.buildCollection(ctx, docs, model.SourceTypeFile)
}

// ProcessURL fetches a web page into a new collection.
func (s *DocQAService) ProcessURL(ctx context.Context, rawURL string) (*IngestResult, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, newError(ErrInvalidInput, "url is required", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.IngestTimeout)
	defer cancel()

	docs, err := s.ingestor.IngestURL(ctx, rawURL)
	if err != nil {
		return nil, newError(ErrIngest, "failed to process url: "+err.Error(), err)
	}
	return s.buildCollection(ctx, docs, model.SourceTypeURL)
}

// buildCollection registers a fresh id, builds its index and marks it ready. A failed
// build leaves no trace in the registry.
func (s *DocQAService) buildCollection(ctx context.Context, docs []model.Document, sourceType string) (*IngestResult, error) {
	for i := range docs {
		if docs[i].SourceType == "" {
			docs[i].SourceType = sourceType
		}
	}

	id := s.newID()
	if err := s.registry.Begin(ctx, id); err != nil {
		return nil, newError(ErrIndex, "failed to register collection", err)
	}

	started := time.Now()
	handle, err := s.store.BuildIndex(ctx, docs, id)
	if err == nil {
		if markErr := s.registry.MarkReady(ctx, id); markErr != nil {
			err = newError(ErrIndex, "failed to register collection", markErr)
		}
	}
	if err != nil {
		if abortErr := s.registry.Abort(context.WithoutCancel(ctx), id); abortErr != nil {
			log.Printf("index: abort collection %s failed: %v", id, abortErr)
		}
		return nil, err
	}

	log.Printf("index: collection=%s documents=%d chunks=%d elapsed=%s",
		id, len(docs), handle.AddedChunks, time.Since(started).Round(time.Millisecond))

	s.publishReady(ctx, handle.Collection)

	return &IngestResult{
		CollectionName: id,
		DocumentCount:  handle.Collection.DocumentCount,
		ChunkCount:     handle.Collection.ChunkCount,
	}, nil
}

func (s *DocQAService) publishReady(ctx context.Context, collection model.Collection) {
	if s.publisher == nil {
		return
	}
	event := model.CollectionEvent{
		CollectionName: collection.ID,
		SourceType:     collection.SourceType,
		Source:         collection.Source,
		ChunkCount:     collection.ChunkCount,
		Origin:         s.opts.Origin,
		ReadyAt:        time.Now().UTC(),
	}
	if err := s.publisher.PublishCollectionReady(context.WithoutCancel(ctx), event); err != nil {
		log.Printf("publish collection ready event failed: %v", err)
	}
}

// Query answers a question against a ready collection and attaches the evaluation.
func (s *DocQAService) Query(ctx context.Context, input QueryInput) (*QueryResult, error) {
	query := strings.TrimSpace(input.Query)
	indexID := strings.TrimSpace(input.IndexID)
	if query == "" {
		return nil, newError(ErrInvalidInput, "query is required", nil)
	}
	if indexID == "" {
		return nil, newError(ErrInvalidInput, "index_id is required", nil)
	}
	mode := input.Mode
	if mode == "" {
		mode = s.opts.DefaultMode
	}
	retriever, ok := s.retrievers[mode]
	if !ok {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("unknown retrieval mode %q", mode), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	state, err := s.registry.State(ctx, indexID)
	if err != nil {
		return nil, newError(ErrRetrieval, "failed to look up collection", err)
	}
	if state != registry.StateReady {
		return nil, newError(ErrRetrieval, "invalid or unknown index_id: "+indexID, ErrCollectionNotFound)
	}

	collection, err := s.store.Collection(ctx, indexID)
	if err != nil {
		return nil, err
	}
	if collection == nil {
		return nil, newError(ErrRetrieval, "index_id is not present in this store: "+indexID, ErrCollectionNotFound)
	}
	chunks, err := s.store.Chunks(ctx, indexID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, newError(ErrRetrieval, "collection has no indexed content", ErrCollectionNotFound)
	}

	started := time.Now()
	retrieved, err := retriever.Retrieve(ctx, query, chunks)
	if err != nil {
		return nil, err
	}

	contexts := make([]string, len(retrieved))
	sources := make([]Source, len(retrieved))
	for i, sc := range retrieved {
		contexts[i] = sc.Chunk.Content
		sources[i] = Source{
			ID:      sc.Chunk.ID,
			Source:  sc.Chunk.Source,
			Content: sc.Chunk.Content,
			Score:   sc.Score,
		}
	}

	answer, err := s.chat.Complete(ctx, []ai.ChatMessage{
		{Role: "user", Content: fmt.Sprintf(textQAPrompt, strings.Join(contexts, "\n\n"), query)},
	})
	if err != nil {
		return nil, newError(ErrGeneration, "failed to generate answer", err)
	}
	answer = strings.TrimSpace(answer)

	evaluation := Evaluation{Message: "evaluation disabled"}
	if s.opts.EvaluationEnabled && s.evaluator != nil {
		evaluation = s.evaluator.Evaluate(ctx, query, answer, contexts)
	}

	log.Printf("query: collection=%s mode=%s sources=%d evaluation_available=%t elapsed=%s",
		indexID, mode, len(sources), evaluation.Available, time.Since(started).Round(time.Millisecond))

	return &QueryResult{
		Answer:     answer,
		Mode:       mode,
		Sources:    sources,
		Evaluation: evaluation,
	}, nil
}

// Collections lists every persisted collection, newest first.
func (s *DocQAService) Collections(ctx context.Context) ([]model.Collection, error) {
	return s.store.ListCollections(ctx)
}

// RestoreRegistry marks every persisted collection ready so that indices built
// before a restart stay queryable. It returns how many ids were added.
func (s *DocQAService) RestoreRegistry(ctx context.Context) (int, error) {
	list, err := s.store.ListCollections(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, c := range list {
		if c.ChunkCount == 0 {
			continue
		}
		state, err := s.registry.State(ctx, c.ID)
		if err != nil {
			return restored, fmt.Errorf("read registry state of %s failed: %w", c.ID, err)
		}
		if state != registry.StateAbsent {
			continue
		}
		if err := s.registry.MarkReady(ctx, c.ID); err != nil {
			return restored, fmt.Errorf("restore collection %s failed: %w", c.ID, err)
		}
		restored++
	}
	return restored, nil
}

// Ping checks the index store.
func (s *DocQAService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
