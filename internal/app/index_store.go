package app

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"docqa/internal/model"
	"docqa/internal/repository"
)

const (
	defaultChunkSize          = 1024
	defaultChunkOverlap       = 128
	defaultEmbeddingBatchSize = 64
	maxCollectionNameLen      = 64
)

type IndexStoreOptions struct {
	ChunkSize          int
	ChunkOverlap       int
	EmbeddingBatchSize int
}

// IndexStore persists collections of embedded chunks.
type IndexStore struct {
	db             *gorm.DB
	collectionRepo *repository.CollectionRepository
	chunkRepo      *repository.ChunkRepository
	embedder       Embedder
	opts           IndexStoreOptions
}

// IndexHandle describes a collection after a successful build.
type IndexHandle struct {
	Collection  model.Collection
	AddedChunks int
}

func NewIndexStore(
	db *gorm.DB,
	collectionRepo *repository.CollectionRepository,
	chunkRepo *repository.ChunkRepository,
	embedder Embedder,
	opts IndexStoreOptions,
) *IndexStore {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.EmbeddingBatchSize <= 0 {
		opts.EmbeddingBatchSize = defaultEmbeddingBatchSize
	}
	return &IndexStore{
		db:             db,
		collectionRepo: collectionRepo,
		chunkRepo:      chunkRepo,
		embedder:       embedder,
		opts:           opts,
	}
}

func validateCollectionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return newError(ErrInvalidInput, "collection name is required", nil)
	}
	if len(name) > maxCollectionNameLen {
		return newError(ErrInvalidInput, "collection name is too long", nil)
	}
	return nil
}

// GetOrCreateCollection opens the named collection, creating an empty one if needed.
func (s *IndexStore) GetOrCreateCollection(ctx context.Context, name string) (*model.Collection, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	collection, err := s.collectionRepo.GetOrCreate(ctx, &model.Collection{ID: name})
	if err != nil {
		return nil, newError(ErrIndex, "failed to open collection", err)
	}
	return collection, nil
}

// BuildIndex chunks and embeds docs, then appends them to the named collection in a
// single transaction. On error nothing is persisted.
func (s *IndexStore) BuildIndex(ctx context.Context, docs []model.Document, name string) (*IndexHandle, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, newError(ErrInvalidInput, "no documents to index", nil)
	}

	var chunks []model.Chunk
	for docIdx, doc := range docs {
		for _, piece := range chunkText(doc.Text, s.opts.ChunkSize, s.opts.ChunkOverlap) {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			chunks = append(chunks, model.Chunk{
				CollectionID:  name,
				DocumentIndex: docIdx,
				Source:        doc.Source,
				Content:       piece,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, newError(ErrIndex, "documents produced no indexable text", nil)
	}

	if err := s.embedChunks(ctx, chunks); err != nil {
		return nil, err
	}

	var handle IndexHandle
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		collectionRepo := s.collectionRepo.WithTx(tx)
		chunkRepo := s.chunkRepo.WithTx(tx)

		seed := &model.Collection{ID: name, SourceType: docs[0].SourceType, Source: docs[0].Source}
		if _, err := collectionRepo.GetOrCreate(ctx, seed); err != nil {
			return err
		}
		next, err := chunkRepo.NextSeq(ctx, name)
		if err != nil {
			return err
		}
		for i := range chunks {
			chunks[i].Seq = next + i
			chunks[i].ID = model.ChunkID(name, next+i)
		}
		if err := chunkRepo.CreateBatch(ctx, chunks); err != nil {
			return err
		}
		if err := collectionRepo.AddCounts(ctx, name, len(docs), len(chunks)); err != nil {
			return err
		}
		collection, err := collectionRepo.GetByID(ctx, name)
		if err != nil {
			return err
		}
		if collection == nil {
			return fmt.Errorf("collection %s vanished during build", name)
		}
		handle.Collection = *collection
		handle.AddedChunks = len(chunks)
		return nil
	})
	if err != nil {
		return nil, newError(ErrIndex, "failed to persist index", err)
	}
	return &handle, nil
}

func (s *IndexStore) embedChunks(ctx context.Context, chunks []model.Chunk) error {
	batchSize := s.opts.EmbeddingBatchSize
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Content
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return newError(ErrIndex, "failed to embed document chunks", err)
		}
		if len(vectors) != len(texts) {
			return newError(ErrIndex, "failed to embed document chunks",
				fmt.Errorf("embedding count mismatch: got %d want %d", len(vectors), len(texts)))
		}
		for i, vec := range vectors {
			chunks[start+i].SetEmbedding(vec)
		}
	}
	return nil
}

// Collection returns the named collection or nil when it does not exist.
func (s *IndexStore) Collection(ctx context.Context, name string) (*model.Collection, error) {
	collection, err := s.collectionRepo.GetByID(ctx, name)
	if err != nil {
		return nil, newError(ErrRetrieval, "failed to load collection", err)
	}
	return collection, nil
}

// Chunks returns the stored nodes of a collection in insertion order.
func (s *IndexStore) Chunks(ctx context.Context, name string) ([]model.Chunk, error) {
	chunks, err := s.chunkRepo.ListByCollectionID(ctx, name)
	if err != nil {
		return nil, newError(ErrRetrieval, "failed to load collection chunks", err)
	}
	return chunks, nil
}

func (s *IndexStore) ListCollections(ctx context.Context) ([]model.Collection, error) {
	list, err := s.collectionRepo.List(ctx)
	if err != nil {
		return nil, newError(ErrIndex, "failed to list collections", err)
	}
	return list, nil
}

func (s *IndexStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// chunkText splits text into overlapping chunks by rune count.
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap >= size {
		overlap = size / 2
	}
	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		i += size - overlap
		if end == len(runes) {
			break
		}
	}
	return chunks
}
