package repository

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"docqa/internal/model"
)

const chunkInsertBatchSize = 200

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *ChunkRepository) WithTx(tx *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

func (r *ChunkRepository) CreateBatch(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&chunks, chunkInsertBatchSize).Error; err != nil {
		return fmt.Errorf("create chunks batch failed: %w", err)
	}
	return nil
}

// NextSeq returns the sequence number the next appended chunk should use.
func (r *ChunkRepository) NextSeq(ctx context.Context, collectionID string) (int, error) {
	var maxSeq sql.NullInt64
	row := r.db.WithContext(ctx).Model(&model.Chunk{}).
		Where("collection_id = ?", collectionID).
		Select("MAX(seq)").
		Row()
	if err := row.Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("read max chunk seq failed: %w", err)
	}
	if !maxSeq.Valid {
		return 0, nil
	}
	return int(maxSeq.Int64) + 1, nil
}

// ListByCollectionID returns all chunks of a collection ordered by seq.
func (r *ChunkRepository) ListByCollectionID(ctx context.Context, collectionID string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	if err := r.db.WithContext(ctx).Where("collection_id = ?", collectionID).Order("seq ASC").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks by collection failed: %w", err)
	}
	return chunks, nil
}
