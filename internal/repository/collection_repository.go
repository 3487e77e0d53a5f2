package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docqa/internal/model"
)

type CollectionRepository struct {
	db *gorm.DB
}

func NewCollectionRepository(db *gorm.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *CollectionRepository) WithTx(tx *gorm.DB) *CollectionRepository {
	return &CollectionRepository{db: tx}
}

// GetOrCreate opens the collection with the given id, creating it when missing.
// Reusing an id reopens the same row.
func (r *CollectionRepository) GetOrCreate(ctx context.Context, seed *model.Collection) (*model.Collection, error) {
	var collection model.Collection
	err := r.db.WithContext(ctx).
		Where(model.Collection{ID: seed.ID}).
		Attrs(model.Collection{SourceType: seed.SourceType, Source: seed.Source}).
		FirstOrCreate(&collection).Error
	if err != nil {
		return nil, fmt.Errorf("get or create collection failed: %w", err)
	}
	return &collection, nil
}

func (r *CollectionRepository) GetByID(ctx context.Context, id string) (*model.Collection, error) {
	var collection model.Collection
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&collection).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get collection failed: %w", err)
	}
	return &collection, nil
}

func (r *CollectionRepository) List(ctx context.Context) ([]model.Collection, error) {
	var list []model.Collection
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list collections failed: %w", err)
	}
	return list, nil
}

// AddCounts increments the document and chunk counters of a collection.
func (r *CollectionRepository) AddCounts(ctx context.Context, id string, documents, chunks int) error {
	err := r.db.WithContext(ctx).Model(&model.Collection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"document_count": gorm.Expr("document_count + ?", documents),
			"chunk_count":    gorm.Expr("chunk_count + ?", chunks),
		}).Error
	if err != nil {
		return fmt.Errorf("update collection counts failed: %w", err)
	}
	return nil
}
