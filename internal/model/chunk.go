package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Chunk is a stored node of a collection: retrievable text plus its embedding.
// Embedding is stored as JSON array of float64 for portability across sqlite and mysql.
type Chunk struct {
	ID            string    `gorm:"primaryKey;size:80" json:"id"`
	CollectionID  string    `gorm:"size:64;not null;index:idx_chunk_collection_seq,priority:1" json:"collection_id"`
	Seq           int       `gorm:"not null;index:idx_chunk_collection_seq,priority:2" json:"seq"`
	DocumentIndex int       `gorm:"not null" json:"document_index"`
	Source        string    `gorm:"size:2048" json:"source"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	Embedding     string    `gorm:"type:text" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// ChunkID returns the deterministic identifier of the seq-th chunk of a collection.
func ChunkID(collectionID string, seq int) string {
	return fmt.Sprintf("%s-%06d", collectionID, seq)
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *Chunk) EmbeddingVector() []float64 {
	if c.Embedding == "" {
		return nil
	}
	var v []float64
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (c *Chunk) SetEmbedding(vec []float64) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}

// ScoredChunk is a chunk returned by a retriever together with its score.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}
