package model

import "time"

const (
	SourceTypeFile = "file"
	SourceTypeURL  = "url"
)

// Collection names one persisted vector index. ID doubles as the collection name.
type Collection struct {
	ID            string    `gorm:"primaryKey;size:64" json:"collection_name"`
	SourceType    string    `gorm:"size:16" json:"source_type"`
	Source        string    `gorm:"size:2048" json:"source"`
	DocumentCount int       `gorm:"not null;default:0" json:"document_count"`
	ChunkCount    int       `gorm:"not null;default:0" json:"chunk_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CollectionEvent is broadcast when a collection becomes queryable.
type CollectionEvent struct {
	CollectionName string    `json:"collection_name"`
	SourceType     string    `json:"source_type"`
	Source         string    `json:"source"`
	ChunkCount     int       `json:"chunk_count"`
	Origin         string    `json:"origin"`
	ReadyAt        time.Time `json:"ready_at"`
}
