package app

import (
	"context"

	"docqa/internal/ai"
	"docqa/internal/model"
)

// ChatModel is the completion side of the LLM collaborator.
type ChatModel interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

// Embedder turns text into vectors. EmbedBatch returns one vector per input, in order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// EventPublisher announces collections that became queryable.
type EventPublisher interface {
	PublishCollectionReady(ctx context.Context, event model.CollectionEvent) error
}
