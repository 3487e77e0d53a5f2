package model

// Document is one unit of ingested text. It is never persisted on its own;
// index construction turns it into chunks.
type Document struct {
	Text       string
	Source     string
	SourceType string
	Metadata   map[string]string
}
