// Package mcp exposes the knowledge-base engine to external answer
// generation collaborators over the Model Context Protocol.
package mcp

import "time"

// SearchKnowledgeInput defines the input for the search_knowledge tool.
type SearchKnowledgeInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"required,description=The semantic search query"`
	// Databases names the knowledge bases to search. Empty means all.
	Databases []string `json:"databases,omitempty" jsonschema:"description=Knowledge base names to search; all databases when omitted"`
	// MaxResults caps the merged ranked result set.
	MaxResults int `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=20,default=5,description=Maximum number of chunks to return"`
}

// SearchKnowledgeOutput contains the ranked retrieval results.
type SearchKnowledgeOutput struct {
	Results    []ChunkResult `json:"results"`
	Confidence float64       `json:"confidence"`
	// Message carries informational context such as the no-content marker.
	Message string `json:"message,omitempty"`
}

// ChunkResult is one retrieved chunk.
type ChunkResult struct {
	Content        string  `json:"content"`
	SourceDatabase string  `json:"source_database"`
	SourceFile     string  `json:"source_file"`
	Distance       float64 `json:"distance"`
}

// ListDatabasesInput takes no parameters.
type ListDatabasesInput struct{}

// ListDatabasesOutput enumerates the knowledge bases on disk.
type ListDatabasesOutput struct {
	Databases []DatabaseSummary `json:"databases"`
	Count     int               `json:"count"`
}

// DatabaseSummary is the decrypted metadata of one database.
type DatabaseSummary struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
	DocumentCount uint64    `json:"document_count"`
}

// StatusInput takes no parameters.
type StatusInput struct{}

// StatusOutput reports aggregate store status.
type StatusOutput struct {
	TotalDatabases int      `json:"total_databases"`
	TotalChunks    uint64   `json:"total_chunks"`
	DatabaseNames  []string `json:"database_names"`
}
