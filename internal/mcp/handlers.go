package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/knowvault/knowvault/internal/retrieval"
	"github.com/knowvault/knowvault/internal/store"
)

const noContentMessage = "No relevant content found in the selected databases."

// makeSearchHandler creates the search_knowledge tool handler.
// Search flow:
// 1. Resolve database names (all stored databases when none given)
// 2. Run the retrieval coordinator across them
// 3. Return the merged ranked chunks with the confidence estimate
func makeSearchHandler(manager *store.Manager, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, SearchKnowledgeInput,
) (*mcp.CallToolResult, SearchKnowledgeOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchKnowledgeInput) (
		*mcp.CallToolResult, SearchKnowledgeOutput, error,
	) {
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = 5
		}

		databases := input.Databases
		if len(databases) == 0 {
			infos, err := manager.List(ctx)
			if err != nil {
				return nil, SearchKnowledgeOutput{}, fmt.Errorf("failed to list databases: %w", err)
			}
			for _, info := range infos {
				databases = append(databases, info.Name)
			}
		}

		coordinator := retrieval.New(manager, maxResults, logger)
		set, err := coordinator.Retrieve(ctx, input.Query, databases)
		if err != nil {
			return nil, SearchKnowledgeOutput{}, fmt.Errorf("search failed: %w", err)
		}

		if set.NoContent {
			return nil, SearchKnowledgeOutput{
				Results:    []ChunkResult{},
				Confidence: 0,
				Message:    noContentMessage,
			}, nil
		}

		results := make([]ChunkResult, 0, len(set.Results))
		for _, r := range set.Results {
			results = append(results, ChunkResult{
				Content:        r.Content,
				SourceDatabase: r.SourceDatabase,
				SourceFile:     r.Metadata.SourceFile,
				Distance:       r.Distance,
			})
		}

		return nil, SearchKnowledgeOutput{
			Results:    results,
			Confidence: set.Confidence,
		}, nil
	}
}

// makeListHandler creates the list_databases tool handler.
func makeListHandler(manager *store.Manager) func(
	context.Context, *mcp.CallToolRequest, ListDatabasesInput,
) (*mcp.CallToolResult, ListDatabasesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListDatabasesInput) (
		*mcp.CallToolResult, ListDatabasesOutput, error,
	) {
		infos, err := manager.List(ctx)
		if err != nil {
			return nil, ListDatabasesOutput{}, fmt.Errorf("failed to list databases: %w", err)
		}

		databases := make([]DatabaseSummary, 0, len(infos))
		for _, info := range infos {
			databases = append(databases, DatabaseSummary{
				Name:          info.Name,
				Description:   info.Description,
				CreatedAt:     info.CreatedAt,
				DocumentCount: info.DocumentCount,
			})
		}

		return nil, ListDatabasesOutput{
			Databases: databases,
			Count:     len(databases),
		}, nil
	}
}

// makeStatusHandler creates the get_store_status tool handler.
func makeStatusHandler(manager *store.Manager) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		infos, err := manager.List(ctx)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("failed to list databases: %w", err)
		}

		out := StatusOutput{
			TotalDatabases: len(infos),
			DatabaseNames:  make([]string, 0, len(infos)),
		}
		for _, info := range infos {
			out.DatabaseNames = append(out.DatabaseNames, info.Name)
			out.TotalChunks += info.DocumentCount
		}

		return nil, out, nil
	}
}
