// Package main provides the knowvault CLI for managing encrypted knowledge bases.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/knowvault/knowvault/internal/chunker"
	"github.com/knowvault/knowvault/internal/crypto"
	"github.com/knowvault/knowvault/internal/embedding"
	"github.com/knowvault/knowvault/internal/generation"
	"github.com/knowvault/knowvault/internal/ingest"
	"github.com/knowvault/knowvault/internal/rag"
	"github.com/knowvault/knowvault/internal/retrieval"
	ghsource "github.com/knowvault/knowvault/internal/source/github"
	"github.com/knowvault/knowvault/internal/store"
	"github.com/knowvault/knowvault/internal/vectorstore"
)

var (
	flagRoot         string
	flagDatabases    []string
	flagMode         string
	flagChunkSize    int
	flagChunkOverlap int
	flagMaxResults   int
	flagColumn       string
	flagGitHubRepo   string
	flagGitHubPath   string
	flagDescription  string
)

var rootCmd = &cobra.Command{
	Use:   "knowvault",
	Short: "Local encrypted knowledge base manager",
	Long: `knowvault manages password protected knowledge bases backed by a
vector store. Documents are chunked, embedded and stored per database;
queries retrieve the closest chunks across one or more databases and can
be answered with a language model.

Environment variables:
  KNOWVAULT_ROOT        Databases root directory (default: ./databases)
  KNOWVAULT_PASSPHRASE  Passphrase (prompted when unset)
  QDRANT_HOST           Qdrant hostname (default: localhost)
  QDRANT_PORT           Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY        OpenAI API key, required for ingest, query and ask
  GITHUB_TOKEN          GitHub token for higher rate limits (optional)`,
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage knowledge base databases",
}

var dbCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new encrypted database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx, false, false)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.manager.Create(ctx, args[0], flagDescription); err != nil {
			return fmt.Errorf("create database: %w", err)
		}
		fmt.Printf("Created database %q\n", args[0])
		return nil
	},
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all databases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx, false, false)
		if err != nil {
			return err
		}
		defer app.Close()

		infos, err := app.manager.List(ctx)
		if err != nil {
			return fmt.Errorf("list databases: %w", err)
		}
		if len(infos) == 0 {
			fmt.Println("No databases found.")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%-24s %6d chunks  created %s  %s\n",
				info.Name, info.DocumentCount,
				info.CreatedAt.Format("2006-01-02"), info.Description)
		}
		return nil
	},
}

var dbDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a database and all its content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx, false, false)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.manager.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("delete database: %w", err)
		}
		fmt.Printf("Deleted database %q\n", args[0])
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Chunk and store documents in a database",
	Long: `Chunks the given files and stores them in the database named by --db.
With --github owner/repo, markdown files are downloaded from the
repository (optionally scoped by --path) and ingested instead of local
files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(flagDatabases) != 1 {
			return errors.New("ingest requires exactly one --db")
		}
		mode := chunker.ParseMode(flagMode)

		app, err := buildApp(ctx, true, false)
		if err != nil {
			return err
		}
		defer app.Close()

		paths := args
		if flagGitHubRepo != "" {
			paths, err = downloadGitHubDocs(ctx, flagGitHubRepo, flagGitHubPath)
			if err != nil {
				return err
			}
		}
		if len(paths) == 0 {
			return errors.New("no files to ingest")
		}

		// An explicit CSV column bypasses the batch pipeline's first-column
		// default.
		if flagColumn != "" {
			return ingestCSVColumn(ctx, app, flagDatabases[0], paths)
		}

		result, err := app.pipeline.IngestFiles(ctx, flagDatabases[0], paths, mode, nil, func(stage string) {
			fmt.Println(stage)
		})
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}

		fmt.Printf("\nIngested %d/%d files (%d chunks) in %s\n",
			result.SuccessfulFiles, result.TotalFiles, result.TotalChunks,
			result.Duration.Round(time.Millisecond))
		for _, f := range result.FailedFiles {
			fmt.Printf("  failed: %s: %s\n", f.Path, f.Reason)
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Similarity search across databases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx, true, false)
		if err != nil {
			return err
		}
		defer app.Close()

		databases, err := resolveDatabases(ctx, app.manager)
		if err != nil {
			return err
		}

		set, err := app.coordinator.Retrieve(ctx, args[0], databases)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		if set.NoContent {
			fmt.Println(rag.NoContentAnswer)
			return nil
		}

		fmt.Printf("Confidence: %.2f\n\n", set.Confidence)
		for i, r := range set.Results {
			fmt.Printf("[%d] %s (%s, distance %.4f)\n%s\n\n",
				i+1, r.Metadata.SourceFile, r.SourceDatabase, r.Distance, r.Content)
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the knowledge bases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx, true, true)
		if err != nil {
			return err
		}
		defer app.Close()

		databases, err := resolveDatabases(ctx, app.manager)
		if err != nil {
			return err
		}

		answer, err := app.pipeline.Ask(ctx, args[0], databases, func(stage string) {
			fmt.Fprintln(os.Stderr, stage)
		})
		if err != nil {
			return fmt.Errorf("ask: %w", err)
		}

		fmt.Println(answer.Answer)
		if len(answer.Sources) > 0 {
			fmt.Printf("\nConfidence: %.2f\nSources:\n", answer.Confidence)
			for _, s := range answer.Sources {
				fmt.Printf("  - %s (%s)\n", s.Metadata.SourceFile, s.Database)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "databases root directory (default $KNOWVAULT_ROOT or ./databases)")

	ingestCmd.Flags().StringSliceVar(&flagDatabases, "db", nil, "target database")
	ingestCmd.Flags().StringVar(&flagMode, "mode", "general", "chunking mode: general, statute or letter")
	ingestCmd.Flags().IntVar(&flagChunkSize, "chunk-size", chunker.DefaultChunkSize, "chunk size in characters")
	ingestCmd.Flags().IntVar(&flagChunkOverlap, "chunk-overlap", chunker.DefaultChunkOverlap, "chunk overlap in characters")
	ingestCmd.Flags().StringVar(&flagColumn, "column", "", "CSV content column (name or index)")
	ingestCmd.Flags().StringVar(&flagGitHubRepo, "github", "", "GitHub repository as owner/repo")
	ingestCmd.Flags().StringVar(&flagGitHubPath, "path", "", "path inside the GitHub repository")

	queryCmd.Flags().StringSliceVar(&flagDatabases, "db", nil, "databases to search (all when omitted)")
	queryCmd.Flags().IntVar(&flagMaxResults, "n", 5, "maximum results")
	askCmd.Flags().StringSliceVar(&flagDatabases, "db", nil, "databases to search (all when omitted)")
	askCmd.Flags().IntVar(&flagMaxResults, "n", 5, "maximum chunks used as context")

	dbCreateCmd.Flags().StringVar(&flagDescription, "description", "", "database description")

	dbCmd.AddCommand(dbCreateCmd, dbListCmd, dbDeleteCmd)
	rootCmd.AddCommand(dbCmd, ingestCmd, queryCmd, askCmd)
}

func main() {
	// Load .env if present for local development, ignore when missing.
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the wired components behind the CLI commands.
type app struct {
	manager     *store.Manager
	coordinator *retrieval.Coordinator
	pipeline    *rag.Pipeline
	ingestor    *ingest.Ingestor
	vectors     vectorstore.Provider
}

func (a *app) Close() {
	if a.vectors != nil {
		a.vectors.Close()
	}
}

// offlineEmbedder backs collection wiring for management commands that never
// embed. Its dimension keeps vector collections consistent with the real
// embedder; any embed attempt reports the missing configuration.
type offlineEmbedder struct {
	dimension int
}

func (e offlineEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("OPENAI_API_KEY environment variable not set")
}

func (e offlineEmbedder) Dimension() int { return e.dimension }

// buildApp wires the components a command needs. Metadata commands pass
// needEmbedder=false so database management works without an OpenAI key;
// only ask needs the generator.
func buildApp(ctx context.Context, needEmbedder, needGenerator bool) (*app, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	passphrase, err := readPassphrase()
	if err != nil {
		return nil, err
	}
	keyring := crypto.NewKeyring(passphrase)

	var embedder embedding.Embedder
	if needEmbedder || os.Getenv("OPENAI_API_KEY") != "" {
		embedder, err = embedding.NewOpenAI(getEnv("EMBEDDING_MODEL", embedding.DefaultModel), 0)
		if err != nil {
			return nil, err
		}
	} else {
		embedder = offlineEmbedder{dimension: embedding.DefaultDimension}
	}

	var vectors vectorstore.Provider
	if getEnv("VECTOR_BACKEND", "qdrant") == "memory" {
		vectors = vectorstore.NewMemoryProvider(embedder)
	} else {
		vectors, err = vectorstore.NewQdrantProvider(
			getEnv("QDRANT_HOST", "localhost"),
			getEnvInt("QDRANT_PORT", 6334),
			embedder,
		)
		if err != nil {
			return nil, fmt.Errorf("connect to Qdrant: %w", err)
		}
	}

	root := flagRoot
	if root == "" {
		root = getEnv("KNOWVAULT_ROOT", "./databases")
	}

	manager, err := store.NewManager(root, keyring, vectors, store.NewRegistry(), logger)
	if err != nil {
		vectors.Close()
		return nil, fmt.Errorf("open databases root: %w", err)
	}

	chunkOpts := []chunker.Option{}
	if flagChunkSize > 0 {
		chunkOpts = append(chunkOpts, chunker.WithChunkSize(flagChunkSize))
	}
	if flagChunkOverlap >= 0 {
		chunkOpts = append(chunkOpts, chunker.WithChunkOverlap(flagChunkOverlap))
	}
	chk, err := chunker.New(chunkOpts...)
	if err != nil {
		vectors.Close()
		return nil, err
	}

	var generator generation.Generator
	if needGenerator {
		generator, err = generation.NewOpenAI(getEnv("ANSWER_MODEL", ""), logger)
		if err != nil {
			vectors.Close()
			return nil, err
		}
	}

	ingestor := ingest.New(chk, logger)
	coordinator := retrieval.New(manager, flagMaxResults, logger)
	pipeline := rag.NewPipeline(ingestor, manager, coordinator, generator, logger)

	return &app{
		manager:     manager,
		coordinator: coordinator,
		pipeline:    pipeline,
		ingestor:    ingestor,
		vectors:     vectors,
	}, nil
}

// resolveDatabases expands an empty --db selection to every stored database.
func resolveDatabases(ctx context.Context, manager *store.Manager) ([]string, error) {
	if len(flagDatabases) > 0 {
		return flagDatabases, nil
	}
	infos, err := manager.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names, nil
}

// readPassphrase reads KNOWVAULT_PASSPHRASE or prompts on the terminal.
func readPassphrase() (string, error) {
	if p := os.Getenv("KNOWVAULT_PASSPHRASE"); p != "" {
		return p, nil
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	p := strings.TrimSpace(string(raw))
	if p == "" {
		return "", errors.New("empty passphrase")
	}
	return p, nil
}

// ingestCSVColumn stores tabular files using the column named by --column as
// chunk content. Per-file failures are reported, not fatal.
func ingestCSVColumn(ctx context.Context, a *app, database string, paths []string) error {
	total := 0
	for _, path := range paths {
		chunks, err := a.ingestor.IngestCSV(path, flagColumn, nil)
		if err != nil {
			fmt.Printf("  failed: %s: %v\n", path, err)
			continue
		}
		if err := a.manager.AddDocuments(ctx, database, chunks); err != nil {
			return fmt.Errorf("store %s: %w", path, err)
		}
		total += len(chunks)
	}
	fmt.Printf("Ingested %d chunks\n", total)
	return nil
}

func downloadGitHubDocs(ctx context.Context, repo, basePath string) ([]string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return nil, fmt.Errorf("invalid --github value %q, expected owner/repo", repo)
	}
	client, err := ghsource.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GitHub client: %w", err)
	}
	fetcher := ghsource.NewFetcher(client, owner, name, basePath)

	dir, err := os.MkdirTemp("", "knowvault-github-*")
	if err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	fmt.Printf("Downloading markdown from %s...\n", fetcher.Describe())
	paths, err := fetcher.Download(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("download from GitHub: %w", err)
	}
	fmt.Printf("Downloaded %d files\n", len(paths))
	return paths, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
