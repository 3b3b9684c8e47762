// Package store owns the per-database encrypted containers: one directory
// per knowledge base under a databases root, holding a vector-store
// collection and an authenticated-encrypted metadata blob. All storage
// operations land in the audit log.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/knowvault/knowvault/internal/audit"
	"github.com/knowvault/knowvault/internal/crypto"
	"github.com/knowvault/knowvault/internal/ingest"
	"github.com/knowvault/knowvault/internal/vectorstore"
)

const (
	metadataFile = "metadata.enc"
	auditFile    = "audit.csv"
)

var (
	// ErrDatabaseExists indicates a create collided with an existing name.
	ErrDatabaseExists = errors.New("database already exists")
	// ErrDatabaseNotFound indicates the named database does not exist on disk.
	ErrDatabaseNotFound = errors.New("database not found")
	// ErrInvalidName indicates a name unusable as a container key.
	ErrInvalidName = errors.New("invalid database name")
)

// validName constrains database names to safe filesystem/collection keys.
var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Info is the decrypted metadata record of one database.
type Info struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
	DocumentCount uint64    `json:"document_count"`
	Encrypted     bool      `json:"encrypted"`
}

// Handle is an open database: its collection plus decrypted metadata. The
// salt is retained so metadata rewrites stay under the database's own key.
type Handle struct {
	Info       Info
	Collection vectorstore.Collection

	salt []byte
}

// QueryResult is one similarity hit tagged with its source database.
type QueryResult struct {
	Content        string
	Metadata       ingest.Metadata
	Distance       float64
	SourceDatabase string
}

// Manager coordinates database lifecycle, document insertion and
// per-database similarity queries. One Manager per session; the registry it
// owns caches databases opened during that session.
type Manager struct {
	root     string
	keyring  *crypto.Keyring
	vectors  vectorstore.Provider
	registry *Registry
	auditLog *audit.Log
	logger   *slog.Logger
}

// NewManager prepares the databases root and audit log. The registry is
// injected so callers control its lifetime.
func NewManager(root string, keyring *crypto.Keyring, vectors vectorstore.Provider, registry *Registry, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create databases root: %w", err)
	}
	auditLog, err := audit.Open(filepath.Join(root, auditFile))
	if err != nil {
		return nil, err
	}
	return &Manager{
		root:     root,
		keyring:  keyring,
		vectors:  vectors,
		registry: registry,
		auditLog: auditLog,
		logger:   logger,
	}, nil
}

// AuditLog exposes the log for inspection commands.
func (m *Manager) AuditLog() *audit.Log { return m.auditLog }

func (m *Manager) dbPath(name string) string {
	return filepath.Join(m.root, name)
}

// record appends an audit entry best-effort: a logging failure must never
// block the storage operation it describes.
func (m *Manager) record(action audit.Action, database, details string) {
	if err := m.auditLog.Append(action, database, details); err != nil {
		m.logger.Warn("audit append failed", "action", action, "database", database, "error", err)
	}
}

// Create makes a new empty database: directory, vector collection and
// encrypted metadata blob under a fresh random salt.
func (m *Manager) Create(ctx context.Context, name, description string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	path := m.dbPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrDatabaseExists, name)
	}

	if err := os.Mkdir(path, 0o700); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}

	if err := m.vectors.Create(ctx, name); err != nil {
		os.RemoveAll(path)
		return fmt.Errorf("create collection: %w", err)
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		m.vectors.Delete(ctx, name)
		os.RemoveAll(path)
		return err
	}

	info := Info{
		Name:          name,
		Description:   description,
		CreatedAt:     time.Now(),
		DocumentCount: 0,
		Encrypted:     true,
	}
	if err := m.writeMetadata(name, info, salt); err != nil {
		m.vectors.Delete(ctx, name)
		os.RemoveAll(path)
		return err
	}

	m.record(audit.ActionCreateDatabase, name, "Database created: "+description)
	m.logger.Info("database created", "name", name)
	return nil
}

// Open returns the session handle for a database, decrypting its metadata
// with the session keyring. Already-open databases come from the registry.
// A wrong passphrase surfaces as crypto.ErrWrongPassphrase, never as
// missing data.
func (m *Manager) Open(ctx context.Context, name string) (*Handle, error) {
	if h, ok := m.registry.Get(name); ok {
		return h, nil
	}

	if _, err := os.Stat(m.dbPath(name)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
	}

	info, salt, err := m.readMetadata(name)
	if err != nil {
		return nil, err
	}

	collection, err := m.vectors.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	h := &Handle{Info: info, Collection: collection, salt: salt}
	m.registry.Put(name, h)

	m.record(audit.ActionLoadDatabase, name, "")
	m.logger.Info("database opened", "name", name)
	return h, nil
}

// List enumerates databases on disk that carry a metadata blob. Blobs the
// session key cannot decrypt are skipped with a warning rather than
// aborting the listing.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("read databases root: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, err := os.Stat(filepath.Join(m.dbPath(name), metadataFile)); err != nil {
			continue
		}
		info, _, err := m.readMetadata(name)
		if err != nil {
			m.logger.Warn("skipping database with unreadable metadata", "name", name, "error", err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Delete evicts the database from the registry and irreversibly removes its
// container. The audit record is written before removal so the trail
// outlives the database.
func (m *Manager) Delete(ctx context.Context, name string) error {
	path := m.dbPath(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
	}

	m.registry.Evict(name)
	m.record(audit.ActionDeleteDatabase, name, "")

	if err := m.vectors.Delete(ctx, name); err != nil {
		m.logger.Warn("collection delete failed", "name", name, "error", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove database directory: %w", err)
	}

	m.logger.Info("database deleted", "name", name)
	return nil
}

// AddDocuments inserts chunks into the database's collection, then
// refreshes document_count from the collection's authoritative size and
// rewrites the metadata blob. Existing chunk ids are overwritten, not
// duplicated.
func (m *Manager) AddDocuments(ctx context.Context, name string, chunks []ingest.DocumentChunk) error {
	h, err := m.Open(ctx, name)
	if err != nil {
		return err
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = vectorstore.Record{
			ID:      chunk.ID,
			Content: chunk.Content,
			Payload: chunk.Metadata.Payload(),
		}
	}
	if err := h.Collection.Add(ctx, records); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}

	count, err := h.Collection.Count(ctx)
	if err != nil {
		return fmt.Errorf("refresh document count: %w", err)
	}
	h.Info.DocumentCount = count
	if err := m.writeMetadata(name, h.Info, h.salt); err != nil {
		return err
	}

	m.record(audit.ActionAddDocuments, name, fmt.Sprintf("Added %d documents", len(chunks)))
	m.logger.Info("documents added", "name", name, "added", len(chunks), "total", count)
	return nil
}

// Query runs a similarity search against each requested database. A
// database that fails to open or query contributes an empty result set and
// a warning instead of aborting the whole operation. Cancellation is
// cooperative: the context is checked between databases.
func (m *Manager) Query(ctx context.Context, text string, names []string, nResults int) (map[string][]QueryResult, error) {
	results := make(map[string][]QueryResult, len(names))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		h, err := m.Open(ctx, name)
		if err != nil {
			m.logger.Warn("skipping database in query", "name", name, "error", err)
			results[name] = nil
			continue
		}

		hits, err := h.Collection.Query(ctx, text, nResults)
		if err != nil {
			m.logger.Warn("query failed for database", "name", name, "error", err)
			results[name] = nil
			continue
		}

		tagged := make([]QueryResult, 0, len(hits))
		for _, hit := range hits {
			tagged = append(tagged, QueryResult{
				Content:        hit.Content,
				Metadata:       ingest.MetadataFromPayload(hit.Payload),
				Distance:       hit.Distance,
				SourceDatabase: name,
			})
		}
		results[name] = tagged

		m.record(audit.ActionQueryDatabase, name, "Query: "+audit.TruncateQuery(text))
	}

	return results, nil
}

// writeMetadata seals the metadata record and rewrites the blob file.
func (m *Manager) writeMetadata(name string, info Info, salt []byte) error {
	plaintext, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	blob, err := m.keyring.Seal(plaintext, salt)
	if err != nil {
		return fmt.Errorf("encrypt metadata: %w", err)
	}
	path := filepath.Join(m.dbPath(name), metadataFile)
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// readMetadata decrypts the metadata blob, returning the record and the
// database's salt for later rewrites.
func (m *Manager) readMetadata(name string) (Info, []byte, error) {
	blob, err := os.ReadFile(filepath.Join(m.dbPath(name), metadataFile))
	if err != nil {
		return Info{}, nil, fmt.Errorf("read metadata: %w", err)
	}

	salt := make([]byte, crypto.SaltSize)
	if len(blob) >= crypto.SaltSize {
		copy(salt, blob[:crypto.SaltSize])
	}

	plaintext, err := m.keyring.Open(blob)
	if err != nil {
		return Info{}, nil, fmt.Errorf("decrypt metadata for %s: %w", name, err)
	}

	var info Info
	if err := json.Unmarshal(plaintext, &info); err != nil {
		return Info{}, nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return info, salt, nil
}
