// Package audit maintains the append-only record of storage operations.
// One CSV file lives at the databases root; rows are never mutated or
// deleted, so the trail survives even databases that don't.
package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"
)

// Action identifies the storage operation being recorded.
type Action string

const (
	ActionCreateDatabase Action = "CREATE_DATABASE"
	ActionLoadDatabase   Action = "LOAD_DATABASE"
	ActionDeleteDatabase Action = "DELETE_DATABASE"
	ActionAddDocuments   Action = "ADD_DOCUMENTS"
	ActionQueryDatabase  Action = "QUERY_DATABASE"
)

// DefaultActor is recorded for all single-user local sessions.
const DefaultActor = "local_user"

// QueryPreviewLen bounds how much query text is written to the log.
const QueryPreviewLen = 100

// Record is one audit log entry.
type Record struct {
	Timestamp    time.Time
	Action       Action
	DatabaseName string
	Actor        string
	Details      string
}

var header = []string{"timestamp", "action", "database_name", "user", "details"}

// Log appends records to a CSV file. Appends are serialized through a mutex
// so concurrent per-database operations keep the file well-formed.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open creates or reuses the audit file at path, writing the CSV header if
// the file does not exist yet.
func Open(path string) (*Log, error) {
	l := &Log{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create audit log: %w", err)
		}
		defer f.Close()
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, fmt.Errorf("write audit header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("write audit header: %w", err)
		}
	}
	return l, nil
}

// Append writes one record. The caller's storage operation must not depend
// on this succeeding; failures are returned so they can be surfaced as
// warnings.
func (l *Log) Append(action Action, database, details string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	rec := []string{
		time.Now().Format(time.RFC3339),
		string(action),
		database,
		DefaultActor,
		details,
	}
	if err := w.Write(rec); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// TruncateQuery shortens query text to the logged preview length. The cut is
// made at a character boundary so multibyte queries stay valid UTF-8.
func TruncateQuery(query string) string {
	runes := []rune(query)
	if len(runes) <= QueryPreviewLen {
		return query
	}
	return string(runes[:QueryPreviewLen]) + "..."
}

// ReadAll parses every record in the log, skipping the header. Intended for
// inspection commands and tests.
func (l *Log) ReadAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse audit log: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		if i == 0 || len(row) != len(header) {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, row[0])
		records = append(records, Record{
			Timestamp:    ts,
			Action:       Action(row[1]),
			DatabaseName: row[2],
			Actor:        row[3],
			Details:      row[4],
		})
	}
	return records, nil
}
