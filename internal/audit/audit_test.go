package audit

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_WritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.csv")

	_, err := Open(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "timestamp,action,database_name,user,details\n", string(data))

	// Reopening an existing log must not rewrite or duplicate the header.
	log, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log.Append(ActionCreateDatabase, "alpha", "Description: test"))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp,action"))
}

func TestAppendAndReadAll(t *testing.T) {
	log, err := Open(filepath.Join(t.TempDir(), "audit.csv"))
	require.NoError(t, err)

	require.NoError(t, log.Append(ActionCreateDatabase, "alpha", "Description: legal docs"))
	require.NoError(t, log.Append(ActionAddDocuments, "alpha", "Added 3 documents"))
	require.NoError(t, log.Append(ActionDeleteDatabase, "alpha", ""))

	records, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, ActionCreateDatabase, records[0].Action)
	assert.Equal(t, "alpha", records[0].DatabaseName)
	assert.Equal(t, DefaultActor, records[0].Actor)
	assert.False(t, records[0].Timestamp.IsZero())

	assert.Equal(t, "Added 3 documents", records[1].Details)
	assert.Equal(t, ActionDeleteDatabase, records[2].Action)
}

func TestAppend_QuotesCommasInDetails(t *testing.T) {
	log, err := Open(filepath.Join(t.TempDir(), "audit.csv"))
	require.NoError(t, err)

	details := `Query: "what, exactly, applies?"`
	require.NoError(t, log.Append(ActionQueryDatabase, "alpha", details))

	records, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, details, records[0].Details)
}

func TestAppend_Concurrent(t *testing.T) {
	log, err := Open(filepath.Join(t.TempDir(), "audit.csv"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, log.Append(ActionQueryDatabase, "alpha", "Query: concurrent"))
		}()
	}
	wg.Wait()

	records, err := log.ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestTruncateQuery(t *testing.T) {
	short := "what applies here?"
	assert.Equal(t, short, TruncateQuery(short))

	long := strings.Repeat("q", QueryPreviewLen+50)
	got := TruncateQuery(long)
	assert.Len(t, got, QueryPreviewLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))

	multibyte := strings.Repeat("규정", QueryPreviewLen)
	got = TruncateQuery(multibyte)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, QueryPreviewLen+3, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}
