package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	columns := getTableColumns(t, s.db.DB, "kv")
	for _, col := range []string{"key", "value", "updated_at"} {
		if !slices.Contains(columns, col) {
			t.Errorf("kv table missing column %q", col)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &SQLite{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
	_, _, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := createTestStore(t)
	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	indexes := getTableIndexes(t, s.db.DB, "kv")
	if !slices.Contains(indexes, "idx_kv_updated_at") {
		t.Errorf("expected idx_kv_updated_at after migration, got indexes: %v", indexes)
	}
}

func TestSQLite_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	testKV(t, s)

	entries, err := s.Keys(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Key)
	assert.Equal(t, s.now(), entries[0].UpdatedAt)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "events", []byte(`[{"id":"e1"}]`)))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	v, ok, err := s2.Get(ctx, "events")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"e1"}]`, string(v))
}

func TestMemory_RoundTrip(t *testing.T) {
	m := NewMemory()
	testKV(t, m)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_CopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = 'x'

	got, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
	got[1] = 'y'

	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type doc struct {
		Count int      `json:"count"`
		Names []string `json:"names"`
	}

	var missing doc
	ok, err := LoadJSON(ctx, m, "doc", &missing)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SaveJSON(ctx, m, "doc", doc{Count: 2, Names: []string{"a", "b"}}))

	var got doc
	ok, err = LoadJSON(ctx, m, "doc", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, doc{Count: 2, Names: []string{"a", "b"}}, got)

	require.NoError(t, m.Set(ctx, "bad", []byte("{")))
	_, err = LoadJSON(ctx, m, "bad", &got)
	assert.ErrorContains(t, err, "load bad: decode")
}

func TestRedis_RoundTrip(t *testing.T) {
	url := os.Getenv("EVENTSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("EVENTSYNC_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := OpenRedis(ctx, url, "eventsync-test:"+t.Name()+":")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Remove(ctx, "b")
		r.Close()
	})
	testKV(t, r)
}
