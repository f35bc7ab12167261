package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
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

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='kv'").Scan(&name)
	if err != nil {
		t.Errorf("kv table not found after idempotent opens: %v", err)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestSchema_KVTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "kv")
	for _, col := range []string{"key", "value", "updated_at"} {
		if !contains(columns, col) {
			t.Errorf("kv table missing column %q", col)
		}
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestKV_SetGetRemove(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want absent", ok, err)
	}

	if err := s.Set(ctx, "dodgeball.players", `[{"id":"p1"}]`); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	got, ok, err := s.Get(ctx, "dodgeball.players")
	if err != nil || !ok {
		t.Fatalf("Get() = ok=%v err=%v", ok, err)
	}
	if got != `[{"id":"p1"}]` {
		t.Errorf("Get() = %q", got)
	}

	// Overwrite replaces the value.
	if err := s.Set(ctx, "dodgeball.players", `[]`); err != nil {
		t.Fatalf("second Set() failed: %v", err)
	}
	got, _, _ = s.Get(ctx, "dodgeball.players")
	if got != `[]` {
		t.Errorf("Get() after overwrite = %q", got)
	}

	if err := s.Remove(ctx, "dodgeball.players"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "dodgeball.players"); ok {
		t.Error("key still present after Remove()")
	}

	// Removing again is not an error.
	if err := s.Remove(ctx, "dodgeball.players"); err != nil {
		t.Errorf("second Remove() failed: %v", err)
	}
}

func TestKV_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s1.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.Get(ctx, "k")
	if err != nil || !ok || got != "v" {
		t.Errorf("Get() after reopen = %q ok=%v err=%v", got, ok, err)
	}
}

func TestKV_UpdateConcurrentStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	// Two handles on one file stand in for two processes.
	stores := make([]*Store, 2)
	for i := range stores {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() %d failed: %v", i, err)
		}
		t.Cleanup(func() { s.Close() })
		stores[i] = s
	}

	const perStore = 25
	var wg sync.WaitGroup
	errs := make(chan error, 2*perStore)
	for _, s := range stores {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			for i := 0; i < perStore; i++ {
				errs <- s.Update(ctx, "counter", func(old string, ok bool) (string, error) {
					n := 0
					if ok {
						n, _ = strconv.Atoi(old)
					}
					return strconv.Itoa(n + 1), nil
				})
			}
		}(s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Update() failed: %v", err)
		}
	}

	got, _, err := stores[0].Get(ctx, "counter")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != strconv.Itoa(2*perStore) {
		t.Errorf("counter = %s, want %d (lost updates)", got, 2*perStore)
	}
}

func TestKV_UpdateErrorWritesNothing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	if err := s.Set(ctx, "k", "before"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	err := s.Update(ctx, "k", func(old string, ok bool) (string, error) {
		if !ok || old != "before" {
			t.Errorf("fn got old=%q ok=%v", old, ok)
		}
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want %v", err, boom)
	}
	got, _, _ := s.Get(ctx, "k")
	if got != "before" {
		t.Errorf("Get() after failed Update = %q", got)
	}
}

func TestSchema_LeaseTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "lease")
	for _, col := range []string{"name", "holder", "expires_at"} {
		if !contains(columns, col) {
			t.Errorf("lease table missing column %q", col)
		}
	}
}

// createTestStore opens a fresh store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
