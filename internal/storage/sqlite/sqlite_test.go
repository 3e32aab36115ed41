package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"techsheet/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "techsheet-test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenMigratesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE documents (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		t.Fatalf("create old schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO documents (key, value) VALUES ('state', '{}')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('documents') WHERE name = 'updated_at'`).Scan(&count); err != nil {
		t.Fatalf("query pragma_table_info failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected updated_at column to exist, count=%d", count)
	}
	got, err := s.Load(context.Background(), "state")
	if err != nil || string(got) != "{}" {
		t.Fatalf("expected old row to survive, got %q err=%v", got, err)
	}
}

func TestSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Save(ctx, "patterns", []byte(`[{"id":"1"}]`)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, "patterns", []byte(`[{"id":"2"}]`)); err != nil {
		t.Fatalf("Save overwrite failed: %v", err)
	}
	got, err := s.Load(ctx, "patterns")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(got) != `[{"id":"2"}]` {
		t.Fatalf("expected overwritten value, got %s", got)
	}
	if ts, err := s.UpdatedAt(ctx, "patterns"); err != nil || ts.IsZero() {
		t.Fatalf("expected updated_at, got %v err=%v", ts, err)
	}

	if err := s.Delete(ctx, "patterns"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Load(ctx, "patterns"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(context.Background(), "", []byte("x")); !errors.Is(err, storage.ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestUpdatedAtAdvances(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Save(ctx, "state", []byte("{}")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	first, err := s.UpdatedAt(ctx, "state")
	if err != nil {
		t.Fatalf("UpdatedAt failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := s.Save(ctx, "state", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second, err := s.UpdatedAt(ctx, "state")
	if err != nil {
		t.Fatalf("UpdatedAt failed: %v", err)
	}
	if !second.After(first) {
		t.Fatalf("expected updated_at to advance, first=%v second=%v", first, second)
	}
	if _, err := s.UpdatedAt(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGatewayWithSQLiteFallback(t *testing.T) {
	ctx := context.Background()
	local := newTestStore(t)
	g := storage.NewGateway(nil, local)

	ok, err := g.Save(ctx, "state", []byte(`{"phase":"HYBRID"}`))
	if err != nil || ok {
		t.Fatalf("expected local-only save, ok=%v err=%v", ok, err)
	}
	got, err := g.Load(ctx, "state")
	if err != nil || string(got) != `{"phase":"HYBRID"}` {
		t.Fatalf("unexpected load %q err=%v", got, err)
	}
}
