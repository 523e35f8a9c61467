package commands

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/aquamarinepk/aqm"
)

func seedSQLite(t *testing.T, path string, keys ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB NOT NULL, updated_at INTEGER NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for _, key := range keys {
		if _, err := db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)`, key, []byte(`{"notes":"x"}`), time.Now().UnixMilli()); err != nil {
			t.Fatalf("insert %s: %v", key, err)
		}
	}
}

func TestSQLiteDrafts(t *testing.T) {
	tests := []struct {
		name        string
		owner       string
		wantRemoved int64
		wantLeft    []string
	}{
		{name: "clearOne", owner: "u1", wantRemoved: 1, wantLeft: []string{"local"}},
		{name: "clearAll", owner: "", wantRemoved: 2, wantLeft: nil},
		{name: "clearUnknown", owner: "nobody", wantRemoved: 0, wantLeft: []string{"local", "u1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "drafts.db")
			seedSQLite(t, path, draftKeyPrefix+"u1", draftKeyPrefix+"local", "other:key")
			target := DraftTarget{Backend: "sqlite", SQLitePath: path}
			ctx := context.Background()
			logger := aqm.NewNoopLogger()

			drafts, err := ListDrafts(ctx, target, logger)
			if err != nil {
				t.Fatalf("ListDrafts() error = %v", err)
			}
			if len(drafts) != 2 || drafts[0].Owner != "local" {
				t.Fatalf("ListDrafts() = %+v, want local and u1 only", drafts)
			}

			removed, err := ClearDrafts(ctx, target, tt.owner, logger)
			if err != nil {
				t.Fatalf("ClearDrafts() error = %v", err)
			}
			if removed != tt.wantRemoved {
				t.Errorf("ClearDrafts() removed = %d, want %d", removed, tt.wantRemoved)
			}

			left, _ := ListDrafts(ctx, target, logger)
			if len(left) != len(tt.wantLeft) {
				t.Fatalf("remaining = %+v, want %v", left, tt.wantLeft)
			}
			for i, owner := range tt.wantLeft {
				if left[i].Owner != owner {
					t.Errorf("remaining[%d] = %q, want %q", i, left[i].Owner, owner)
				}
			}
		})
	}
}

func TestResetDBSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.db")
	seedSQLite(t, path, draftKeyPrefix+"u1")
	target := DraftTarget{Backend: "sqlite", SQLitePath: path}

	if err := ResetDB(context.Background(), target, aqm.NewNoopLogger()); err != nil {
		t.Fatalf("ResetDB() error = %v", err)
	}
	if err := ResetDB(context.Background(), target, aqm.NewNoopLogger()); err != nil {
		t.Errorf("ResetDB() on missing file error = %v", err)
	}
}

func TestUnsupportedBackend(t *testing.T) {
	target := DraftTarget{Backend: "memory"}
	ctx := context.Background()
	logger := aqm.NewNoopLogger()

	if _, err := ListDrafts(ctx, target, logger); err == nil {
		t.Error("ListDrafts() error = nil")
	}
	if _, err := ClearDrafts(ctx, target, "", logger); err == nil {
		t.Error("ClearDrafts() error = nil")
	}
	if err := ResetDB(ctx, target, logger); err == nil {
		t.Error("ResetDB() error = nil")
	}
}
