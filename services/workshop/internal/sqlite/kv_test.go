package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestKVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.db")
	kv, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer kv.Close()
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
	}

	if err := kv.Set(ctx, "jobcard:draft:local", []byte(`{"customerId":"c1"}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := kv.Set(ctx, "jobcard:draft:local", []byte(`{"customerId":"c2"}`)); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}

	got, ok, err := kv.Get(ctx, "jobcard:draft:local")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if string(got) != `{"customerId":"c2"}` {
		t.Errorf("Get() = %s, want overwritten value", got)
	}

	if err := kv.Remove(ctx, "jobcard:draft:local"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "jobcard:draft:local"); ok {
		t.Error("Get() found removed key")
	}
}

func TestKVPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.db")
	ctx := context.Background()

	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := first.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer second.Close()

	got, ok, err := second.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Errorf("Get() after reopen = %q, %v, %v", got, ok, err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") error = nil")
	}
}
