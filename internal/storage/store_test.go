package storage

import (
	"path/filepath"
	"testing"

	"github.com/dokzlo13/switchd/internal/db"
)

type testDoc struct {
	On     bool   `json:"on"`
	Source string `json:"source"`
}

func openStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB)
}

func TestTypedStore_RoundTripAndVersion(t *testing.T) {
	ts := NewTypedStore[testDoc](openStore(t), "switch")

	got, version, err := ts.Get("pump")
	if err != nil || version != 0 || got != (testDoc{}) {
		t.Fatalf("missing entry: %+v v%d err=%v", got, version, err)
	}

	if err := ts.Set("pump", testDoc{On: true, Source: "schedule"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := ts.Set("pump", testDoc{On: false, Source: "manual"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, version, err = ts.Get("pump")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}
	if got.On || got.Source != "manual" {
		t.Errorf("got %+v", got)
	}
}

func TestTypedStore_KindsAreIsolated(t *testing.T) {
	store := openStore(t)
	a := NewTypedStore[testDoc](store, "a")
	b := NewTypedStore[testDoc](store, "b")

	a.Set("x", testDoc{On: true})
	b.Set("x", testDoc{Source: "b"})
	b.Set("y", testDoc{Source: "b"})

	if err := b.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	all, _, err := a.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 || !all["x"].On {
		t.Errorf("kind a affected by clearing b: %+v", all)
	}
	if rest, _, _ := b.GetAll(); len(rest) != 0 {
		t.Errorf("kind b not cleared: %+v", rest)
	}
}

func TestStore_ClearAll(t *testing.T) {
	store := openStore(t)
	store.Set("a", "1", []byte(`{}`))
	store.Set("b", "1", []byte(`{}`))

	if err := store.Clear(""); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, kind := range []string{"a", "b"} {
		if p, _, _ := store.Get(kind, "1"); p != nil {
			t.Errorf("kind %s survived Clear(\"\")", kind)
		}
	}
}
