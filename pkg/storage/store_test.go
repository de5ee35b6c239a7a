package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"subarchive/pkg/logger"
	"subarchive/pkg/reddit"
)

func record(t *testing.T, id, title string, created int64) *reddit.PostRecord {
	t.Helper()
	raw := `[{"data":{"children":[{"data":{"id":"` + id + `","title":"` + title + `","created":` +
		fmt.Sprint(created) + `}}]}},{"data":{"children":[]}}]`
	rec, err := reddit.NewPostRecord([]byte(raw))
	if err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return rec
}

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), time.UTC, 70, logger.NewTestLogger())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestAppendAndLoad(t *testing.T) {
	store := newStore(t)

	second := record(t, "bbb222", "Second post", 1609459300)
	first := record(t, "aaa111", "First post", 1609459200)

	name, err := store.Append(second)
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if name != "20210101000140_bbb222_second-post.json" {
		t.Errorf("unexpected filename %q", name)
	}
	if _, err := store.Append(first); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	content, err := os.ReadFile(store.Path(name))
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if string(content) != string(second.Raw) {
		t.Error("record must be stored verbatim")
	}

	ids, err := store.ArchivedIDs()
	if err != nil {
		t.Fatalf("ArchivedIDs: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"aaa111", "bbb222"}) {
		t.Errorf("expected ids in datestamp order, got %v", ids)
	}

	records, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 2 || records[0].ID() != "aaa111" || records[1].ID() != "bbb222" {
		t.Errorf("unexpected records %v", records)
	}

	leftovers, _ := filepath.Glob(filepath.Join(store.Dir(), "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}

func TestLoadAllSkipsMalformed(t *testing.T) {
	store := newStore(t)
	if err := os.WriteFile(store.Path("20200101000000_zzz999_broken.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(record(t, "aaa111", "ok", 1609459200)); err != nil {
		t.Fatal(err)
	}

	records, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestMediaFiles(t *testing.T) {
	store := newStore(t)
	name := "20210101000000_aaa111_m1.png"

	if store.Exists(name) {
		t.Error("Expected Exists to return false for a new name")
	}

	f, err := store.Create(name)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Write([]byte("png"))
	f.Close()

	if !store.Exists(name) {
		t.Error("Expected Exists to return true after Create")
	}

	if _, err := store.Create(name); !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist on second create, got %v", err)
	}

	if err := store.Remove(name); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if store.Exists(name) {
		t.Error("file should be gone after Remove")
	}
	if err := store.Remove(name); err != nil {
		t.Errorf("removing a missing file should be a no-op, got %v", err)
	}

	if _, err := store.Create("../escape.png"); err == nil {
		t.Error("expected error for a name with a path separator")
	}
}
