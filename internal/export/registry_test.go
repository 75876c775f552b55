package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	r, err := OpenRegistry(filepath.Join(dir, "db", "overdub.db"), filepath.Join(dir, "artifacts"))
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegistrySaveAndFind(t *testing.T) {
	r := testRegistry(t)

	a := &Artifact{
		ID:        "abc-123",
		MIME:      "video/mp4",
		Ext:       ".mp4",
		Data:      []byte("payload"),
		CreatedAt: time.Now(),
	}
	path, err := r.Save(a)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("artifact file missing: %v", err)
	}
	if string(onDisk) != "payload" {
		t.Errorf("on-disk bytes = %q", onDisk)
	}

	rec, err := r.Find(context.Background(), "abc-123")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rec.MIME != "video/mp4" || rec.Ext != ".mp4" || rec.Size != int64(len(a.Data)) {
		t.Errorf("record = %+v", rec)
	}
	if rec.Path != path {
		t.Errorf("record path = %q, want %q", rec.Path, path)
	}
}

func TestRegistryListNewestFirst(t *testing.T) {
	r := testRegistry(t)

	older := &Artifact{ID: "old", MIME: "video/webm", Ext: ".webm", Data: []byte("a"), CreatedAt: time.Now().Add(-time.Hour)}
	newer := &Artifact{ID: "new", MIME: "video/mp4", Ext: ".mp4", Data: []byte("b"), CreatedAt: time.Now()}
	if _, err := r.Save(older); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Save(newer); err != nil {
		t.Fatal(err)
	}

	recs, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("List returned %d records, want 2", len(recs))
	}
	if recs[0].ID != "new" || recs[1].ID != "old" {
		t.Errorf("order = [%s, %s], want newest first", recs[0].ID, recs[1].ID)
	}
}

func TestRegistryFindMissing(t *testing.T) {
	r := testRegistry(t)
	if _, err := r.Find(context.Background(), "nope"); err == nil {
		t.Error("Find on missing ID returned no error")
	}
}
