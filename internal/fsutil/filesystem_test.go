package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_CreateOpen(t *testing.T) {
	osfs := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "out", "nested")

	if err := osfs.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	name := filepath.Join(dir, "a.csv")
	w, err := osfs.Create(name)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("star_id\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(name); err != nil {
		t.Fatalf("expected %s to exist: %v", name, err)
	}

	r, err := osfs.Open(name)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "star_id\n" {
		t.Errorf("got %q", data)
	}
}

func TestMemoryFileSystem_CreateAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/out", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	w, err := mfs.Create("/out/created.csv")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("created content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := mfs.ReadFile("/out/created.csv")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "created content" {
		t.Errorf("expected 'created content', got %q", data)
	}

	r, err := mfs.Open("/out/./created.csv")
	if err != nil {
		t.Fatalf("Open with unclean path failed: %v", err)
	}
	got, _ := io.ReadAll(r)
	if string(got) != "created content" {
		t.Errorf("Open returned %q", got)
	}
}

func TestMemoryFileSystem_Missing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.Open("/nope"); err == nil {
		t.Error("expected error opening missing file")
	}
	if _, err := mfs.ReadFile("/nope"); err == nil {
		t.Error("expected error reading missing file")
	}
}

func TestMemoryFileSystem_CreateNeedsParent(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.Create("/data/run/output/a.csv"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Create without parent: got %v, want ErrNotExist", err)
	}

	if err := mfs.MkdirAll("/data/run/output", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, name := range []string{"/data/run/output/a.csv", "/data/run/b.csv", "/data/c.csv", "top.csv"} {
		w, err := mfs.Create(name)
		if err != nil {
			t.Errorf("Create(%s) failed: %v", name, err)
			continue
		}
		w.Close()
	}
}
