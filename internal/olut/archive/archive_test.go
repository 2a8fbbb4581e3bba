package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRawArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "code.py")
	if err := os.WriteFile(src, []byte("print(1)"), 0644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out.tgz")
	w, err := Create(out)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.AddFile(src, "code.py"); err != nil {
		t.Fatal(err)
	}
	if err := w.AddMetadata([]byte("name: testapp\nversion: \"1.0\"\n"), dir, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	meta, err := r.Metadata()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(meta, []byte("testapp")) {
		t.Errorf("metadata missing expected content: %s", meta)
	}
}

func TestExtractAllRejectsUnsafePaths(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tgz")
	writeRawArchive(t, archivePath, map[string]string{
		"good.txt":        "ok",
		"../escape.txt":   "escaped",
		"/absolute.txt":   "absolute",
		"nested/../../x":  "traversal",
		".olut/metadata.yaml": "name: x\nversion: \"1\"\n",
	})

	r, err := Open(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	dest := t.TempDir()
	var rejected []string
	if err := r.ExtractAll(dest, func(name string) { rejected = append(rejected, name) }); err != nil {
		t.Fatal(err)
	}

	if len(rejected) != 3 {
		t.Errorf("expected 3 rejected entries, got %d: %v", len(rejected), rejected)
	}

	if _, err := os.Stat(filepath.Join(dest, "good.txt")); err != nil {
		t.Errorf("good.txt should have been extracted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt")); err == nil {
		t.Error("escape.txt should NOT have been extracted outside dest")
	}
}

func TestSafePath(t *testing.T) {
	cases := []struct {
		name string
		safe bool
	}{
		{"foo/bar.txt", true},
		{".olut/metadata.yaml", true},
		{"/etc/passwd", false},
		{"../escape", false},
		{"a/../../b", false},
		{"a/b/../c", false}, // spec rejects ANY ".." component, even a net-safe one
	}
	for _, c := range cases {
		_, ok := SafePath("/dest", c.name)
		if ok != c.safe {
			t.Errorf("SafePath(%q) safe = %v, want %v", c.name, ok, c.safe)
		}
	}
}
