package builder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samuel/olut/internal/olut/archive"
	"github.com/samuel/olut/internal/olut/metadata"
)

type stubProvider struct{}

func (stubProvider) Metadata(sourcepath string, ignoreUnknown bool) (metadata.Document, error) {
	return metadata.New(), nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildProducesArchive(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()

	writeFile(t, filepath.Join(src, "code.py"), "print(1)\n")
	writeFile(t, filepath.Join(src, "olut", "metadata.yaml"), "name: testapp\nversion: \"1.0\"\n")
	writeFile(t, filepath.Join(src, "olut", "install"), "#!/bin/sh\nexit 0\n")

	outpath, err := Build(Options{
		SourcePath: src,
		OutputDir:  out,
		Provider:   stubProvider{},
		Now:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := filepath.Join(out, "testapp-1.0.tgz")
	if outpath != want {
		t.Errorf("outpath = %q, want %q", outpath, want)
	}

	r, err := archive.Open(outpath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	meta, err := r.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	doc, err := metadata.Load(bytesReader(meta))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.String("name") != "testapp" || doc.String("version") != "1.0" {
		t.Errorf("unexpected persisted metadata: %v", doc)
	}
	if _, ok := doc["build_date"]; !ok {
		t.Error("build_date not set")
	}
}

func TestBuildSourceMissing(t *testing.T) {
	_, err := Build(Options{
		SourcePath: filepath.Join(t.TempDir(), "does-not-exist"),
		OutputDir:  t.TempDir(),
		Provider:   stubProvider{},
	})
	if err == nil {
		t.Fatal("expected error for missing source path")
	}
}

func TestBuildExcludeIncludeOverride(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()

	writeFile(t, filepath.Join(src, "keep.txt"), "keep")
	writeFile(t, filepath.Join(src, "build", "artifact.bin"), "binary")
	writeFile(t, filepath.Join(src, "build", "keepme.txt"), "keep this one")
	writeFile(t, filepath.Join(src, "olut", "metadata.yaml"),
		"name: testapp\nversion: \"1.0\"\nexclude_files:\n  - build/artifact.bin\n  - build/keepme.txt\ninclude_files:\n  - build/keepme.txt\n")

	outpath, err := Build(Options{
		SourcePath: src,
		OutputDir:  out,
		Provider:   stubProvider{},
		Now:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	r, err := archive.Open(outpath)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	dest := t.TempDir()
	if err := r.ExtractAll(dest, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dest, "keep.txt")); err != nil {
		t.Error("keep.txt should have been archived")
	}
	if _, err := os.Stat(filepath.Join(dest, "build", "artifact.bin")); err == nil {
		t.Error("build/artifact.bin should have been excluded")
	}
	if _, err := os.Stat(filepath.Join(dest, "build", "keepme.txt")); err != nil {
		t.Error("build/keepme.txt should have been included despite also being listed in exclude_files")
	}
}

func TestBuildMergesLegacyTOMLBeforeYAML(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()

	writeFile(t, filepath.Join(src, "code.py"), "print(1)\n")
	writeFile(t, filepath.Join(src, "olut", "olut.toml"),
		"name = \"legacyname\"\nversion = \"0.1\"\nowner = \"infra-team\"\n")
	writeFile(t, filepath.Join(src, "olut", "metadata.yaml"), "name: testapp\nversion: \"1.0\"\n")

	outpath, err := Build(Options{
		SourcePath: src,
		OutputDir:  out,
		Provider:   stubProvider{},
		Now:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	r, err := archive.Open(outpath)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	meta, err := r.Metadata()
	if err != nil {
		t.Fatal(err)
	}
	doc, err := metadata.Load(bytesReader(meta))
	if err != nil {
		t.Fatal(err)
	}
	if doc.String("name") != "testapp" || doc.String("version") != "1.0" {
		t.Errorf("YAML should win over legacy TOML on overlapping keys, got %v", doc)
	}
	if doc.String("owner") != "infra-team" {
		t.Errorf("TOML-only key should survive the merge, got %v", doc)
	}
}

func TestBuildIgnoreFilenameREEnvOverride(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()

	writeFile(t, filepath.Join(src, "keep.txt"), "keep")
	writeFile(t, filepath.Join(src, "secret.env"), "SECRET=1")
	writeFile(t, filepath.Join(src, "olut", "metadata.yaml"), "name: testapp\nversion: \"1.0\"\n")

	t.Setenv("OLUT_IGNORE_FILENAME_RE", `.*\.env$`)

	outpath, err := Build(Options{
		SourcePath: src,
		OutputDir:  out,
		Provider:   stubProvider{},
		Now:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	r, err := archive.Open(outpath)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	dest := t.TempDir()
	if err := r.ExtractAll(dest, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dest, "keep.txt")); err != nil {
		t.Error("keep.txt should have been archived")
	}
	if _, err := os.Stat(filepath.Join(dest, "secret.env")); err == nil {
		t.Error("secret.env should have been ignored per OLUT_IGNORE_FILENAME_RE")
	}
}

func bytesReader(b []byte) *os.File {
	f, err := os.CreateTemp("", "meta-*.yaml")
	if err != nil {
		panic(err)
	}
	f.Write(b)
	f.Seek(0, 0)
	return f
}
