package scm

import (
	"os"
	"path/filepath"
	"testing"
)

func initBareGitLayout(t *testing.T, dir string, branch, revision, originURL string) {
	t.Helper()
	gitDir := filepath.Join(dir, ".git")
	mustMkdirAll(t, filepath.Join(gitDir, "refs", "heads"))
	mustMkdirAll(t, filepath.Join(gitDir, "refs", "tags"))
	mustWriteFile(t, filepath.Join(gitDir, "HEAD"), "ref: refs/heads/"+branch+"\n")
	mustWriteFile(t, filepath.Join(gitDir, "refs", "heads", branch), revision+"\n")
	if originURL != "" {
		mustWriteFile(t, filepath.Join(gitDir, "config"), "[remote \"origin\"]\n\turl = "+originURL+"\n")
	}
}

func mustMkdirAll(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestMetadataNoGitDir(t *testing.T) {
	dir := t.TempDir()
	doc, err := Git{}.Metadata(dir, false)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if len(doc) != 0 {
		t.Errorf("expected empty Document for non-git tree, got %v", doc)
	}
}

func TestMetadataBranchAndRevision(t *testing.T) {
	dir := t.TempDir()
	rev := "a1b2c3d4e5f60718293a4b5c6d7e8f9012345678"
	initBareGitLayout(t, dir, "main", rev, "git@github.com:example/myapp.git")

	doc, err := Git{}.Metadata(dir, false)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if doc["name"] != "myapp" {
		t.Errorf("name = %v, want myapp", doc["name"])
	}
	scmInfo, ok := doc["scm"].(map[string]interface{})
	if !ok {
		t.Fatalf("scm field has wrong type: %T", doc["scm"])
	}
	if scmInfo["branch"] != "main" {
		t.Errorf("branch = %v, want main", scmInfo["branch"])
	}
	if scmInfo["revision"] != rev {
		t.Errorf("revision = %v, want %v", scmInfo["revision"], rev)
	}
	version, _ := doc["version"].(string)
	if len(version) == 0 || version[:5] != "main-" {
		t.Errorf("version = %q, want prefix main-", version)
	}
}

func TestFindTagMatchesRevision(t *testing.T) {
	dir := t.TempDir()
	rev := "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	initBareGitLayout(t, dir, "main", rev, "")
	mustWriteFile(t, filepath.Join(dir, ".git", "refs", "tags", "v1.0"), rev+"\n")

	doc, err := Git{}.Metadata(dir, false)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	scmInfo := doc["scm"].(map[string]interface{})
	if scmInfo["tag"] != "v1.0" {
		t.Errorf("tag = %v, want v1.0", scmInfo["tag"])
	}
	if doc["version"] != "main-v1.0" {
		t.Errorf("version = %v, want main-v1.0", doc["version"])
	}
}
