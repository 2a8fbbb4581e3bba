// Package scm derives default package metadata from a version-controlled
// source tree (spec section 4.3). It is the only implementation of the
// metadata-provider interface the core lifecycle depends on, but the core
// never imports this package directly — the builder takes a Provider so
// the SCM introspection stays a pluggable, external collaborator per spec
// section 1.
package scm

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"

	"github.com/samuel/olut/internal/olut/metadata"
)

// Provider computes default metadata from a source tree.
type Provider interface {
	Metadata(sourcepath string, ignoreUnknown bool) (metadata.Document, error)
}

// Git is the Provider backed by reading files under .git/ directly,
// without invoking git for ref resolution, per spec section 4.3.
type Git struct{}

var hexRevision = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Metadata implements Provider. If sourcepath has no .git directory, it
// returns an empty Document rather than an error.
func (Git) Metadata(sourcepath string, ignoreUnknown bool) (metadata.Document, error) {
	gitDir := filepath.Join(sourcepath, ".git")
	if fi, err := os.Stat(gitDir); err != nil || !fi.IsDir() {
		return metadata.New(), nil
	}

	branch, ref, err := readHead(gitDir)
	if err != nil {
		return nil, errors.Wrap(err, "reading .git/HEAD")
	}

	revision, err := resolveRef(gitDir, ref)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving ref %s", ref)
	}

	tag, err := findTag(gitDir, revision)
	if err != nil {
		return nil, errors.Wrap(err, "scanning tags")
	}

	cfg, err := readConfig(filepath.Join(gitDir, "config"))
	if err != nil {
		return nil, errors.Wrap(err, "reading .git/config")
	}
	originURL, _ := cfg["remote.origin"]["url"]

	doc := metadata.New()
	scmInfo := map[string]interface{}{
		"type":     "git",
		"branch":   branch,
		"revision": revision,
	}
	if originURL != "" {
		scmInfo["url"] = originURL
	}
	if tag != "" {
		scmInfo["tag"] = tag
	}
	doc["scm"] = scmInfo

	if name := nameFromURL(originURL); name != "" {
		doc[metadata.KeyName] = name
	}
	if tag != "" {
		doc[metadata.KeyVersion] = fmt.Sprintf("%s-%s", branch, tag)
	} else {
		doc[metadata.KeyVersion] = fmt.Sprintf("%s-%s", branch, time.Now().UTC().Format("20060102150405"))
	}

	excludes, err := excludeFiles(sourcepath, ignoreUnknown)
	if err != nil {
		return nil, errors.Wrap(err, "reading ignore status")
	}
	if len(excludes) > 0 {
		list := make([]interface{}, len(excludes))
		for i, e := range excludes {
			list[i] = e
		}
		doc[metadata.KeyExcludeFiles] = list
	}

	return doc, nil
}

// readHead reads .git/HEAD, returning the branch name (last "/"-segment of
// the ref path) and the ref path itself (e.g. "refs/heads/main").
func readHead(gitDir string) (branch, ref string, err error) {
	b, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", "", err
	}
	line := strings.TrimSpace(string(b))
	line = strings.TrimPrefix(line, "ref:")
	ref = strings.TrimSpace(line)
	parts := strings.Split(ref, "/")
	branch = parts[len(parts)-1]
	return branch, ref, nil
}

// resolveRef resolves ref to a 40-hex revision, first by reading
// .git/<ref> directly, falling back to a scan of .git/packed-refs.
func resolveRef(gitDir, ref string) (string, error) {
	if hexRevision.MatchString(ref) {
		// HEAD was itself a raw revision (detached head).
		return ref, nil
	}

	if b, err := os.ReadFile(filepath.Join(gitDir, ref)); err == nil {
		return strings.TrimSpace(string(b)), nil
	}

	f, err := os.Open(filepath.Join(gitDir, "packed-refs"))
	if os.IsNotExist(err) {
		return "", errors.Errorf("ref %s not found in loose refs or packed-refs", ref)
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == ref {
			return fields[0], nil
		}
	}
	return "", errors.Errorf("ref %s not found in packed-refs", ref)
}

// findTag scans .git/refs/tags for a tag whose contents equal revision.
func findTag(gitDir, revision string) (string, error) {
	tagsDir := filepath.Join(gitDir, "refs", "tags")
	entries, err := os.ReadDir(tagsDir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(tagsDir, e.Name()))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(b)) == revision {
			return e.Name(), nil
		}
	}
	return "", nil
}

// readConfig parses .git/config as a sectioned INI-like file, with
// "[section \"subname\"]" headers producing a nested "section.subname" key.
func readConfig(path string) (map[string]map[string]string, error) {
	cfg := map[string]map[string]string{}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sectionRe := regexp.MustCompile(`^\[([\w.-]+)(?:\s+"([^"]*)")?\]$`)
	kvRe := regexp.MustCompile(`^([\w-]+)\s*=\s*(.*)$`)

	var section string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			if m[2] != "" {
				section = m[1] + "." + m[2]
			} else {
				section = m[1]
			}
			if cfg[section] == nil {
				cfg[section] = map[string]string{}
			}
			continue
		}
		if m := kvRe.FindStringSubmatch(line); m != nil && section != "" {
			cfg[section][m[1]] = strings.Trim(m[2], `"`)
		}
	}
	return cfg, nil
}

// nameFromURL computes the default package name: the basename of the
// origin URL with any single trailing extension removed.
func nameFromURL(url string) string {
	if url == "" {
		return ""
	}
	url = strings.TrimSuffix(url, "/")
	base := url
	if idx := strings.LastIndexAny(url, "/:"); idx >= 0 {
		base = url[idx+1:]
	}
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// excludeFiles runs `git status --porcelain --ignored` via
// Masterminds/vcs's GitRepo.RunFromDir (the same repository handle the
// teacher's vcs_repo.go uses for one-shot git invocations) and returns the
// "!! " entries always, plus "?? " entries when ignoreUnknown is set.
func excludeFiles(sourcepath string, ignoreUnknown bool) ([]string, error) {
	repo, err := vcs.NewGitRepo("", sourcepath)
	if err != nil {
		return nil, err
	}
	if !repo.CheckLocal() {
		return nil, nil
	}

	out, err := repo.RunFromDir("git", "status", "--porcelain", "--ignored")
	if err != nil {
		return nil, errors.Wrap(err, "git status --porcelain --ignored")
	}

	var excludes []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "!! "):
			excludes = append(excludes, strings.TrimPrefix(line, "!! "))
		case ignoreUnknown && strings.HasPrefix(line, "?? "):
			excludes = append(excludes, strings.TrimPrefix(line, "?? "))
		}
	}
	return excludes, nil
}
