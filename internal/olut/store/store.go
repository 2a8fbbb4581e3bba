// Package store implements olut's on-disk install layout: a root directory
// containing one subdirectory per package, each holding version
// directories and an optional "current" symlink (spec section 3, section
// 4.5).
package store

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/theckman/go-flock"

	"github.com/samuel/olut/internal/olut/metadata"
	"github.com/samuel/olut/internal/olut/resolver"
)

// DefaultInstallPath is used when neither an explicit path nor the
// OLUT_INSTALL_PATH environment variable is set (spec section 6).
const DefaultInstallPath = "/var/lib/olut"

// Store wraps an install root.
type Store struct {
	Root string
}

// New resolves the install root from (explicit path ?? OLUT_INSTALL_PATH ??
// DefaultInstallPath), per spec section 9's "global defaults" rule, and
// ensures it exists.
func New(explicit string) (*Store, error) {
	root := explicit
	if root == "" {
		root = os.Getenv("OLUT_INSTALL_PATH")
	}
	if root == "" {
		root = DefaultInstallPath
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating install root %s", root)
	}
	return &Store{Root: root}, nil
}

// PackagePath returns P/<pkg>.
func (s *Store) PackagePath(pkg string) string {
	return filepath.Join(s.Root, pkg)
}

// VersionPath returns P/<pkg>/<version>.
func (s *Store) VersionPath(pkg, version string) string {
	return filepath.Join(s.Root, pkg, version)
}

// CurrentPath returns P/<pkg>/current.
func (s *Store) CurrentPath(pkg string) string {
	return filepath.Join(s.Root, pkg, "current")
}

// VersionedMetadataPath returns P/<pkg>/<version>/.olut/metadata.yaml.
func (s *Store) VersionedMetadataPath(pkg, version string) string {
	return filepath.Join(s.VersionPath(pkg, version), ".olut", "metadata.yaml")
}

// ListPackages returns all top-level names under the install root that are
// directories and don't start with "." (spec section 4.5).
func (s *Store) ListPackages() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, errors.Wrapf(err, "reading install root %s", s.Root)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || len(e.Name()) == 0 || e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// VersionInfo pairs a version string with its persisted metadata.
type VersionInfo struct {
	Version  string
	Metadata metadata.Document
}

// ListVersions returns (version, metadata) pairs for subdirectories of
// P/<pkg> that are not symlinks, don't start with ".", and contain a
// readable .olut/metadata.yaml. Results are sorted descending by
// install_date (spec section 4.5). Versions sharing an install_date are
// ordered newest-first by semver when every one of them parses as semver,
// and in descending lexical order otherwise (see breakTies).
func (s *Store) ListVersions(pkg string) ([]VersionInfo, error) {
	pkgPath := s.PackagePath(pkg)
	entries, err := os.ReadDir(pkgPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading package dir %s", pkgPath)
	}

	var versions []VersionInfo
	for _, e := range entries {
		name := e.Name()
		if len(name) == 0 || name[0] == '.' {
			continue
		}
		full := filepath.Join(pkgPath, name)
		fi, err := os.Lstat(full)
		if err != nil || fi.Mode()&os.ModeSymlink != 0 || !fi.IsDir() {
			continue
		}
		metaPath := filepath.Join(full, ".olut", "metadata.yaml")
		f, err := os.Open(metaPath)
		if err != nil {
			continue // not a well-formed version directory; treat as not installed
		}
		doc, err := metadata.Load(f)
		f.Close()
		if err != nil {
			continue
		}
		versions = append(versions, VersionInfo{Version: name, Metadata: doc})
	}

	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Metadata.String("install_date") > versions[j].Metadata.String("install_date")
	})
	breakTies(versions)
	return versions, nil
}

// breakTies reorders runs of versions sharing an install_date, preferring
// semver ordering when every tied version parses as one and falling back
// to lexical order otherwise (spec section 4.5's tie-break contract,
// sharpened by the Open Question on ordering ties).
func breakTies(versions []VersionInfo) {
	for start := 0; start < len(versions); {
		end := start + 1
		date := versions[start].Metadata.String("install_date")
		for end < len(versions) && versions[end].Metadata.String("install_date") == date {
			end++
		}
		if end-start > 1 {
			names := make([]string, end-start)
			for i := range names {
				names[i] = versions[start+i].Version
			}
			if resolver.AllSemver(names) {
				names = resolver.SemverSort(names)
			} else {
				sort.Sort(sort.Reverse(sort.StringSlice(names)))
			}
			byName := make(map[string]VersionInfo, end-start)
			for i := start; i < end; i++ {
				byName[versions[i].Version] = versions[i]
			}
			for i, name := range names {
				versions[start+i] = byName[name]
			}
		}
		start = end
	}
}

// VersionMetadata reads and parses P/<pkg>/<version>/.olut/metadata.yaml.
func (s *Store) VersionMetadata(pkg, version string) (metadata.Document, error) {
	f, err := os.Open(s.VersionedMetadataPath(pkg, version))
	if err != nil {
		return nil, errors.Wrapf(err, "reading metadata for %s %s", pkg, version)
	}
	defer f.Close()
	return metadata.Load(f)
}

// Current resolves P/<pkg>/current via realpath and returns its basename.
// It returns ("", false) if the link doesn't exist or resolves to itself
// (spec section 4.5).
func (s *Store) Current(pkg string) (string, bool) {
	link := s.CurrentPath(pkg)
	resolved, err := filepath.EvalSymlinks(link)
	if err != nil {
		return "", false
	}
	base := filepath.Base(resolved)
	if base == "current" {
		return "", false
	}
	return base, true
}

// Lock returns an advisory per-package file lock at P/<pkg>/.lock. This is
// a quality-of-implementation addition spec section 5 explicitly allows;
// it is not required for correctness against a single operator.
func (s *Store) Lock(pkg string) *flock.Flock {
	return flock.NewFlock(filepath.Join(s.PackagePath(pkg), ".lock"))
}

// RemovePackageIfEmpty removes P/<pkg> entirely if it has no version
// subdirectories left (spec section 4.7's uninstall step 4).
func (s *Store) RemovePackageIfEmpty(pkg string) error {
	versions, err := s.ListVersions(pkg)
	if err != nil {
		return err
	}
	if len(versions) > 0 {
		return nil
	}
	pkgPath := s.PackagePath(pkg)
	entries, err := os.ReadDir(pkgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.Name() != ".lock" {
			return nil // something else is still there; leave it
		}
	}
	return os.RemoveAll(pkgPath)
}

// StampInstallDate stamps doc's install_date with now, in the local-time
// ISO-like form spec section 3 calls for.
func StampInstallDate(doc metadata.Document, now time.Time) {
	doc["install_date"] = now.Format("2006-01-02 15:04:05")
}
