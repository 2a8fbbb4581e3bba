// Package builder walks a source tree, applies include/exclude and ignore
// rules, merges metadata from the SCM provider, an optional project
// metadata file, and CLI overrides, and emits a package archive (spec
// section 4.4).
package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/samuel/olut/internal/olut/archive"
	"github.com/samuel/olut/internal/olut/errs"
	"github.com/samuel/olut/internal/olut/metadata"
	"github.com/samuel/olut/internal/olut/scm"
)

// DefaultIgnoreFilenameRE matches byte-compiled Python artifacts and
// editor swap/backup files (spec section 6).
var DefaultIgnoreFilenameRE = regexp.MustCompile(`.*(\.py[co]|\.swp|~)$`)

// ignoreFilenameRE resolves the ignore pattern explicit ?? OLUT_IGNORE_FILENAME_RE
// ?? DefaultIgnoreFilenameRE, mirroring store.New's flag/env/default chain
// (spec section 9's "global defaults" rule).
func ignoreFilenameRE(explicit *regexp.Regexp) (*regexp.Regexp, error) {
	if explicit != nil {
		return explicit, nil
	}
	if pattern := os.Getenv("OLUT_IGNORE_FILENAME_RE"); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrap(err, "compiling OLUT_IGNORE_FILENAME_RE")
		}
		return re, nil
	}
	return DefaultIgnoreFilenameRE, nil
}

// Options configures a Build.
type Options struct {
	SourcePath        string            // S
	OutputDir         string            // O
	MetaDir           string            // M; defaults to <S>/olut unless absolute
	Overrides         map[string]string // CLI -m name=value pairs
	IgnoreUnknown     bool
	IgnoreFilenameRE  *regexp.Regexp
	Provider          scm.Provider
	Now               time.Time // for deterministic tests; zero means time.Now()
}

// Build runs the full build algorithm of spec section 4.4 and returns the
// path to the produced archive.
func Build(opts Options) (string, error) {
	if _, err := os.Stat(opts.SourcePath); err != nil {
		return "", errs.Wrapf(errs.SourceMissing, "builder", err, "source path %s", opts.SourcePath)
	}

	provider := opts.Provider
	if provider == nil {
		provider = scm.Git{}
	}
	ignoreRE, err := ignoreFilenameRE(opts.IgnoreFilenameRE)
	if err != nil {
		return "", err
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	metaDir := opts.MetaDir
	if metaDir == "" {
		metaDir = filepath.Join(opts.SourcePath, "olut")
	} else if !filepath.IsAbs(metaDir) {
		metaDir = filepath.Join(opts.SourcePath, metaDir)
	}

	// 1. Compute base metadata via the SCM provider.
	doc, err := provider.Metadata(opts.SourcePath, opts.IgnoreUnknown)
	if err != nil {
		return "", errors.Wrap(err, "computing SCM metadata")
	}

	// 2a. If M/olut.toml exists, merge the legacy descriptor first so
	// metadata.yaml (the current format) always wins on overlapping keys.
	legacyTOMLPath := filepath.Join(metaDir, "olut.toml")
	if f, err := os.Open(legacyTOMLPath); err == nil {
		legacyDoc, err := metadata.LoadLegacyTOML(f)
		f.Close()
		if err != nil {
			return "", errors.Wrapf(err, "loading %s", legacyTOMLPath)
		}
		doc.Merge(legacyDoc)
	} else if !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "opening %s", legacyTOMLPath)
	}

	// 2b. If M/metadata.yaml exists, merge it.
	projectMetaPath := filepath.Join(metaDir, "metadata.yaml")
	if f, err := os.Open(projectMetaPath); err == nil {
		projectDoc, err := metadata.Load(f)
		f.Close()
		if err != nil {
			return "", errors.Wrapf(err, "loading %s", projectMetaPath)
		}
		doc.Merge(projectDoc)
	} else if !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "opening %s", projectMetaPath)
	}

	// 3. Merge CLI overrides.
	doc.ApplyOverrides(opts.Overrides)

	// 4. Set build_date.
	doc["build_date"] = now.Format("2006-01-02 15:04:05")

	if err := doc.Validate(); err != nil {
		return "", errors.Wrap(err, "build metadata invalid")
	}

	// 5. Extract exclude_files/include_files (consumed here, not persisted).
	excludes := stringSet(doc.StringList(metadata.KeyExcludeFiles))
	includes := stringSet(doc.StringList(metadata.KeyIncludeFiles))

	name := doc.String(metadata.KeyName)
	version := doc.String(metadata.KeyVersion)

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", errors.Wrapf(err, "creating output dir %s", opts.OutputDir)
	}
	outname := fmt.Sprintf("%s-%s.tgz", name, version)
	outpath := filepath.Join(opts.OutputDir, outname)

	w, err := archive.Create(outpath)
	if err != nil {
		return "", err
	}
	closed := false
	defer func() {
		if !closed {
			w.Close()
		}
	}()

	// 6. Walk S.
	if err := walkSource(opts.SourcePath, ignoreRE, excludes, includes, w); err != nil {
		return "", errors.Wrap(err, "walking source tree")
	}

	// 7. Walk M (except metadata.yaml).
	if fi, err := os.Stat(metaDir); err == nil && fi.IsDir() {
		if err := walkMetaDir(metaDir, ignoreRE, w); err != nil {
			return "", errors.Wrap(err, "walking metadata dir")
		}
	}

	// 8. Synthesize .olut/metadata.yaml.
	persisted := doc.WithoutBuildKeys()
	content, err := persisted.Bytes()
	if err != nil {
		return "", errors.Wrap(err, "serializing metadata")
	}
	if err := w.AddMetadata(content, opts.SourcePath, now); err != nil {
		return "", err
	}

	closed = true
	if err := w.Close(); err != nil {
		return "", err
	}
	return outpath, nil
}

func stringSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[strings.TrimSuffix(i, "/")] = true
	}
	return m
}

func excluded(relpath string, isDir bool, excludes, includes map[string]bool) bool {
	key := strings.TrimSuffix(relpath, "/")
	if includes[key] {
		return false
	}
	return excludes[key]
}

func walkSource(root string, ignoreRE *regexp.Regexp, excludes, includes map[string]bool, w *archive.Writer) error {
	return godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if osPathname == root {
				return nil
			}
			rel, err := filepath.Rel(root, osPathname)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if de.IsDir() {
				if filepath.Base(osPathname) == ".git" {
					return filepath.SkipDir
				}
				if excluded(rel, true, excludes, includes) {
					return filepath.SkipDir
				}
				return nil
			}

			base := filepath.Base(osPathname)
			if ignoreRE.MatchString(base) {
				return nil
			}
			if excluded(rel, false, excludes, includes) {
				return nil
			}
			return w.AddFile(osPathname, rel)
		},
		Unsorted: false,
	})
}

func walkMetaDir(metaDir string, ignoreRE *regexp.Regexp, w *archive.Writer) error {
	return godirwalk.Walk(metaDir, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if osPathname == metaDir || de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(metaDir, osPathname)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if rel == "metadata.yaml" {
				return nil
			}
			base := filepath.Base(osPathname)
			if ignoreRE.MatchString(base) {
				return nil
			}
			return w.AddFile(osPathname, filepath.ToSlash(filepath.Join(".olut", rel)))
		},
		Unsorted: false,
	})
}
