// Package archive implements olut's package archive format: a
// gzip-compressed tar stream with payload entries under their source-tree
// relative path and metadata-path entries under .olut/<relpath> (spec
// section 3, section 4.2).
package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/samuel/olut/internal/olut/errs"
)

// MetadataEntryName is the archive-relative path of the authoritative
// metadata file (spec section 3).
const MetadataEntryName = ".olut/metadata.yaml"

// Writer builds a .tgz package archive.
type Writer struct {
	f  *os.File
	gz *gzip.Writer
	tw *tar.Writer
}

// Create opens outpath for writing and returns a Writer. The caller must
// call Close on every exit path.
func Create(outpath string) (*Writer, error) {
	f, err := os.Create(outpath)
	if err != nil {
		return nil, errors.Wrapf(err, "creating archive %s", outpath)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	return &Writer{f: f, gz: gz, tw: tw}, nil
}

// AddFile adds the file at realpath to the archive under archivePath,
// preserving its mode bits.
func (w *Writer) AddFile(realpath, archivePath string) error {
	fi, err := os.Stat(realpath)
	if err != nil {
		return errors.Wrapf(err, "stat %s", realpath)
	}
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return errors.Wrapf(err, "building tar header for %s", realpath)
	}
	hdr.Name = filepathToSlash(archivePath)

	if err := w.tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, "writing tar header for %s", archivePath)
	}
	if fi.IsDir() {
		return nil
	}

	f, err := os.Open(realpath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", realpath)
	}
	defer f.Close()

	if _, err := io.Copy(w.tw, f); err != nil {
		return errors.Wrapf(err, "writing %s into archive", realpath)
	}
	return nil
}

// AddMetadata synthesizes the .olut/metadata.yaml entry. Ownership
// (uid/gid/uname/gname) is copied from ownerRef's stat, so unprivileged
// builds don't emit root-owned entries (spec section 4.2); mtime is now.
func (w *Writer) AddMetadata(content []byte, ownerRef string, now time.Time) error {
	hdr := &tar.Header{
		Name:    MetadataEntryName,
		Mode:    0644,
		Size:    int64(len(content)),
		ModTime: now,
	}
	if err := copyOwnership(hdr, ownerRef); err != nil {
		return err
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return errors.Wrap(err, "writing metadata header")
	}
	if _, err := w.tw.Write(content); err != nil {
		return errors.Wrap(err, "writing metadata content")
	}
	return nil
}

// Close flushes and closes the tar writer, gzip writer, and underlying
// file, in that order, propagating the first error encountered.
func (w *Writer) Close() error {
	var firstErr error
	for _, c := range []io.Closer{w.tw, w.gz, w.f} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return errors.Wrap(firstErr, "closing archive")
	}
	return nil
}

// Reader opens a .tgz package archive for sequential extraction.
type Reader struct {
	f  *os.File
	gz *gzip.Reader
	tr *tar.Reader
}

// Open opens pkgpath for reading.
func Open(pkgpath string) (*Reader, error) {
	f, err := os.Open(pkgpath)
	if err != nil {
		return nil, errs.Wrapf(errs.InvalidArchive, "archive", err, "opening %s", pkgpath)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errs.Wrapf(errs.InvalidArchive, "archive", err, "reading gzip stream of %s", pkgpath)
	}
	return &Reader{f: f, gz: gz, tr: tar.NewReader(gz)}, nil
}

// Close releases the archive's file handles.
func (r *Reader) Close() error {
	gzErr := r.gz.Close()
	fErr := r.f.Close()
	if gzErr != nil {
		return errors.Wrap(gzErr, "closing archive")
	}
	if fErr != nil {
		return errors.Wrap(fErr, "closing archive")
	}
	return nil
}

// Metadata scans the archive for .olut/metadata.yaml and returns its raw
// bytes. The reader is left positioned past that entry (or at the end of
// the archive when it is absent); callers that also want to extract should
// re-Open the archive afterward.
func (r *Reader) Metadata() ([]byte, error) {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return nil, errs.New(errs.InvalidArchive, "archive", "archive has no "+MetadataEntryName+" entry")
		}
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArchive, "archive", err, "reading archive entry")
		}
		if hdr.Name == MetadataEntryName {
			return io.ReadAll(r.tr)
		}
	}
}

// ExtractAll safely extracts every remaining entry into dir. Entries whose
// normalized name would escape dir (an absolute path, or one containing a
// ".." component) are rejected, logged via the reject callback, and
// skipped; extraction proceeds with the rest (spec section 4.2, testable
// property #2 in spec section 8). ExtractAll returns an error only for
// decode failures, never for rejected paths.
func (r *Reader) ExtractAll(dir string, reject func(name string)) error {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.Wrap(errs.InvalidArchive, "archive", err, "reading archive entry")
		}

		safe, ok := SafePath(dir, hdr.Name)
		if !ok {
			if reject != nil {
				reject(hdr.Name)
			}
			continue
		}

		if err := extractEntry(r.tr, hdr, safe); err != nil {
			return errs.Wrapf(errs.InvalidArchive, "archive", err, "extracting %s", hdr.Name)
		}
	}
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, dest string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(dest, 0755)
	case tar.TypeSymlink:
		if err := os.MkdirAll(path.Dir(dest), 0755); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, dest)
	default:
		if err := os.MkdirAll(path.Dir(dest), 0755); err != nil {
			return err
		}
		mode := os.FileMode(hdr.Mode)
		if mode == 0 {
			mode = 0644
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(f, tr)
		return err
	}
}

// SafePath normalizes an archive entry name against dir, rejecting names
// that start with "/" or contain a ".." path component (spec section 4.2).
// It returns the joined filesystem path and whether the name was safe.
func SafePath(dir, name string) (string, bool) {
	clean := path.Clean("/" + filepathToSlash(name))
	if strings.HasPrefix(name, "/") {
		return "", false
	}
	for _, part := range strings.Split(filepathToSlash(name), "/") {
		if part == ".." {
			return "", false
		}
	}
	return path.Join(dir, strings.TrimPrefix(clean, "/")), true
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
