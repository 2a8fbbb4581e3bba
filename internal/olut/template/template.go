// Package template implements olut's one-shot substitution renderer
// (spec section 4.8): load a package version's metadata, layer on the
// version path and the process environment, and substitute those
// values into a text file.
package template

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	gotemplate "text/template"

	"github.com/pkg/errors"

	"github.com/samuel/olut/internal/olut/errs"
	"github.com/samuel/olut/internal/olut/metadata"
)

// fieldPattern matches the legacy "%(field)s" substitution token.
var fieldPattern = regexp.MustCompile(`%\(([a-zA-Z0-9_]+)\)s`)

// Options configures a Render.
type Options struct {
	Src string // source text file
	Dst string // destination; "" derives from Src (see Render)
	PVP string // package-version path, e.g. P/<pkg>/<version>
}

// Render implements spec section 4.8. It returns the destination path
// actually written.
func Render(opts Options) (string, error) {
	dst := opts.Dst
	if dst == "" {
		if !strings.HasSuffix(opts.Src, ".tmpl") {
			return "", errs.New(errs.AmbiguousDestination, "", "no destination given and "+opts.Src+" has no .tmpl suffix")
		}
		dst = strings.TrimSuffix(opts.Src, ".tmpl")
	}

	doc, err := loadPVPMetadata(opts.PVP)
	if err != nil {
		return "", err
	}
	doc["version_path"] = opts.PVP
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			doc[kv[:i]] = kv[i+1:]
		}
	}

	src, err := os.ReadFile(opts.Src)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", opts.Src)
	}

	rendered, err := substitute(string(src), doc)
	if err != nil {
		return "", errors.Wrapf(err, "rendering %s", opts.Src)
	}

	if err := os.WriteFile(dst, []byte(rendered), 0644); err != nil {
		return "", errors.Wrapf(err, "writing %s", dst)
	}
	return dst, nil
}

func loadPVPMetadata(pvp string) (metadata.Document, error) {
	if pvp == "" {
		return metadata.New(), nil
	}
	metaPath := filepath.Join(pvp, ".olut", "metadata.yaml")
	f, err := os.Open(metaPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", metaPath)
	}
	defer f.Close()
	return metadata.Load(f)
}

// substitute performs %(field)s-style legacy substitution by rewriting
// it into text/template's {{.field}} form and executing against doc's
// namespace, matching spec section 4.8's "substitution namespace" model
// without adopting a full alternate templating syntax.
func substitute(src string, doc metadata.Document) (string, error) {
	rewritten := fieldPattern.ReplaceAllString(src, `{{index . "$1"}}`)
	tmpl, err := gotemplate.New("render").Parse(rewritten)
	if err != nil {
		return "", errors.Wrap(err, "parsing template")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]interface{}(doc)); err != nil {
		return "", errors.Wrap(err, "executing template")
	}
	return buf.String(), nil
}
