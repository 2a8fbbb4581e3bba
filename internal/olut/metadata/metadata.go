// Package metadata implements olut's dynamic metadata document: an
// unordered mapping from string keys to scalars, lists, or nested mappings
// (spec section 3, section 4.1). It is deliberately not a fixed struct —
// unlike the teacher's Manifest/Lock pair, which has a known dependency
// schema, olut's metadata carries arbitrary project- and operator-supplied
// keys through to hook scripts, so it is modeled the way a YAML document
// is modeled: as a plain map[string]interface{}.
package metadata

import (
	"bytes"
	"io"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Keys that are consumed at build time and must never reach the persisted
// archive metadata (spec section 3 invariant).
const (
	KeyExcludeFiles = "exclude_files"
	KeyIncludeFiles = "include_files"
	KeyName         = "name"
	KeyVersion      = "version"
)

// Document is olut's in-memory metadata mapping.
type Document map[string]interface{}

// New returns an empty Document.
func New() Document {
	return Document{}
}

// Load parses a YAML byte stream into a Document.
func Load(r io.Reader) (Document, error) {
	var raw map[string]interface{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return New(), nil
		}
		return nil, errors.Wrap(err, "decoding metadata")
	}
	return Document(raw), nil
}

// Dump serializes the Document as block-style YAML with deterministic
// (sorted) key ordering, matching spec section 3's "stable YAML-compatible
// serialization" requirement.
func (d Document) Dump(w io.Writer) error {
	ordered := d.sortedMap()
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	if err := enc.Encode(ordered); err != nil {
		return errors.Wrap(err, "encoding metadata")
	}
	return nil
}

// Bytes is a convenience wrapper around Dump.
func (d Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Dump(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sortedMap produces a yaml.MapSlice-like structure with keys in lexical
// order so two Dump calls over the same content produce byte-identical
// output. gopkg.in/yaml.v3 doesn't expose ordered maps for plain Go maps,
// so we build a yaml.Node tree by hand.
func (d Document) sortedMap() *yaml.Node {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
		valNode := toNode(d[k])
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node
}

func toNode(v interface{}) *yaml.Node {
	switch t := v.(type) {
	case map[string]interface{}:
		return Document(t).sortedMap()
	case Document:
		return t.sortedMap()
	case []interface{}:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range t {
			n.Content = append(n.Content, toNode(item))
		}
		return n
	default:
		n := &yaml.Node{}
		_ = n.Encode(v)
		return n
	}
}

// Merge shallow-updates d with the contents of other: new keys overwrite
// old (spec section 4.1). The builder layers SCM defaults <- legacy
// olut.toml <- project metadata.yaml with Merge, then CLI overrides with
// ApplyOverrides.
func (d Document) Merge(other Document) {
	for k, v := range other {
		d[k] = v
	}
}

// ApplyOverrides merges CLI-supplied "key=value" pairs into d. Per spec
// section 4.1's scalar-coercion rule, override values are always stored as
// plain strings.
func (d Document) ApplyOverrides(overrides map[string]string) {
	for k, v := range overrides {
		d[k] = v
	}
}

// WithoutBuildKeys returns a copy of d with exclude_files/include_files
// removed, per spec section 3's persistence invariant. The returned
// Document is what gets written as .olut/metadata.yaml.
func (d Document) WithoutBuildKeys() Document {
	out := make(Document, len(d))
	for k, v := range d {
		if k == KeyExcludeFiles || k == KeyIncludeFiles {
			continue
		}
		out[k] = v
	}
	return out
}

// StringList reads key as a list of strings, tolerating a missing key
// (returns nil) or non-list values (returns nil).
func (d Document) StringList(key string) []string {
	raw, ok := d[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// String reads key as a string, returning "" if absent or not a scalar.
func (d Document) String(key string) string {
	v, ok := d[key]
	if !ok {
		return ""
	}
	return ScalarString(v)
}

// ScalarString renders a scalar value (string, int, float, bool) in the
// string form used by Document.String, Validate, and hook environment
// export. Collections return "", since callers are expected to have
// already filtered them out (spec section 4.7.1: "collections are
// skipped").
func ScalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// IsScalar reports whether v is a type ScalarString knows how to render.
func IsScalar(v interface{}) bool {
	switch v.(type) {
	case string, int, int64, float64, bool:
		return true
	default:
		return false
	}
}

// Validate checks the post-build invariants from spec section 3: name and
// version must be present, non-empty, and contain no '/'.
func (d Document) Validate() error {
	for _, key := range []string{KeyName, KeyVersion} {
		v, ok := d[key]
		if !ok {
			return errors.Errorf("metadata missing required key %q", key)
		}
		s := ScalarString(v)
		if s == "" {
			return errors.Errorf("metadata key %q must be non-empty", key)
		}
		if bytes.ContainsRune([]byte(s), '/') {
			return errors.Errorf("metadata key %q must not contain '/'", key)
		}
	}
	return nil
}
