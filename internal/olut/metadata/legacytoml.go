package metadata

import (
	"io"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// tomlMapper walks a *toml.Tree accumulating the first error it hits,
// mirroring the teacher's sticky-error toml.go mapper so a chain of reads
// doesn't need an `if err != nil` after every call.
type tomlMapper struct {
	Tree  *toml.Tree
	Error error
}

// LoadLegacyTOML reads an old-style olut.toml project descriptor (see
// SPEC_FULL.md's supplemented-features section) and returns it as a
// Document. Only scalar and list-of-scalar top-level keys are recognized;
// nested tables are not olut.toml's format.
func LoadLegacyTOML(r io.Reader) (Document, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading legacy olut.toml")
	}
	tree, err := toml.LoadBytes(b)
	if err != nil {
		return nil, errors.Wrap(err, "parsing legacy olut.toml")
	}

	mapper := &tomlMapper{Tree: tree}
	doc := New()
	for _, key := range mapper.Tree.Keys() {
		doc[key] = mapper.readValue(key)
	}
	if mapper.Error != nil {
		return nil, mapper.Error
	}
	return doc, nil
}

func (m *tomlMapper) readValue(key string) interface{} {
	if m.Error != nil {
		return nil
	}
	raw := m.Tree.Get(key)
	switch v := raw.(type) {
	case string, int64, float64, bool:
		return v
	case []interface{}:
		return v
	case *toml.Tree:
		m.Error = errors.Errorf("olut.toml key %q is a table; only scalars and lists are supported", key)
		return nil
	default:
		return v
	}
}
