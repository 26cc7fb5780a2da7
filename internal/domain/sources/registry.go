package sources

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RawFileName is where the extraction step leaves its output inside an
// export directory.
const RawFileName = "extracted.json"

// Registry maps source kinds to their mappers.
type Registry struct {
	mappers map[string]Mapper
}

// NewRegistry registers mappers under their Kind.
func NewRegistry(mappers ...Mapper) *Registry {
	r := &Registry{mappers: make(map[string]Mapper, len(mappers))}
	for _, m := range mappers {
		r.mappers[m.Kind()] = m
	}
	return r
}

// Get returns the mapper for kind.
func (r *Registry) Get(kind string) (Mapper, error) {
	m, ok := r.mappers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
	return m, nil
}

// Kinds lists the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.mappers))
	for k := range r.mappers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decode reads kind's raw extraction from rd.
func (r *Registry) Decode(kind string, rd io.Reader) (Raw, error) {
	m, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	raw, err := m.Decode(rd)
	if err != nil {
		return nil, fmt.Errorf("decode %s extraction: %w", kind, err)
	}
	return raw, nil
}

// DecodeFile reads kind's raw extraction for path; see ExtractionPath.
func (r *Registry) DecodeFile(kind, path string) (Raw, error) {
	path, err := ExtractionPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return r.Decode(kind, f)
}

// ExtractionPath locates the extraction for an export path: RawFileName
// inside a directory, a .json file itself, or the .json file beside any
// other single-file export ("visits/a.mhtml" -> "visits/a.json").
func ExtractionPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return filepath.Join(path, RawFileName), nil
	}
	ext := filepath.Ext(path)
	if strings.EqualFold(ext, ".json") {
		return path, nil
	}
	return strings.TrimSuffix(path, ext) + ".json", nil
}
