// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// FileFormat selects the wire encoding of a policy store file.
type FileFormat string

// Supported file formats.
const (
	FormatJSON FileFormat = "json"
	FormatYAML FileFormat = "yaml"
)

// FileStore reads policies from a single JSON or YAML file. The file is
// re-read on every LoadAll, so edits become visible on the next cache
// refresh without a restart.
type FileStore struct {
	path   string
	format FileFormat
}

// Open creates a FileStore for path, picking the format from the file
// extension: .json, .yaml, or .yml.
func Open(path string) (*FileStore, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return NewFileStore(path, FormatJSON), nil
	case ".yaml", ".yml":
		return NewFileStore(path, FormatYAML), nil
	default:
		return nil, oops.
			Code("INVALID_REQUEST").
			With("path", path).
			Errorf("unsupported policy file extension (want .json, .yaml, or .yml)")
	}
}

// NewFileStore creates a FileStore with an explicit format.
func NewFileStore(path string, format FileFormat) *FileStore {
	return &FileStore{path: path, format: format}
}

// LoadAll implements Store. The whole file must parse, pass schema
// validation, and hold unique policy names, or nothing loads.
func (s *FileStore) LoadAll(ctx context.Context) ([]*PolicyDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("BACKEND_UNAVAILABLE").With("path", s.path).Wrap(err)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, oops.Code("BACKEND_UNAVAILABLE").With("path", s.path).Wrapf(err, "reading policy file")
	}

	set, err := DecodeSet(raw, s.format)
	if err != nil {
		return nil, oops.With("path", s.path).Wrap(err)
	}
	return set.Policies, nil
}

// LoadByName implements Store.
func (s *FileStore) LoadByName(ctx context.Context, name string) (*PolicyDocument, error) {
	docs, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if doc.Name == name {
			return doc, nil
		}
	}
	return nil, notFound(name)
}

// DecodeSet parses raw bytes into a validated SetDocument: shape is
// checked against the embedded schema, then set-level invariants.
func DecodeSet(raw []byte, format FileFormat) (*SetDocument, error) {
	instance, err := decodeInstance(raw, format)
	if err != nil {
		return nil, err
	}
	if err := ValidateShape(instance); err != nil {
		return nil, err
	}

	var set SetDocument
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(raw, &set); err != nil {
			return nil, oops.Code("POLICY_MALFORMED").Wrapf(err, "decoding policy set")
		}
	default:
		if err := json.Unmarshal(raw, &set); err != nil {
			return nil, oops.Code("POLICY_MALFORMED").Wrapf(err, "decoding policy set")
		}
	}

	if err := ValidateSet(&set); err != nil {
		return nil, err
	}
	return &set, nil
}

// decodeInstance parses raw bytes into the generic JSON-compatible form
// the schema validator consumes.
func decodeInstance(raw []byte, format FileFormat) (any, error) {
	var instance any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(raw, &instance); err != nil {
			return nil, oops.Code("POLICY_MALFORMED").Wrapf(err, "parsing policy YAML")
		}
		instance = toJSONTypes(instance)
	default:
		if err := json.Unmarshal(raw, &instance); err != nil {
			return nil, oops.Code("POLICY_MALFORMED").Wrapf(err, "parsing policy JSON")
		}
	}
	return instance, nil
}

// toJSONTypes recursively rewrites YAML-decoded values into the shapes
// JSON decoding would have produced.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = toJSONTypes(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = toJSONTypes(elem)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}
