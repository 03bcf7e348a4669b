package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Tagger derives the cache tag of an operation.
//
// Contract:
//   - Determinism: same inputs must produce the same tag, regardless of map
//     iteration order. values is ordered and its order is significant.
//   - Concurrency: implementations must be safe for concurrent use.
type Tagger interface {
	Tag(path string, input any, values []any) (string, error)
}

// TaggerFunc adapts a function to the Tagger interface.
type TaggerFunc func(path string, input any, values []any) (string, error)

// Tag calls f.
func (f TaggerFunc) Tag(path string, input any, values []any) (string, error) {
	return f(path, input, values)
}

// DefaultTagger generates SHA-256 based cache tags.
type DefaultTagger struct{}

// NewDefaultTagger creates a new default tagger.
func NewDefaultTagger() *DefaultTagger {
	return &DefaultTagger{}
}

// Tag generates a deterministic tag.
// Format: <path> when input is nil and values is empty, otherwise
// <path>?hash=<hex SHA-256 of canonical JSON [input, values]>.
func (t *DefaultTagger) Tag(path string, input any, values []any) (string, error) {
	if input == nil && len(values) == 0 {
		return path, nil
	}
	if values == nil {
		values = []any{}
	}

	canonical, err := canonicalize([]any{input, values})
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize input: %w", err)
	}

	hash := sha256.Sum256(canonical)
	return path + "?hash=" + hex.EncodeToString(hash[:]), nil
}

// canonicalize produces a deterministic JSON representation of v.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		// encoding/json already sorts map keys at every depth.
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

var (
	_ Tagger = (*DefaultTagger)(nil)
	_ Tagger = TaggerFunc(nil)
)
