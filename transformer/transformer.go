package transformer

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for transformer lookup and use.
var (
	ErrUnknown   = errors.New("transformer: unknown transformer")
	ErrSerialize = errors.New("transformer: serialize failed")
	ErrDecode    = errors.New("transformer: deserialize failed")
)

// DataTransformer converts between values and their serialized form.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Round trip: for primitives, mappings with string keys and arrays,
//     Deserialize(Serialize(v)) serializes to the same bytes as v. The value
//     comes back in the codec's generic shape (map[string]any, []any, and the
//     codec's number type), so Go structs and typed numbers are not restored
//     as such.
type DataTransformer interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

// Transformer holds the codec used for each direction.
type Transformer struct {
	Input  DataTransformer
	Output DataTransformer
}

// Validate reports whether both directions are set.
func (t Transformer) Validate() error {
	if t.Input == nil || t.Output == nil {
		return fmt.Errorf("%w: input and output codecs are required", ErrUnknown)
	}
	return nil
}

// Combined uses dt for both directions.
func Combined(dt DataTransformer) Transformer {
	return Transformer{Input: dt, Output: dt}
}

// Default returns the JSON transformer.
func Default() Transformer {
	return Combined(JSON())
}

// ByName returns a combined transformer by name: "json" or "yaml".
// The empty name selects the default.
func ByName(name string) (Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return Combined(JSON()), nil
	case "yaml", "yml":
		return Combined(YAML()), nil
	default:
		return Transformer{}, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
}
