package transformer

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type yamlTransformer struct{}

// YAML returns a codec backed by gopkg.in/yaml.v3. Mappings decode as
// map[string]any so results match what the JSON codec produces.
func YAML() DataTransformer {
	return yamlTransformer{}
}

func (yamlTransformer) Serialize(v any) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialize, err)
	}
	return data, nil
}

func (yamlTransformer) Deserialize(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return v, nil
}
