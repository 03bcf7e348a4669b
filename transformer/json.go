package transformer

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type jsonTransformer struct{}

// JSON returns a codec backed by encoding/json. Every number decodes as
// json.Number holding its literal text, so 1 comes back as json.Number("1")
// and integers beyond 2^53 keep every digit.
func JSON() DataTransformer {
	return jsonTransformer{}
}

func (jsonTransformer) Serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialize, err)
	}
	return data, nil
}

func (jsonTransformer) Deserialize(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return v, nil
}
