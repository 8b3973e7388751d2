package scheduler

import (
	"encoding/json"
	"fmt"
)

// Codec converts task payloads to and from their stored form.
type Codec interface {
	Encode(v any) (string, error)
	// Decode accepts the raw column value. Values that are already
	// structured are returned unchanged.
	Decode(raw any) (any, error)
	// Unmarshal decodes a stored payload into v.
	Unmarshal(stored string, v any) error
}

// JSONCodec stores payloads as JSON text. json.RawMessage is stored verbatim.
// Strings and byte slices are stored verbatim when they already hold valid
// JSON and as a JSON string otherwise, so every stored payload decodes.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) (string, error) {
	switch x := v.(type) {
	case json.RawMessage:
		if !json.Valid(x) {
			return "", fmt.Errorf("encode payload: invalid raw JSON")
		}
		return string(x), nil
	case []byte:
		if json.Valid(x) {
			return string(x), nil
		}
		v = string(x)
	case string:
		if json.Valid([]byte(x)) {
			return x, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func (JSONCodec) Decode(raw any) (any, error) {
	var b []byte
	switch x := raw.(type) {
	case nil:
		return nil, nil
	case string:
		b = []byte(x)
	case *string:
		if x == nil {
			return nil, nil
		}
		b = []byte(*x)
	case []byte:
		b = x
	default:
		return raw, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (JSONCodec) Unmarshal(stored string, v any) error {
	return json.Unmarshal([]byte(stored), v)
}
