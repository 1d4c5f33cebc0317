package bt

import (
	"encoding/base64"
	"fmt"
)

// ToJSON converts a decoded bencode Value into a plain JSON-marshalable
// tree. Byte-strings become base64-encoded JSON strings (bencode makes no
// distinction between text and binary, so every leaf string is treated as
// a byte-string for round-trip safety); dict keys stay as literal JSON
// object keys, unescaped, since wire dict keys are short ASCII field
// names, not opaque data.
func ToJSON(v Value) (interface{}, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case []byte:
		return base64.StdEncoding.EncodeToString(t), nil
	case []Value:
		out := make([]interface{}, len(t))
		for i, item := range t {
			jv, err := ToJSON(item)
			if err != nil {
				return nil, err
			}
			out[i] = jv
		}
		return out, nil
	case map[string]Value:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			jv, err := ToJSON(item)
			if err != nil {
				return nil, err
			}
			out[k] = jv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("bt: unsupported value type %T in ToJSON", v)
	}
}

// FromJSON converts a tree produced by encoding/json's default decoding
// (map[string]interface{}, []interface{}, float64, string, bool) into a
// bencode Value. JSON strings are treated as base64 of the intended
// byte-string, the inverse of ToJSON; JSON numbers must be integral.
func FromJSON(v interface{}) (Value, error) {
	switch t := v.(type) {
	case float64:
		if t != float64(int64(t)) {
			return nil, fmt.Errorf("bt: non-integer JSON number %v has no bencode representation", t)
		}
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		raw, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			return nil, fmt.Errorf("bt: JSON string %q is not valid base64: %w", t, err)
		}
		return raw, nil
	case []interface{}:
		out := make([]Value, len(t))
		for i, item := range t {
			bv, err := FromJSON(item)
			if err != nil {
				return nil, err
			}
			out[i] = bv
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			bv, err := FromJSON(item)
			if err != nil {
				return nil, err
			}
			out[k] = bv
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("bt: null has no bencode representation")
	default:
		return nil, fmt.Errorf("bt: unsupported JSON value type %T in FromJSON", v)
	}
}
