package dag

import (
	"encoding/json"
	"maps"
	"slices"
)

// CanonicalJSON produces a deterministic JSON encoding with sorted object
// keys and no insignificant whitespace. It is the only encoding used for
// content-addressed identity.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return canonicalEncode(raw)
}

func canonicalEncode(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		buf := []byte{'{'}
		for i, k := range slices.Sorted(maps.Keys(val)) {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, keyBytes...)
			buf = append(buf, ':')
			valBytes, err := canonicalEncode(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, valBytes...)
		}
		return append(buf, '}'), nil

	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			itemBytes, err := canonicalEncode(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, itemBytes...)
		}
		return append(buf, ']'), nil

	default:
		return json.Marshal(v)
	}
}

// mustCanonical encodes values built only from strings, byte slices, bools
// and string maps, for which encoding cannot fail.
func mustCanonical(v any) []byte {
	data, err := CanonicalJSON(v)
	if err != nil {
		panic("dag: canonical encoding: " + err.Error())
	}
	return data
}
