package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON encodes v with deterministic key ordering so the report
// hash is byte-for-byte reproducible by an independent verifier. Maps are
// flattened to sorted key/value arrays and numbers keep their literal
// form, so re-encoding a decoded report yields the same bytes that were
// hashed at build time.
func CanonicalJSON(v any) ([]byte, error) {
	decoded, err := reparse(v)
	if err != nil {
		return nil, err
	}
	stable, err := normalize(decoded)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(stable); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

// reparse routes any value through a number-preserving JSON decode so
// structs, raw messages and already-decoded values canonicalize
// identically.
func reparse(v any) (any, error) {
	var data []byte
	switch val := v.(type) {
	case json.RawMessage:
		data = val
	case []byte:
		data = val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("canonical: marshal: %w", err)
		}
		data = b
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	return decoded, nil
}

func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			nv, err := normalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, k, nv)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	case json.Number:
		return val.String(), nil
	case string, bool, nil:
		return val, nil
	default:
		return nil, fmt.Errorf("canonical: unsupported value %T", v)
	}
}
