// Package transform maps raw upstream payloads to documents and typed records.
// Every failure is classified as a cacheerr mapping failure.
package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-annotationcache/pkg/cacheerr"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
)

// JSONArray parses a raw JSON payload into documents. A top-level array yields
// one document per element; a single top-level object yields one document.
// Numbers are kept as json.Number so identifiers and counts survive intact.
func JSONArray(raw []byte) ([]types.Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, cacheerr.Mapping("transform.json", errors.New("empty payload"))
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	switch trimmed[0] {
	case '[':
		var elems []map[string]any
		if err := dec.Decode(&elems); err != nil {
			return nil, cacheerr.Mapping("transform.json", fmt.Errorf("decode array: %w", err))
		}
		docs := make([]types.Document, 0, len(elems))
		for i, e := range elems {
			if e == nil {
				return nil, cacheerr.Mapping("transform.json", fmt.Errorf("element %d is not an object", i))
			}
			docs = append(docs, normalize(e))
		}
		return docs, nil
	case '{':
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, cacheerr.Mapping("transform.json", fmt.Errorf("decode object: %w", err))
		}
		return []types.Document{normalize(obj)}, nil
	default:
		return nil, cacheerr.Mapping("transform.json", fmt.Errorf("expected a JSON array or object, got %q", trimmed[0]))
	}
}

// normalize converts json.Number values to float64 or int64 so documents hold
// only plain types that every store can encode.
func normalize(m map[string]any) types.Document {
	out := make(types.Document, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		return map[string]any(normalize(t))
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalizeValue(e)
		}
		return s
	default:
		return v
	}
}

// Decode maps a document onto a typed record.
func Decode[T any](doc types.Document) (T, error) {
	var out T
	b, err := json.Marshal(doc)
	if err != nil {
		return out, cacheerr.Mapping("transform.decode", fmt.Errorf("encode document: %w", err))
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, cacheerr.Mapping("transform.decode", fmt.Errorf("decode %T: %w", out, err))
	}
	return out, nil
}

// DecodeAll maps every document onto a typed record, stopping at the first failure.
func DecodeAll[T any](docs []types.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := Decode[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeArray maps a raw JSON array straight onto typed records.
func DecodeArray[T any](raw []byte) ([]T, error) {
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, cacheerr.Mapping("transform.decode_array", fmt.Errorf("decode []%T: %w", *new(T), err))
	}
	return out, nil
}

// Encode maps a typed record onto a document.
func Encode[T any](v T) (types.Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, cacheerr.Mapping("transform.encode", err)
	}
	docs, err := JSONArray(b)
	if err != nil {
		return nil, err
	}
	if len(docs) != 1 {
		return nil, cacheerr.Mapping("transform.encode", fmt.Errorf("%T does not encode to a single object", v))
	}
	return docs[0], nil
}
