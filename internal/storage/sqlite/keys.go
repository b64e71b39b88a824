package sqlite

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// encode returns the record's JSON and, when the record is a JSON object,
// its decoded form for key path lookups.
func encode(v any) (map[string]any, string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, string(raw), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, "", err
	}
	return doc, string(raw), nil
}

// lookupPath resolves a dot path ("a.b") inside a decoded object.
func lookupPath(doc map[string]any, path string) any {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = obj[part]; !ok {
			return nil
		}
	}
	return cur
}

// normalizeKey folds the numeric forms a key can arrive in down to int64
// so 5, int64(5), 5.0 and json.Number("5") address the same row.
func normalizeKey(k any) any {
	switch v := k.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint32:
		return int64(v)
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	default:
		return v
	}
}

func isZeroKey(k any) bool {
	switch v := k.(type) {
	case nil:
		return true
	case int64:
		return v == 0
	case string:
		return v == ""
	}
	return false
}

var errNoObject = errors.New("record is not a JSON object")
