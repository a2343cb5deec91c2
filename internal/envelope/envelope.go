// Package envelope normalizes backend responses. The billing backend wraps
// most payloads as {"data": ...} where the payload is a list, a single
// object, or an object nesting named collections; some endpoints return the
// payload bare. This package is the only place response shape is derived —
// callers receive decoded payloads and never re-unwrap.
package envelope

import (
	"bytes"
	"encoding/json"
)

// Kind tags the shape of an unwrapped payload.
type Kind int

const (
	// KindScalar is anything that is not a JSON array or object
	// (string, number, bool, null).
	KindScalar Kind = iota
	// KindList is a JSON array.
	KindList
	// KindSingle is a JSON object carrying a truthy "id" field.
	KindSingle
	// KindNested is any other JSON object, typically named collections
	// keyed by resource name.
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindSingle:
		return "single"
	case KindNested:
		return "nested"
	default:
		return "scalar"
	}
}

// Payload is an unwrapped response with its shape derived exactly once.
type Payload struct {
	Kind Kind
	Raw  json.RawMessage
}

// Unwrap returns the "data" field of an envelope object, or raw unchanged
// when no envelope is present. It must be applied exactly once per response;
// applying it to an already-unwrapped payload whose own shape happens to
// carry a "data" key would strip real data.
func Unwrap(raw json.RawMessage) json.RawMessage {
	obj, ok := asObject(raw)
	if !ok {
		return raw
	}
	if data, ok := obj["data"]; ok {
		return data
	}
	return raw
}

// Extract unwraps raw, then indexes the result by key when the result is a
// non-array object and the key is present. Arrays and missing keys fall back
// to the whole unwrapped payload.
func Extract(raw json.RawMessage, key string) json.RawMessage {
	data := Unwrap(raw)
	if key == "" {
		return data
	}
	obj, ok := asObject(data)
	if !ok {
		return data
	}
	if v, ok := obj[key]; ok {
		return v
	}
	return data
}

// Classify unwraps raw and tags its shape.
func Classify(raw json.RawMessage) Payload {
	data := Unwrap(raw)
	switch {
	case IsList(data):
		return Payload{Kind: KindList, Raw: data}
	case IsSingleObject(data):
		return Payload{Kind: KindSingle, Raw: data}
	case isObject(data):
		return Payload{Kind: KindNested, Raw: data}
	default:
		return Payload{Kind: KindScalar, Raw: data}
	}
}

// IsList reports whether raw is a JSON array.
func IsList(raw json.RawMessage) bool {
	t := firstToken(raw)
	return t == '['
}

// IsNested reports whether raw is a JSON object without a truthy "id" field.
func IsNested(raw json.RawMessage) bool {
	return isObject(raw) && !IsSingleObject(raw)
}

// IsSingleObject reports whether raw is a JSON object with a truthy "id"
// field — the marker distinguishing one resource from a nested collection.
func IsSingleObject(raw json.RawMessage) bool {
	obj, ok := asObject(raw)
	if !ok {
		return false
	}
	id, ok := obj["id"]
	if !ok {
		return false
	}
	return truthy(id)
}

// truthy mirrors the loose notion of truthiness the console UI relies on:
// null, false, 0 and "" are falsy, everything else is truthy.
func truthy(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if !isObject(raw) {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func isObject(raw json.RawMessage) bool {
	return firstToken(raw) == '{'
}

func firstToken(raw json.RawMessage) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
