package envelope

import (
	"encoding/json"
	"testing"
)

func TestUnwrap(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"nested object", `{"data": {"products": [1,2]}}`, `{"products": [1,2]}`},
		{"list", `{"data": [1,2,3]}`, `[1,2,3]`},
		{"no data key", `{"products": [1,2]}`, `{"products": [1,2]}`},
		{"bare list", `[1,2,3]`, `[1,2,3]`},
		{"scalar", `42`, `42`},
		{"null data", `{"data": null}`, `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Unwrap(json.RawMessage(tt.in))
			if string(got) != tt.want {
				t.Errorf("Unwrap(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		key  string
		want string
	}{
		{"key hit", `{"data": {"products": [1,2]}}`, "products", `[1,2]`},
		{"array ignores key", `{"data": [1,2,3]}`, "anything", `[1,2,3]`},
		{"missing key falls back", `{"data": {"products": [1,2]}}`, "plans", `{"products": [1,2]}`},
		{"empty key", `{"data": {"a": 1}}`, "", `{"a": 1}`},
		{"unwrapped input", `{"products": [7]}`, "products", `[7]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(json.RawMessage(tt.in), tt.key)
			if string(got) != tt.want {
				t.Errorf("Extract(%s, %q) = %s, want %s", tt.in, tt.key, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Kind
	}{
		{"list", `{"data": [1,2]}`, KindList},
		{"single with id", `{"data": {"id": 7, "subject": "hi"}}`, KindSingle},
		{"nested collections", `{"data": {"products": [], "plans": []}}`, KindNested},
		{"zero id is nested", `{"id": 0, "name": "x"}`, KindNested},
		{"empty string id is nested", `{"id": "", "name": "x"}`, KindNested},
		{"string id is single", `{"id": "pm_123"}`, KindSingle},
		{"scalar", `"ok"`, KindScalar},
		{"number", `3.5`, KindScalar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(json.RawMessage(tt.in))
			if got.Kind != tt.want {
				t.Errorf("Classify(%s).Kind = %v, want %v", tt.in, got.Kind, tt.want)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	if !IsList(json.RawMessage(` [1]`)) {
		t.Error("IsList with leading whitespace")
	}
	if IsList(json.RawMessage(`{"a":1}`)) {
		t.Error("IsList on object")
	}
	if !IsNested(json.RawMessage(`{"products": []}`)) {
		t.Error("IsNested on collection object")
	}
	if IsNested(json.RawMessage(`{"id": 1}`)) {
		t.Error("IsNested on single object")
	}
	if IsSingleObject(json.RawMessage(`[{"id": 1}]`)) {
		t.Error("IsSingleObject on array")
	}
}
