package security

import (
	"errors"
	"strings"
	"testing"
)

func TestReadJSONBody(t *testing.T) {
	t.Parallel()

	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		body    string
		limit   int
		wantErr error
	}{
		{name: "valid", body: `{"name":"movies"}`, limit: 1024},
		{name: "at limit", body: `{"name":"m"}`, limit: 12},
		{name: "over limit", body: `{"name":"movies"}`, limit: 8, wantErr: ErrBodyTooLarge},
		{name: "zero limit uses default", body: `{"name":"m"}`, limit: 0},
		{name: "malformed", body: `{"name":`, limit: 1024, wantErr: ErrInvalidJSON},
		{name: "too deep", body: strings.Repeat("[", 40) + strings.Repeat("]", 40), limit: 1024, wantErr: ErrJSONTooDeep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var p payload
			err := ReadJSONBody(strings.NewReader(tt.body), tt.limit, &p)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadJSONBody() = %v, want %v", err, tt.wantErr)
			}
			if err == nil && p.Name == "" {
				t.Error("body not decoded")
			}
		})
	}
}

func TestValidateJSONDepth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		json    string
		max     int
		wantErr error
	}{
		{
			name:    "flat object",
			json:    `{"key": "value"}`,
			max:     2,
			wantErr: nil,
		},
		{
			name:    "nested within limit",
			json:    `{"a": {"b": {"c": 1}}}`,
			max:     3,
			wantErr: nil,
		},
		{
			name:    "nested over limit",
			json:    `{"a": {"b": {"c": {"d": 1}}}}`,
			max:     3,
			wantErr: ErrJSONTooDeep,
		},
		{
			name:    "array nesting",
			json:    `[[[1]]]`,
			max:     3,
			wantErr: nil,
		},
		{
			name:    "array over limit",
			json:    `[[[[1]]]]`,
			max:     3,
			wantErr: ErrJSONTooDeep,
		},
		{
			name:    "empty data",
			json:    "",
			max:     1,
			wantErr: nil,
		},
		{
			name:    "simple string",
			json:    `"hello"`,
			max:     1,
			wantErr: nil,
		},
		{
			name:    "zero max uses default",
			json:    `{"key": "value"}`,
			max:     0,
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateJSONDepth([]byte(tt.json), tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateJSONDepth(%q, %d) = %v, want %v",
					tt.json, tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestValidateJSONDepth_DeepNesting(t *testing.T) {
	t.Parallel()

	// Build a deeply nested JSON: {"a":{"a":{"a":...}}}
	depth := 50
	var sb strings.Builder
	for range depth {
		sb.WriteString(`{"a":`)
	}
	sb.WriteString("1")
	for range depth {
		sb.WriteString("}")
	}

	err := ValidateJSONDepth([]byte(sb.String()), 32)
	if !errors.Is(err, ErrJSONTooDeep) {
		t.Errorf("expected ErrJSONTooDeep for depth %d, got %v", depth, err)
	}
}

func BenchmarkValidateJSONDepth(b *testing.B) {
	// Moderately nested JSON.
	data := []byte(`{"users": [{"name": "Alice", "profile": {"age": 30, "address": {"city": "NYC"}}}]}`)
	b.ResetTimer()
	for range b.N {
		_ = ValidateJSONDepth(data, 32)
	}
}
