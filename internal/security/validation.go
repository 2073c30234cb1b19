package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/flemzord/strmsync/internal/fault"
)

// Request body limits.
const (
	DefaultMaxBodySize  = 1 << 20
	DefaultMaxJSONDepth = 32
)

// Validation errors.
var (
	ErrBodyTooLarge = fault.New(fault.Validation, "request body too large")
	ErrJSONTooDeep  = fault.New(fault.Validation, "JSON nesting too deep")
	ErrInvalidJSON  = fault.New(fault.Validation, "invalid JSON")
)

// ReadJSONBody reads at most limit bytes from r (DefaultMaxBodySize when
// limit <= 0), rejects deeper than DefaultMaxJSONDepth nesting and decodes
// the body into v.
func ReadJSONBody(r io.Reader, limit int, v any) error {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	if len(data) > limit {
		return fmt.Errorf("%w: max %d bytes", ErrBodyTooLarge, limit)
	}
	if err := ValidateJSONDepth(data, DefaultMaxJSONDepth); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	return nil
}

// ValidateJSONDepth checks that data does not nest deeper than limit
// levels (DefaultMaxJSONDepth when limit <= 0).
func ValidateJSONDepth(data []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxJSONDepth
	}
	if len(data) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}

		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > limit {
				return fmt.Errorf("%w: depth %d (max %d)", ErrJSONTooDeep, depth, limit)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}
