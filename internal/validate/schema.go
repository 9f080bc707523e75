package validate

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"atd/signal-comms/internal/domain"
)

const timestampPattern = `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}$`

// Schema is a compiled JSON Schema that every publishable record must match.
type Schema struct {
	schema *gojsonschema.Schema
	err    error
}

// NewSchema compiles a JSON Schema document given as a Go value.
func NewSchema(document any) Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(document))
	if err != nil {
		return Schema{err: fmt.Errorf("compile schema: %w", err)}
	}
	return Schema{schema: s}
}

// Check reports whether the schema compiled.
func (s Schema) Check() error {
	if s.err != nil {
		return s.err
	}
	if s.schema == nil {
		return errors.New("schema is not compiled")
	}
	return nil
}

// CommStatusSchema describes the comm status record. The nullable columns
// must be present but may be null.
func CommStatusSchema() Schema {
	codes := make([]any, 0, len(domain.Reasons()))
	descs := make([]any, 0, len(domain.Reasons()))
	for _, r := range domain.Reasons() {
		codes = append(codes, r.Code())
		descs = append(descs, string(r))
	}

	text := map[string]any{"type": "string", "minLength": 1}
	nullableText := map[string]any{"type": []any{"string", "null"}}

	return NewSchema(map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []any{
			"id", "ip_address", "device_id", "knack_id", "location_name", "location_id", "signal_id",
			"status_code", "status_desc", "delay", "attempts", "timestamp", "device_type", "run_id",
		},
		"properties": map[string]any{
			"id":            text,
			"ip_address":    text,
			"device_id":     text,
			"knack_id":      nullableText,
			"location_name": nullableText,
			"location_id":   nullableText,
			"signal_id":     nullableText,
			"status_code":   map[string]any{"type": "integer", "enum": codes},
			"status_desc":   map[string]any{"type": "string", "enum": descs},
			"delay":         map[string]any{"type": []any{"integer", "null"}},
			"attempts":      map[string]any{"type": "integer", "minimum": 1},
			"timestamp":     map[string]any{"type": "string", "pattern": timestampPattern},
			"device_type":   text,
			"run_id":        text,
		},
	})
}
