package validate

import (
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"atd/signal-comms/internal/domain"
)

// FieldError explains why one field of one record was rejected. Rule is the
// JSON Schema error type, e.g. "required" or "enum".
type FieldError struct {
	Index    int    `json:"index"`
	RecordID string `json:"record_id"`
	Field    string `json:"field"`
	Rule     string `json:"rule"`
	Reason   string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("record %s: field %s: %s", e.RecordID, e.Field, e.Reason)
}

// Result splits a batch into publishable records and field-level rejections.
type Result struct {
	Accepted []domain.Record
	Rejected []FieldError
}

// RejectedRecords counts distinct records with at least one error.
func (r Result) RejectedRecords() int {
	seen := make(map[int]struct{})
	for _, e := range r.Rejected {
		seen[e.Index] = struct{}{}
	}
	return len(seen)
}

// Validate checks every record independently; a malformed record never
// affects its siblings. With a schema that failed to compile every record is
// rejected.
func Validate(records []domain.Record, schema Schema) Result {
	var result Result

	for i, record := range records {
		errs := validateRecord(i, record, schema)
		if len(errs) == 0 {
			result.Accepted = append(result.Accepted, record)
			continue
		}
		result.Rejected = append(result.Rejected, errs...)
	}

	return result
}

func validateRecord(index int, record domain.Record, schema Schema) []FieldError {
	if err := schema.Check(); err != nil {
		return []FieldError{{Index: index, RecordID: record.ID, Field: "(schema)", Rule: "schema", Reason: err.Error()}}
	}

	res, err := schema.schema.Validate(gojsonschema.NewGoLoader(record.Fields()))
	if err != nil {
		return []FieldError{{Index: index, RecordID: record.ID, Field: "(record)", Rule: "load", Reason: err.Error()}}
	}
	if res.Valid() {
		return nil
	}

	errs := make([]FieldError, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		errs = append(errs, FieldError{
			Index:    index,
			RecordID: record.ID,
			Field:    fieldName(e),
			Rule:     e.Type(),
			Reason:   e.Description(),
		})
	}

	// object keywords are checked in map order
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Field != errs[j].Field {
			return errs[i].Field < errs[j].Field
		}
		return errs[i].Rule < errs[j].Rule
	})

	return errs
}

// fieldName resolves the offending column. Object level errors (missing or
// unexpected properties) carry it in their details instead of their context.
func fieldName(e gojsonschema.ResultError) string {
	if p, ok := e.Details()["property"].(string); ok && p != "" {
		return p
	}
	return e.Field()
}
