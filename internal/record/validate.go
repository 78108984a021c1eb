// Package record implements the per-operation CRUD pipeline (spec §4.5):
// authorize, validate shape and relations, serialize, write, reload,
// deserialize, and invoke the hook chain.
package record

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

// validateShape checks each declared field present in data (or, for
// create, every required field) against its canonical validator (spec
// §4.3). partial, when true, only validates the fields actually present in
// data (update semantics); when false, missing required fields fail
// (create semantics).
func validateShape(coll *schema.Collection, data map[string]any, partial bool) map[string]apierror.FieldError {
	errs := make(map[string]apierror.FieldError)

	for _, f := range coll.Fields {
		value, present := data[f.Name]

		if !present {
			if !partial && f.Required {
				errs[f.Name] = apierror.FieldError{Code: "required", Message: "field is required"}
			}
			continue
		}

		if value == nil {
			if f.Required {
				errs[f.Name] = apierror.FieldError{Code: "required", Message: "field is required"}
			}
			continue
		}

		if err := validateFieldValue(f, value); err != nil {
			errs[f.Name] = *err
		}
	}

	return errs
}

func validateFieldValue(f *schema.Field, value any) *apierror.FieldError {
	switch f.Type {
	case schema.FieldText:
		if _, ok := value.(string); !ok {
			return &apierror.FieldError{Code: "invalid_type", Message: "must be a string"}
		}
	case schema.FieldNumber:
		n, ok := asFloat(value)
		if !ok {
			return &apierror.FieldError{Code: "invalid_type", Message: "must be a number"}
		}
		if isNaNOrInf(n) {
			return &apierror.FieldError{Code: "invalid_type", Message: "must be finite"}
		}
	case schema.FieldBoolean:
		if _, ok := value.(bool); !ok {
			return &apierror.FieldError{Code: "invalid_type", Message: "must be a boolean"}
		}
	case schema.FieldDatetime:
		s, ok := value.(string)
		if !ok {
			return &apierror.FieldError{Code: "invalid_type", Message: "must be an ISO-8601 string"}
		}
		if !isValidISO8601(s) {
			return &apierror.FieldError{Code: "invalid_format", Message: "must be ISO-8601 with optional offset"}
		}
	case schema.FieldJSON:
		// any is acceptable
	case schema.FieldRelation:
		s, ok := value.(string)
		if !ok || s == "" {
			return &apierror.FieldError{Code: "invalid_type", Message: "must be a non-empty string"}
		}
	case schema.FieldFile:
		// handled outside the body validator (spec §4.3)
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func isNaNOrInf(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}

var iso8601Layouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func isValidISO8601(s string) bool {
	for _, layout := range iso8601Layouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// validateRelations checks that every non-null relation field value
// resolves to an existing record in its target collection (spec §4.3).
// Run after shape validation so a relation error is reported distinctly.
func validateRelations(ctx context.Context, db *store.DB, coll *schema.Collection, data map[string]any) (map[string]apierror.FieldError, error) {
	errs := make(map[string]apierror.FieldError)

	for _, f := range coll.Fields {
		if f.Type != schema.FieldRelation {
			continue
		}
		value, present := data[f.Name]
		if !present || value == nil {
			continue
		}
		s, ok := value.(string)
		if !ok || s == "" {
			continue // shape validation already caught this
		}

		var relOpts schema.RelationOptions
		if err := unmarshalOptions(f.Options, &relOpts); err != nil || relOpts.TargetCollection == "" {
			continue
		}

		var count int
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", relOpts.TargetCollection)
		if err := db.QueryRowContext(ctx, q, s).Scan(&count); err != nil {
			return nil, fmt.Errorf("checking relation %q: %w", f.Name, err)
		}
		if count == 0 {
			errs[f.Name] = apierror.FieldError{Code: "relation_not_found", Message: fmt.Sprintf("no record %q in collection %q", s, relOpts.TargetCollection)}
		}
	}

	return errs, nil
}
