package record

import (
	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/schema"
)

// ValidateAndSerialize validates data's declared-field shape (per partial)
// and serializes it to the column->value bag the store expects. It is
// exported so internal/auth can run the same declared-field pipeline when
// inserting the extra columns of an auth-collection user row (spec §4.3,
// §4.5) without duplicating the validator or the JSON/boolean codec.
func ValidateAndSerialize(coll *schema.Collection, data map[string]any, partial bool) (map[string]any, map[string]apierror.FieldError, error) {
	if fieldErrs := validateShape(coll, data, partial); len(fieldErrs) > 0 {
		return nil, fieldErrs, nil
	}
	serialized, err := serialize(coll, data)
	if err != nil {
		return nil, nil, err
	}
	return serialized, nil, nil
}

// Deserialize is the exported form of deserialize, for callers outside
// this package (internal/auth) that load a row directly rather than via
// Engine.
func Deserialize(coll *schema.Collection, row map[string]any) map[string]any {
	return deserialize(coll, row)
}
