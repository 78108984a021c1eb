package record

import (
	"encoding/json"

	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

func unmarshalOptions(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

// serialize converts a decoded record (bool, object, etc.) into the
// column->value bag bound into SQL: object-valued json fields are
// stringified, booleans become 0/1 (spec §4.5 step 5).
func serialize(coll *schema.Collection, data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(data))

	for name, value := range data {
		f := coll.FieldByName(name)
		if f == nil {
			continue // not a declared field; ignored rather than failing
		}

		switch f.Type {
		case schema.FieldBoolean:
			if b, ok := value.(bool); ok {
				if b {
					out[name] = 1
				} else {
					out[name] = 0
				}
			} else {
				out[name] = value
			}
		case schema.FieldJSON, schema.FieldFile:
			if value == nil {
				out[name] = nil
				continue
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, err
			}
			out[name] = string(encoded)
		default:
			out[name] = value
		}
	}

	return out, nil
}

// deserialize converts a raw store.Row back into JSON-ready values: json
// fields are parsed, booleans are coerced from 0/1 (spec §4.5 step 7).
func deserialize(coll *schema.Collection, row store.Row) map[string]any {
	out := make(map[string]any, len(row))

	for col, value := range row {
		f := coll.FieldByName(col)
		if f == nil {
			out[col] = value
			continue
		}

		switch f.Type {
		case schema.FieldBoolean:
			out[col] = toBool(value)
		case schema.FieldJSON, schema.FieldFile:
			out[col] = parseJSONColumn(value)
		default:
			out[col] = value
		}
	}

	if coll.Type == schema.CollectionAuth {
		if v, ok := out["verified"]; ok {
			out["verified"] = toBool(v)
		}
		delete(out, "password_hash")
	}

	return out
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != "" && t != "0"
	default:
		return false
	}
}

func parseJSONColumn(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	return out
}
