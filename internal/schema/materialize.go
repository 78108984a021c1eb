package schema

import (
	"fmt"
	"strings"
)

// sqlType maps a declared field type to its backing SQLite column type
// (spec §3.2).
func sqlType(t FieldType) string {
	switch t {
	case FieldText, FieldDatetime, FieldJSON, FieldRelation, FieldFile:
		return "TEXT"
	case FieldNumber:
		return "REAL"
	case FieldBoolean:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// zeroValueLiteral returns the type-appropriate default literal used when a
// required column is added to a table with existing rows (spec §4.2).
func zeroValueLiteral(t FieldType) string {
	switch t {
	case FieldNumber:
		return "0"
	case FieldBoolean:
		return "0"
	case FieldDatetime, FieldText:
		return "''"
	default:
		return "''"
	}
}

// columnDDL renders one declared field as a CREATE TABLE column clause,
// including a foreign-key reference for relation fields.
func columnDDL(f *Field, relationTarget string) string {
	var sb strings.Builder
	sb.WriteString(f.Name)
	sb.WriteString(" ")
	sb.WriteString(sqlType(f.Type))
	if f.Required {
		sb.WriteString(" NOT NULL")
	}
	if f.Type == FieldRelation && relationTarget != "" {
		sb.WriteString(fmt.Sprintf(" REFERENCES %s(id)", relationTarget))
	}
	return sb.String()
}

// backingTableDDL builds the full CREATE TABLE statement for a collection's
// backing table: system columns, auth columns if applicable, then declared
// fields in declaration order (spec §3.1, §3.2).
func backingTableDDL(c *Collection, relationTargets map[string]string) string {
	cols := []string{
		"id TEXT PRIMARY KEY",
		"created_at TEXT NOT NULL",
		"updated_at TEXT NOT NULL",
	}

	if c.Type == CollectionAuth {
		cols = append(cols,
			"email TEXT UNIQUE NOT NULL",
			"password_hash TEXT NOT NULL",
			"verified INTEGER NOT NULL DEFAULT 0",
		)
	}

	for _, f := range c.Fields {
		cols = append(cols, columnDDL(f, relationTargets[f.Name]))
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", c.Name, strings.Join(cols, ",\n  "))
}
