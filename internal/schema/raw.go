package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// rawDocument is the YAML projection of the collection/field metadata held
// in the store, used by the admin schema export/import endpoint
// (SPEC_FULL.md's Domain Stack table). The store remains the source of
// truth; this is a diffable, human-editable view of it, in the shape of the
// donor's file-based schema format before it moved into the database.
type rawDocument struct {
	Collections []rawCollection `yaml:"collections"`
}

type rawCollection struct {
	Name    string         `yaml:"name"`
	Type    CollectionType `yaml:"type"`
	Rules   rawRules       `yaml:"rules,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`
	Fields  []rawField     `yaml:"fields"`
}

type rawRules struct {
	List   *string `yaml:"list,omitempty"`
	View   *string `yaml:"view,omitempty"`
	Create *string `yaml:"create,omitempty"`
	Update *string `yaml:"update,omitempty"`
	Delete *string `yaml:"delete,omitempty"`
}

type rawField struct {
	Name     string         `yaml:"name"`
	Type     FieldType      `yaml:"type"`
	Required bool           `yaml:"required,omitempty"`
	Options  map[string]any `yaml:"options,omitempty"`
}

// ExportYAML renders every collection and its fields as YAML, for an
// operator to read and diff outside the database.
func (m *Manager) ExportYAML(ctx context.Context) ([]byte, error) {
	collections, err := m.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading collections for export: %w", err)
	}

	doc := rawDocument{Collections: make([]rawCollection, 0, len(collections))}
	for _, c := range collections {
		rc := rawCollection{
			Name: c.Name,
			Type: c.Type,
			Rules: rawRules{
				List:   c.Rules.ListRule,
				View:   c.Rules.ViewRule,
				Create: c.Rules.CreateRule,
				Update: c.Rules.UpdateRule,
				Delete: c.Rules.DeleteRule,
			},
		}
		if len(c.Options) > 0 {
			var opts map[string]any
			if err := json.Unmarshal(c.Options, &opts); err == nil {
				rc.Options = opts
			}
		}
		for _, f := range c.Fields {
			rf := rawField{Name: f.Name, Type: f.Type, Required: f.Required}
			if len(f.Options) > 0 {
				var opts map[string]any
				if err := json.Unmarshal(f.Options, &opts); err == nil {
					rf.Options = opts
				}
			}
			rc.Fields = append(rc.Fields, rf)
		}
		doc.Collections = append(doc.Collections, rc)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding schema as YAML: %w", err)
	}
	return out, nil
}

// ImportYAML restores collections and fields described in YAML that are
// absent from the store: missing collections are created in full, and
// missing fields on existing collections are appended via AddField. It
// never drops or retypes anything already present — import is additive
// only, consistent with the migration model of §4.2 (no operation here
// bypasses the table-copy procedure for existing columns).
func (m *Manager) ImportYAML(ctx context.Context, data []byte) (created int, fieldsAdded int, err error) {
	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, 0, fmt.Errorf("parsing schema YAML: %w", err)
	}

	for _, rc := range doc.Collections {
		existing, getErr := m.GetCollection(ctx, rc.Name)
		if getErr != nil {
			fields := make([]FieldInput, 0, len(rc.Fields))
			for _, rf := range rc.Fields {
				fields = append(fields, FieldInput{
					Name:     rf.Name,
					Type:     rf.Type,
					Required: rf.Required,
					Options:  marshalRawOptions(rf.Options),
				})
			}
			if _, cErr := m.CreateCollection(ctx, CreateCollectionInput{
				Name:    rc.Name,
				Type:    rc.Type,
				Options: marshalRawOptions(rc.Options),
				Rules: Rules{
					ListRule:   rc.Rules.List,
					ViewRule:   rc.Rules.View,
					CreateRule: rc.Rules.Create,
					UpdateRule: rc.Rules.Update,
					DeleteRule: rc.Rules.Delete,
				},
				Fields: fields,
			}); cErr != nil {
				return created, fieldsAdded, fmt.Errorf("creating collection %q: %w", rc.Name, cErr)
			}
			created++
			continue
		}

		for _, rf := range rc.Fields {
			if existing.FieldByName(rf.Name) != nil {
				continue
			}
			if _, aErr := m.AddField(ctx, rc.Name, FieldInput{
				Name:     rf.Name,
				Type:     rf.Type,
				Required: rf.Required,
				Options:  marshalRawOptions(rf.Options),
			}); aErr != nil {
				return created, fieldsAdded, fmt.Errorf("adding field %q to %q: %w", rf.Name, rc.Name, aErr)
			}
			fieldsAdded++
		}
	}

	return created, fieldsAdded, nil
}

func marshalRawOptions(opts map[string]any) []byte {
	if len(opts) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return []byte("{}")
	}
	return b
}
