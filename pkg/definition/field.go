package definition

import (
	"fmt"
	"strings"
)

// FieldType is the type of a config schema leaf.
type FieldType string

const (
	FieldString     FieldType = "string"
	FieldText       FieldType = "text"
	FieldPassword   FieldType = "password"
	FieldSecretText FieldType = "secrettext"
	FieldJSON       FieldType = "json"
	FieldInteger    FieldType = "integer"
	FieldFloat      FieldType = "float"
	FieldOption     FieldType = "option"
	FieldVariant    FieldType = "variant"
	FieldBoolean    FieldType = "boolean"
	FieldFile       FieldType = "file"
	FieldSecretFile FieldType = "secretfile"
	FieldList       FieldType = "list"
	FieldMap        FieldType = "map"
	FieldSecretMap  FieldType = "secretmap"
	FieldStructure  FieldType = "structure"
	FieldGroup      FieldType = "group"
)

// Validate checks if the field type is known.
func (t FieldType) Validate() error {
	switch t {
	case FieldString, FieldText, FieldPassword, FieldSecretText, FieldJSON, FieldInteger,
		FieldFloat, FieldOption, FieldVariant, FieldBoolean, FieldFile, FieldSecretFile,
		FieldList, FieldMap, FieldSecretMap, FieldStructure, FieldGroup:
		return nil
	default:
		return fmt.Errorf("invalid config field type: %s", t)
	}
}

// IsSecret reports whether values are stored masked.
func (t FieldType) IsSecret() bool {
	return t == FieldPassword || t == FieldSecretText || t == FieldSecretFile || t == FieldSecretMap
}

// Variant source types.
const (
	SourceInline  = "inline"
	SourceConfig  = "config"
	SourceBuiltin = "builtin"
)

// VariantSource tells where the allowed values of a variant field come from.
type VariantSource struct {
	Type   string                 `json:"type"`
	Strict bool                   `json:"strict"`
	Value  []interface{}          `json:"value,omitempty"`
	Name   string                 `json:"name,omitempty"`
	Args   map[string]interface{} `json:"args,omitempty"`
}

// Limits restrict the values a field accepts.
type Limits struct {
	Min         *float64               `json:"min,omitempty"`
	Max         *float64               `json:"max,omitempty"`
	Pattern     string                 `json:"pattern,omitempty"`
	Option      map[string]interface{} `json:"option,omitempty"`
	Source      *VariantSource         `json:"source,omitempty"`
	YSpec       map[string]interface{} `json:"yspec,omitempty"`
	CUE         string                 `json:"cue,omitempty"`
	Activatable bool                   `json:"activatable,omitempty"`
	Active      bool                   `json:"active,omitempty"`
	ReadOnly    StateList              `json:"read_only"`
	Writable    StateList              `json:"writable"`
}

// Field is one node of a config schema. Groups hold their leaves in Subs.
type Field struct {
	Name               string                 `json:"name"`
	Type               FieldType              `json:"type"`
	DisplayName        string                 `json:"display_name,omitempty"`
	Description        string                 `json:"description,omitempty"`
	Default            interface{}            `json:"default,omitempty"`
	Required           bool                   `json:"required"`
	Limits             Limits                 `json:"limits"`
	UIOptions          map[string]interface{} `json:"ui_options,omitempty"`
	GroupCustomization *bool                  `json:"group_customization,omitempty"`
	Subs               []*Field               `json:"subs,omitempty"`
}

// IsGroup reports whether the field holds subfields.
func (f *Field) IsGroup() bool {
	return f.Type == FieldGroup
}

// Leaf is a schema leaf addressed by its group and name. Top-level leaves have an
// empty Group.
type Leaf struct {
	Group string
	Field *Field
	// Parent is the enclosing group field, nil for top-level leaves.
	Parent *Field
}

// Key renders the leaf as "group/name" or "name".
func (l Leaf) Key() string {
	if l.Group == "" {
		return l.Field.Name
	}
	return l.Group + "/" + l.Field.Name
}

// Schema is an ordered config schema.
type Schema []*Field

// Leaves returns the non-group leaves in declaration order.
func (s Schema) Leaves() []Leaf {
	var leaves []Leaf
	for _, f := range s {
		if f.IsGroup() {
			for _, sub := range f.Subs {
				leaves = append(leaves, Leaf{Group: f.Name, Field: sub, Parent: f})
			}
			continue
		}
		leaves = append(leaves, Leaf{Field: f})
	}
	return leaves
}

// Lookup finds a field by "name" or "group/name".
func (s Schema) Lookup(key string) (*Field, bool) {
	group, name, nested := strings.Cut(key, "/")
	for _, f := range s {
		if f.Name != group {
			continue
		}
		if !nested {
			return f, true
		}
		for _, sub := range f.Subs {
			if sub.Name == name {
				return sub, true
			}
		}
	}
	return nil, false
}

// Activatable returns the groups that can be switched on and off.
func (s Schema) Activatable() []*Field {
	var out []*Field
	for _, f := range s {
		if f.IsGroup() && f.Limits.Activatable {
			out = append(out, f)
		}
	}
	return out
}

// GroupCustomizable resolves whether a leaf may be overridden in group configs. An
// explicit flag on the leaf wins, then the flag on its group, then the prototype default.
func (l Leaf) GroupCustomizable(protoDefault bool) bool {
	if l.Field.GroupCustomization != nil {
		return *l.Field.GroupCustomization
	}
	if l.Parent != nil && l.Parent.GroupCustomization != nil {
		return *l.Parent.GroupCustomization
	}
	return protoDefault
}

// GroupFieldCustomizable resolves the flag for a whole group node.
func GroupFieldCustomizable(f *Field, protoDefault bool) bool {
	if f.GroupCustomization != nil {
		return *f.GroupCustomization
	}
	return protoDefault
}
