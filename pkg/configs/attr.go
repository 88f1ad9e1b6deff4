package configs

import (
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
)

// customGroupKeys mirrors the schema with the resolved group_customization flags.
func customGroupKeys(schema definition.Schema, protoDefault bool) model.Tree {
	out := make(model.Tree, len(schema))
	for _, f := range schema {
		if !f.IsGroup() {
			out[f.Name] = definition.Leaf{Field: f}.GroupCustomizable(protoDefault)
			continue
		}
		fields := make(map[string]interface{}, len(f.Subs))
		for _, sub := range f.Subs {
			fields[sub.Name] = definition.Leaf{Group: f.Name, Field: sub, Parent: f}.GroupCustomizable(protoDefault)
		}
		out[f.Name] = map[string]interface{}{
			"value":  definition.GroupFieldCustomizable(f, protoDefault),
			"fields": fields,
		}
	}
	return out
}

// mergeGroupKeys recomputes group_keys for a schema. Leaves keep their previous flag,
// new leaves start false, removed leaves disappear. A flag never stays set on a leaf
// that is no longer customizable.
func mergeGroupKeys(schema definition.Schema, protoDefault bool, prev model.Tree) model.Tree {
	custom := customGroupKeys(schema, protoDefault)
	out := make(model.Tree, len(schema))
	for _, f := range schema {
		if !f.IsGroup() {
			out[f.Name] = boolAt(prev, f.Name, "") && boolAt(custom, f.Name, "")
			continue
		}
		fields := make(map[string]interface{}, len(f.Subs))
		for _, sub := range f.Subs {
			fields[sub.Name] = boolAt(prev, f.Name, sub.Name) && boolAt(custom, f.Name, sub.Name)
		}
		var value interface{}
		if f.Limits.Activatable {
			value = groupValue(prev, f.Name) && groupValue(custom, f.Name)
		}
		out[f.Name] = map[string]interface{}{"value": value, "fields": fields}
	}
	return out
}

// overridden reports whether a group config keeps its own value of a leaf.
func overridden(groupKeys model.Tree, leaf definition.Leaf) bool {
	if leaf.Group == "" {
		return boolAt(groupKeys, leaf.Field.Name, "")
	}
	return boolAt(groupKeys, leaf.Group, leaf.Field.Name)
}

// boolAt reads a top-level flag, or a group's field flag when sub is set.
func boolAt(keys model.Tree, name, sub string) bool {
	if sub == "" {
		b, _ := keys[name].(bool)
		return b
	}
	g, ok := asTree(keys[name])
	if !ok {
		return false
	}
	fields, ok := asTree(g["fields"])
	if !ok {
		return false
	}
	b, _ := fields[sub].(bool)
	return b
}

func groupValue(keys model.Tree, name string) bool {
	g, ok := asTree(keys[name])
	if !ok {
		return false
	}
	b, _ := g["value"].(bool)
	return b
}

// checkGroupKeys validates the attr of a group config write: custom_group_keys, when
// sent, must equal the computed mirror, and group_keys may only set customizable leaves.
func checkGroupKeys(schema definition.Schema, protoDefault bool, attr model.Tree) []FieldError {
	var errs []FieldError
	custom := customGroupKeys(schema, protoDefault)
	if sent, ok := attr[model.AttrCustomGroupKeys]; ok && !equalValues(sent, map[string]interface{}(custom)) {
		errs = append(errs, FieldError{Key: model.AttrCustomGroupKeys, Message: "custom_group_keys is read-only"})
	}
	keys, ok := asTree(attr[model.AttrGroupKeys])
	if !ok {
		if attr[model.AttrGroupKeys] != nil {
			errs = append(errs, FieldError{Key: model.AttrGroupKeys, Message: "group_keys should be a map"})
		}
		return errs
	}
	for _, leaf := range schema.Leaves() {
		if overridden(keys, leaf) && !overridden(custom, leaf) {
			errs = append(errs, FieldError{Key: leaf.Key(), Message: "field cannot be changed in a group config"})
		}
	}
	for _, f := range schema.Activatable() {
		if groupValue(keys, f.Name) && !groupValue(custom, f.Name) {
			errs = append(errs, FieldError{Key: f.Name, Message: "group activation cannot be changed in a group config"})
		}
	}
	return errs
}
