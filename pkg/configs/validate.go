package configs

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
)

// FieldError is one diagnostic of a rejected config.
type FieldError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Key + ": " + e.Message
}

// Resolver supplies the allowed values of builtin variant sources.
type Resolver interface {
	ResolveBuiltin(name string, args map[string]interface{}) ([]interface{}, error)
}

// Input is a config document to validate.
type Input struct {
	Schema definition.Schema
	Config model.Tree
	Attr   model.Tree
	// Previous is the config being replaced; nil for initial configs.
	Previous model.Tree
	// State is the owner's state, used by read_only and writable limits.
	State string
	// Strict rejects missing values of required leaves.
	Strict bool
}

// Validator coerces and checks config values against a schema.
type Validator struct {
	schemas  *definition.SchemaRegistry
	patterns sync.Map
}

// NewValidator creates a validator. Structure fields with cue limits are checked
// through the registry.
func NewValidator(schemas *definition.SchemaRegistry) *Validator {
	if schemas == nil {
		schemas = definition.NewSchemaRegistry()
	}
	return &Validator{schemas: schemas}
}

// Validate returns the coerced config and the list of problems found. The config is
// usable only when the list is empty.
func (v *Validator) Validate(in Input, resolver Resolver) (model.Tree, []FieldError) {
	var errs []FieldError
	fail := func(key, format string, args ...interface{}) {
		errs = append(errs, FieldError{Key: key, Message: fmt.Sprintf(format, args...)})
	}

	cfg := in.Config
	if cfg == nil {
		cfg = model.Tree{}
	}
	out := make(model.Tree, len(in.Schema))

	known := make(map[string]*definition.Field, len(in.Schema))
	for _, f := range in.Schema {
		known[f.Name] = f
	}
	for _, k := range sortedKeys(cfg) {
		if _, ok := known[k]; !ok {
			fail(k, "there is no such key in config schema")
		}
	}

	for _, f := range in.Schema {
		if !f.IsGroup() {
			val, msg := v.checkLeaf(in, cfg, definition.Leaf{Field: f}, cfg[f.Name], resolver)
			if msg != "" {
				fail(f.Name, "%s", msg)
			}
			out[f.Name] = val
			continue
		}

		raw, present := cfg[f.Name]
		group, ok := asTree(raw)
		if present && raw != nil && !ok {
			fail(f.Name, "group value should be a map")
			continue
		}
		if group == nil {
			group = model.Tree{}
		}
		subs := make(map[string]bool, len(f.Subs))
		for _, sub := range f.Subs {
			subs[sub.Name] = true
		}
		for _, k := range sortedKeys(group) {
			if !subs[k] {
				fail(f.Name+"/"+k, "there is no such key in config schema")
			}
		}

		active := groupActive(in.Attr, f)
		groupOut := make(model.Tree, len(f.Subs))
		for _, sub := range f.Subs {
			leaf := definition.Leaf{Group: f.Name, Field: sub, Parent: f}
			if !active {
				groupOut[sub.Name] = model.CloneValue(group[sub.Name])
				continue
			}
			val, msg := v.checkLeaf(in, cfg, leaf, group[sub.Name], resolver)
			if msg != "" {
				fail(leaf.Key(), "%s", msg)
			}
			groupOut[sub.Name] = val
		}
		out[f.Name] = groupOut
	}
	return out, errs
}

// Check validates and returns InvalidConfig with a per-field diagnostic list.
func (v *Validator) Check(in Input, resolver Resolver) (model.Tree, error) {
	out, errs := v.Validate(in, resolver)
	if len(errs) > 0 {
		return nil, invalidConfig(errs)
	}
	return out, nil
}

func invalidConfig(errs []FieldError) error {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return model.InvalidConfig("%s", strings.Join(parts, "; ")).WithDetail("errors", errs)
}

// groupActive reports whether the leaves of a group are in effect. Only activatable
// groups can be switched off, through attr {"group": {"active": false}}.
func groupActive(attr model.Tree, f *definition.Field) bool {
	if !f.Limits.Activatable {
		return true
	}
	if a, ok := asTree(attr[f.Name]); ok {
		if active, ok := a["active"].(bool); ok {
			return active
		}
	}
	return f.Limits.Active
}

func (v *Validator) checkLeaf(in Input, cfg model.Tree, leaf definition.Leaf, raw interface{}, resolver Resolver) (interface{}, string) {
	f := leaf.Field
	if msg := checkWritable(in, leaf, raw); msg != "" {
		return raw, msg
	}
	if raw == nil || (raw == "" && f.Type != definition.FieldString && f.Type != definition.FieldText) {
		if in.Strict && f.Required {
			return nil, "value is required"
		}
		return nil, ""
	}
	if raw == "" && in.Strict && f.Required {
		return raw, "value is required"
	}

	switch f.Type {
	case definition.FieldString, definition.FieldText, definition.FieldPassword,
		definition.FieldSecretText, definition.FieldFile, definition.FieldSecretFile:
		s, ok := raw.(string)
		if !ok {
			return raw, fmt.Sprintf("value should be a string, got %T", raw)
		}
		if f.Limits.Pattern != "" {
			re, err := v.pattern(f.Limits.Pattern)
			if err != nil {
				return raw, fmt.Sprintf("invalid pattern %q", f.Limits.Pattern)
			}
			if !re.MatchString(s) {
				return raw, fmt.Sprintf("value %q does not match pattern %q", s, f.Limits.Pattern)
			}
		}
		return s, ""

	case definition.FieldJSON:
		return model.CloneValue(raw), ""

	case definition.FieldInteger:
		n, ok := toInt(raw)
		if !ok {
			return raw, fmt.Sprintf("value should be an integer, got %v", raw)
		}
		return n, checkRange(f, float64(n))

	case definition.FieldFloat:
		n, ok := toFloat(raw)
		if !ok {
			return raw, fmt.Sprintf("value should be a float, got %v", raw)
		}
		return n, checkRange(f, n)

	case definition.FieldBoolean:
		b, ok := raw.(bool)
		if !ok {
			return raw, fmt.Sprintf("value should be a boolean, got %v", raw)
		}
		return b, ""

	case definition.FieldOption:
		for _, opt := range f.Limits.Option {
			if equalValues(opt, raw) {
				return raw, ""
			}
		}
		return raw, fmt.Sprintf("value %v is not one of the options", raw)

	case definition.FieldVariant:
		return raw, v.checkVariant(cfg, f, raw, resolver)

	case definition.FieldList:
		list, ok := raw.([]interface{})
		if !ok {
			return raw, "value should be a list"
		}
		for i, item := range list {
			if _, ok := item.(string); !ok {
				return raw, fmt.Sprintf("element #%d should be a string", i)
			}
		}
		return model.CloneValue(list), ""

	case definition.FieldMap, definition.FieldSecretMap:
		m, ok := asTree(raw)
		if !ok {
			return raw, "value should be a map"
		}
		for _, k := range sortedKeys(m) {
			if _, ok := m[k].(string); !ok {
				return raw, fmt.Sprintf("value of key %q should be a string", k)
			}
		}
		return model.CloneTree(m), ""

	case definition.FieldStructure:
		if f.Limits.YSpec != nil {
			if err := CheckYSpec(f.Limits.YSpec, raw); err != nil {
				return raw, err.Error()
			}
		}
		if f.Limits.CUE != "" {
			if err := v.schemas.ValidateCUE(f.Limits.CUE, raw); err != nil {
				return raw, err.Error()
			}
		}
		return model.CloneValue(raw), ""
	}
	return raw, fmt.Sprintf("unsupported field type %q", f.Type)
}

// checkWritable rejects changes of a leaf that is read-only in the owner's state.
func checkWritable(in Input, leaf definition.Leaf, raw interface{}) string {
	if in.Previous == nil {
		return ""
	}
	lim := leaf.Field.Limits
	locked := lim.ReadOnly.Contains(in.State) ||
		!lim.Writable.IsEmpty() && !lim.Writable.Contains(in.State)
	if !locked {
		return ""
	}
	if equalValues(leafValue(in.Previous, leaf), raw) {
		return ""
	}
	return fmt.Sprintf("value is read-only in state %q", in.State)
}

func checkRange(f *definition.Field, n float64) string {
	if f.Limits.Min != nil && n < *f.Limits.Min {
		return fmt.Sprintf("value %v should be more than or equal to %v", n, *f.Limits.Min)
	}
	if f.Limits.Max != nil && n > *f.Limits.Max {
		return fmt.Sprintf("value %v should be less than or equal to %v", n, *f.Limits.Max)
	}
	return ""
}

func (v *Validator) checkVariant(cfg model.Tree, f *definition.Field, raw interface{}, resolver Resolver) string {
	src := f.Limits.Source
	if src == nil || !src.Strict {
		return ""
	}
	var allowed []interface{}
	switch src.Type {
	case definition.SourceInline:
		allowed = src.Value
	case definition.SourceConfig:
		list, ok := leafByKey(cfg, src.Name).([]interface{})
		if !ok {
			return fmt.Sprintf("source config key %q is not a list", src.Name)
		}
		allowed = list
	case definition.SourceBuiltin:
		if resolver == nil {
			return fmt.Sprintf("builtin source %q cannot be resolved here", src.Name)
		}
		values, err := resolver.ResolveBuiltin(src.Name, src.Args)
		if err != nil {
			return err.Error()
		}
		allowed = values
	default:
		return fmt.Sprintf("unknown variant source type %q", src.Type)
	}
	if !containsValue(allowed, raw) {
		return fmt.Sprintf("value %v is not in variant list", raw)
	}
	return ""
}

func (v *Validator) pattern(expr string) (*regexp.Regexp, error) {
	if re, ok := v.patterns.Load(expr); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	v.patterns.Store(expr, re)
	return re, nil
}

// leafValue reads a leaf from a config tree.
func leafValue(cfg model.Tree, leaf definition.Leaf) interface{} {
	if leaf.Group == "" {
		return cfg[leaf.Field.Name]
	}
	if g, ok := asTree(cfg[leaf.Group]); ok {
		return g[leaf.Field.Name]
	}
	return nil
}

// leafByKey reads "name" or "group/name" from a config tree.
func leafByKey(cfg model.Tree, key string) interface{} {
	group, name, nested := strings.Cut(key, "/")
	if !nested {
		return cfg[group]
	}
	if g, ok := asTree(cfg[group]); ok {
		return g[name]
	}
	return nil
}

func setLeaf(cfg model.Tree, leaf definition.Leaf, val interface{}) {
	if leaf.Group == "" {
		cfg[leaf.Field.Name] = val
		return
	}
	g, ok := asTree(cfg[leaf.Group])
	if !ok {
		g = model.Tree{}
		cfg[leaf.Group] = g
	}
	g[leaf.Field.Name] = val
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults builds a config tree from schema defaults.
func Defaults(schema definition.Schema) model.Tree {
	out := make(model.Tree, len(schema))
	for _, f := range schema {
		if !f.IsGroup() {
			out[f.Name] = model.CloneValue(f.Default)
			continue
		}
		g := make(model.Tree, len(f.Subs))
		for _, sub := range f.Subs {
			g[sub.Name] = model.CloneValue(sub.Default)
		}
		out[f.Name] = g
	}
	return out
}

// DefaultAttr builds the activation attr of a schema.
func DefaultAttr(schema definition.Schema) model.Tree {
	out := model.Tree{}
	for _, f := range schema.Activatable() {
		out[f.Name] = map[string]interface{}{"active": f.Limits.Active}
	}
	return out
}
