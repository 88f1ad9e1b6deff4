package configs

import (
	"strings"
	"testing"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
)

func ptr(f float64) *float64 { return &f }

func testSchema() definition.Schema {
	return definition.Schema{
		{Name: "port", Type: definition.FieldInteger, Required: true, Default: 8080,
			Limits: definition.Limits{Min: ptr(1), Max: ptr(65535)}},
		{Name: "ratio", Type: definition.FieldFloat, Required: false},
		{Name: "name", Type: definition.FieldString, Required: true, Default: "node",
			Limits: definition.Limits{Pattern: "^[a-z]+$"}},
		{Name: "mode", Type: definition.FieldOption, Required: true, Default: "fast",
			Limits: definition.Limits{Option: map[string]interface{}{"Fast": "fast", "Slow": "slow"}}},
		{Name: "tags", Type: definition.FieldList, Required: false},
		{Name: "env", Type: definition.FieldMap, Required: false},
		{Name: "tls", Type: definition.FieldGroup, Limits: definition.Limits{Activatable: true}, Subs: []*definition.Field{
			{Name: "cert", Type: definition.FieldString, Required: true},
		}},
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(nil)
	base := func() model.Tree {
		return model.Tree{"port": 80.0, "name": "node", "mode": "slow", "tls": map[string]interface{}{"cert": nil}}
	}

	tests := []struct {
		name    string
		modify  func(model.Tree)
		attr    model.Tree
		wantKey string
	}{
		{name: "valid", modify: func(model.Tree) {}},
		{name: "integer below min", modify: func(c model.Tree) { c["port"] = 0 }, wantKey: "port"},
		{name: "integer above max", modify: func(c model.Tree) { c["port"] = 70000 }, wantKey: "port"},
		{name: "fractional integer", modify: func(c model.Tree) { c["port"] = 80.5 }, wantKey: "port"},
		{name: "pattern mismatch", modify: func(c model.Tree) { c["name"] = "Node1" }, wantKey: "name"},
		{name: "unknown option", modify: func(c model.Tree) { c["mode"] = "medium" }, wantKey: "mode"},
		{name: "required missing", modify: func(c model.Tree) { delete(c, "name") }, wantKey: "name"},
		{name: "unknown key", modify: func(c model.Tree) { c["extra"] = 1 }, wantKey: "extra"},
		{name: "list of non strings", modify: func(c model.Tree) { c["tags"] = []interface{}{"a", 1} }, wantKey: "tags"},
		{name: "map of non strings", modify: func(c model.Tree) { c["env"] = map[string]interface{}{"a": true} }, wantKey: "env"},
		{name: "float accepts integers", modify: func(c model.Tree) { c["ratio"] = 2 }},
		{
			name:    "active group checks its leaves",
			modify:  func(model.Tree) {},
			attr:    model.Tree{"tls": map[string]interface{}{"active": true}},
			wantKey: "tls/cert",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.modify(cfg)
			out, errs := v.Validate(Input{Schema: testSchema(), Config: cfg, Attr: tt.attr, Strict: true}, nil)
			if tt.wantKey == "" {
				if len(errs) > 0 {
					t.Fatalf("unexpected errors: %v", errs)
				}
				if _, ok := out["port"].(int64); !ok {
					t.Errorf("expected port coerced to int64, got %T", out["port"])
				}
				return
			}
			found := false
			for _, e := range errs {
				if e.Key == tt.wantKey {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %q, got %v", tt.wantKey, errs)
			}
		})
	}
}

func TestValidator_CheckReturnsInvalidConfig(t *testing.T) {
	v := NewValidator(nil)
	_, err := v.Check(Input{Schema: testSchema(), Config: model.Tree{"port": "x"}, Strict: true}, nil)
	if !model.IsKind(err, model.KindInvalidConfig) {
		t.Fatalf("expected InvalidConfig, got %v", err)
	}
	e, _ := model.AsError(err)
	errs, ok := e.Details["errors"].([]FieldError)
	if !ok || len(errs) < 2 {
		t.Errorf("expected per-field diagnostics, got %#v", e.Details)
	}
}

func TestValidator_ReadOnly(t *testing.T) {
	v := NewValidator(nil)
	schema := definition.Schema{
		{Name: "locked", Type: definition.FieldString, Limits: definition.Limits{ReadOnly: definition.States("created")}},
		{Name: "late", Type: definition.FieldString, Limits: definition.Limits{Writable: definition.States("installed")}},
	}
	prev := model.Tree{"locked": "a", "late": "b"}

	tests := []struct {
		name    string
		state   string
		cfg     model.Tree
		wantErr bool
	}{
		{"unchanged in read-only state", "created", model.Tree{"locked": "a", "late": "b"}, false},
		{"changed in read-only state", "created", model.Tree{"locked": "x", "late": "b"}, true},
		{"changed outside writable states", "created", model.Tree{"locked": "a", "late": "y"}, true},
		{"changed elsewhere", "installed", model.Tree{"locked": "x", "late": "y"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := v.Validate(Input{Schema: schema, Config: tt.cfg, Previous: prev, State: tt.state}, nil)
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("errors = %v, wantErr %v", errs, tt.wantErr)
			}
		})
	}
}

type staticResolver map[string][]interface{}

func (r staticResolver) ResolveBuiltin(name string, _ map[string]interface{}) ([]interface{}, error) {
	return r[name], nil
}

func TestValidator_Variants(t *testing.T) {
	v := NewValidator(nil)
	schema := definition.Schema{
		{Name: "choices", Type: definition.FieldList},
		{Name: "inline", Type: definition.FieldVariant, Limits: definition.Limits{
			Source: &definition.VariantSource{Type: definition.SourceInline, Strict: true, Value: []interface{}{"a", "b"}},
		}},
		{Name: "fromconfig", Type: definition.FieldVariant, Limits: definition.Limits{
			Source: &definition.VariantSource{Type: definition.SourceConfig, Strict: true, Name: "choices"},
		}},
		{Name: "host", Type: definition.FieldVariant, Limits: definition.Limits{
			Source: &definition.VariantSource{Type: definition.SourceBuiltin, Strict: true, Name: BuiltinHostInCluster},
		}},
		{Name: "loose", Type: definition.FieldVariant, Limits: definition.Limits{
			Source: &definition.VariantSource{Type: definition.SourceInline, Value: []interface{}{"a"}},
		}},
	}
	resolver := staticResolver{BuiltinHostInCluster: {"h1"}}

	_, errs := v.Validate(Input{Schema: schema, Config: model.Tree{
		"choices": []interface{}{"x", "y"}, "inline": "a", "fromconfig": "y", "host": "h1", "loose": "zzz",
	}}, resolver)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	_, errs = v.Validate(Input{Schema: schema, Config: model.Tree{
		"choices": []interface{}{"x"}, "inline": "c", "fromconfig": "y", "host": "h2",
	}}, resolver)
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %v", errs)
	}
}

func TestValidator_Structure(t *testing.T) {
	v := NewValidator(nil)
	yspec := map[string]interface{}{
		"root":    map[string]interface{}{"match": "list", "item": "user"},
		"user":    map[string]interface{}{"match": "dict", "items": map[string]interface{}{"name": "string", "age": "integer"}, "required_items": []interface{}{"name"}},
		"string":  map[string]interface{}{"match": "string"},
		"integer": map[string]interface{}{"match": "int"},
	}
	schema := definition.Schema{
		{Name: "users", Type: definition.FieldStructure, Limits: definition.Limits{YSpec: yspec}},
		{Name: "limits", Type: definition.FieldStructure, Limits: definition.Limits{CUE: "cpu: int & >0\nmemory: string"}},
	}

	ok := model.Tree{
		"users":  []interface{}{map[string]interface{}{"name": "a", "age": 3}},
		"limits": map[string]interface{}{"cpu": 2, "memory": "1G"},
	}
	if _, errs := v.Validate(Input{Schema: schema, Config: ok}, nil); len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	bad := model.Tree{
		"users":  []interface{}{map[string]interface{}{"age": 3}},
		"limits": map[string]interface{}{"cpu": 0, "memory": "1G"},
	}
	_, errs := v.Validate(Input{Schema: schema, Config: bad}, nil)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	if !strings.Contains(errs[0].Message, "required key") {
		t.Errorf("unexpected yspec message %q", errs[0].Message)
	}
}

func TestCheckYSpec(t *testing.T) {
	rules := map[string]interface{}{
		"root":  map[string]interface{}{"match": "dict", "default_item": "value"},
		"value": map[string]interface{}{"match": "one_of", "variants": []interface{}{"str", "level"}},
		"str":   map[string]interface{}{"match": "string"},
		"level": map[string]interface{}{"match": "set", "variants": []interface{}{1, 2, 3}},
	}
	tests := []struct {
		name    string
		value   interface{}
		wantErr bool
	}{
		{"strings", map[string]interface{}{"a": "x"}, false},
		{"set member", map[string]interface{}{"a": 2.0}, false},
		{"not in set", map[string]interface{}{"a": 4}, true},
		{"not a dict", []interface{}{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckYSpec(rules, tt.value); (err != nil) != tt.wantErr {
				t.Errorf("CheckYSpec() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
