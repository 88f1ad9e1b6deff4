package definition

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// SchemaRegistry manages CUE schemas: the built-in bundle document schemas and
// ad-hoc schemas declared by structure config fields.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the bundle document schema compiled.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema(documentSchemaName, builtinDocumentSchema); err != nil {
		panic(err)
	}
	return sr
}

const documentSchemaName = "bundle"

// RegisterSchema compiles and registers a schema under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.mu.Lock()
	sr.schemas[name] = val
	sr.mu.Unlock()
	return nil
}

// compiled returns a registered schema, compiling ad-hoc sources on first use.
func (sr *SchemaRegistry) compiled(name, source string) (cue.Value, error) {
	sr.mu.RLock()
	val, ok := sr.schemas[name]
	sr.mu.RUnlock()
	if ok {
		return val, nil
	}
	if source == "" {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}
	if err := sr.RegisterSchema(name, source); err != nil {
		return cue.Value{}, err
	}
	return sr.compiled(name, "")
}

// ValidateValue unifies data with the definition path of a schema. An empty path
// unifies with the schema root.
func (sr *SchemaRegistry) ValidateValue(name, source, path string, data interface{}) error {
	schema, err := sr.compiled(name, source)
	if err != nil {
		return err
	}
	if path != "" {
		schema = schema.LookupPath(cue.ParsePath(path))
		if !schema.Exists() {
			return fmt.Errorf("schema %s has no %s", name, path)
		}
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateCUE checks a structure value against a CUE source declared in a bundle.
func (sr *SchemaRegistry) ValidateCUE(source string, data interface{}) error {
	return sr.ValidateValue("structure:"+source, source, "", data)
}

// ValidateDocument checks every prototype of a bundle document against the
// document schema before it is converted.
func (sr *SchemaRegistry) ValidateDocument(data []byte) error {
	var docs []interface{}
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("failed to decode bundle document: %w", err)
	}
	for i, doc := range docs {
		if err := sr.ValidateValue(documentSchemaName, "", "#Prototype", normalizeYAML(doc)); err != nil {
			return fmt.Errorf("prototype #%d: %w", i+1, err)
		}
	}
	return nil
}

const builtinDocumentSchema = `
#Name: string & =~"^[a-zA-Z0-9_.\\-]+$"

#StateList: "any" | [...string]

#Field: {
	name: #Name
	type: "string" | "text" | "password" | "secrettext" | "json" | "integer" | "float" |
		"option" | "variant" | "boolean" | "file" | "secretfile" | "list" | "map" |
		"secretmap" | "structure" | "group"
	display_name?:        string
	description?:         string
	required?:            bool
	group_customization?: bool
	read_only?:           #StateList
	writable?:            #StateList
	subs?: [...#Field]
	...
}

#Outcome: {
	state?: string
	multi_state?: {
		set?: [...string]
		unset?: [...string]
	}
}

#Action: {
	type?:        "job" | "task"
	script?:      string
	script_type?: "ansible" | "task_generator" | "internal" | "python"
	states?: {
		available?:  #StateList
		on_success?: string
		on_fail?:    string
	}
	masking?: {
		state?: {available?: #StateList, unavailable?: #StateList}
		multi_state?: {available?: #StateList, unavailable?: #StateList}
	}
	on_success?: #Outcome
	on_fail?:    #Outcome
	hc_acl?: [...{service: string, component: string, action: "add" | "remove"}]
	host_action?:               bool
	allow_to_terminate?:        bool
	allow_in_maintenance_mode?: bool
	config?: [...#Field]
	scripts?: [...{name: string, script: string, ...}]
	...
}

#Component: {
	display_name?: string
	description?:  string
	constraint?: [...(int & >=0 | "odd" | "+")]
	requires?: [...{service: string, component?: string}]
	bound_to?: {service: string, component: string}
	monitoring?: "active" | "passive"
	config?: [...#Field]
	actions?: {[string]: #Action}
	...
}

#Prototype: {
	type:    "adcm" | "cluster" | "service" | "provider" | "host"
	name:    #Name
	version: string | number
	edition?:      string
	license?:      string
	display_name?: string
	description?:  string
	required?:     bool
	shared?:       bool
	monitoring?:   "active" | "passive"
	requires?: [...{service: string, component?: string}]
	config_group_customization?: bool
	allow_maintenance_mode?:     bool
	config?: [...#Field]
	actions?: {[string]: #Action}
	components?: {[string]: #Component}
	import?: {[string]: {...}}
	export?: string | [...string]
	upgrade?: [...{name: string, ...}]
	flags?: [...string]
	...
}
`
