package definition

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/openadcm/adcm/pkg/model"
	"gopkg.in/yaml.v3"
)

// Any is the literal used in state lists to match every state.
const Any = "any"

// StateList is either the literal "any" or an explicit list of states.
type StateList struct {
	Any   bool
	Items []string
}

// AnyState returns a list matching every state.
func AnyState() StateList { return StateList{Any: true} }

// States returns an explicit list.
func States(items ...string) StateList { return StateList{Items: items} }

// Contains reports whether the state is matched.
func (s StateList) Contains(state string) bool {
	return s.Any || slices.Contains(s.Items, state)
}

// Intersects reports whether any of the flags is matched.
func (s StateList) Intersects(flags []string) bool {
	if s.Any {
		return true
	}
	for _, f := range flags {
		if slices.Contains(s.Items, f) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the list matches nothing.
func (s StateList) IsEmpty() bool {
	return !s.Any && len(s.Items) == 0
}

// UnmarshalYAML accepts "any" or a sequence of strings.
func (s *StateList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != Any {
			return fmt.Errorf("line %d: state list must be %q or a list, got %q", node.Line, Any, node.Value)
		}
		*s = AnyState()
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*s = States(items...)
		return nil
	default:
		return fmt.Errorf("line %d: invalid state list", node.Line)
	}
}

// MarshalJSON renders "any" or the list.
func (s StateList) MarshalJSON() ([]byte, error) {
	if s.Any {
		return json.Marshal(Any)
	}
	items := s.Items
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

// UnmarshalJSON accepts "any" or a list.
func (s *StateList) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str != Any {
			return fmt.Errorf("state list must be %q or a list, got %q", Any, str)
		}
		*s = AnyState()
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = States(items...)
	return nil
}

// Bundle is an uploaded and loaded set of prototypes.
type Bundle struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name" validate:"required"`
	Version     string             `json:"version" validate:"required"`
	Edition     string             `json:"edition" validate:"required"`
	Hash        string             `json:"hash"`
	License     model.LicenseState `json:"license"`
	LicenseText string             `json:"license_text,omitempty"`
	Description string             `json:"description"`
	Path        string             `json:"path"`
	Date        time.Time          `json:"date"`
}

func (b *Bundle) GetID() int64   { return b.ID }
func (b *Bundle) SetID(id int64) { b.ID = id }
func (b *Bundle) Clone() *Bundle {
	n := *b
	return &n
}

// Require references a service and optionally one of its components.
type Require struct {
	Service   string `json:"service" yaml:"service"`
	Component string `json:"component,omitempty" yaml:"component"`
}

// BoundTo references the component that must share hosts with the declaring one.
type BoundTo struct {
	Service   string `json:"service" yaml:"service"`
	Component string `json:"component" yaml:"component"`
}

// VersionRange bounds a version with optional strictness.
type VersionRange struct {
	Min       string `json:"min,omitempty" yaml:"min"`
	Max       string `json:"max,omitempty" yaml:"max"`
	MinStrict bool   `json:"min_strict,omitempty" yaml:"min_strict"`
	MaxStrict bool   `json:"max_strict,omitempty" yaml:"max_strict"`
}

// Contains reports whether version lies in the range.
func (r VersionRange) Contains(version string) bool {
	if r.Min != "" {
		c := CompareVersions(version, r.Min)
		if c < 0 || (r.MinStrict && c == 0) {
			return false
		}
	}
	if r.Max != "" {
		c := CompareVersions(version, r.Max)
		if c > 0 || (r.MaxStrict && c == 0) {
			return false
		}
	}
	return true
}

// Import declares that a cluster or service consumes exports of another cluster or service.
type Import struct {
	Name      string       `json:"name"`
	Versions  VersionRange `json:"versions"`
	Required  bool         `json:"required"`
	Multibind bool         `json:"multibind"`
	Default   []string     `json:"default,omitempty"`
}

// Upgrade declares a transition from older bundles of the same name to this bundle.
type Upgrade struct {
	Name           string       `json:"name"`
	DisplayName    string       `json:"display_name"`
	Description    string       `json:"description"`
	Versions       VersionRange `json:"versions"`
	FromEdition    []string     `json:"from_edition"`
	StateAvailable StateList    `json:"state_available"`
	StateOnSuccess string       `json:"state_on_success,omitempty"`
	// ActionName names the upgrade action registered on the target prototype, if scripted.
	ActionName string `json:"action_name,omitempty"`
}

// Prototype is the definition of an entity kind loaded from a bundle.
type Prototype struct {
	ID                       int64              `json:"id"`
	BundleID                 int64              `json:"bundle_id"`
	Type                     model.ObjectType   `json:"type" validate:"required"`
	Name                     string             `json:"name" validate:"required,max=1000"`
	Version                  string             `json:"version" validate:"required"`
	DisplayName              string             `json:"display_name"`
	Description              string             `json:"description"`
	ParentID                 int64              `json:"parent_id,omitempty"`
	Required                 bool               `json:"required"`
	Shared                   bool               `json:"shared"`
	Constraint               Constraint         `json:"constraint"`
	Requires                 []Require          `json:"requires,omitempty"`
	BoundTo                  *BoundTo           `json:"bound_to,omitempty"`
	Monitoring               string             `json:"monitoring" validate:"oneof=active passive"`
	ConfigGroupCustomization bool               `json:"config_group_customization"`
	AllowMaintenanceMode     bool               `json:"allow_maintenance_mode"`
	ADCMMinVersion           string             `json:"adcm_min_version,omitempty"`
	License                  model.LicenseState `json:"license"`
	Config                   []*Field           `json:"config,omitempty"`
	Imports                  []Import           `json:"imports,omitempty"`
	Exports                  []string           `json:"exports,omitempty"`
	Upgrades                 []Upgrade          `json:"upgrades,omitempty"`
	Flags                    []string           `json:"flags,omitempty"`
}

func (p *Prototype) GetID() int64   { return p.ID }
func (p *Prototype) SetID(id int64) { p.ID = id }
func (p *Prototype) Clone() *Prototype {
	n := *p
	n.Requires = slices.Clone(p.Requires)
	n.Imports = slices.Clone(p.Imports)
	n.Exports = slices.Clone(p.Exports)
	n.Upgrades = slices.Clone(p.Upgrades)
	n.Config = slices.Clone(p.Config)
	return &n
}

// Title returns the display name, or the name when no display name is set.
func (p *Prototype) Title() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// ImportFor returns the import declared for the named exporter.
func (p *Prototype) ImportFor(name string) (Import, bool) {
	for _, imp := range p.Imports {
		if imp.Name == name {
			return imp, true
		}
	}
	return Import{}, false
}

// ActionType distinguishes single-job actions from multi-job tasks.
type ActionType string

const (
	ActionJob  ActionType = "job"
	ActionTask ActionType = "task"
)

// Script types understood by the action runtime.
const (
	ScriptAnsible       = "ansible"
	ScriptTaskGenerator = "task_generator"
	ScriptInternal      = "internal"
	ScriptPython        = "python"
)

// HCACLAction is the direction of a mapping change an action expects.
type HCACLAction string

const (
	HCACLAdd    HCACLAction = "add"
	HCACLRemove HCACLAction = "remove"
)

// HCACLRule is one required mapping change of an action.
type HCACLRule struct {
	Service   string      `json:"service" yaml:"service"`
	Component string      `json:"component" yaml:"component"`
	Action    HCACLAction `json:"action" yaml:"action"`
}

// SubAction is one ordered step of a task action.
type SubAction struct {
	Name        string                 `json:"name"`
	DisplayName string                 `json:"display_name"`
	Script      string                 `json:"script"`
	ScriptType  string                 `json:"script_type"`
	StateOnFail string                 `json:"state_on_fail,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

// MultiStateEffect lists flags set and unset by an outcome.
type MultiStateEffect struct {
	Set   []string `json:"set,omitempty"`
	Unset []string `json:"unset,omitempty"`
}

// Action is a runnable operation declared by a prototype.
type Action struct {
	ID          int64      `json:"id"`
	PrototypeID int64      `json:"prototype_id"`
	Name        string     `json:"name" validate:"required"`
	DisplayName string     `json:"display_name"`
	Description string     `json:"description"`
	Type        ActionType `json:"type" validate:"oneof=job task"`
	Script      string     `json:"script,omitempty"`
	ScriptType  string     `json:"script_type,omitempty"`

	StateAvailable        StateList `json:"state_available"`
	StateUnavailable      StateList `json:"state_unavailable"`
	MultiStateAvailable   StateList `json:"multi_state_available"`
	MultiStateUnavailable StateList `json:"multi_state_unavailable"`

	StateOnSuccess      string           `json:"state_on_success,omitempty"`
	StateOnFail         string           `json:"state_on_fail,omitempty"`
	MultiStateOnSuccess MultiStateEffect `json:"multi_state_on_success"`
	MultiStateOnFail    MultiStateEffect `json:"multi_state_on_fail"`

	HostAction              bool                   `json:"host_action"`
	AllowToTerminate        bool                   `json:"allow_to_terminate"`
	AllowInMaintenanceMode  bool                   `json:"allow_in_maintenance_mode"`
	AllowForActionHostGroup bool                   `json:"allow_for_action_host_group"`
	PartialExecution        bool                   `json:"partial_execution"`
	HCACL                   []HCACLRule            `json:"hc_acl,omitempty"`
	Config                  []*Field               `json:"config,omitempty"`
	SubActions              []SubAction            `json:"sub_actions,omitempty"`
	Params                  map[string]interface{} `json:"params,omitempty"`
	UpgradeName             string                 `json:"upgrade_name,omitempty"`
}

func (a *Action) GetID() int64   { return a.ID }
func (a *Action) SetID(id int64) { a.ID = id }
func (a *Action) Clone() *Action {
	n := *a
	n.HCACL = slices.Clone(a.HCACL)
	n.SubActions = slices.Clone(a.SubActions)
	n.Config = slices.Clone(a.Config)
	return &n
}

// Title returns the display name, or the name when no display name is set.
func (a *Action) Title() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}

// Steps returns the ordered jobs this action expands to statically.
func (a *Action) Steps() []SubAction {
	if a.Type == ActionTask {
		return a.SubActions
	}
	return []SubAction{{
		Name:        a.Name,
		DisplayName: a.Title(),
		Script:      a.Script,
		ScriptType:  a.ScriptType,
		StateOnFail: a.StateOnFail,
		Params:      a.Params,
	}}
}

// Definition is the parsed content of one bundle.
type Definition struct {
	Bundle     Bundle
	Prototypes []*Prototype
	// Actions maps a prototype position in Prototypes to its actions.
	Actions map[int][]*Action
	// Components maps a service position in Prototypes to the positions of its components.
	Components map[int][]int
}

// Prototype returns the first prototype of the given type and name.
func (d *Definition) Prototype(t model.ObjectType, name string) (*Prototype, int) {
	for i, p := range d.Prototypes {
		if p.Type == t && p.Name == name {
			return p, i
		}
	}
	return nil, -1
}
