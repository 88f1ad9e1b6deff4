package definition

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openadcm/adcm/pkg/model"
	"gopkg.in/yaml.v3"
)

// DefaultEdition is used when a bundle does not declare one.
const DefaultEdition = "community"

type rawVersions struct {
	Min       string `yaml:"min"`
	MinStrict string `yaml:"min_strict"`
	Max       string `yaml:"max"`
	MaxStrict string `yaml:"max_strict"`
}

func (r *rawVersions) toRange() VersionRange {
	if r == nil {
		return VersionRange{}
	}
	vr := VersionRange{Min: r.Min, Max: r.Max}
	if r.MinStrict != "" {
		vr.Min, vr.MinStrict = r.MinStrict, true
	}
	if r.MaxStrict != "" {
		vr.Max, vr.MaxStrict = r.MaxStrict, true
	}
	return vr
}

type rawSource struct {
	Type   string                 `yaml:"type"`
	Strict *bool                  `yaml:"strict"`
	Value  []interface{}          `yaml:"value"`
	Name   string                 `yaml:"name"`
	Args   map[string]interface{} `yaml:"args"`
}

type rawField struct {
	Name               string                 `yaml:"name"`
	Type               string                 `yaml:"type"`
	DisplayName        string                 `yaml:"display_name"`
	Description        string                 `yaml:"description"`
	Default            interface{}            `yaml:"default"`
	Required           *bool                  `yaml:"required"`
	Min                *float64               `yaml:"min"`
	Max                *float64               `yaml:"max"`
	Pattern            string                 `yaml:"pattern"`
	Option             map[string]interface{} `yaml:"option"`
	Source             *rawSource             `yaml:"source"`
	YSpec              map[string]interface{} `yaml:"yspec"`
	CUE                string                 `yaml:"cue"`
	Activatable        bool                   `yaml:"activatable"`
	Active             bool                   `yaml:"active"`
	ReadOnly           *StateList             `yaml:"read_only"`
	Writable           *StateList             `yaml:"writable"`
	UIOptions          map[string]interface{} `yaml:"ui_options"`
	GroupCustomization *bool                  `yaml:"group_customization"`
	Subs               []rawField             `yaml:"subs"`
}

type rawStates struct {
	Available StateList `yaml:"available"`
	OnSuccess string    `yaml:"on_success"`
	OnFail    string    `yaml:"on_fail"`
}

type rawMaskRule struct {
	Available   *StateList `yaml:"available"`
	Unavailable *StateList `yaml:"unavailable"`
}

type rawMasking struct {
	State      rawMaskRule `yaml:"state"`
	MultiState rawMaskRule `yaml:"multi_state"`
}

type rawOutcome struct {
	State      string `yaml:"state"`
	MultiState struct {
		Set   []string `yaml:"set"`
		Unset []string `yaml:"unset"`
	} `yaml:"multi_state"`
}

type rawSubAction struct {
	Name        string                 `yaml:"name"`
	DisplayName string                 `yaml:"display_name"`
	Script      string                 `yaml:"script"`
	ScriptType  string                 `yaml:"script_type"`
	OnFail      *rawOutcome            `yaml:"on_fail"`
	Params      map[string]interface{} `yaml:"params"`
}

type rawAction struct {
	Type                    string                 `yaml:"type"`
	DisplayName             string                 `yaml:"display_name"`
	Description             string                 `yaml:"description"`
	Script                  string                 `yaml:"script"`
	ScriptType              string                 `yaml:"script_type"`
	States                  *rawStates             `yaml:"states"`
	Masking                 *rawMasking            `yaml:"masking"`
	OnSuccess               *rawOutcome            `yaml:"on_success"`
	OnFail                  *rawOutcome            `yaml:"on_fail"`
	HCACL                   []HCACLRule            `yaml:"hc_acl"`
	HostAction              bool                   `yaml:"host_action"`
	AllowToTerminate        bool                   `yaml:"allow_to_terminate"`
	AllowInMaintenanceMode  bool                   `yaml:"allow_in_maintenance_mode"`
	AllowForActionHostGroup bool                   `yaml:"allow_for_action_host_group"`
	PartialExecution        bool                   `yaml:"partial_execution"`
	Config                  []rawField             `yaml:"config"`
	Scripts                 []rawSubAction         `yaml:"scripts"`
	Params                  map[string]interface{} `yaml:"params"`
}

type rawImport struct {
	Versions  *rawVersions `yaml:"versions"`
	Required  bool         `yaml:"required"`
	Multibind bool         `yaml:"multibind"`
	Default   []string     `yaml:"default"`
}

type rawUpgrade struct {
	Name        string       `yaml:"name"`
	DisplayName string       `yaml:"display_name"`
	Description string       `yaml:"description"`
	Versions    *rawVersions `yaml:"versions"`
	FromEdition []string     `yaml:"from_edition"`
	States      *struct {
		Available *StateList `yaml:"available"`
		OnSuccess string     `yaml:"on_success"`
	} `yaml:"states"`
	Scripts []rawSubAction `yaml:"scripts"`
}

type rawPrototype struct {
	Type                     string                  `yaml:"type"`
	Name                     string                  `yaml:"name"`
	Version                  string                  `yaml:"version"`
	Edition                  string                  `yaml:"edition"`
	License                  string                  `yaml:"license"`
	DisplayName              string                  `yaml:"display_name"`
	Description              string                  `yaml:"description"`
	Required                 bool                    `yaml:"required"`
	Shared                   bool                    `yaml:"shared"`
	Monitoring               string                  `yaml:"monitoring"`
	Constraint               Constraint              `yaml:"constraint"`
	Requires                 []Require               `yaml:"requires"`
	BoundTo                  *BoundTo                `yaml:"bound_to"`
	ConfigGroupCustomization bool                    `yaml:"config_group_customization"`
	AllowMaintenanceMode     bool                    `yaml:"allow_maintenance_mode"`
	ADCMMinVersion           string                  `yaml:"adcm_min_version"`
	Config                   []rawField              `yaml:"config"`
	Actions                  map[string]rawAction    `yaml:"actions"`
	Components               map[string]rawPrototype `yaml:"components"`
	Import                   map[string]rawImport    `yaml:"import"`
	Export                   yaml.Node               `yaml:"export"`
	Upgrade                  []rawUpgrade            `yaml:"upgrade"`
	Flags                    []string                `yaml:"flags"`
}

// LoadFile parses a single bundle document.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle file: %w", err)
	}
	def, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	def.Bundle.Path = path
	return def, nil
}

// LoadDir parses every *.yaml and *.yml document in a bundle directory as one bundle.
func LoadDir(dir string) (*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle directory: %w", err)
	}
	var buf bytes.Buffer
	for _, e := range entries {
		if e.IsDir() || !IsBundleFile(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle file: %w", err)
		}
		buf.WriteString("---\n")
		buf.Write(data)
		buf.WriteString("\n")
	}
	def, err := Parse(buf.Bytes(), dir)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", dir, err)
	}
	def.Bundle.Path = dir
	return def, nil
}

// IsBundleFile reports whether a file name looks like a bundle document.
func IsBundleFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// Parse builds a definition from one or more YAML documents, each holding a list of
// prototypes. baseDir resolves relative license paths.
func Parse(data []byte, baseDir string) (*Definition, error) {
	var raws []rawPrototype
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc []rawPrototype
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode bundle document: %w", err)
		}
		raws = append(raws, doc...)
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("bundle has no prototypes")
	}

	sum := sha256.Sum256(data)
	def := &Definition{
		Bundle: Bundle{
			Hash:    hex.EncodeToString(sum[:]),
			Edition: DefaultEdition,
			License: model.LicenseAbsent,
		},
		Actions:    make(map[int][]*Action),
		Components: make(map[int][]int),
	}

	for _, raw := range raws {
		if err := def.addPrototype(raw, -1, baseDir); err != nil {
			return nil, err
		}
	}

	if err := def.fillBundle(); err != nil {
		return nil, err
	}
	return def, nil
}

func (d *Definition) fillBundle() error {
	for _, t := range []model.ObjectType{model.TypeCluster, model.TypeProvider, model.TypeADCM} {
		for _, p := range d.Prototypes {
			if p.Type == t {
				d.Bundle.Name = p.Name
				d.Bundle.Version = p.Version
				d.Bundle.Description = p.Description
				d.Bundle.License = p.License
				return nil
			}
		}
	}
	return fmt.Errorf("bundle has no cluster, provider or adcm prototype")
}

func (d *Definition) addPrototype(raw rawPrototype, parent int, baseDir string) error {
	t := model.ObjectType(raw.Type)
	if parent >= 0 {
		t = model.TypeComponent
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("prototype %q: %w", raw.Name, err)
	}
	if raw.Name == "" {
		return fmt.Errorf("%s prototype without name", t)
	}

	proto := &Prototype{
		Type:                     t,
		Name:                     raw.Name,
		Version:                  raw.Version,
		DisplayName:              raw.DisplayName,
		Description:              raw.Description,
		Required:                 raw.Required,
		Shared:                   raw.Shared,
		Constraint:               raw.Constraint,
		Requires:                 raw.Requires,
		BoundTo:                  raw.BoundTo,
		Monitoring:               raw.Monitoring,
		ConfigGroupCustomization: raw.ConfigGroupCustomization,
		AllowMaintenanceMode:     raw.AllowMaintenanceMode,
		ADCMMinVersion:           raw.ADCMMinVersion,
		License:                  model.LicenseAbsent,
		Flags:                    raw.Flags,
	}
	if parent >= 0 {
		// components inherit the service version
		proto.Version = d.Prototypes[parent].Version
	}
	if proto.DisplayName == "" {
		proto.DisplayName = proto.Name
	}
	if proto.Monitoring == "" {
		proto.Monitoring = "active"
	}
	if t == model.TypeComponent && len(proto.Constraint) == 0 {
		proto.Constraint = DefaultConstraint()
	}
	if raw.Edition != "" {
		d.Bundle.Edition = raw.Edition
	}
	if raw.License != "" {
		text, err := os.ReadFile(filepath.Join(baseDir, raw.License))
		if err != nil {
			return fmt.Errorf("prototype %q: failed to read license: %w", raw.Name, err)
		}
		proto.License = model.LicenseUnaccepted
		d.Bundle.LicenseText = string(text)
	}

	schema, err := convertFields(raw.Config)
	if err != nil {
		return fmt.Errorf("prototype %q: %w", raw.Name, err)
	}
	proto.Config = schema

	names := make([]string, 0, len(raw.Import))
	for name := range raw.Import {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		imp := raw.Import[name]
		proto.Imports = append(proto.Imports, Import{
			Name:      name,
			Versions:  imp.Versions.toRange(),
			Required:  imp.Required,
			Multibind: imp.Multibind,
			Default:   imp.Default,
		})
	}

	exports, err := decodeExport(raw.Export)
	if err != nil {
		return fmt.Errorf("prototype %q: %w", raw.Name, err)
	}
	proto.Exports = exports

	idx := len(d.Prototypes)
	d.Prototypes = append(d.Prototypes, proto)
	if parent >= 0 {
		d.Components[parent] = append(d.Components[parent], idx)
	}

	actions, err := convertActions(raw.Actions)
	if err != nil {
		return fmt.Errorf("prototype %q: %w", raw.Name, err)
	}

	for _, ru := range raw.Upgrade {
		up, action, err := convertUpgrade(ru)
		if err != nil {
			return fmt.Errorf("prototype %q: %w", raw.Name, err)
		}
		proto.Upgrades = append(proto.Upgrades, up)
		if action != nil {
			actions = append(actions, action)
		}
	}
	d.Actions[idx] = actions

	compNames := make([]string, 0, len(raw.Components))
	for name := range raw.Components {
		compNames = append(compNames, name)
	}
	sort.Strings(compNames)
	for _, name := range compNames {
		comp := raw.Components[name]
		if t != model.TypeService {
			return fmt.Errorf("prototype %q: only services may declare components", raw.Name)
		}
		comp.Name = name
		if err := d.addPrototype(comp, idx, baseDir); err != nil {
			return err
		}
	}
	return nil
}

func decodeExport(node yaml.Node) ([]string, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return nil, fmt.Errorf("invalid export: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("line %d: export must be a group name or a list", node.Line)
	}
}

func convertFields(raws []rawField) ([]*Field, error) {
	var out []*Field
	seen := make(map[string]bool)
	for _, rf := range raws {
		if seen[rf.Name] {
			return nil, fmt.Errorf("duplicate config field %q", rf.Name)
		}
		seen[rf.Name] = true
		f, err := convertField(rf)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func convertField(rf rawField) (*Field, error) {
	t := FieldType(rf.Type)
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("field %q: %w", rf.Name, err)
	}
	f := &Field{
		Name:               rf.Name,
		Type:               t,
		DisplayName:        rf.DisplayName,
		Description:        rf.Description,
		Default:            normalizeYAML(rf.Default),
		Required:           true,
		UIOptions:          rf.UIOptions,
		GroupCustomization: rf.GroupCustomization,
		Limits: Limits{
			Min:         rf.Min,
			Max:         rf.Max,
			Pattern:     rf.Pattern,
			Option:      rf.Option,
			YSpec:       rf.YSpec,
			CUE:         rf.CUE,
			Activatable: rf.Activatable,
			Active:      rf.Active,
		},
	}
	if rf.Required != nil {
		f.Required = *rf.Required
	}
	if rf.ReadOnly != nil {
		f.Limits.ReadOnly = *rf.ReadOnly
	}
	if rf.Writable != nil {
		f.Limits.Writable = *rf.Writable
	}
	if rf.Source != nil {
		src := &VariantSource{
			Type:   rf.Source.Type,
			Strict: true,
			Value:  rf.Source.Value,
			Name:   rf.Source.Name,
			Args:   rf.Source.Args,
		}
		if rf.Source.Strict != nil {
			src.Strict = *rf.Source.Strict
		}
		f.Limits.Source = src
	}
	switch t {
	case FieldGroup:
		for _, sub := range rf.Subs {
			if sub.Type == string(FieldGroup) {
				return nil, fmt.Errorf("field %q: groups cannot be nested", rf.Name)
			}
		}
		subs, err := convertFields(rf.Subs)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", rf.Name, err)
		}
		f.Subs = subs
	case FieldVariant:
		if f.Limits.Source == nil {
			return nil, fmt.Errorf("field %q: variant requires a source", rf.Name)
		}
	case FieldOption:
		if len(f.Limits.Option) == 0 {
			return nil, fmt.Errorf("field %q: option requires option values", rf.Name)
		}
	case FieldStructure:
		if f.Limits.YSpec == nil && f.Limits.CUE == "" {
			return nil, fmt.Errorf("field %q: structure requires yspec or cue", rf.Name)
		}
	}
	return f, nil
}

func convertActions(raws map[string]rawAction) ([]*Action, error) {
	names := make([]string, 0, len(raws))
	for name := range raws {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Action, 0, len(names))
	for _, name := range names {
		a, err := convertAction(name, raws[name])
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", name, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func convertAction(name string, ra rawAction) (*Action, error) {
	a := &Action{
		Name:                    name,
		DisplayName:             ra.DisplayName,
		Description:             ra.Description,
		Type:                    ActionType(ra.Type),
		Script:                  ra.Script,
		ScriptType:              ra.ScriptType,
		StateAvailable:          AnyState(),
		MultiStateAvailable:     AnyState(),
		HCACL:                   ra.HCACL,
		HostAction:              ra.HostAction,
		AllowToTerminate:        ra.AllowToTerminate,
		AllowInMaintenanceMode:  ra.AllowInMaintenanceMode,
		AllowForActionHostGroup: ra.AllowForActionHostGroup,
		PartialExecution:        ra.PartialExecution,
		Params:                  normalizeTree(ra.Params),
	}
	if a.Type == "" {
		a.Type = ActionJob
		if len(ra.Scripts) > 0 {
			a.Type = ActionTask
		}
	}

	if ra.States != nil && ra.Masking != nil {
		return nil, fmt.Errorf("states and masking are mutually exclusive")
	}
	if ra.States != nil {
		a.StateAvailable = ra.States.Available
		a.StateOnSuccess = ra.States.OnSuccess
		a.StateOnFail = ra.States.OnFail
	}
	if ra.Masking != nil {
		if ra.Masking.State.Available != nil {
			a.StateAvailable = *ra.Masking.State.Available
		}
		if ra.Masking.State.Unavailable != nil {
			a.StateUnavailable = *ra.Masking.State.Unavailable
		}
		if ra.Masking.MultiState.Available != nil {
			a.MultiStateAvailable = *ra.Masking.MultiState.Available
		}
		if ra.Masking.MultiState.Unavailable != nil {
			a.MultiStateUnavailable = *ra.Masking.MultiState.Unavailable
		}
	}
	if ra.OnSuccess != nil {
		a.StateOnSuccess = ra.OnSuccess.State
		a.MultiStateOnSuccess = MultiStateEffect{Set: ra.OnSuccess.MultiState.Set, Unset: ra.OnSuccess.MultiState.Unset}
	}
	if ra.OnFail != nil {
		a.StateOnFail = ra.OnFail.State
		a.MultiStateOnFail = MultiStateEffect{Set: ra.OnFail.MultiState.Set, Unset: ra.OnFail.MultiState.Unset}
	}

	cfg, err := convertFields(ra.Config)
	if err != nil {
		return nil, err
	}
	a.Config = cfg

	for _, rs := range ra.Scripts {
		a.SubActions = append(a.SubActions, convertSubAction(rs))
	}

	switch a.Type {
	case ActionJob:
		if a.Script == "" {
			return nil, fmt.Errorf("job action requires a script")
		}
		if a.ScriptType == "" {
			a.ScriptType = ScriptAnsible
		}
	case ActionTask:
		if len(a.SubActions) == 0 && a.ScriptType != ScriptTaskGenerator {
			return nil, fmt.Errorf("task action requires scripts")
		}
	default:
		return nil, fmt.Errorf("invalid action type %q", a.Type)
	}
	return a, nil
}

func convertSubAction(rs rawSubAction) SubAction {
	sub := SubAction{
		Name:        rs.Name,
		DisplayName: rs.DisplayName,
		Script:      rs.Script,
		ScriptType:  rs.ScriptType,
		Params:      normalizeTree(rs.Params),
	}
	if sub.DisplayName == "" {
		sub.DisplayName = sub.Name
	}
	if sub.ScriptType == "" {
		sub.ScriptType = ScriptAnsible
	}
	if rs.OnFail != nil {
		sub.StateOnFail = rs.OnFail.State
	}
	return sub
}

func convertUpgrade(ru rawUpgrade) (Upgrade, *Action, error) {
	if ru.Name == "" {
		return Upgrade{}, nil, fmt.Errorf("upgrade without name")
	}
	up := Upgrade{
		Name:           ru.Name,
		DisplayName:    ru.DisplayName,
		Description:    ru.Description,
		Versions:       ru.Versions.toRange(),
		FromEdition:    ru.FromEdition,
		StateAvailable: AnyState(),
	}
	if up.DisplayName == "" {
		up.DisplayName = up.Name
	}
	if len(up.FromEdition) == 0 {
		up.FromEdition = []string{DefaultEdition}
	}
	if ru.States != nil {
		if ru.States.Available != nil {
			up.StateAvailable = *ru.States.Available
		}
		up.StateOnSuccess = ru.States.OnSuccess
	}
	if len(ru.Scripts) == 0 {
		return up, nil, nil
	}

	action := &Action{
		Name:                UpgradeActionName(ru.Name),
		DisplayName:         "Upgrade: " + up.DisplayName,
		Type:                ActionTask,
		StateAvailable:      up.StateAvailable,
		MultiStateAvailable: AnyState(),
		StateOnSuccess:      up.StateOnSuccess,
		UpgradeName:         ru.Name,
	}
	for _, rs := range ru.Scripts {
		action.SubActions = append(action.SubActions, convertSubAction(rs))
	}
	up.ActionName = action.Name
	return up, action, nil
}

// UpgradeActionName names the action generated for a scripted upgrade.
func UpgradeActionName(upgrade string) string {
	return "__upgrade_" + upgrade
}

// normalizeYAML converts values decoded by yaml.v3 into JSON-shaped values.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeTree(val)
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	case int:
		return int64(val)
	default:
		return val
	}
}

func normalizeTree(t map[string]interface{}) map[string]interface{} {
	if t == nil {
		return nil
	}
	out := make(map[string]interface{}, len(t))
	for k, v := range t {
		out[k] = normalizeYAML(v)
	}
	return out
}
