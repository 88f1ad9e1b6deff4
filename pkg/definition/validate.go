package definition

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/openadcm/adcm/pkg/model"
)

// Validator checks a parsed definition for structural and referential errors.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a definition validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate returns an INVALID_OBJECT_DEFINITION error listing every problem found.
func (v *Validator) Validate(def *Definition) error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := v.validate.Struct(def.Bundle); err != nil {
		add("bundle: %v", err)
	}

	roots := 0
	seen := make(map[string]bool)
	services := make(map[string]int)
	for i, p := range def.Prototypes {
		if err := v.validate.Struct(p); err != nil {
			add("%s %q: %v", p.Type, p.Name, err)
		}
		key := string(p.Type) + "/" + p.Name
		if p.Type == model.TypeComponent {
			key = ""
		}
		if key != "" {
			if seen[key] {
				add("duplicate %s prototype %q", p.Type, p.Name)
			}
			seen[key] = true
		}
		switch p.Type {
		case model.TypeCluster, model.TypeProvider:
			roots++
		case model.TypeService:
			services[p.Name] = i
		}
		for _, a := range def.Actions[i] {
			if err := v.validate.Struct(a); err != nil {
				add("%s %q action %q: %v", p.Type, p.Name, a.Name, err)
			}
			if a.HostAction && p.Type != model.TypeCluster && p.Type != model.TypeService && p.Type != model.TypeComponent {
				add("%s %q action %q: host_action is allowed only in cluster space", p.Type, p.Name, a.Name)
			}
		}
	}
	if roots > 1 {
		add("bundle declares more than one cluster or provider")
	}

	componentOf := func(service, component string) bool {
		idx, ok := services[service]
		if !ok {
			return false
		}
		if component == "" {
			return true
		}
		for _, ci := range def.Components[idx] {
			if def.Prototypes[ci].Name == component {
				return true
			}
		}
		return false
	}

	for i, p := range def.Prototypes {
		for _, req := range p.Requires {
			if !componentOf(req.Service, req.Component) {
				add("%s %q requires unknown %s", p.Type, p.Name, requireLabel(req))
			}
		}
		if p.BoundTo != nil && !componentOf(p.BoundTo.Service, p.BoundTo.Component) {
			add("%s %q is bound to unknown component %s/%s", p.Type, p.Name, p.BoundTo.Service, p.BoundTo.Component)
		}
		for _, a := range def.Actions[i] {
			for _, rule := range a.HCACL {
				if rule.Action != HCACLAdd && rule.Action != HCACLRemove {
					add("action %q: invalid hc_acl action %q", a.Name, rule.Action)
				}
				if rule.Service != "" && !componentOf(rule.Service, rule.Component) {
					add("action %q: hc_acl references unknown component %s/%s", a.Name, rule.Service, rule.Component)
				}
			}
		}
		if err := Constraint(p.Constraint).Validate(); len(p.Constraint) > 0 && err != nil {
			add("%s %q: %v", p.Type, p.Name, err)
		}
	}

	if len(problems) > 0 {
		return model.NewError(model.KindInvalidInput, model.ErrCodeDefinitionError,
			strings.Join(problems, "; "))
	}
	return nil
}

func requireLabel(r Require) string {
	if r.Component == "" {
		return "service " + r.Service
	}
	return "component " + r.Service + "/" + r.Component
}
