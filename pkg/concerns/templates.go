package concerns

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// Template names.
const (
	TemplateLockedByAction       = "LockedByAction"
	TemplateConfigIssue          = "ConfigIssue"
	TemplateRequiredServiceIssue = "RequiredServiceIssue"
	TemplateRequiredImportIssue  = "RequiredImportIssue"
	TemplateHostComponentIssue   = "HostComponentIssue"
	TemplateUnsatisfiedRequire   = "UnsatisfiedRequirementIssue"
	TemplateFlagOutdatedConfig   = "FlagOutdatedConfig"
)

// TemplateSource provides stored message templates.
type TemplateSource interface {
	MessageTemplates(ctx context.Context) ([]stores.MessageTemplate, error)
}

// Templates is the message template registry.
type Templates struct {
	mu        sync.RWMutex
	templates map[string]stores.MessageTemplate
}

// DefaultTemplates returns the built-in templates, the same set the database seeds.
func DefaultTemplates() *Templates {
	t := &Templates{templates: make(map[string]stores.MessageTemplate)}
	for _, mt := range []stores.MessageTemplate{
		{Name: TemplateLockedByAction, Message: "Object was locked by running action ${action} on ${target}", Placeholders: []string{"action", "target"}},
		{Name: TemplateConfigIssue, Message: "${source} has an issue with its config", Placeholders: []string{"source"}},
		{Name: TemplateRequiredServiceIssue, Message: "${source} requires service ${target} to be added", Placeholders: []string{"source", "target"}},
		{Name: TemplateRequiredImportIssue, Message: "${source} has an issue with required import", Placeholders: []string{"source"}},
		{Name: TemplateHostComponentIssue, Message: "${source} has an issue with host-component mapping", Placeholders: []string{"source"}},
		{Name: TemplateUnsatisfiedRequire, Message: "${source} has an issue with requirement. Need to be installed: ${target}", Placeholders: []string{"source", "target"}},
		{Name: TemplateFlagOutdatedConfig, Message: "${source} has a flag: ${flag}", Placeholders: []string{"source", "flag"}},
	} {
		t.templates[mt.Name] = mt
	}
	return t
}

// Load replaces templates with the stored ones. Templates missing from the store keep
// their built-in text.
func (t *Templates) Load(ctx context.Context, src TemplateSource) error {
	stored, err := src.MessageTemplates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load message templates: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, mt := range stored {
		t.templates[mt.Name] = mt
	}
	return nil
}

// Names returns the registered template names in order.
func (t *Templates) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.templates))
	for n := range t.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render builds a reason from a template. Every placeholder the template declares
// must be supplied.
func (t *Templates) Render(name string, params map[string]model.Placeholder) (model.Reason, error) {
	t.mu.RLock()
	mt, ok := t.templates[name]
	t.mu.RUnlock()
	if !ok {
		return model.Reason{}, model.NotFound(model.ErrCodeTemplateNotFound, "message template %q does not exist", name)
	}
	placeholders := make(map[string]model.Placeholder, len(mt.Placeholders))
	for _, key := range mt.Placeholders {
		p, ok := params[key]
		if !ok {
			return model.Reason{}, model.Errorf(model.KindInternal, model.ErrCodeTemplate,
				"placeholder %q of template %q is missing", key, name)
		}
		placeholders[key] = p
	}
	return model.Reason{Message: mt.Message, Placeholder: placeholders}, nil
}

// Text substitutes placeholder names into a reason message.
func Text(r model.Reason) string {
	pairs := make([]string, 0, 2*len(r.Placeholder))
	for key, p := range r.Placeholder {
		pairs = append(pairs, "${"+key+"}", p.Name)
	}
	return strings.NewReplacer(pairs...).Replace(r.Message)
}
