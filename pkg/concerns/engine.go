package concerns

import (
	"context"
	"fmt"
	"slices"

	"github.com/openadcm/adcm/pkg/configs"
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/mapping"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/openadcm/adcm/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Engine creates, attaches and removes concerns.
type Engine struct {
	logger    zerolog.Logger
	templates *Templates
	configs   *configs.Engine
	mapping   *mapping.Engine
	metrics   *telemetry.Metrics
}

// NewEngine creates a concern engine. metrics may be nil.
func NewEngine(logger zerolog.Logger, templates *Templates, cfg *configs.Engine, hc *mapping.Engine, metrics *telemetry.Metrics) *Engine {
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &Engine{
		logger:    logger.With().Str("component", "concerns").Logger(),
		templates: templates,
		configs:   cfg,
		mapping:   hc,
		metrics:   metrics,
	}
}

// Templates returns the message template registry.
func (e *Engine) Templates() *Templates {
	return e.templates
}

// IssueName is the deterministic name of an automatic issue.
func IssueName(cause model.ConcernCause, owner model.Ref) string {
	return fmt.Sprintf("%s issue on %s %d", cause, owner.Type, owner.ID)
}

// attach links a concern to entities, updating its related list.
func attach(tx *stores.Tx, c *model.ConcernItem, refs []model.Ref) {
	for _, ref := range refs {
		ent, err := tx.Entity(ref)
		if err != nil {
			continue
		}
		if !ent.Base().HasConcern(c.ID) {
			ent.Base().AttachConcern(c.ID)
			tx.PutEntity(ent)
		}
		if !slices.Contains(c.Related, ref) {
			c.Related = append(c.Related, ref)
		}
	}
	tx.Concerns.Put(c)
}

// detach unlinks a concern from entities.
func detach(tx *stores.Tx, c *model.ConcernItem, refs []model.Ref) {
	for _, ref := range refs {
		if ent, err := tx.Entity(ref); err == nil && ent.Base().DetachConcern(c.ID) {
			tx.PutEntity(ent)
		}
		if idx := slices.Index(c.Related, ref); idx >= 0 {
			c.Related = slices.Delete(c.Related, idx, idx+1)
		}
	}
}

// create stores a concern and attaches it to refs.
func (e *Engine) create(tx *stores.Tx, c *model.ConcernItem, refs []model.Ref) *model.ConcernItem {
	c.Related = []model.Ref{}
	tx.Concerns.Insert(c)
	attach(tx, c, refs)
	return c
}

// Delete detaches a concern from every entity and removes it.
func (e *Engine) Delete(tx *stores.Tx, id int64) {
	c, ok := tx.Concerns.Get(id)
	if !ok {
		return
	}
	detach(tx, c, slices.Clone(c.Related))
	tx.Concerns.Delete(id)
}

// Of returns the concerns attached to an entity.
func (e *Engine) Of(tx *stores.Tx, ref model.Ref) ([]*model.ConcernItem, error) {
	ent, err := tx.Entity(ref)
	if err != nil {
		return nil, err
	}
	var out []*model.ConcernItem
	for _, id := range ent.Base().Concerns {
		if c, ok := tx.Concerns.Get(id); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Blocking returns the first blocking concern attached to an entity, if any.
func (e *Engine) Blocking(tx *stores.Tx, ref model.Ref) (*model.ConcernItem, bool) {
	items, err := e.Of(tx, ref)
	if err != nil {
		return nil, false
	}
	for _, c := range items {
		if c.IsBlocking() {
			return c, true
		}
	}
	return nil, false
}

// Lock creates the lock of a task on its target and attaches it to the lock closure.
func (e *Engine) Lock(tx *stores.Tx, target model.Ref, action *definition.Action, taskID int64) (*model.ConcernItem, error) {
	reason, err := e.templates.Render(TemplateLockedByAction, map[string]model.Placeholder{
		"action": ActionPlaceholder(tx, action, target),
		"target": EntityPlaceholder(tx, target),
	})
	if err != nil {
		return nil, err
	}
	c := e.create(tx, &model.ConcernItem{
		Type:     model.ConcernLock,
		Name:     fmt.Sprintf("lock of task %d", taskID),
		Reason:   reason,
		Blocking: true,
		Owner:    target,
		Cause:    model.CauseJob,
		TaskID:   taskID,
	}, LockClosure(tx, target))
	return c, nil
}

// RaiseFlag sets a named flag on an entity. Raising an existing flag is a no-op.
func (e *Engine) RaiseFlag(tx *stores.Tx, owner model.Ref, flag string) (*model.ConcernItem, error) {
	name := fmt.Sprintf("%s flag on %s %d", flag, owner.Type, owner.ID)
	if c, ok := tx.Concerns.First(func(c *model.ConcernItem) bool {
		return c.Type == model.ConcernFlag && c.Owner == owner && c.Name == name
	}); ok {
		return c, nil
	}
	reason, err := e.templates.Render(TemplateFlagOutdatedConfig, map[string]model.Placeholder{
		"source": EntityPlaceholder(tx, owner),
		"flag":   {Type: "flag", Name: flag, IDs: map[string]int64{}},
	})
	if err != nil {
		return nil, err
	}
	return e.create(tx, &model.ConcernItem{
		Type:   model.ConcernFlag,
		Name:   name,
		Reason: reason,
		Owner:  owner,
	}, []model.Ref{owner}), nil
}

// ClearFlags removes every flag owned by an entity.
func (e *Engine) ClearFlags(tx *stores.Tx, owner model.Ref) int {
	n := 0
	for _, c := range tx.Concerns.Find(func(c *model.ConcernItem) bool {
		return c.Type == model.ConcernFlag && c.Owner == owner
	}) {
		e.Delete(tx, c.ID)
		n++
	}
	return n
}

// DeleteOwnedBy removes every concern owned by an entity, before it is deleted.
func (e *Engine) DeleteOwnedBy(tx *stores.Tx, owner model.Ref) {
	for _, c := range tx.Concerns.Find(func(c *model.ConcernItem) bool { return c.Owner == owner }) {
		e.Delete(tx, c.ID)
	}
}

// Hook returns the commit hook that re-evaluates automatic issues for every root
// touched by a write transaction. Failures are logged and never fail the write.
func (e *Engine) Hook() stores.CommitHook {
	return func(_ context.Context, tx *stores.Tx, changes []stores.Change) error {
		roots := e.affectedRoots(tx, changes)
		if len(roots) == 0 {
			return nil
		}
		for _, root := range roots {
			if err := e.RecomputeRoot(tx, root); err != nil {
				e.logger.Error().Err(err).Str("root", root.String()).Msg("failed to recompute concerns")
			}
		}
		e.reportCounts(tx)
		return nil
	}
}

func (e *Engine) reportCounts(tx *stores.Tx) {
	if e.metrics == nil {
		return
	}
	counts := map[model.ConcernType]int{model.ConcernLock: 0, model.ConcernIssue: 0, model.ConcernFlag: 0}
	for _, c := range tx.Concerns.All() {
		counts[c.Type]++
	}
	for t, n := range counts {
		e.metrics.SetConcernCount(string(t), float64(n))
	}
}

// affectedRoots maps a change set to the clusters and providers whose issues may
// have changed.
func (e *Engine) affectedRoots(tx *stores.Tx, changes []stores.Change) []model.Ref {
	var roots model.RefSet
	addRoot := func(ref model.Ref) {
		root := tx.RootOf(ref)
		if root.Type == model.TypeCluster || root.Type == model.TypeProvider {
			roots.Add(root)
		}
		if ref.Type == model.TypeHost {
			if cid := tx.ClusterOf(ref); cid != 0 {
				roots.Add(model.NewRef(model.TypeCluster, cid))
			}
		}
	}
	allClusters := false
	configOwners := e.configOwners(tx)
	for _, c := range changes {
		if c.Op == stores.OpDelete && (c.Kind == stores.KindService || c.Kind == stores.KindComponent || c.Kind == stores.KindHost) {
			allClusters = true
			continue
		}
		switch c.Kind {
		case stores.KindCluster:
			if c.Op != stores.OpDelete {
				roots.Add(model.NewRef(model.TypeCluster, c.ID))
			}
		case stores.KindProvider:
			if c.Op != stores.OpDelete {
				roots.Add(model.NewRef(model.TypeProvider, c.ID))
			}
		case stores.KindService:
			addRoot(model.NewRef(model.TypeService, c.ID))
		case stores.KindComponent:
			addRoot(model.NewRef(model.TypeComponent, c.ID))
		case stores.KindHost:
			addRoot(model.NewRef(model.TypeHost, c.ID))
		case stores.KindHostComponent, stores.KindBind:
			allClusters = true
		case stores.KindObjectConfig:
			if owner, ok := configOwners[c.ID]; ok {
				addRoot(owner)
			}
		case stores.KindConfigLog:
			if log, ok := tx.ConfigLogs.Get(c.ID); ok {
				if owner, ok := configOwners[log.ObjConfID]; ok {
					addRoot(owner)
				}
			}
		}
	}
	if allClusters {
		for _, cl := range tx.Clusters.All() {
			roots.Add(cl.Ref())
		}
	}
	var out []model.Ref
	for _, r := range roots.Items() {
		if _, err := tx.Entity(r); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// configOwners maps object config ids to the entities that own them.
func (e *Engine) configOwners(tx *stores.Tx) map[int64]model.Ref {
	out := make(map[int64]model.Ref)
	add := func(ent model.Entity) {
		if id := ent.Base().ConfigID; id != 0 {
			out[id] = ent.Ref()
		}
	}
	for _, c := range tx.Clusters.All() {
		add(c)
	}
	for _, s := range tx.Services.All() {
		add(s)
	}
	for _, c := range tx.Components.All() {
		add(c)
	}
	for _, p := range tx.Providers.All() {
		add(p)
	}
	for _, h := range tx.Hosts.All() {
		add(h)
	}
	return out
}
