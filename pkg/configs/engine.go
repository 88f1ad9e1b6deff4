package configs

import (
	"fmt"
	"sync"
	"time"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/rs/zerolog"
)

// InitDescription is the description of the first history entry of a config.
const InitDescription = "init"

// Engine reads and writes entity and group configs inside graph transactions.
type Engine struct {
	logger    zerolog.Logger
	validator *Validator

	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewEngine creates a config engine.
func NewEngine(logger zerolog.Logger, schemas *definition.SchemaRegistry) *Engine {
	return &Engine{
		logger:    logger.With().Str("component", "configs").Logger(),
		validator: NewValidator(schemas),
		now:       time.Now,
	}
}

// Validator returns the value validator, shared with action launch configs.
func (e *Engine) Validator() *Validator {
	return e.validator
}

// stamp returns a strictly increasing timestamp for history entries.
func (e *Engine) stamp() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.now().UTC()
	if !t.After(e.last) {
		t = e.last.Add(time.Microsecond)
	}
	e.last = t
	return t
}

// Init creates the config history of a new entity from its prototype defaults. Entities
// whose prototype declares no config get none.
func (e *Engine) Init(tx *stores.Tx, ent model.Entity) error {
	proto, err := tx.Prototype(ent.Base().PrototypeID)
	if err != nil {
		return err
	}
	schema := definition.Schema(proto.Config)
	if len(schema) == 0 {
		return nil
	}
	attr := DefaultAttr(schema)
	cfg, errs := e.validator.Validate(Input{Schema: schema, Config: Defaults(schema), Attr: attr}, nil)
	if len(errs) > 0 {
		return fmt.Errorf("failed to build default config of %s: %w", ent.Ref(), invalidConfig(errs))
	}

	oc := &model.ObjectConfig{}
	tx.ObjectConfigs.Insert(oc)
	e.appendLog(tx, oc, cfg, attr, InitDescription)
	ent.Base().ConfigID = oc.ID
	tx.PutEntity(ent)
	return nil
}

// appendLog stores a new history entry and makes it current.
func (e *Engine) appendLog(tx *stores.Tx, oc *model.ObjectConfig, cfg, attr model.Tree, desc string) *model.ConfigLog {
	log := &model.ConfigLog{
		ObjConfID:   oc.ID,
		Config:      cfg,
		Attr:        attr,
		Description: desc,
		Date:        e.stamp(),
	}
	tx.ConfigLogs.Insert(log)
	oc.PreviousID = oc.CurrentID
	oc.CurrentID = log.ID
	tx.ObjectConfigs.Put(oc)
	return log
}

func (e *Engine) objectConfig(tx *stores.Tx, ent model.Entity) (*model.ObjectConfig, error) {
	id := ent.Base().ConfigID
	if id == 0 {
		return nil, model.NotFound(model.ErrCodeConfigNotFound, "%s has no config", ent.Ref())
	}
	return tx.ObjectConfig(id)
}

// Current returns the current config of an entity.
func (e *Engine) Current(tx *stores.Tx, ref model.Ref) (*model.ConfigLog, error) {
	ent, err := tx.Entity(ref)
	if err != nil {
		return nil, err
	}
	oc, err := e.objectConfig(tx, ent)
	if err != nil {
		return nil, err
	}
	return tx.ConfigLog(oc.CurrentID)
}

// Update validates a new config of an entity, appends it to the history and
// re-synchronizes the entity's group configs.
func (e *Engine) Update(tx *stores.Tx, ref model.Ref, cfg, attr model.Tree, desc string) (*model.ConfigLog, error) {
	ent, err := tx.Entity(ref)
	if err != nil {
		return nil, err
	}
	proto, err := tx.Prototype(ent.Base().PrototypeID)
	if err != nil {
		return nil, err
	}
	oc, err := e.objectConfig(tx, ent)
	if err != nil {
		return nil, err
	}
	current, err := tx.ConfigLog(oc.CurrentID)
	if err != nil {
		return nil, err
	}
	if _, ok := attr[model.AttrGroupKeys]; ok {
		return nil, model.Errorf(model.KindInvalidConfig, model.ErrCodeAttributeError, "group_keys is allowed only in group configs")
	}
	if _, ok := attr[model.AttrCustomGroupKeys]; ok {
		return nil, model.Errorf(model.KindInvalidConfig, model.ErrCodeAttributeError, "custom_group_keys is allowed only in group configs")
	}

	schema := definition.Schema(proto.Config)
	newAttr := mergeActivation(schema, current.Attr, attr)
	out, err := e.validator.Check(Input{
		Schema:   schema,
		Config:   cfg,
		Attr:     newAttr,
		Previous: current.Config,
		State:    ent.Base().State,
		Strict:   true,
	}, NewGraphResolver(tx, ref))
	if err != nil {
		return nil, err
	}

	log := e.appendLog(tx, oc, out, newAttr, desc)
	if err := e.SyncGroups(tx, ref, desc); err != nil {
		return nil, err
	}
	e.logger.Debug().Str("object", ref.String()).Int64("config_log", log.ID).Msg("config updated")
	return log, nil
}

// mergeActivation keeps only activation flags of activatable groups, taking values
// from attr and falling back to the current ones.
func mergeActivation(schema definition.Schema, current, attr model.Tree) model.Tree {
	out := model.Tree{}
	for _, f := range schema.Activatable() {
		active := f.Limits.Active
		if a, ok := asTree(current[f.Name]); ok {
			if b, ok := a["active"].(bool); ok {
				active = b
			}
		}
		if a, ok := asTree(attr[f.Name]); ok {
			if b, ok := a["active"].(bool); ok {
				active = b
			}
		}
		out[f.Name] = map[string]interface{}{"active": active}
	}
	return out
}

// History returns every config log of an entity, oldest first.
func (e *Engine) History(tx *stores.Tx, ref model.Ref) ([]*model.ConfigLog, error) {
	ent, err := tx.Entity(ref)
	if err != nil {
		return nil, err
	}
	oc, err := e.objectConfig(tx, ent)
	if err != nil {
		return nil, err
	}
	return historyOf(tx, oc.ID), nil
}

func historyOf(tx *stores.Tx, objConfID int64) []*model.ConfigLog {
	return tx.ConfigLogs.Find(func(l *model.ConfigLog) bool { return l.ObjConfID == objConfID })
}

// Restore makes an earlier history entry of an entity current again.
func (e *Engine) Restore(tx *stores.Tx, ref model.Ref, logID int64) (*model.ConfigLog, error) {
	ent, err := tx.Entity(ref)
	if err != nil {
		return nil, err
	}
	oc, err := e.objectConfig(tx, ent)
	if err != nil {
		return nil, err
	}
	log, ok := tx.ConfigLogs.Get(logID)
	if !ok || log.ObjConfID != oc.ID {
		return nil, model.NotFound(model.ErrCodeConfigNotFound, "config log %d of %s does not exist", logID, ref)
	}
	if oc.CurrentID != logID {
		oc.PreviousID = oc.CurrentID
		oc.CurrentID = logID
		tx.ObjectConfigs.Put(oc)
	}
	if err := e.SyncGroups(tx, ref, log.Description); err != nil {
		return nil, err
	}
	return log, nil
}

// HasIssue reports whether the current config of an entity misses required values or
// holds values its schema rejects.
func (e *Engine) HasIssue(tx *stores.Tx, ref model.Ref) (bool, error) {
	ent, err := tx.Entity(ref)
	if err != nil {
		return false, err
	}
	if ent.Base().ConfigID == 0 {
		return false, nil
	}
	proto, err := tx.Prototype(ent.Base().PrototypeID)
	if err != nil {
		return false, err
	}
	current, err := e.Current(tx, ref)
	if err != nil {
		return false, err
	}
	_, errs := e.validator.Validate(Input{
		Schema: proto.Config,
		Config: current.Config,
		Attr:   current.Attr,
		Strict: true,
	}, NewGraphResolver(tx, ref))
	return len(errs) > 0, nil
}

// ActionConfig validates the config sent with an action launch against the action's
// schema. Actions without a schema accept no config.
func (e *Engine) ActionConfig(tx *stores.Tx, owner model.Ref, action *definition.Action, cfg, attr model.Tree) (model.Tree, error) {
	schema := definition.Schema(action.Config)
	if len(schema) == 0 {
		if len(cfg) > 0 {
			return nil, model.InvalidConfig("action %q has no config", action.Name)
		}
		return nil, nil
	}
	if cfg == nil {
		cfg = Defaults(schema)
	}
	return e.validator.Check(Input{
		Schema: schema,
		Config: cfg,
		Attr:   mergeActivation(schema, DefaultAttr(schema), attr),
		Strict: true,
	}, NewGraphResolver(tx, owner))
}
