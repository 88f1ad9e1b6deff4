package stores

import (
	"context"
	"fmt"
	"sync"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/rs/zerolog"
)

type tables struct {
	bundles          *table[definition.Bundle, *definition.Bundle]
	prototypes       *table[definition.Prototype, *definition.Prototype]
	actions          *table[definition.Action, *definition.Action]
	adcm             *table[model.ADCM, *model.ADCM]
	clusters         *table[model.Cluster, *model.Cluster]
	services         *table[model.Service, *model.Service]
	components       *table[model.Component, *model.Component]
	providers        *table[model.Provider, *model.Provider]
	hosts            *table[model.Host, *model.Host]
	hostComponents   *table[model.HostComponent, *model.HostComponent]
	objectConfigs    *table[model.ObjectConfig, *model.ObjectConfig]
	configLogs       *table[model.ConfigLog, *model.ConfigLog]
	groupConfigs     *table[model.GroupConfig, *model.GroupConfig]
	concerns         *table[model.ConcernItem, *model.ConcernItem]
	tasks            *table[model.TaskLog, *model.TaskLog]
	jobs             *table[model.JobLog, *model.JobLog]
	logs             *table[model.LogStorage, *model.LogStorage]
	binds            *table[model.Bind, *model.Bind]
	actionHostGroups *table[model.ActionHostGroup, *model.ActionHostGroup]
	users            *table[model.User, *model.User]
	groups           *table[model.Group, *model.Group]
	roles            *table[model.Role, *model.Role]
	policies         *table[model.Policy, *model.Policy]
}

func newTables() *tables {
	return &tables{
		bundles:          newTable[definition.Bundle](KindBundle),
		prototypes:       newTable[definition.Prototype](KindPrototype),
		actions:          newTable[definition.Action](KindAction),
		adcm:             newTable[model.ADCM](KindADCM),
		clusters:         newTable[model.Cluster](KindCluster),
		services:         newTable[model.Service](KindService),
		components:       newTable[model.Component](KindComponent),
		providers:        newTable[model.Provider](KindProvider),
		hosts:            newTable[model.Host](KindHost),
		hostComponents:   newTable[model.HostComponent](KindHostComponent),
		objectConfigs:    newTable[model.ObjectConfig](KindObjectConfig),
		configLogs:       newTable[model.ConfigLog](KindConfigLog),
		groupConfigs:     newTable[model.GroupConfig](KindGroupConfig),
		concerns:         newTable[model.ConcernItem](KindConcern),
		tasks:            newTable[model.TaskLog](KindTask),
		jobs:             newTable[model.JobLog](KindJob),
		logs:             newTable[model.LogStorage](KindLog),
		binds:            newTable[model.Bind](KindBind),
		actionHostGroups: newTable[model.ActionHostGroup](KindActionHostGroup),
		users:            newTable[model.User](KindUser),
		groups:           newTable[model.Group](KindGroup),
		roles:            newTable[model.Role](KindRole),
		policies:         newTable[model.Policy](KindPolicy),
	}
}

// loaders maps each kind to the decoder of its committed table.
func (t *tables) loaders() map[Kind]func(id int64, data []byte) error {
	return map[Kind]func(int64, []byte) error{
		KindBundle:          t.bundles.load,
		KindPrototype:       t.prototypes.load,
		KindAction:          t.actions.load,
		KindADCM:            t.adcm.load,
		KindCluster:         t.clusters.load,
		KindService:         t.services.load,
		KindComponent:       t.components.load,
		KindProvider:        t.providers.load,
		KindHost:            t.hosts.load,
		KindHostComponent:   t.hostComponents.load,
		KindObjectConfig:    t.objectConfigs.load,
		KindConfigLog:       t.configLogs.load,
		KindGroupConfig:     t.groupConfigs.load,
		KindConcern:         t.concerns.load,
		KindTask:            t.tasks.load,
		KindJob:             t.jobs.load,
		KindLog:             t.logs.load,
		KindBind:            t.binds.load,
		KindActionHostGroup: t.actionHostGroups.load,
		KindUser:            t.users.load,
		KindGroup:           t.groups.load,
		KindRole:            t.roles.load,
		KindPolicy:          t.policies.load,
	}
}

func (t *tables) setSequence(kind Kind, seq int64) {
	switch kind {
	case KindBundle:
		t.bundles.seq = max(t.bundles.seq, seq)
	case KindPrototype:
		t.prototypes.seq = max(t.prototypes.seq, seq)
	case KindAction:
		t.actions.seq = max(t.actions.seq, seq)
	case KindADCM:
		t.adcm.seq = max(t.adcm.seq, seq)
	case KindCluster:
		t.clusters.seq = max(t.clusters.seq, seq)
	case KindService:
		t.services.seq = max(t.services.seq, seq)
	case KindComponent:
		t.components.seq = max(t.components.seq, seq)
	case KindProvider:
		t.providers.seq = max(t.providers.seq, seq)
	case KindHost:
		t.hosts.seq = max(t.hosts.seq, seq)
	case KindHostComponent:
		t.hostComponents.seq = max(t.hostComponents.seq, seq)
	case KindObjectConfig:
		t.objectConfigs.seq = max(t.objectConfigs.seq, seq)
	case KindConfigLog:
		t.configLogs.seq = max(t.configLogs.seq, seq)
	case KindGroupConfig:
		t.groupConfigs.seq = max(t.groupConfigs.seq, seq)
	case KindConcern:
		t.concerns.seq = max(t.concerns.seq, seq)
	case KindTask:
		t.tasks.seq = max(t.tasks.seq, seq)
	case KindJob:
		t.jobs.seq = max(t.jobs.seq, seq)
	case KindLog:
		t.logs.seq = max(t.logs.seq, seq)
	case KindBind:
		t.binds.seq = max(t.binds.seq, seq)
	case KindActionHostGroup:
		t.actionHostGroups.seq = max(t.actionHostGroups.seq, seq)
	case KindUser:
		t.users.seq = max(t.users.seq, seq)
	case KindGroup:
		t.groups.seq = max(t.groups.seq, seq)
	case KindRole:
		t.roles.seq = max(t.roles.seq, seq)
	case KindPolicy:
		t.policies.seq = max(t.policies.seq, seq)
	}
}

// Tx is a transaction over the graph. A Tx obtained from Graph.View panics on writes.
type Tx struct {
	Bundles          *View[definition.Bundle, *definition.Bundle]
	Prototypes       *View[definition.Prototype, *definition.Prototype]
	Actions          *View[definition.Action, *definition.Action]
	ADCM             *View[model.ADCM, *model.ADCM]
	Clusters         *View[model.Cluster, *model.Cluster]
	Services         *View[model.Service, *model.Service]
	Components       *View[model.Component, *model.Component]
	Providers        *View[model.Provider, *model.Provider]
	Hosts            *View[model.Host, *model.Host]
	HostComponents   *View[model.HostComponent, *model.HostComponent]
	ObjectConfigs    *View[model.ObjectConfig, *model.ObjectConfig]
	ConfigLogs       *View[model.ConfigLog, *model.ConfigLog]
	GroupConfigs     *View[model.GroupConfig, *model.GroupConfig]
	Concerns         *View[model.ConcernItem, *model.ConcernItem]
	Tasks            *View[model.TaskLog, *model.TaskLog]
	Jobs             *View[model.JobLog, *model.JobLog]
	Logs             *View[model.LogStorage, *model.LogStorage]
	Binds            *View[model.Bind, *model.Bind]
	ActionHostGroups *View[model.ActionHostGroup, *model.ActionHostGroup]
	Users            *View[model.User, *model.User]
	Groups           *View[model.Group, *model.Group]
	Roles            *View[model.Role, *model.Role]
	Policies         *View[model.Policy, *model.Policy]

	sets []changeSet
}

func newTx(t *tables, readOnly bool) *Tx {
	tx := &Tx{
		Bundles:          newView(t.bundles, readOnly),
		Prototypes:       newView(t.prototypes, readOnly),
		Actions:          newView(t.actions, readOnly),
		ADCM:             newView(t.adcm, readOnly),
		Clusters:         newView(t.clusters, readOnly),
		Services:         newView(t.services, readOnly),
		Components:       newView(t.components, readOnly),
		Providers:        newView(t.providers, readOnly),
		Hosts:            newView(t.hosts, readOnly),
		HostComponents:   newView(t.hostComponents, readOnly),
		ObjectConfigs:    newView(t.objectConfigs, readOnly),
		ConfigLogs:       newView(t.configLogs, readOnly),
		GroupConfigs:     newView(t.groupConfigs, readOnly),
		Concerns:         newView(t.concerns, readOnly),
		Tasks:            newView(t.tasks, readOnly),
		Jobs:             newView(t.jobs, readOnly),
		Logs:             newView(t.logs, readOnly),
		Binds:            newView(t.binds, readOnly),
		ActionHostGroups: newView(t.actionHostGroups, readOnly),
		Users:            newView(t.users, readOnly),
		Groups:           newView(t.groups, readOnly),
		Roles:            newView(t.roles, readOnly),
		Policies:         newView(t.policies, readOnly),
	}
	tx.sets = []changeSet{
		tx.Bundles, tx.Prototypes, tx.Actions, tx.ADCM, tx.Clusters, tx.Services,
		tx.Components, tx.Providers, tx.Hosts, tx.HostComponents, tx.ObjectConfigs,
		tx.ConfigLogs, tx.GroupConfigs, tx.Concerns, tx.Tasks, tx.Jobs, tx.Logs,
		tx.Binds, tx.ActionHostGroups, tx.Users, tx.Groups, tx.Roles, tx.Policies,
	}
	return tx
}

// Changes returns the records touched so far, without documents.
func (tx *Tx) Changes() []Change {
	var out []Change
	for _, s := range tx.sets {
		if s.dirty() {
			out = append(out, s.touched()...)
		}
	}
	return out
}

func (tx *Tx) encode() ([]Change, map[Kind]int64, error) {
	var out []Change
	seqs := make(map[Kind]int64)
	for _, s := range tx.sets {
		seqs[s.kind()] = s.sequence()
		if !s.dirty() {
			continue
		}
		changes, err := s.encode()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, changes...)
	}
	return out, seqs, nil
}

func (tx *Tx) merge() {
	for _, s := range tx.sets {
		s.merge()
	}
}

// Graph is the shared entity graph.
type Graph struct {
	logger    zerolog.Logger
	backend   Backend
	data      *tables
	mu        sync.RWMutex
	writeMu   sync.Mutex
	hooks     []CommitHook
	listeners []Listener
}

// NewGraph creates an empty graph. A nil backend keeps the graph in memory only.
func NewGraph(logger zerolog.Logger, backend Backend) *Graph {
	return &Graph{
		logger:  logger.With().Str("component", "graph").Logger(),
		backend: backend,
		data:    newTables(),
	}
}

// Load restores the graph from the backend.
func (g *Graph) Load(ctx context.Context) error {
	if g.backend == nil {
		return nil
	}
	rows, seqs, err := g.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	loaders := g.data.loaders()
	for _, row := range rows {
		load, ok := loaders[row.Kind]
		if !ok {
			return fmt.Errorf("unknown record kind %s", row.Kind)
		}
		if err := load(row.ID, row.Data); err != nil {
			return err
		}
	}
	for kind, seq := range seqs {
		g.data.setSequence(kind, seq)
	}

	g.logger.Info().Int("rows", len(rows)).Msg("Graph loaded")
	return nil
}

// OnCommit registers a hook run inside every write transaction.
func (g *Graph) OnCommit(hook CommitHook) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	g.hooks = append(g.hooks, hook)
}

// Subscribe registers a listener of the change stream. Listeners run after the
// commit, in commit order, and must not block.
func (g *Graph) Subscribe(l Listener) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	g.listeners = append(g.listeners, l)
}

// View runs fn in a read-only transaction.
func (g *Graph) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(newTx(g.data, true))
}

// Update runs fn in a write transaction. Either every write of fn and of the commit
// hooks lands, or none does. Update must not be called from inside fn.
func (g *Graph) Update(ctx context.Context, fn func(tx *Tx) error) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newTx(g.data, false)
	if err := fn(tx); err != nil {
		return err
	}

	changes := tx.Changes()
	if len(changes) == 0 {
		return nil
	}
	for _, hook := range g.hooks {
		if err := hook(ctx, tx, changes); err != nil {
			g.logger.Error().Err(err).Int("changes", len(changes)).Msg("Commit hook failed")
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	encoded, seqs, err := tx.encode()
	if err != nil {
		return err
	}
	if g.backend != nil {
		if err := g.backend.Persist(ctx, encoded, seqs); err != nil {
			return fmt.Errorf("failed to persist changes: %w", err)
		}
	}

	g.mu.Lock()
	tx.merge()
	g.mu.Unlock()

	for _, l := range g.listeners {
		l(encoded)
	}
	return nil
}
