// Package manager is the entry point of the core: it wires the stores, engines
// and ports together and runs every mutation through one pipeline that
// authorizes, locks the affected roots, mutates inside a graph transaction
// (where concerns are recomputed) and records the audit operation.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/openadcm/adcm/pkg/actions"
	"github.com/openadcm/adcm/pkg/audit"
	"github.com/openadcm/adcm/pkg/concerns"
	"github.com/openadcm/adcm/pkg/configs"
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/mapping"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/notify"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/retention"
	"github.com/openadcm/adcm/pkg/runner"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/openadcm/adcm/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Options overrides collaborators built from Settings. Every field is optional.
type Options struct {
	// Runner replaces the spool runner. The collector is not started then.
	Runner actions.Runner
	// Telemetry is used instead of building one from Settings; the manager does
	// not shut it down.
	Telemetry *telemetry.Telemetry
	// CEF receives the audit side channel instead of Settings.Audit.CEF.
	CEF io.Writer
	// Fs is the filesystem bundles are uploaded to, the OS filesystem by default.
	Fs afero.Fs
}

// Manager runs the commands of the core.
type Manager struct {
	settings Settings
	tel      *telemetry.Telemetry
	ownTel   bool
	logger   zerolog.Logger
	fs       afero.Fs

	store     *stores.SQLiteStore
	graph     *stores.Graph
	locks     *stores.RootLocker
	schemas   *definition.SchemaRegistry
	validator *definition.Validator
	names     *names

	configs  *configs.Engine
	mapping  *mapping.Engine
	concerns *concerns.Engine
	runtime  *actions.Runtime

	spool     *runner.SpoolRunner
	collector *runner.Collector

	directory *rbac.Directory
	authz     *rbac.Authorizer
	audit     *audit.Recorder
	rotator   *retention.Rotator
	redis     *notify.RedisPublisher

	closers []io.Closer
}

// New opens the store and builds a manager for s.
func New(ctx context.Context, s Settings, opts Options) (m *Manager, err error) {
	m = &Manager{settings: s, locks: stores.NewRootLocker(), fs: opts.Fs}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	defer func() {
		if err != nil {
			_ = m.Close(context.Background())
			m = nil
		}
	}()

	m.tel = opts.Telemetry
	if m.tel == nil {
		m.tel, err = telemetry.NewTelemetry(s.TelemetryConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		m.ownTel = true
	}
	m.logger = m.tel.Logger.Zerolog().With().Str("component", "manager").Logger()
	base := m.tel.Logger.Zerolog()

	m.store, err = stores.NewSQLiteStore(stores.Config{
		Path:         s.Database.Path,
		MaxOpenConns: s.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	m.closers = append(m.closers, m.store)
	if err = m.store.Init(ctx); err != nil {
		return nil, err
	}
	if err = m.store.Migrate(ctx); err != nil {
		return nil, err
	}

	m.graph = stores.NewGraph(base, m.store)
	if err = m.graph.Load(ctx); err != nil {
		return nil, err
	}

	m.schemas = definition.NewSchemaRegistry()
	m.validator = definition.NewValidator()
	m.names = newNames()
	m.configs = configs.NewEngine(base, m.schemas)
	m.mapping = mapping.NewEngine(base, m.configs)

	templates := concerns.DefaultTemplates()
	if err = templates.Load(ctx, m.store); err != nil {
		return nil, err
	}
	m.concerns = concerns.NewEngine(base, templates, m.configs, m.mapping, m.tel.Metrics)
	m.graph.OnCommit(m.concerns.Hook())

	run := opts.Runner
	if run == nil {
		if run, err = m.spoolRunner(ctx, base); err != nil {
			return nil, err
		}
	}
	m.runtime = actions.NewRuntime(base, m.graph, m.configs, m.mapping, m.concerns, actions.Options{
		Runner:           run,
		Metrics:          m.tel.Metrics,
		Events:           m.tel.Events,
		GeneratorTimeout: s.GeneratorTimeout,
	})
	m.runtime.SetUpgrader(m)
	if m.spool != nil {
		m.collector = runner.NewCollector(base, m.spool, m.runtime)
	}

	if err = m.initRBAC(ctx, base); err != nil {
		return nil, err
	}

	cef, err := m.cefWriter(opts.CEF)
	if err != nil {
		return nil, err
	}
	m.audit = audit.NewRecorder(m.store.DB(), base, audit.Options{
		CEF:     cef,
		Version: s.Version,
		Metrics: m.tel.Metrics,
		Users:   audit.UserResolverFunc(m.userID),
	})

	if err = m.initRetention(base); err != nil {
		return nil, err
	}

	if s.Redis.Enabled() {
		m.redis, err = notify.NewRedisPublisher(ctx, base, s.Redis)
		if err != nil {
			return nil, err
		}
		m.closers = append(m.closers, m.redis)
		m.redis.Forward(m.tel.Events, nil)
	}
	m.graph.Subscribe(m.publishChanges)

	if err = m.fs.MkdirAll(s.BundleDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}

	m.logger.Info().
		Str("database", s.Database.Path).
		Str("bundle_dir", s.BundleDir).
		Bool("redis", m.redis != nil).
		Bool("spool_runner", m.spool != nil).
		Msg("Manager started")
	return m, nil
}

func (m *Manager) spoolRunner(ctx context.Context, logger zerolog.Logger) (actions.Runner, error) {
	var spool runner.Spool
	if cfg := m.settings.Runner.SFTP; cfg != nil {
		sftp, err := runner.DialSFTP(ctx, logger, *cfg)
		if err != nil {
			return nil, err
		}
		m.closers = append(m.closers, sftp)
		spool = sftp
	} else {
		local, err := runner.NewLocalSpool(m.settings.RunDir)
		if err != nil {
			return nil, err
		}
		spool = local
	}
	m.spool = runner.NewSpoolRunner(logger, spool, m.settings.Runner.Parallel)
	return m.spool, nil
}

func (m *Manager) initRBAC(ctx context.Context, logger zerolog.Logger) error {
	m.directory = rbac.NewDirectory(logger)
	m.directory.SetPasswordPolicy(m.settings.Passwords)

	module := ""
	if path := m.settings.Authz.Module; path != "" {
		data, err := afero.ReadFile(m.fs, path)
		if err != nil {
			return fmt.Errorf("failed to read authorization module: %w", err)
		}
		module = string(data)
	}
	az, err := rbac.NewAuthorizer(ctx, logger, module)
	if err != nil {
		return err
	}
	m.authz = az

	return m.graph.Update(ctx, func(tx *stores.Tx) error {
		return m.directory.Bootstrap(tx, m.settings.AdminPassword)
	})
}

func (m *Manager) cefWriter(w io.Writer) (io.Writer, error) {
	if w != nil {
		return w, nil
	}
	switch path := m.settings.Audit.CEF; path {
	case "":
		return nil, nil
	case "stdout":
		return os.Stdout, nil
	default:
		f, err := m.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		m.closers = append(m.closers, f)
		return f, nil
	}
}

func (m *Manager) initRetention(logger zerolog.Logger) error {
	opts := retention.Options{
		Tasks:      m.runtime,
		Audit:      m.audit,
		Configs:    m.configs,
		ArchiveDir: m.settings.ArchiveDir,
		Metrics:    m.tel.Metrics,
	}
	if m.spool != nil {
		opts.Artifacts = m.spool
	}
	if m.settings.S3.Enabled() {
		up, err := retention.NewS3Uploader(m.settings.S3)
		if err != nil {
			return err
		}
		opts.Uploader = up
	}
	m.rotator = retention.NewRotator(logger, m.graph, m.settings.Retention, opts)
	return nil
}

// publishChanges turns committed changes into entity events. Job logs are
// skipped, they are too chatty for the event stream.
func (m *Manager) publishChanges(changes []stores.Change) {
	for _, c := range changes {
		if c.Kind == stores.KindLog {
			continue
		}
		_ = m.tel.Events.PublishEntityChange(string(c.Op), string(c.Kind), c.ID)
	}
}

func (m *Manager) userID(username string) (int64, bool) {
	var id int64
	_ = m.graph.View(context.Background(), func(tx *stores.Tx) error {
		if u, ok := tx.Users.First(func(u *model.User) bool { return u.Username == username }); ok {
			id = u.ID
		}
		return nil
	})
	return id, id != 0
}

// Graph returns the entity graph for read-only queries.
func (m *Manager) Graph() *stores.Graph { return m.graph }

// Runtime returns the action runtime; runners report through it.
func (m *Manager) Runtime() *actions.Runtime { return m.runtime }

// Collector returns the spool collector, or nil when a custom runner is used.
func (m *Manager) Collector() *runner.Collector { return m.collector }

// Rotator returns the retention rotator.
func (m *Manager) Rotator() *retention.Rotator { return m.rotator }

// Telemetry returns the telemetry of the manager.
func (m *Manager) Telemetry() *telemetry.Telemetry { return m.tel }

// Settings returns the settings the manager was built with.
func (m *Manager) Settings() Settings { return m.settings }

// Rotate runs one retention pass and publishes its report.
func (m *Manager) Rotate(ctx context.Context) (retention.Report, error) {
	rep, err := m.rotator.Rotate(ctx)
	level := "info"
	if err != nil {
		level = "error"
	}
	_ = m.tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeRotation,
		Source:  "retention",
		Message: "Rotation finished",
		Level:   level,
		Data: map[string]interface{}{
			"artifacts":  rep.Artifacts,
			"tasks":      rep.Tasks,
			"configs":    rep.Configs,
			"operations": rep.Operations,
			"logins":     rep.Logins,
			"archive":    rep.Archive,
		},
	})
	return rep, err
}

// Close releases the store and the connections of the manager.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	if m.ownTel && m.tel != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := m.tel.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
