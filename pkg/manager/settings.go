package manager

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openadcm/adcm/pkg/notify"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/retention"
	"github.com/openadcm/adcm/pkg/runner"
	"github.com/openadcm/adcm/pkg/telemetry"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables read by LoadSettings.
const EnvPrefix = "ADCM"

// DatabaseSettings locates the SQLite database.
type DatabaseSettings struct {
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// AuditSettings configures the CEF side channel: empty disables it, "stdout"
// writes to standard output, anything else is a file appended to.
type AuditSettings struct {
	CEF string `mapstructure:"cef"`
}

// RunnerSettings selects the spool the runner publishes tasks to. A nil SFTP
// uses the local run directory.
type RunnerSettings struct {
	Parallel int                `mapstructure:"parallel"`
	SFTP     *runner.SFTPConfig `mapstructure:"sftp"`
}

// AuthzSettings points at a Rego module replacing the built-in policy.
type AuthzSettings struct {
	Module string `mapstructure:"module"`
}

// TelemetrySettings holds the telemetry knobs exposed in the settings file.
type TelemetrySettings struct {
	LogLevel        string `mapstructure:"log_level"`
	LogFormat       string `mapstructure:"log_format"`
	TracingEnabled  bool   `mapstructure:"tracing_enabled"`
	TracingExporter string `mapstructure:"tracing_exporter"`
	TracingEndpoint string `mapstructure:"tracing_endpoint"`
	MetricsEnabled  bool   `mapstructure:"metrics_enabled"`
	MetricsAddress  string `mapstructure:"metrics_address"`
}

// Settings are the process settings of a manager.
type Settings struct {
	Database   DatabaseSettings `mapstructure:"database"`
	RunDir     string           `mapstructure:"run_dir"`
	BundleDir  string           `mapstructure:"bundle_dir"`
	ArchiveDir string           `mapstructure:"archive_dir"`
	// AdminPassword creates the built-in admin on first start when set.
	AdminPassword string `mapstructure:"admin_password"`
	Version       string `mapstructure:"version"`

	Retention        retention.Policy `mapstructure:"retention"`
	RotationInterval time.Duration    `mapstructure:"rotation_interval"`
	CollectInterval  time.Duration    `mapstructure:"collect_interval"`
	GeneratorTimeout time.Duration    `mapstructure:"generator_timeout"`

	Audit     AuditSettings       `mapstructure:"audit"`
	Passwords rbac.PasswordPolicy `mapstructure:"passwords"`
	Authz     AuthzSettings       `mapstructure:"authz"`
	Redis     notify.Config       `mapstructure:"redis"`
	S3        retention.S3Config  `mapstructure:"s3"`
	Runner    RunnerSettings      `mapstructure:"runner"`
	Telemetry TelemetrySettings   `mapstructure:"telemetry"`
}

// DefaultSettings returns settings for a single-node installation under
// /var/lib/adcm.
func DefaultSettings() Settings {
	return Settings{
		Database:         DatabaseSettings{Path: "/var/lib/adcm/adcm.db"},
		RunDir:           "/var/lib/adcm/run",
		BundleDir:        "/var/lib/adcm/bundles",
		ArchiveDir:       "/var/lib/adcm/archive",
		Version:          "dev",
		Retention:        retention.Policy{JobsOnFS: 30, JobsInDB: 30, ConfigInDB: 30, AuditDays: 180},
		RotationInterval: time.Hour,
		CollectInterval:  2 * time.Second,
		GeneratorTimeout: 10 * time.Second,
		Passwords:        rbac.DefaultPasswordPolicy(),
		Runner:           RunnerSettings{Parallel: 4},
		Telemetry: TelemetrySettings{
			LogLevel:        "info",
			LogFormat:       "console",
			TracingExporter: "stdout",
			MetricsAddress:  ":9090",
		},
	}
}

// Validate checks the settings.
func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if strings.TrimSpace(s.BundleDir) == "" {
		errs = append(errs, errors.New("bundle_dir is required"))
	}
	if s.Runner.SFTP == nil && strings.TrimSpace(s.RunDir) == "" {
		errs = append(errs, errors.New("run_dir is required without an sftp runner"))
	}
	if s.Runner.SFTP != nil {
		if err := s.Runner.SFTP.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("runner.sftp: %w", err))
		}
	}
	if err := s.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}
	if s.Passwords.MinLength < 1 || (s.Passwords.MaxLength > 0 && s.Passwords.MaxLength < s.Passwords.MinLength) {
		errs = append(errs, errors.New("passwords: invalid length bounds"))
	}
	if s.RotationInterval < 0 || s.CollectInterval < 0 {
		errs = append(errs, errors.New("intervals must not be negative"))
	}
	return errors.Join(errs...)
}

// TelemetryConfig builds the telemetry config for these settings.
func (s Settings) TelemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = s.Version
	t := s.Telemetry
	if t.LogLevel != "" {
		cfg.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		cfg.Logging.Format = t.LogFormat
	}
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Enabled = t.TracingEnabled
	if t.TracingExporter != "" {
		cfg.Tracing.Exporter = t.TracingExporter
	}
	cfg.Tracing.Endpoint = t.TracingEndpoint
	cfg.Metrics.Enabled = t.MetricsEnabled
	if t.MetricsAddress != "" {
		cfg.Metrics.ListenAddress = t.MetricsAddress
	}
	return cfg
}

// LoadSettings reads settings from path, when given, and from ADCM_*
// environment variables over DefaultSettings. Nested keys use underscores in
// the environment, e.g. ADCM_DATABASE_PATH.
func LoadSettings(path string) (Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultSettings())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
	} else {
		v.SetConfigName("adcm")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/adcm")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("failed to read settings: %w", err)
			}
		}
	}

	s := DefaultSettings()
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper, s Settings) {
	defaults := map[string]interface{}{
		"database.path":                    s.Database.Path,
		"database.max_open_conns":          s.Database.MaxOpenConns,
		"run_dir":                          s.RunDir,
		"bundle_dir":                       s.BundleDir,
		"archive_dir":                      s.ArchiveDir,
		"admin_password":                   s.AdminPassword,
		"version":                          s.Version,
		"retention.jobs_on_fs":             s.Retention.JobsOnFS,
		"retention.jobs_in_db":             s.Retention.JobsInDB,
		"retention.config_in_db":           s.Retention.ConfigInDB,
		"retention.audit_retention_period": s.Retention.AuditDays,
		"retention.audit_data_archiving":   s.Retention.AuditArchive,
		"rotation_interval":                s.RotationInterval,
		"collect_interval":                 s.CollectInterval,
		"generator_timeout":                s.GeneratorTimeout,
		"audit.cef":                        s.Audit.CEF,
		"passwords.min_password_length":    s.Passwords.MinLength,
		"passwords.max_password_length":    s.Passwords.MaxLength,
		"passwords.login_attempt_limit":    s.Passwords.LoginAttemptLimit,
		"passwords.block_time":             s.Passwords.BlockTime,
		"authz.module":                     s.Authz.Module,
		"redis.addr":                       s.Redis.Addr,
		"redis.password":                   s.Redis.Password,
		"redis.db":                         s.Redis.DB,
		"redis.channel":                    s.Redis.Channel,
		"s3.endpoint":                      s.S3.Endpoint,
		"s3.access_key":                    s.S3.AccessKey,
		"s3.secret_key":                    s.S3.SecretKey,
		"s3.bucket":                        s.S3.Bucket,
		"s3.prefix":                        s.S3.Prefix,
		"s3.use_ssl":                       s.S3.UseSSL,
		"runner.parallel":                  s.Runner.Parallel,
		"telemetry.log_level":              s.Telemetry.LogLevel,
		"telemetry.log_format":             s.Telemetry.LogFormat,
		"telemetry.tracing_enabled":        s.Telemetry.TracingEnabled,
		"telemetry.tracing_exporter":       s.Telemetry.TracingExporter,
		"telemetry.tracing_endpoint":       s.Telemetry.TracingEndpoint,
		"telemetry.metrics_enabled":        s.Telemetry.MetricsEnabled,
		"telemetry.metrics_address":        s.Telemetry.MetricsAddress,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
