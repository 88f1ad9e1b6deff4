package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/openadcm/adcm/pkg/manager"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	username   string
	password   string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "adcm",
		Short: "ADCM - cluster configuration and lifecycle manager",
		Long: `adcm manages clusters, services, components, providers and hosts described
by bundles.

Features:
  - Bundle upload, load and license acceptance
  - Versioned configs with config groups and imports
  - Host-component mapping with constraint checks
  - Actions, tasks and upgrades with object locking
  - Role based access control and audit`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", os.Getenv("ADCM_USER"), "run as this user instead of the system principal")
	rootCmd.PersistentFlags().StringVar(&password, "password", os.Getenv("ADCM_PASSWORD"), "password of --user")

	rootCmd.AddCommand(newBundleCommand())
	rootCmd.AddCommand(newClusterCommand())
	rootCmd.AddCommand(newServiceCommand())
	rootCmd.AddCommand(newProviderCommand())
	rootCmd.AddCommand(newHostCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newGroupConfigCommand())
	rootCmd.AddCommand(newMappingCommand())
	rootCmd.AddCommand(newBindCommand())
	rootCmd.AddCommand(newMaintenanceCommand())
	rootCmd.AddCommand(newActionCommand())
	rootCmd.AddCommand(newTaskCommand())
	rootCmd.AddCommand(newUpgradeCommand())
	rootCmd.AddCommand(newUserCommand())
	rootCmd.AddCommand(newGroupCommand())
	rootCmd.AddCommand(newRoleCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newAuditCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

// session is an open manager and the principal commands run as.
type session struct {
	m *manager.Manager
	p model.Principal
}

func openManager(ctx context.Context) (*manager.Manager, error) {
	settings, err := manager.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.Telemetry.LogLevel = "debug"
	}
	return manager.New(ctx, settings, manager.Options{})
}

// withSession opens a manager, authenticates --user when given and runs fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to close manager")
		}
	}()

	s := &session{m: m, p: model.System}
	if username != "" {
		if s.p, err = m.Authenticate(ctx, username, password); err != nil {
			return err
		}
	}
	return fn(ctx, s)
}

// parseRef reads an object reference written as type/id, e.g. cluster/3.
func parseRef(s string) (model.Ref, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok {
		return model.Ref{}, model.InvalidInput(model.ErrCodeInvalidInput, "object %q must be written as type/id", s)
	}
	ref := model.NewRef(model.ObjectType(kind), 0)
	if err := ref.Type.Validate(); err != nil {
		return model.Ref{}, model.InvalidInput(model.ErrCodeInvalidInput, "%v", err)
	}
	n, err := parseID(id)
	if err != nil {
		return model.Ref{}, err
	}
	ref.ID = n
	return ref, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.InvalidInput(model.ErrCodeInvalidInput, "invalid id %q", s)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
