package commands

import (
	"context"
	"errors"
	"time"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWatchCommand() *cobra.Command {
	var noBundles bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the background loops of the manager",
		Long: `Run the background loops of the manager until interrupted:
  - collect job results and events published by runners
  - rotate old tasks, configs and audit records
  - load bundles written to the bundle directory
  - serve metrics when enabled`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				settings := s.m.Settings()
				if err := s.m.Telemetry().StartMetricsServer(); err != nil {
					return err
				}

				g, ctx := errgroup.WithContext(ctx)
				if c := s.m.Collector(); c != nil {
					g.Go(func() error { return c.Run(ctx, settings.CollectInterval) })
				}
				if settings.RotationInterval > 0 {
					g.Go(func() error { return rotateEvery(ctx, s, settings.RotationInterval) })
				}
				if !noBundles {
					w := definition.NewWatcher(log.Logger, 0)
					err := w.Watch(ctx, settings.BundleDir, func(path string) {
						b, err := s.m.LoadBundle(ctx, model.System, path)
						if err != nil {
							log.Warn().Err(err).Str("path", path).Msg("Bundle not loaded")
							return
						}
						log.Info().Str("bundle", b.Name).Str("version", b.Version).Msg("Bundle loaded")
					})
					if err != nil {
						return err
					}
				}

				log.Info().Str("bundle_dir", settings.BundleDir).Msg("Watching")
				g.Go(func() error {
					<-ctx.Done()
					return ctx.Err()
				})
				if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noBundles, "no-bundles", false, "do not load bundles written to the bundle directory")
	cmd.AddCommand(newRotateCommand())
	return cmd
}

func rotateEvery(ctx context.Context, s *session, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if rep, err := s.m.Rotate(ctx); err != nil {
				log.Error().Err(err).Msg("Rotation failed")
			} else {
				log.Info().Int("tasks", rep.Tasks).Int("configs", rep.Configs).Int("operations", rep.Operations).Msg("Rotation finished")
			}
		}
	}
}

func newRotateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Run one retention pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				rep, err := s.m.Rotate(ctx)
				if err != nil {
					return err
				}
				return printObject(rep)
			})
		},
	}
}
