package commands

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/openadcm/adcm/pkg/manager"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/spf13/cobra"
)

func newProviderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage host providers",
	}

	var in manager.ObjectInput
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a host provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			return withSession(cmd, func(ctx context.Context, s *session) error {
				p, err := s.m.CreateProvider(ctx, s.p, in)
				if err != nil {
					return err
				}
				return printObject(p)
			})
		},
	}
	create.Flags().Int64Var(&in.PrototypeID, "prototype", 0, "provider prototype id")
	create.Flags().StringVar(&in.Description, "description", "", "provider description")
	_ = create.MarkFlagRequired("prototype")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List host providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				providers, err := s.m.Providers(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(providers))
				for _, p := range providers {
					rows = append(rows, table.Row{p.ID, p.Name, p.PrototypeID, p.State, len(p.Concerns)})
				}
				return printTable(providers, table.Row{"ID", "Name", "Prototype", "State", "Concerns"}, rows)
			})
		},
	})

	update := &cobra.Command{
		Use:   "update <provider-id>",
		Short: "Rename a provider or change its description",
		Args:  cobra.ExactArgs(1),
	}
	up := objectUpdateFlags(update, "name")
	update.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			p, err := s.m.UpdateProvider(ctx, s.p, id, up())
			if err != nil {
				return err
			}
			return printObject(p)
		})
	}
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <provider-id>",
		Short: "Delete a provider without hosts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.m.DeleteProvider(ctx, s.p, id); err != nil {
					return err
				}
				printDone("Deleted provider %d", id)
				return nil
			})
		},
	})
	return cmd
}

func newHostCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Manage hosts",
	}

	var in manager.HostInput
	create := &cobra.Command{
		Use:   "create <fqdn>",
		Short: "Create a host under a provider",
		Example: `  adcm host create node-1.example.com --provider 1 --prototype 2`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.FQDN = args[0]
			return withSession(cmd, func(ctx context.Context, s *session) error {
				h, err := s.m.CreateHost(ctx, s.p, in)
				if err != nil {
					return err
				}
				return printObject(h)
			})
		},
	}
	create.Flags().Int64Var(&in.ProviderID, "provider", 0, "provider id")
	create.Flags().Int64Var(&in.PrototypeID, "prototype", 0, "host prototype id")
	create.Flags().StringVar(&in.Description, "description", "", "host description")
	_ = create.MarkFlagRequired("provider")
	_ = create.MarkFlagRequired("prototype")
	cmd.AddCommand(create)

	var f manager.HostFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				hosts, err := s.m.Hosts(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(hosts))
				for _, h := range hosts {
					rows = append(rows, table.Row{h.ID, h.FQDN, h.ProviderID, h.ClusterID, h.State, h.MaintenanceMode, len(h.Concerns)})
				}
				return printTable(hosts, table.Row{"ID", "FQDN", "Provider", "Cluster", "State", "Maintenance", "Concerns"}, rows)
			})
		},
	}
	list.Flags().Int64Var(&f.ProviderID, "provider", 0, "filter by provider")
	list.Flags().Int64Var(&f.ClusterID, "cluster", 0, "filter by cluster")
	list.Flags().StringVar(&f.FQDN, "fqdn", "", "filter by FQDN substring")
	cmd.AddCommand(list)

	update := &cobra.Command{
		Use:   "update <host-id>",
		Short: "Change the FQDN or description of a host",
		Args:  cobra.ExactArgs(1),
	}
	up := objectUpdateFlags(update, "fqdn")
	update.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			h, err := s.m.UpdateHost(ctx, s.p, id, up())
			if err != nil {
				return err
			}
			return printObject(h)
		})
	}
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <host-id>",
		Short: "Delete a host outside any cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.m.DeleteHost(ctx, s.p, id); err != nil {
					return err
				}
				printDone("Deleted host %d", id)
				return nil
			})
		},
	})
	return cmd
}

func newMaintenanceCommand() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "maintenance <type/id>",
		Short: "Switch maintenance mode of a host, service or component",
		Example: `  # Put a host into maintenance mode
  adcm maintenance host/3

  # Take a service out of maintenance mode
  adcm maintenance service/5 --off`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := refArg(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.m.SetMaintenanceMode(ctx, s.p, ref, !off); err != nil {
					return err
				}
				mode := model.MaintenanceModeOn
				if off {
					mode = model.MaintenanceModeOff
				}
				printDone("Maintenance mode of %s is %s", ref, mode)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "switch maintenance mode off")
	return cmd
}
