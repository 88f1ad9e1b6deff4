package commands

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/openadcm/adcm/pkg/manager"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/spf13/cobra"
)

func newClusterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Manage clusters",
	}
	cmd.AddCommand(newClusterCreateCommand())
	cmd.AddCommand(newClusterListCommand())
	cmd.AddCommand(newClusterShowCommand())
	cmd.AddCommand(newClusterUpdateCommand())
	cmd.AddCommand(newClusterDeleteCommand())
	cmd.AddCommand(newClusterHostCommand("add-host", "Add a free host of the cluster's providers"))
	cmd.AddCommand(newClusterHostCommand("remove-host", "Remove a host from the cluster"))
	cmd.AddCommand(newConcernsCommand())
	return cmd
}

func newClusterCreateCommand() *cobra.Command {
	var in manager.ObjectInput
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a cluster from a cluster prototype",
		Example: `  adcm cluster create analytics --prototype 4 --description "Analytics stack"`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			return withSession(cmd, func(ctx context.Context, s *session) error {
				c, err := s.m.CreateCluster(ctx, s.p, in)
				if err != nil {
					return err
				}
				return printObject(c)
			})
		},
	}
	cmd.Flags().Int64Var(&in.PrototypeID, "prototype", 0, "cluster prototype id")
	cmd.Flags().StringVar(&in.Description, "description", "", "cluster description")
	_ = cmd.MarkFlagRequired("prototype")
	return cmd
}

func newClusterListCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				clusters, err := s.m.Clusters(ctx, name)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(clusters))
				for _, c := range clusters {
					rows = append(rows, table.Row{c.ID, c.Name, c.PrototypeID, c.State, multiState(&c.Object), len(c.Concerns)})
				}
				return printTable(clusters, table.Row{"ID", "Name", "Prototype", "State", "Multi State", "Concerns"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "filter by name")
	return cmd
}

func newClusterShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <cluster-id>",
		Short: "Show a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				c, err := s.m.Cluster(ctx, id)
				if err != nil {
					return err
				}
				return printObject(c)
			})
		},
	}
}

// objectUpdateFlags binds --name and --description to an update; unset flags
// stay nil.
func objectUpdateFlags(cmd *cobra.Command, nameFlag string) func() manager.ObjectUpdate {
	var name, desc string
	cmd.Flags().StringVar(&name, nameFlag, "", "new "+nameFlag)
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	return func() manager.ObjectUpdate {
		var up manager.ObjectUpdate
		if cmd.Flags().Changed(nameFlag) {
			up.Name = &name
		}
		if cmd.Flags().Changed("description") {
			up.Description = &desc
		}
		return up
	}
}

func newClusterUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <cluster-id>",
		Short: "Rename a cluster or change its description",
		Args:  cobra.ExactArgs(1),
	}
	update := objectUpdateFlags(cmd, "name")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			c, err := s.m.UpdateCluster(ctx, s.p, id, update())
			if err != nil {
				return err
			}
			return printObject(c)
		})
	}
	return cmd
}

func newClusterDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <cluster-id>",
		Short: "Delete a cluster with its services and mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.m.DeleteCluster(ctx, s.p, id); err != nil {
					return err
				}
				printDone("Deleted cluster %d", id)
				return nil
			})
		},
	}
}

func newClusterHostCommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <cluster-id> <host-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if use == "add-host" {
					return s.m.AddHost(ctx, s.p, ids[0], ids[1])
				}
				return s.m.RemoveHost(ctx, s.p, ids[0], ids[1])
			})
		},
	}
}

func newConcernsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "concerns <type/id>",
		Short: "List the concerns of an object",
		Example: `  adcm cluster concerns service/7`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				items, err := s.m.Concerns(ctx, ref)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, c := range items {
					rows = append(rows, table.Row{c.ID, c.Type, c.Cause, c.Blocking, c.Owner, c.Reason.Message})
				}
				return printTable(items, table.Row{"ID", "Type", "Cause", "Blocking", "Owner", "Reason"}, rows)
			})
		},
	}
}

func newServiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the services and components of a cluster",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <cluster-id> <prototype-id>",
		Short: "Add a service to a cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				svc, err := s.m.AddService(ctx, s.p, ids[0], ids[1])
				if err != nil {
					return err
				}
				return printObject(svc)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list <cluster-id>",
		Short: "List the services of a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				services, err := s.m.Services(ctx, id)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(services))
				for _, svc := range services {
					rows = append(rows, table.Row{svc.ID, svc.Name, svc.Title, svc.State, svc.MaintenanceMode, len(svc.Concerns)})
				}
				return printTable(services, table.Row{"ID", "Name", "Display Name", "State", "Maintenance", "Concerns"}, rows)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "components <service-id>",
		Short: "List the components of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				comps, err := s.m.Components(ctx, id)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(comps))
				for _, c := range comps {
					rows = append(rows, table.Row{c.ID, c.Name, c.Title, c.State, c.MaintenanceMode})
				}
				return printTable(comps, table.Row{"ID", "Name", "Display Name", "State", "Maintenance"}, rows)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <service-id>",
		Short: "Remove a service from its cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.m.DeleteService(ctx, s.p, id); err != nil {
					return err
				}
				printDone("Deleted service %d", id)
				return nil
			})
		},
	})
	return cmd
}

// refArg parses the single object argument of a command.
func refArg(args []string) (model.Ref, error) {
	return parseRef(args[0])
}
