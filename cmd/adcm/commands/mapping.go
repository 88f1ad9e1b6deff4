package commands

import (
	"context"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/openadcm/adcm/pkg/manager"
	"github.com/openadcm/adcm/pkg/mapping"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/spf13/cobra"
)

// parseEntries reads host:component pairs.
func parseEntries(pairs []string) ([]mapping.Entry, error) {
	entries := make([]mapping.Entry, 0, len(pairs))
	for _, pair := range pairs {
		host, comp, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, model.InvalidInput(model.ErrCodeInvalidInput, "mapping entry %q must be written as host-id:component-id", pair)
		}
		ids, err := parseIDs([]string{host, comp})
		if err != nil {
			return nil, err
		}
		entries = append(entries, mapping.Entry{HostID: ids[0], ComponentID: ids[1]})
	}
	return entries, nil
}

func printHC(entries []model.HCEntry) error {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, table.Row{e.HostID, e.ServiceID, e.ComponentID})
	}
	return printTable(entries, table.Row{"Host", "Service", "Component"}, rows)
}

func newMappingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Show and replace the host-component mapping of a cluster",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <cluster-id>",
		Short: "Show the mapping of a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				entries, err := s.m.Mapping(ctx, id)
				if err != nil {
					return err
				}
				return printHC(entries)
			})
		},
	})

	var pairs []string
	set := &cobra.Command{
		Use:   "set <cluster-id>",
		Short: "Replace the whole mapping of a cluster",
		Example: `  # Place component 7 on hosts 1 and 2, component 8 on host 1
  adcm mapping set 1 -e 1:7 -e 2:7 -e 1:8

  # Clear the mapping
  adcm mapping set 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			entries, err := parseEntries(pairs)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				diff, err := s.m.SetMapping(ctx, s.p, id, entries)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(diff)
				}
				printDone("Mapping saved: %d added, %d removed", len(diff.Added), len(diff.Removed))
				return nil
			})
		},
	}
	set.Flags().StringSliceVarP(&pairs, "entry", "e", nil, "host-id:component-id pair")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "hosts <component-id>",
		Short: "List the hosts a component is placed on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				hosts, err := s.m.HostsOfComponent(ctx, id)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(hosts))
				for _, h := range hosts {
					rows = append(rows, table.Row{h.ID, h.FQDN, h.MaintenanceMode})
				}
				return printTable(hosts, table.Row{"ID", "FQDN", "Maintenance"}, rows)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "components <host-id>",
		Short: "List the components placed on a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				comps, err := s.m.ComponentsOfHost(ctx, id)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(comps))
				for _, c := range comps {
					rows = append(rows, table.Row{c.ID, c.ServiceID, c.Name, c.Title})
				}
				return printTable(comps, table.Row{"ID", "Service", "Name", "Display Name"}, rows)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "requires <component-id>",
		Short: "Show the services and components a component requires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				req, err := s.m.ComponentRequires(ctx, id)
				if err != nil {
					return err
				}
				return printObject(req)
			})
		},
	})
	return cmd
}

func newBindCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Manage imports between clusters and services",
	}

	var in manager.BindInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Bind an importing cluster or service to an exporting one",
		Example: `  # Service 4 of cluster 1 imports from service 9 of cluster 2
  adcm bind create --cluster 1 --service 4 --source-cluster 2 --source-service 9`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				b, err := s.m.Bind(ctx, s.p, in)
				if err != nil {
					return err
				}
				return printObject(b)
			})
		},
	}
	create.Flags().Int64Var(&in.ClusterID, "cluster", 0, "importing cluster")
	create.Flags().Int64Var(&in.ServiceID, "service", 0, "importing service of the cluster")
	create.Flags().Int64Var(&in.SourceClusterID, "source-cluster", 0, "exporting cluster")
	create.Flags().Int64Var(&in.SourceServiceID, "source-service", 0, "exporting service of the source cluster")
	_ = create.MarkFlagRequired("cluster")
	_ = create.MarkFlagRequired("source-cluster")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list <type/id>",
		Short: "List the binds of an importing cluster or service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := refArg(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				binds, err := s.m.Binds(ctx, ref)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(binds))
				for _, b := range binds {
					rows = append(rows, table.Row{b.ID, b.ClusterID, b.ServiceID, b.SourceClusterID, b.SourceServiceID})
				}
				return printTable(binds, table.Row{"ID", "Cluster", "Service", "Source Cluster", "Source Service"}, rows)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "candidates <type/id>",
		Short: "List the imports of an object with the objects that can serve them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := refArg(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				cands, err := s.m.ImportCandidates(ctx, ref)
				if err != nil {
					return err
				}
				return printObject(cands)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "exports <type/id>",
		Short: "Show the exported config an object receives through its binds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := refArg(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				exports, err := s.m.Exports(ctx, ref)
				if err != nil {
					return err
				}
				return printObject(exports)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <bind-id>",
		Short: "Remove a bind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.m.Unbind(ctx, s.p, id)
			})
		},
	})
	return cmd
}
