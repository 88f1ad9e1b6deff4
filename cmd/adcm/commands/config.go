package commands

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/openadcm/adcm/pkg/manager"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/spf13/cobra"
)

// resolveRef parses an object argument; "adcm" names the ADCM object.
func resolveRef(ctx context.Context, s *session, arg string) (model.Ref, error) {
	if arg == string(model.TypeADCM) {
		return s.m.ADCMRef(ctx)
	}
	return parseRef(arg)
}

func printConfigLogs(logs []*model.ConfigLog) error {
	rows := make([]table.Row, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, table.Row{l.ID, l.Date.Format("2006-01-02 15:04:05"), l.Description})
	}
	return printTable(logs, table.Row{"ID", "Date", "Description"}, rows)
}

// configUpdateFlags binds the flags describing a new config.
func configUpdateFlags(cmd *cobra.Command) func() (manager.ConfigUpdate, error) {
	var file, attrFile, desc string
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON file with the config values")
	cmd.Flags().StringVar(&attrFile, "attr", "", "YAML or JSON file with the config attributes")
	cmd.Flags().StringVar(&desc, "description", "", "description of the new config version")
	_ = cmd.MarkFlagRequired("file")
	return func() (manager.ConfigUpdate, error) {
		up := manager.ConfigUpdate{Description: desc}
		var err error
		if up.Config, err = readTree(file); err != nil {
			return up, err
		}
		if attrFile != "" {
			if up.Attr, err = readTree(attrFile); err != nil {
				return up, err
			}
		}
		return up, nil
	}
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and change object configs",
		Long: `Show and change the config of an object written as type/id, e.g. cluster/1.
Use "adcm" for the global settings object.`,
	}

	var history bool
	show := &cobra.Command{
		Use:   "show <type/id>",
		Short: "Show the current config or its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				ref, err := resolveRef(ctx, s, args[0])
				if err != nil {
					return err
				}
				if history {
					logs, err := s.m.ConfigHistory(ctx, ref)
					if err != nil {
						return err
					}
					return printConfigLogs(logs)
				}
				cl, err := s.m.Config(ctx, ref)
				if err != nil {
					return err
				}
				return printObject(cl)
			})
		},
	}
	show.Flags().BoolVar(&history, "history", false, "list config versions")
	cmd.AddCommand(show)

	update := &cobra.Command{
		Use:   "update <type/id>",
		Short: "Save a new config version",
		Example: `  adcm config update cluster/1 -f config.yaml --attr attr.yaml --description "raise heap"`,
		Args:  cobra.ExactArgs(1),
	}
	build := configUpdateFlags(update)
	update.RunE = func(cmd *cobra.Command, args []string) error {
		up, err := build()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			ref, err := resolveRef(ctx, s, args[0])
			if err != nil {
				return err
			}
			cl, err := s.m.UpdateConfig(ctx, s.p, ref, up)
			if err != nil {
				return err
			}
			printDone("Saved config version %d of %s", cl.ID, ref)
			return nil
		})
	}
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <type/id> <version-id>",
		Short: "Make an earlier config version current again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				ref, err := resolveRef(ctx, s, args[0])
				if err != nil {
					return err
				}
				cl, err := s.m.RestoreConfig(ctx, s.p, ref, logID)
				if err != nil {
					return err
				}
				printDone("Restored %s to version %d as %d", ref, logID, cl.ID)
				return nil
			})
		},
	})
	return cmd
}

func newGroupConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group-config",
		Short: "Manage config groups overriding parts of an object config for some hosts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <type/id>",
		Short: "List the config groups of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := refArg(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				groups, err := s.m.GroupConfigs(ctx, ref)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(groups))
				for _, g := range groups {
					rows = append(rows, table.Row{g.ID, g.Name, g.Description, len(g.HostIDs)})
				}
				return printTable(groups, table.Row{"ID", "Name", "Description", "Hosts"}, rows)
			})
		},
	})

	var desc string
	create := &cobra.Command{
		Use:   "create <type/id> <name>",
		Short: "Create a config group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := refArg(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				g, err := s.m.CreateGroupConfig(ctx, s.p, ref, args[1], desc)
				if err != nil {
					return err
				}
				return printObject(g)
			})
		},
	}
	create.Flags().StringVar(&desc, "description", "", "group description")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <group-id>",
		Short: "Delete a config group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.m.DeleteGroupConfig(ctx, s.p, id)
			})
		},
	})

	var history bool
	show := &cobra.Command{
		Use:   "show <group-id>",
		Short: "Show the config of a group or its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if history {
					logs, err := s.m.GroupConfigHistory(ctx, id)
					if err != nil {
						return err
					}
					return printConfigLogs(logs)
				}
				cl, err := s.m.GroupConfig(ctx, id)
				if err != nil {
					return err
				}
				return printObject(cl)
			})
		},
	}
	show.Flags().BoolVar(&history, "history", false, "list config versions")
	cmd.AddCommand(show)

	update := &cobra.Command{
		Use:   "update <group-id>",
		Short: "Save a new group config version; attr group_keys selects overridden fields",
		Args:  cobra.ExactArgs(1),
	}
	build := configUpdateFlags(update)
	update.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		up, err := build()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			cl, err := s.m.UpdateGroupConfig(ctx, s.p, id, up)
			if err != nil {
				return err
			}
			printDone("Saved group config version %d", cl.ID)
			return nil
		})
	}
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <group-id> <version-id>",
		Short: "Make an earlier group config version current again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				_, err := s.m.RestoreGroupConfig(ctx, s.p, ids[0], ids[1])
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "candidates <group-id>",
		Short: "List hosts that can join a config group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				ids, err := s.m.GroupHostCandidates(ctx, id)
				if err != nil {
					return err
				}
				return printHostIDs(ids)
			})
		},
	})

	cmd.AddCommand(groupHostCommand("add-host", "Add a host to a config group", func(ctx context.Context, s *session, g, h int64) error {
		return s.m.AddGroupHost(ctx, s.p, g, h)
	}))
	cmd.AddCommand(groupHostCommand("remove-host", "Remove a host from a config group", func(ctx context.Context, s *session, g, h int64) error {
		return s.m.RemoveGroupHost(ctx, s.p, g, h)
	}))
	return cmd
}

// groupHostCommand builds a command taking a group id and a host id.
func groupHostCommand(use, short string, fn func(ctx context.Context, s *session, groupID, hostID int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <group-id> <host-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return fn(ctx, s, ids[0], ids[1])
			})
		},
	}
}

func printHostIDs(ids []int64) error {
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, table.Row{id})
	}
	return printTable(ids, table.Row{"Host ID"}, rows)
}
