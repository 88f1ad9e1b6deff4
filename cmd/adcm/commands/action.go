package commands

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/openadcm/adcm/pkg/actions"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/spf13/cobra"
)

// payloadFlags binds the flags describing the input of an action run.
func payloadFlags(cmd *cobra.Command) func() (actions.Payload, error) {
	var (
		file       string
		pairs      []string
		jobVerbose bool
	)
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON file with the action config")
	cmd.Flags().StringSliceVarP(&pairs, "entry", "e", nil, "host-id:component-id pair of the new mapping")
	cmd.Flags().BoolVar(&jobVerbose, "job-verbose", false, "run the jobs in verbose mode")
	return func() (actions.Payload, error) {
		p := actions.Payload{Verbose: jobVerbose}
		if file != "" {
			tree, err := readTree(file)
			if err != nil {
				return p, err
			}
			p.Config = tree
		}
		if len(pairs) > 0 {
			entries, err := parseEntries(pairs)
			if err != nil {
				return p, err
			}
			p.HostComponentMap = entries
		}
		return p, nil
	}
}

func printTasks(tasks []*model.TaskLog) error {
	rows := make([]table.Row, 0, len(tasks))
	for _, t := range tasks {
		finish := ""
		if !t.FinishDate.IsZero() {
			finish = t.FinishDate.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, table.Row{t.ID, t.ActionID, t.Object, t.Status, t.StartDate.Format("2006-01-02 15:04:05"), finish})
	}
	return printTable(tasks, table.Row{"ID", "Action", "Object", "Status", "Started", "Finished"}, rows)
}

func newActionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "List and run actions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <type/id>",
		Short: "List the actions available on an object now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				ref, err := resolveRef(ctx, s, args[0])
				if err != nil {
					return err
				}
				list, err := s.m.Actions(ctx, ref)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(list))
				for _, a := range list {
					rows = append(rows, table.Row{a.ID, a.Name, a.DisplayName, a.Type, a.HostAction})
				}
				return printTable(list, table.Row{"ID", "Name", "Display Name", "Type", "Host Action"}, rows)
			})
		},
	})

	var hostGroup int64
	run := &cobra.Command{
		Use:   "run <type/id> <action-id>",
		Short: "Launch an action on an object",
		Example: `  # Run action 12 on cluster 1 with a config file
  adcm action run cluster/1 12 -f install.yaml

  # Run an action that changes the mapping
  adcm action run cluster/1 14 -e 1:7 -e 2:7`,
		Args: cobra.ExactArgs(2),
	}
	run.Flags().Int64Var(&hostGroup, "host-group", 0, "run on an action host group of the object")
	payload := payloadFlags(run)
	run.RunE = func(cmd *cobra.Command, args []string) error {
		actionID, err := parseID(args[1])
		if err != nil {
			return err
		}
		p, err := payload()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			ref, err := resolveRef(ctx, s, args[0])
			if err != nil {
				return err
			}
			task, err := s.m.RunAction(ctx, s.p, actions.Request{
				ActionID:    actionID,
				Target:      ref,
				HostGroupID: hostGroup,
				Payload:     p,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(task)
			}
			fmt.Printf("Launched task %d (%s)\n", task.ID, task.Status)
			return nil
		})
	}
	cmd.AddCommand(run)
	cmd.AddCommand(newHostGroupCommand())
	return cmd
}

func newTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and control tasks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <type/id>",
		Short: "List the tasks of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				ref, err := resolveRef(ctx, s, args[0])
				if err != nil {
					return err
				}
				tasks, err := s.m.Tasks(ctx, ref)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				task, err := s.m.Task(ctx, id)
				if err != nil {
					return err
				}
				jobs, err := s.m.Jobs(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]any{"task": task, "jobs": jobs})
				}
				fmt.Printf("Task %d on %s: %s\n", task.ID, task.Object, task.Status)
				rows := make([]table.Row, 0, len(jobs))
				for _, j := range jobs {
					rows = append(rows, table.Row{j.ID, j.Order, j.Name, j.Status, j.Script})
				}
				return printTable(jobs, table.Row{"Job", "Order", "Name", "Status", "Script"}, rows)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logs <job-id> [log-id]",
		Short: "List the logs of a job or print one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if len(ids) == 2 {
					l, err := s.m.Log(ctx, ids[0], ids[1])
					if err != nil {
						return err
					}
					if jsonOutput {
						return printJSON(l)
					}
					fmt.Println(l.Body)
					return nil
				}
				logs, err := s.m.Logs(ctx, ids[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(logs))
				for _, l := range logs {
					rows = append(rows, table.Row{l.ID, l.Name, l.Type, l.Format, len(l.Body)})
				}
				return printTable(logs, table.Row{"ID", "Name", "Type", "Format", "Size"}, rows)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "terminate <task-id>",
		Short: "Ask the runner to stop a running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.m.TerminateTask(ctx, s.p, id)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a finished task with its jobs and logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.m.DeleteTask(ctx, s.p, id)
			})
		},
	})
	return cmd
}

func newHostGroupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host-group",
		Short: "Manage action host groups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <type/id>",
		Short: "List the action host groups of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := refArg(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				groups, err := s.m.HostGroups(ctx, ref)
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
		Short: "Create an action host group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := refArg(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				g, err := s.m.CreateHostGroup(ctx, s.p, ref, args[1], desc)
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
		Use:   "candidates <type/id>",
		Short: "List hosts that can join the action host groups of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := refArg(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				ids, err := s.m.HostGroupCandidates(ctx, ref)
				if err != nil {
					return err
				}
				return printHostIDs(ids)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <group-id>",
		Short: "Delete an action host group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.m.DeleteHostGroup(ctx, s.p, id)
			})
		},
	})

	cmd.AddCommand(groupHostCommand("add-host", "Add a host to an action host group", func(ctx context.Context, s *session, g, h int64) error {
		return s.m.AddHostGroupHost(ctx, s.p, g, h)
	}))
	cmd.AddCommand(groupHostCommand("remove-host", "Remove a host from an action host group", func(ctx context.Context, s *session, g, h int64) error {
		return s.m.RemoveHostGroupHost(ctx, s.p, g, h)
	}))
	return cmd
}

func newUpgradeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "List and apply upgrades of clusters and providers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <type/id>",
		Short: "List the upgrades available to a cluster or provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := refArg(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				opts, err := s.m.Upgrades(ctx, ref)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(opts))
				for _, o := range opts {
					rows = append(rows, table.Row{o.BundleID, o.Upgrade.Name, o.Version, o.Edition, o.Upgrade.ActionName})
				}
				return printTable(opts, table.Row{"Bundle", "Upgrade", "Version", "Edition", "Action"}, rows)
			})
		},
	})

	apply := &cobra.Command{
		Use:   "apply <type/id> <bundle-id> <upgrade-name>",
		Short: "Upgrade an object to another bundle",
		Example: `  adcm upgrade apply cluster/1 5 to_2.0`,
		Args:  cobra.ExactArgs(3),
	}
	payload := payloadFlags(apply)
	apply.RunE = func(cmd *cobra.Command, args []string) error {
		ref, err := refArg(args)
		if err != nil {
			return err
		}
		bundleID, err := parseID(args[1])
		if err != nil {
			return err
		}
		p, err := payload()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			task, err := s.m.Upgrade(ctx, s.p, ref, bundleID, args[2], p)
			if err != nil {
				return err
			}
			if task != nil {
				printDone("Launched upgrade task %d", task.ID)
				return nil
			}
			printDone("Upgraded %s to bundle %d", ref, bundleID)
			return nil
		})
	}
	cmd.AddCommand(apply)
	return cmd
}
