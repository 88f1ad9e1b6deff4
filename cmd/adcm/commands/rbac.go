package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/spf13/cobra"
)

// idCommand builds a command acting on one id.
func idCommand(use, short string, fn func(ctx context.Context, s *session, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return fn(ctx, s, id)
			})
		},
	}
}

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var (
		first, last, email, pw string
		superuser              bool
		groups                 []int64
	)
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a local user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := rbac.UserInput{
				Username:    args[0],
				FirstName:   &first,
				LastName:    &last,
				Email:       &email,
				Password:    &pw,
				IsSuperuser: &superuser,
				GroupIDs:    groups,
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				u, err := s.m.CreateUser(ctx, s.p, in)
				if err != nil {
					return err
				}
				printDone("Created user %s (%d)", u.Username, u.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&first, "first-name", "", "first name")
	create.Flags().StringVar(&last, "last-name", "", "last name")
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&pw, "new-password", "", "password of the new user")
	create.Flags().BoolVar(&superuser, "superuser", false, "grant superuser rights")
	create.Flags().Int64SliceVar(&groups, "group", nil, "group id")
	_ = create.MarkFlagRequired("new-password")
	cmd.AddCommand(create)

	update := &cobra.Command{
		Use:   "update <user-id>",
		Short: "Change the profile or groups of a user",
		Args:  cobra.ExactArgs(1),
	}
	var uFirst, uLast, uEmail string
	var uGroups []int64
	update.Flags().StringVar(&uFirst, "first-name", "", "first name")
	update.Flags().StringVar(&uLast, "last-name", "", "last name")
	update.Flags().StringVar(&uEmail, "email", "", "email address")
	update.Flags().Int64SliceVar(&uGroups, "group", nil, "group id; replaces the groups of the user")
	update.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var in rbac.UserInput
		if cmd.Flags().Changed("first-name") {
			in.FirstName = &uFirst
		}
		if cmd.Flags().Changed("last-name") {
			in.LastName = &uLast
		}
		if cmd.Flags().Changed("email") {
			in.Email = &uEmail
		}
		if cmd.Flags().Changed("group") {
			in.GroupIDs = append([]int64{}, uGroups...)
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			u, err := s.m.UpdateUser(ctx, s.p, id, in)
			if err != nil {
				return err
			}
			return printObject(u)
		})
	}
	cmd.AddCommand(update)

	var current, next string
	passwd := &cobra.Command{
		Use:   "password <user-id>",
		Short: "Change the password of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.m.ChangePassword(ctx, s.p, id, current, next)
			})
		},
	}
	passwd.Flags().StringVar(&current, "current", "", "current password, required when changing your own")
	passwd.Flags().StringVar(&next, "new-password", "", "new password")
	_ = passwd.MarkFlagRequired("new-password")
	cmd.AddCommand(passwd)

	cmd.AddCommand(idCommand("block", "Block a user", func(ctx context.Context, s *session, id int64) error {
		return s.m.BlockUser(ctx, s.p, id)
	}))
	cmd.AddCommand(idCommand("unblock", "Unblock a user", func(ctx context.Context, s *session, id int64) error {
		return s.m.UnblockUser(ctx, s.p, id)
	}))
	cmd.AddCommand(idCommand("delete", "Delete a user", func(ctx context.Context, s *session, id int64) error {
		return s.m.DeleteUser(ctx, s.p, id)
	}))

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				users, err := s.m.Users(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(users))
				for _, u := range users {
					rows = append(rows, table.Row{u.ID, u.Username, u.Email, u.Type, u.IsSuperuser, u.IsActive, u.BuiltIn})
				}
				// Password hashes never leave the command line in JSON either.
				for _, u := range users {
					u.PasswordHash = ""
				}
				return printTable(users, table.Row{"ID", "Username", "Email", "Type", "Superuser", "Active", "Built-in"}, rows)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "login",
		Short: "Check the credentials given with --user and --password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return model.InvalidInput(model.ErrCodeInvalidInput, "--user is required")
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if jsonOutput {
					return printJSON(s.p)
				}
				fmt.Printf("Logged in as %s (%d)\n", s.p.Username, s.p.UserID)
				return nil
			})
		},
	})
	return cmd
}

func newGroupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage user groups",
	}

	var (
		desc  string
		users []int64
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := rbac.GroupInput{Name: args[0], Description: &desc, UserIDs: users}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				g, err := s.m.CreateGroup(ctx, s.p, in)
				if err != nil {
					return err
				}
				return printObject(g)
			})
		},
	}
	create.Flags().StringVar(&desc, "description", "", "group description")
	create.Flags().Int64SliceVar(&users, "user", nil, "member user id")
	cmd.AddCommand(create)

	update := &cobra.Command{
		Use:   "update <group-id>",
		Short: "Rename a group or replace its members",
		Args:  cobra.ExactArgs(1),
	}
	var uName, uDesc string
	var uUsers []int64
	update.Flags().StringVar(&uName, "name", "", "new name")
	update.Flags().StringVar(&uDesc, "description", "", "new description")
	update.Flags().Int64SliceVar(&uUsers, "user", nil, "member user id; replaces the members")
	update.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		in := rbac.GroupInput{Name: uName}
		if cmd.Flags().Changed("description") {
			in.Description = &uDesc
		}
		if cmd.Flags().Changed("user") {
			in.UserIDs = append([]int64{}, uUsers...)
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			g, err := s.m.UpdateGroup(ctx, s.p, id, in)
			if err != nil {
				return err
			}
			return printObject(g)
		})
	}
	cmd.AddCommand(update)

	cmd.AddCommand(idCommand("delete", "Delete a group", func(ctx context.Context, s *session, id int64) error {
		return s.m.DeleteGroup(ctx, s.p, id)
	}))

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				groups, err := s.m.Groups(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(groups))
				for _, g := range groups {
					rows = append(rows, table.Row{g.ID, g.DisplayName, g.Type, g.BuiltIn, g.Description})
				}
				return printTable(groups, table.Row{"ID", "Name", "Type", "Built-in", "Description"}, rows)
			})
		},
	})

	cmd.AddCommand(idCommand("members", "List the members of a group", func(ctx context.Context, s *session, id int64) error {
		users, err := s.m.GroupMembers(ctx, id)
		if err != nil {
			return err
		}
		rows := make([]table.Row, 0, len(users))
		for _, u := range users {
			u.PasswordHash = ""
			rows = append(rows, table.Row{u.ID, u.Username, u.IsActive})
		}
		return printTable(users, table.Row{"ID", "Username", "Active"}, rows)
	}))
	return cmd
}

func newRoleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage roles",
	}

	var (
		display, desc string
		children      []int64
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a business role combining existing roles",
		Example: `  adcm role create "Cluster operator" --child 12 --child 15`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := rbac.RoleInput{Name: args[0], DisplayName: display, Description: desc, ChildIDs: children}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				r, err := s.m.CreateRole(ctx, s.p, in)
				if err != nil {
					return err
				}
				return printObject(r)
			})
		},
	}
	create.Flags().StringVar(&display, "display-name", "", "display name, the name by default")
	create.Flags().StringVar(&desc, "description", "", "role description")
	create.Flags().Int64SliceVar(&children, "child", nil, "child role id")
	cmd.AddCommand(create)

	update := &cobra.Command{
		Use:   "update <role-id>",
		Short: "Replace the children of a custom role",
		Args:  cobra.ExactArgs(1),
	}
	var uDisplay, uDesc string
	var uChildren []int64
	update.Flags().StringVar(&uDisplay, "display-name", "", "new display name")
	update.Flags().StringVar(&uDesc, "description", "", "new description")
	update.Flags().Int64SliceVar(&uChildren, "child", nil, "child role id")
	update.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		in := rbac.RoleInput{DisplayName: uDisplay, Description: uDesc, ChildIDs: uChildren}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			r, err := s.m.UpdateRole(ctx, s.p, id, in)
			if err != nil {
				return err
			}
			return printObject(r)
		})
	}
	cmd.AddCommand(update)

	cmd.AddCommand(idCommand("delete", "Delete a custom role", func(ctx context.Context, s *session, id int64) error {
		return s.m.DeleteRole(ctx, s.p, id)
	}))

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				roles, err := s.m.Roles(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(roles))
				for _, r := range roles {
					rows = append(rows, table.Row{r.ID, r.DisplayName, r.Type, r.BuiltIn, strings.Join(r.Categories, ",")})
				}
				return printTable(roles, table.Row{"ID", "Name", "Type", "Built-in", "Categories"}, rows)
			})
		},
	})

	cmd.AddCommand(idCommand("permissions", "List the permissions a role grants", func(ctx context.Context, s *session, id int64) error {
		perms, err := s.m.RolePermissions(ctx, id)
		if err != nil {
			return err
		}
		rows := make([]table.Row, 0, len(perms))
		for _, p := range perms {
			rows = append(rows, table.Row{p})
		}
		return printTable(perms, table.Row{"Permission"}, rows)
	}))
	return cmd
}

// policyFlags binds the flags describing a policy.
func policyFlags(cmd *cobra.Command) func() (rbac.PolicyInput, error) {
	var (
		in      rbac.PolicyInput
		objects []string
	)
	cmd.Flags().StringVar(&in.Description, "description", "", "policy description")
	cmd.Flags().Int64Var(&in.RoleID, "role", 0, "role id")
	cmd.Flags().Int64SliceVar(&in.UserIDs, "user", nil, "user id")
	cmd.Flags().Int64SliceVar(&in.GroupIDs, "group", nil, "group id")
	cmd.Flags().StringSliceVar(&objects, "object", nil, "object the role applies to, as type/id")
	return func() (rbac.PolicyInput, error) {
		for _, o := range objects {
			ref, err := parseRef(o)
			if err != nil {
				return in, err
			}
			in.Objects = append(in.Objects, ref)
		}
		return in, nil
	}
}

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage policies granting roles to users and groups",
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a policy",
		Example: `  adcm policy create analytics-operators --role 31 --group 2 --object cluster/1`,
		Args:  cobra.ExactArgs(1),
	}
	build := policyFlags(create)
	_ = create.MarkFlagRequired("role")
	create.RunE = func(cmd *cobra.Command, args []string) error {
		in, err := build()
		if err != nil {
			return err
		}
		in.Name = args[0]
		return withSession(cmd, func(ctx context.Context, s *session) error {
			p, err := s.m.CreatePolicy(ctx, s.p, in)
			if err != nil {
				return err
			}
			return printObject(p)
		})
	}
	cmd.AddCommand(create)

	update := &cobra.Command{
		Use:   "update <policy-id>",
		Short: "Replace the subjects and objects of a policy",
		Args:  cobra.ExactArgs(1),
	}
	buildUpdate := policyFlags(update)
	var newName string
	update.Flags().StringVar(&newName, "name", "", "new name")
	update.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		in, err := buildUpdate()
		if err != nil {
			return err
		}
		in.Name = newName
		return withSession(cmd, func(ctx context.Context, s *session) error {
			p, err := s.m.UpdatePolicy(ctx, s.p, id, in)
			if err != nil {
				return err
			}
			return printObject(p)
		})
	}
	cmd.AddCommand(update)

	cmd.AddCommand(idCommand("delete", "Delete a policy", func(ctx context.Context, s *session, id int64) error {
		return s.m.DeletePolicy(ctx, s.p, id)
	}))

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				policies, err := s.m.Policies(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(policies))
				for _, p := range policies {
					rows = append(rows, table.Row{p.ID, p.Name, p.RoleID, len(p.UserIDs), len(p.GroupIDs), len(p.Objects), p.BuiltIn})
				}
				return printTable(policies, table.Row{"ID", "Name", "Role", "Users", "Groups", "Objects", "Built-in"}, rows)
			})
		},
	})
	return cmd
}
