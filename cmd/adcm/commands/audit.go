package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/openadcm/adcm/pkg/audit"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/spf13/cobra"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
	}
	cmd.AddCommand(newAuditOperationsCommand())
	cmd.AddCommand(newAuditLoginsCommand())
	return cmd
}

func newAuditOperationsCommand() *cobra.Command {
	var (
		f          audit.OperationFilter
		since      time.Duration
		opType     string
		result     string
		objectType string
	)
	cmd := &cobra.Command{
		Use:   "operations",
		Short: "List audited operations, newest first",
		Example: `  # Failed operations on clusters during the last day
  adcm audit operations --since 24h --result fail --object-type cluster`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				f.From = time.Now().Add(-since)
			}
			f.Type = model.OperationType(opType)
			f.Result = model.OperationResult(result)
			f.ObjectType = model.ObjectType(objectType)
			return withSession(cmd, func(ctx context.Context, s *session) error {
				ops, err := s.m.Operations(ctx, s.p, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(ops))
				for _, o := range ops {
					object := ""
					if o.Object != nil {
						object = fmt.Sprintf("%s %s", o.Object.ObjectType, o.Object.ObjectName)
						if o.Object.IsDeleted {
							object += " (deleted)"
						}
					}
					rows = append(rows, table.Row{o.ID, o.Time.Format("2006-01-02 15:04:05"), o.Name, o.Type, o.Result, object, o.UserID})
				}
				return printTable(ops, table.Row{"ID", "Time", "Operation", "Type", "Result", "Object", "User"}, rows)
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only operations newer than this")
	cmd.Flags().StringVar(&opType, "type", "", "create, update or delete")
	cmd.Flags().StringVar(&result, "result", "", "success, fail or denied")
	cmd.Flags().StringVar(&objectType, "object-type", "", "object type")
	cmd.Flags().StringVar(&f.ObjectName, "object-name", "", "object name substring")
	cmd.Flags().StringVar(&f.Username, "username", "", "operations of this user")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum number of rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	return cmd
}

func newAuditLoginsCommand() *cobra.Command {
	var (
		f      audit.LoginFilter
		since  time.Duration
		result string
	)
	cmd := &cobra.Command{
		Use:   "logins",
		Short: "List login attempts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				f.From = time.Now().Add(-since)
			}
			f.Result = model.LoginResult(result)
			return withSession(cmd, func(ctx context.Context, s *session) error {
				logins, err := s.m.Logins(ctx, s.p, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(logins))
				for _, l := range logins {
					rows = append(rows, table.Row{l.ID, l.Time.Format("2006-01-02 15:04:05"), l.Result, l.UserID, l.Details["username"]})
				}
				return printTable(logins, table.Row{"ID", "Time", "Result", "User", "Username"}, rows)
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only attempts newer than this")
	cmd.Flags().StringVar(&result, "result", "", "success, user_not_found, wrong_password or account_disabled")
	cmd.Flags().StringVar(&f.Username, "username", "", "attempts for this username")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum number of rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	return cmd
}
