package commands

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newBundleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Upload, load and remove bundles",
	}
	cmd.AddCommand(newBundleUploadCommand())
	cmd.AddCommand(newBundleLoadCommand())
	cmd.AddCommand(newBundleListCommand())
	cmd.AddCommand(newBundlePrototypesCommand())
	cmd.AddCommand(newBundleLicenseCommand())
	cmd.AddCommand(newBundleDeleteCommand())
	return cmd
}

func newBundleUploadCommand() *cobra.Command {
	var load bool
	cmd := &cobra.Command{
		Use:   "upload <file-or-dir>",
		Short: "Copy a bundle into the bundle directory",
		Example: `  # Upload and load a bundle in one go
  adcm bundle upload ./hadoop-bundle --load`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				path, err := s.m.UploadBundle(ctx, s.p, args[0])
				if err != nil {
					return err
				}
				if !load {
					printDone("Uploaded to %s", path)
					return nil
				}
				b, err := s.m.LoadBundle(ctx, s.p, path)
				if err != nil {
					return err
				}
				return printObject(b)
			})
		},
	}
	cmd.Flags().BoolVar(&load, "load", false, "load the bundle after upload")
	return cmd
}

func newBundleLoadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load <path>",
		Short: "Load an uploaded bundle; relative paths are resolved in the bundle directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				b, err := s.m.LoadBundle(ctx, s.p, args[0])
				if err != nil {
					return err
				}
				return printObject(b)
			})
		},
	}
}

func newBundleListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				bundles, err := s.m.Bundles(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(bundles))
				for _, b := range bundles {
					rows = append(rows, table.Row{b.ID, b.Name, b.Version, b.Edition, b.License, b.Date.Format("2006-01-02 15:04")})
				}
				return printTable(bundles, table.Row{"ID", "Name", "Version", "Edition", "License", "Loaded"}, rows)
			})
		},
	}
}

func newBundlePrototypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prototypes <bundle-id>",
		Short: "List the prototypes of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				protos, err := s.m.Prototypes(ctx, id)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(protos))
				for _, p := range protos {
					rows = append(rows, table.Row{p.ID, p.Type, p.Name, p.Version, p.DisplayName, p.Constraint.String()})
				}
				return printTable(protos, table.Row{"ID", "Type", "Name", "Version", "Display Name", "Constraint"}, rows)
			})
		},
	}
}

func newBundleLicenseCommand() *cobra.Command {
	var accept bool
	cmd := &cobra.Command{
		Use:   "license <bundle-id>",
		Short: "Show or accept the license of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if accept {
					if err := s.m.AcceptLicense(ctx, s.p, id); err != nil {
						return err
					}
				}
				state, text, err := s.m.License(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]any{"license": state, "text": text})
				}
				fmt.Printf("License: %s\n\n%s\n", state, text)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&accept, "accept", false, "accept the license")
	return cmd
}

func newBundleDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <bundle-id>",
		Short: "Delete a bundle no object uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.m.DeleteBundle(ctx, s.p, id); err != nil {
					return err
				}
				printDone("Deleted bundle %d", id)
				return nil
			})
		},
	}
}
