package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/pandock/internal/binary"
)

func newPathCommand(ctx *commandContext) *cobra.Command {
	var saved bool

	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the pandoc binary pandock uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service(cmd)
			if err != nil {
				return err
			}
			if saved {
				path, ok := svc.GetBinaryPath()
				if !ok {
					return errors.New("no pandoc path saved")
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			}
			loc, err := svc.ResolveBinary(cmd.Context())
			if errors.Is(err, binary.ErrNotAvailable) {
				return fmt.Errorf("%w; run `pandock install` or `pandock path set <binary>`", err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), loc.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&saved, "saved", false, "Print the saved path without verifying it")
	cmd.AddCommand(newPathSetCommand(ctx))
	return cmd
}

func newPathSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <binary>",
		Short: "Verify a pandoc binary and use it from now on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service(cmd)
			if err != nil {
				return err
			}
			loc, err := svc.UseBinaryPath(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Using %s\n", loc.Path)
			return nil
		},
	}
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check <binary>",
		Short: "Check whether a file is a working pandoc",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service(cmd)
			if err != nil {
				return err
			}
			verdict := svc.CheckBinary(cmd.Context(), args[0])
			out := cmd.OutOrStdout()
			if !verdict.OK {
				errorColor.Fprint(out, "✗ ")
				fmt.Fprintf(out, "%s: %s\n", args[0], verdict.Detail)
				return fmt.Errorf("%s is not a usable pandoc", args[0])
			}
			successColor.Fprint(out, "✓ ")
			fmt.Fprintf(out, "%s: pandoc %s\n", args[0], verdict.Version)
			return nil
		},
	}
}
