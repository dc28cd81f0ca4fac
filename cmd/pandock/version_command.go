package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show pandock and pandoc versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pandock %s\n", Version)

			svc, err := ctx.service(cmd)
			if err != nil {
				return err
			}
			obs := ctx.observe(cmd, svc)
			version, err := svc.ConverterVersion(cmd.Context())
			ctx.finish(obs)
			if err != nil {
				fmt.Fprintln(out, "pandoc: not available")
				return nil
			}
			fmt.Fprintln(out, version)
			return nil
		},
	}
}
