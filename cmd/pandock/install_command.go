package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/pandock/internal/binary"
)

func newInstallCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Download and install pandoc unless a working copy exists",
		Long: `Install resolves a working pandoc from the saved path, the managed install
location or PATH. When none verifies, the configured release is downloaded,
verified and installed into the data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service(cmd)
			if err != nil {
				return err
			}
			obs := ctx.observe(cmd, svc)
			res := svc.EnsureInstalled(cmd.Context())
			ctx.finish(obs)

			if !res.Success {
				return installError(res.Err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.InstalledPath)
			return nil
		},
	}
}

// installError adds a remediation hint where one is known.
func installError(err error) error {
	var perm *binary.PermissionError
	if errors.As(err, &perm) {
		return fmt.Errorf("%w\n%s", err, perm.Hint())
	}
	var unsupported *binary.UnsupportedPlatformError
	if errors.As(err, &unsupported) {
		return fmt.Errorf("%w\ninstall pandoc manually and run `pandock path set <binary>`", err)
	}
	return err
}
