package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() (*cobra.Command, *commandContext) {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "pandock",
		Short:         "Install pandoc and convert documents with it",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Configuration file path (default: <config dir>/pandock.lua)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "Data directory holding the managed pandoc and settings")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Show details of every log entry")

	rootCmd.AddCommand(newInstallCommand(ctx))
	rootCmd.AddCommand(newPathCommand(ctx))
	rootCmd.AddCommand(newCheckCommand(ctx))
	rootCmd.AddCommand(newConvertCommand(ctx))
	rootCmd.AddCommand(newFormatsCommand())
	rootCmd.AddCommand(newVersionCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd, ctx
}
