package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/pandock/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand(ctx))
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := ctx.layout()
			if err != nil {
				return err
			}
			target := ctx.configPath(layout)

			err = config.NewGenerator().WriteFile(target, config.Default(), force)
			if errors.Is(err, config.ErrConfigExists) {
				return fmt.Errorf("config file already exists at %s (use --force to replace it)", target)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := ctx.layout()
			if err != nil {
				return err
			}
			if _, err := ctx.loadConfig(cmd, layout); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config path: %s\nConfiguration valid\n", ctx.configPath(layout))
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as Lua",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := ctx.layout()
			if err != nil {
				return err
			}
			cfg, err := ctx.loadConfig(cmd, layout)
			if err != nil {
				return err
			}
			code, err := config.NewGenerator().Generate(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), strings.TrimLeft(code, "\n"))
			return nil
		},
	}
}
