package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/pandock/internal/binary"
	"github.com/ZebulonRouseFrantzich/pandock/internal/convert"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var (
		format  string
		options []string
		install bool
	)

	cmd := &cobra.Command{
		Use:   "convert <input>...",
		Short: "Convert documents with pandoc",
		Long: `Convert writes <input stem>.<extension> next to each input. Inputs are
converted concurrently, up to conversion.workers at a time.

Extra pandoc options are passed with -o key=value (or -o key for a flag),
e.g. -o standalone -o metadata=title=Report.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptions(options)
			if err != nil {
				return err
			}
			for _, in := range args {
				if ext := strings.TrimPrefix(filepath.Ext(in), "."); !convert.IsInputExtension(ext) {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s has an unrecognised extension; pandoc will guess the input format\n", in)
				}
			}

			svc, err := ctx.service(cmd)
			if err != nil {
				return err
			}
			obs := ctx.observe(cmd, svc)
			defer ctx.finish(obs)

			loc, err := svc.ResolveBinary(cmd.Context())
			if errors.Is(err, binary.ErrNotAvailable) && install {
				res := svc.EnsureInstalled(cmd.Context())
				if !res.Success {
					return installError(res.Err)
				}
				loc, err = binary.Location{Path: res.InstalledPath, Verified: true}, nil
			}
			if errors.Is(err, binary.ErrNotAvailable) {
				return fmt.Errorf("%w; run `pandock install` or pass --install", err)
			}
			if err != nil {
				return err
			}

			tasks := make([]*convert.Task, len(args))
			for i, in := range args {
				tasks[i] = svc.Convert(cmd.Context(), convert.Request{
					BinaryPath:   loc.Path,
					InputPath:    in,
					OutputFormat: format,
					Options:      opts,
				})
			}

			results := make([]convert.Result, len(tasks))
			for i, task := range tasks {
				results[i] = task.Wait(cmd.Context())
			}
			// Let the transcript finish before printing the summary.
			ctx.finish(obs)

			failed := 0
			for i, res := range results {
				if !res.Success {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", args[i], res.Error)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.OutputPath)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d conversions failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "to", "t", "", "Output format, one of the names listed by pandock formats")
	cmd.Flags().StringArrayVarP(&options, "option", "o", nil, "Extra pandoc option as key=value or key (repeatable)")
	cmd.Flags().BoolVar(&install, "install", false, "Install pandoc first when it is missing")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// parseOptions turns key=value arguments into an option map. A bare key is a
// flag without a value.
func parseOptions(args []string) (map[string]string, error) {
	opts := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, _ := strings.Cut(arg, "=")
		key = strings.TrimPrefix(strings.TrimSpace(key), "--")
		if err := convert.ValidateOptionKey(key); err != nil {
			return nil, err
		}
		opts[key] = value
	}
	return opts, nil
}
