package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/pandock/internal/convert"
)

func newFormatsCommand() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List output formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := table.NewWriter()
			tw.SetStyle(table.StyleRounded)
			tw.AppendHeader(table.Row{"Name", "Description", "Category", "Writer", "Extension"})
			rows := 0
			for _, f := range convert.Formats() {
				if category != "" && !strings.EqualFold(f.Category, category) {
					continue
				}
				tw.AppendRow(table.Row{f.Name, f.Label, f.Category, f.Writer, "." + f.Extension})
				rows++
			}
			if rows == 0 {
				return fmt.Errorf("no formats in category %q", category)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only list formats of this category")
	return cmd
}
