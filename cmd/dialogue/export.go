package main

import (
	"github.com/spf13/cobra"

	"github.com/capitalize-ai/persona-dialogue/internal/export"
)

func newExportCommand(flags *rootFlags) *cobra.Command {
	var (
		format string
		render bool
	)

	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Print a completed conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			return printTranscript(cmd, a, cmd.OutOrStdout(), args[0], f, render)
		},
	}

	cmd.Flags().StringVar(&format, "format", "md", formatUsage)
	cmd.Flags().BoolVar(&render, "render", false, "Render markdown output for the terminal")

	return cmd
}
