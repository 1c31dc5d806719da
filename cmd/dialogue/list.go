package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newListCommand(flags *rootFlags) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.service.List(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tMESSAGES\tSTARTED\tTOPIC")
			for _, c := range page.Conversations {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					c.ID, c.Status, c.MessageCount, c.StartTime.Local().Format(time.DateTime), c.Topic)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if page.HasMore {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d shown\n", len(page.Conversations), page.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of conversations")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of conversations to skip")

	return cmd
}
