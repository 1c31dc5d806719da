package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/persona-dialogue/internal/model"
)

func newEventsCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "events <conversation-id>",
		Short: "Replay the lifecycle events of a conversation as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.events == nil {
				return errors.New("event stream is disabled; set NATS_ENABLED=true")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			return a.events.ReplayEvents(cmd.Context(), args[0], func(e *model.ConversationEvent) error {
				return enc.Encode(e)
			})
		},
	}
}
