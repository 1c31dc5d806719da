package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/capitalize-ai/persona-dialogue/internal/export"
	"github.com/capitalize-ai/persona-dialogue/internal/model"
)

var formatUsage = "Transcript format: " + strings.Join(formatList(), ", ")

func formatList() []string {
	names := make([]string, len(export.Formats))
	for i, f := range export.Formats {
		names[i] = string(f)
	}
	return names
}

func newRunCommand(flags *rootFlags) *cobra.Command {
	var (
		req    model.InitConversationRequest
		length int
		format string
		render bool
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a conversation to completion and print its transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("length") {
				req.ConversationLength = model.IntValue(length)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			final, err := a.service.Run(ctx, &req, func(resp *model.ConversationResponse) error {
				if quiet {
					return nil
				}
				_, err := fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s (%s, round %d): %s\n\n",
					resp.TotalMessages, resp.ExpectedTotalMessages,
					resp.AgentType, resp.Phase, resp.IterationNumber, resp.Message)
				return err
			})
			if err != nil {
				if final != nil {
					return fmt.Errorf("conversation %s stopped: %w", final.ConversationID, err)
				}
				return err
			}

			return printTranscript(cmd, a, out, final.ConversationID, f, render)
		},
	}

	cmd.Flags().StringVar(&req.Agent1Personality, "agent1", "", "Persona of the first agent")
	cmd.Flags().StringVar(&req.Agent2Personality, "agent2", "", "Persona of the second agent")
	cmd.Flags().StringVar(&req.Topic, "topic", "", "Topic of the conversation")
	cmd.Flags().StringVar(&req.PolitenessLevel, "politeness", "medium", "Politeness level: low, medium or high")
	cmd.Flags().IntVar(&length, "length", 3, "Number of exchanges in the main discussion (1-10)")
	cmd.Flags().StringVar(&format, "format", "md", formatUsage)
	cmd.Flags().BoolVar(&render, "render", false, "Render markdown output for the terminal")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print turns as they are generated")

	_ = cmd.MarkFlagRequired("agent1")
	_ = cmd.MarkFlagRequired("agent2")
	_ = cmd.MarkFlagRequired("topic")

	return cmd
}

func printTranscript(cmd *cobra.Command, a *app, out io.Writer, id string, f export.Format, render bool) error {
	transcript, err := a.service.Transcript(cmd.Context(), id)
	if err != nil {
		return err
	}

	if render && f == export.FormatMarkdown {
		styled, err := glamour.Render(export.Markdown(transcript), "dark")
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, styled)
		return err
	}

	var buf bytes.Buffer
	if err := export.Encode(&buf, f, transcript); err != nil {
		return err
	}
	_, err = out.Write(buf.Bytes())
	return err
}
