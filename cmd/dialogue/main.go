// Command dialogue runs and inspects persona dialogues from the terminal
// against a local database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-dialogue/internal/config"
	"github.com/capitalize-ai/persona-dialogue/internal/llm"
	natsclient "github.com/capitalize-ai/persona-dialogue/internal/nats"
	"github.com/capitalize-ai/persona-dialogue/internal/service"
	"github.com/capitalize-ai/persona-dialogue/internal/store"
	"github.com/capitalize-ai/persona-dialogue/pkg/logger"
)

type rootFlags struct {
	configPath string
	dbPath     string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:          "dialogue",
		Short:        "Run two-persona conversations with a language model",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", os.Getenv("DIALOGUE_CONFIG"), "Path to a TOML config file")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log to stderr")

	root.AddCommand(
		newRunCommand(flags),
		newExportCommand(flags),
		newListCommand(flags),
		newEventsCommand(flags),
	)
	return root
}

// app is the wiring shared by the subcommands.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *store.Store
	service *service.ConversationService
	nats    *natsclient.Client
	events  *natsclient.StreamManager
}

func newApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.dbPath != "" {
		cfg.Database.Path = flags.dbPath
	}

	log := logger.NewNop()
	if flags.verbose {
		if log, err = logger.NewDevelopment(); err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	var generator *llm.Generator
	client, err := llm.NewClient(llm.Provider(cfg.LLM.Provider), llm.Options{
		APIKey:  cfg.LLM.APIKey(),
		BaseURL: cfg.LLM.OpenAIBaseURL,
	})
	if err == nil {
		generator = llm.NewGenerator(client, cfg.LLM.Model)
	} else {
		log.Debug("LLM provider unavailable", zap.Error(err))
	}

	a := &app{cfg: cfg, log: log, store: st}
	opts := []service.Option{service.WithMaxTokens(cfg.LLM.MaxTokens)}

	if cfg.NATS.Enabled {
		a.nats, err = natsclient.Connect(natsclient.Config{
			URL:      cfg.NATS.URL,
			CAFile:   cfg.NATS.CAFile,
			CertFile: cfg.NATS.CertFile,
			KeyFile:  cfg.NATS.KeyFile,
			Token:    cfg.NATS.Token,
		}, log)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.events = natsclient.NewStreamManager(a.nats)
		if err := a.events.EnsureStream(ctx); err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, service.WithEvents(a.events))
	}

	a.service = service.NewConversationService(st, generator, log, opts...)
	return a, nil
}

func (a *app) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	a.store.Close()
	a.log.Sync()
}
