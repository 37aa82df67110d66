package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/comigor/sastagpt-go/internal/config"
	"github.com/comigor/sastagpt-go/internal/history"
	"github.com/comigor/sastagpt-go/internal/llm"
	"github.com/comigor/sastagpt-go/internal/logger"
	"github.com/comigor/sastagpt-go/internal/session"
	"github.com/comigor/sastagpt-go/internal/tui"
	"github.com/comigor/sastagpt-go/internal/turn"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

// app is everything both front ends share.
type app struct {
	cfg   *config.Config
	store *history.Store
	turns *turn.Controller
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "sastagpt",
		Short:         "A small terminal chat client for a remote completion endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default $CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newServeCmd(flags))
	return root
}

// setup loads configuration and wires the store, the completion client and
// the turn controller. logOut is where logs go unless log.file is set.
func setup(flags *globalFlags, logOut io.Writer) (*app, func(), error) {
	path := flags.configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	closers := []func(){}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		closers = append(closers, func() { _ = f.Close() })
		logOut = f
	}
	logger.SetOutput(logOut)
	level := cfg.Log.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger.SetLevel(level)

	apiKey, err := config.LoadAPIKey(cfg.LLM)
	if errors.Is(err, config.ErrNoAPIKey) {
		logger.L.Warn("no api key found; requests will be sent without a bearer token", "env", cfg.LLM.APIKeyEnv)
	} else if err != nil {
		cleanup()
		return nil, nil, err
	}

	client, err := llm.New(cfg.LLM, apiKey, nil)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	store, err := history.Open(cfg.History.Backend)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() {
		if err := store.Close(); err != nil {
			logger.L.Warn("history close error", "error", err)
		}
	})

	logger.L.Info("configuration loaded", "provider", cfg.LLM.Provider, "base_url", cfg.LLM.BaseURL, "model", cfg.LLM.Model, "history", cfg.History.Backend)

	return &app{
		cfg:   cfg,
		store: store,
		turns: turn.New(client, store, cfg.LLM),
	}, cleanup, nil
}

func runChat(ctx context.Context, flags *globalFlags) error {
	// The terminal belongs to the UI; logs go to log.file or nowhere.
	a, cleanup, err := setup(flags, io.Discard)
	if err != nil {
		return err
	}
	defer cleanup()

	s := session.New(a.store, a.turns)
	defer s.Close()

	err = tui.Run(ctx, s)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
