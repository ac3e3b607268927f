package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/chylli-deriv/supabase-logger/auth"
	"github.com/chylli-deriv/supabase-logger/botlog"
	"github.com/chylli-deriv/supabase-logger/config"
	"github.com/chylli-deriv/supabase-logger/internal/journal"
	"github.com/chylli-deriv/supabase-logger/internal/logger"
	"github.com/chylli-deriv/supabase-logger/internal/report"
)

// errHelp is returned when a subcommand printed its own help.
var errHelp = pflag.ErrHelp

type command func(ctx context.Context, args []string, stdout, stderr io.Writer) error

var commands = map[string]command{
	"send":  runSend,
	"token": runToken,
	"stats": runStats,
}

// globalFlags are accepted by every subcommand.
type globalFlags struct {
	creds    config.Credentials
	envFile  string
	journal  string
	logLevel string
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.creds.BaseURL, "url", "", "Supabase project URL")
	fs.StringVar(&g.creds.APIKey, "api-key", "", "Supabase API key")
	fs.StringVar(&g.creds.AuthEmail, "email", "", "auth email")
	fs.StringVar(&g.creds.AuthPassword, "password", "", "auth password")
	fs.StringVar(&g.creds.Environment, "environment", "", "environment label")
	fs.StringVar(&g.envFile, "env-file", "", ".env file to load")
	fs.StringVar(&g.journal, "journal", "", "delivery journal path")
	fs.StringVar(&g.logLevel, "log-level", "", "log level")
}

// resolve loads the environment, builds a validated configuration and
// initializes logging.
func (g *globalFlags) resolve(stderr io.Writer) (*config.Config, error) {
	if err := config.LoadEnv(g.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.FromEnv(g.creds)
	if err != nil {
		return nil, err
	}
	if g.journal != "" {
		cfg.JournalPath = g.journal
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	logger.Init(stderr, cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("sblog "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runSend(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		g       globalFlags
		e       botlog.Entry
		failure string
		history int
	)

	fs := newFlagSet("send", stderr)
	g.register(fs)
	fs.StringVar(&e.UserID, "user", "", "user id")
	fs.StringVar(&e.ChannelID, "channel", "", "channel id")
	fs.StringVar(&e.ThreadID, "thread", "", "thread id")
	fs.StringVar(&e.UserMessage, "message", "", "user message")
	fs.StringVar(&e.ResponseText, "response", "", "bot response")
	fs.StringVar(&e.BotID, "bot-id", "", "bot id")
	fs.StringVar(&e.BotName, "bot-name", "", "bot name")
	fs.StringVar(&e.SystemPrompt, "system-prompt", "", "system prompt")
	fs.StringVar(&failure, "failure", "", "log as failure with this error detail")
	fs.IntVar(&history, "history", 0, "chat history length")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.Changed("history") {
		e.ChatHistoryLength = botlog.Int(history)
	}

	cfg, err := g.resolve(stderr)
	if err != nil {
		return err
	}

	l, _, err := botlog.NewFromConfig(cfg, botlog.WithLogOutput(stderr))
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Close(); err != nil {
			logger.Warn("failed to close journal", "error", err)
		}
	}()

	now := time.Now()
	e.RequestTime, e.ResponseTime = now, now

	var res botlog.Result
	if fs.Changed("failure") {
		res = l.LogFailure(ctx, e, failure)
	} else {
		res = l.LogSuccess(ctx, e)
	}

	if !res.Delivered {
		return fmt.Errorf("record %s not delivered after %d attempt(s): %w", res.RecordID, res.Attempts, res.Err)
	}
	fmt.Fprintf(stdout, "delivered %s (attempts: %d)\n", res.RecordID, res.Attempts)
	return nil
}

func runToken(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globalFlags
	fs := newFlagSet("token", stderr)
	g.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := g.resolve(stderr)
	if err != nil {
		return err
	}

	tokens := auth.NewManagerFromConfig(cfg, &http.Client{Timeout: cfg.RequestTimeout})
	if _, err := tokens.Token(ctx); err != nil {
		return err
	}

	expires := tokens.ExpiresAt()
	fmt.Fprintf(stdout, "token valid until %s (in %s)\n",
		expires.Format(time.RFC3339), time.Until(expires).Round(time.Second))
	return nil
}

func runStats(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		g      globalFlags
		since  time.Duration
		prune  time.Duration
		recent int
	)

	fs := newFlagSet("stats", stderr)
	g.register(fs)
	fs.DurationVar(&since, "since", 24*time.Hour, "window to summarize")
	fs.DurationVar(&prune, "prune", 0, "delete entries older than this")
	fs.IntVar(&recent, "recent", 0, "also list the N most recent deliveries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Credentials are not needed to read the journal.
	if err := config.LoadEnv(g.envFile); err != nil {
		return err
	}
	logLevel := g.logLevel
	if logLevel == "" {
		logLevel = os.Getenv(config.EnvLogLevel)
	}
	logger.Init(stderr, logLevel, os.Getenv(config.EnvLogFormat))

	path := g.journal
	if path == "" {
		path = os.Getenv(config.EnvJournal)
	}
	if path == "" {
		return errors.New("no journal configured: set --journal or " + config.EnvJournal)
	}

	j, err := journal.New(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := j.Close(); err != nil {
			logger.Warn("failed to close journal", "error", err)
		}
	}()

	now := time.Now()
	if prune > 0 {
		n, err := j.Prune(ctx, now.Add(-prune))
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "pruned %d entries older than %s\n", n, prune)
	}

	from := now.Add(-since)
	stats, err := j.Stats(ctx, from)
	if err != nil {
		return err
	}
	counts, err := j.HourlyCounts(ctx, from)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, report.RenderSummary(stats, since))
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, report.RenderHourlyChart(counts, from, now, 60, 8))

	if recent > 0 {
		entries, err := j.Recent(ctx, recent)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, report.RenderRecent(entries))
	}
	return nil
}
