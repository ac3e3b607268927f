// Package main is the entry point for sblog, a command-line client for the
// Supabase bot logger. It sends single rows, checks credentials and
// summarizes the local delivery journal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/chylli-deriv/supabase-logger/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches to a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "-v", "--version", "version":
		fmt.Fprintln(stdout, version.Info())
		return 0
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 2
	}

	if err := cmd(ctx, args[1:], stdout, stderr); err != nil {
		if errors.Is(err, errHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// printUsage prints the command-line usage information.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `sblog - log AI bot requests and responses to Supabase

Usage:
  sblog <command> [flags]

Commands:
  send      Send one log row
  token     Authenticate and show when the token expires
  stats     Summarize the local delivery journal

Send flags:
  --user, --channel, --thread    Conversation identifiers
  --message, --response          User message and bot response
  --failure                      Log as a failure with this error detail
  --history                      Chat history length
  --bot-id, --bot-name           Bot identity
  --system-prompt                System prompt used

Stats flags:
  --since     Window to summarize (default: 24h)
  --prune     Delete journal entries older than this duration
  --recent    Also list the N most recent deliveries

Global flags:
  --url, --api-key               Supabase project URL and API key
  --email, --password            Credentials for the password grant
  --environment                  Value of the environment column
  --env-file                     Load this .env file instead of searching
  --journal                      SQLite delivery journal path
  --log-level                    debug, info, warn or error
  -h, --help                     Show this help message
  -v, --version                  Show version information

Environment Variables:
  SUPABASE_URL, SUPABASE_API_KEY
  SUPABASE_AUTH_EMAIL, SUPABASE_AUTH_PASSWORD
  ENVIRONMENT                    Environment label for rows
  SUPABASE_LOG_TABLE             Target table (default: ai_bot_logs)
  SUPABASE_LOG_JOURNAL           Delivery journal path
  SUPABASE_MAX_ATTEMPTS          Delivery attempts (default: 3)
  LOG_LEVEL, LOG_FORMAT          Diagnostics level and text/json format

Configuration:
  Without --env-file the first .env found is loaded from:
  - Current directory
  - ~/.config/supabase-logger/.env
  - Parent directories
`)
}
