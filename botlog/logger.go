// Package botlog writes AI bot request/response pairs to a Supabase table.
//
// Every public logging call returns a Result and never panics or blocks the
// caller beyond the bounded retry schedule: a backend outage turns into
// dropped rows, reported through the package logger and the Events channel.
package botlog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chylli-deriv/supabase-logger/auth"
	"github.com/chylli-deriv/supabase-logger/config"
	"github.com/chylli-deriv/supabase-logger/internal/journal"
	"github.com/chylli-deriv/supabase-logger/internal/logger"
)

// TokenSource hands out bearer tokens. *auth.Manager implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(stale string)
}

// Delivery is the outcome of one logging call, passed to the Journal.
type Delivery = journal.Delivery

// Journal records delivery outcomes for later inspection.
type Journal interface {
	RecordDelivery(ctx context.Context, d Delivery) error
}

var _ Journal = (*journal.Journal)(nil)

// Result reports what happened to one logging call.
type Result struct {
	Err        error
	RecordID   string
	Attempts   int
	StatusCode int
	Delivered  bool
	Skipped    bool
}

// Config holds settings for the submitter.
type Config struct {
	Table          string
	Environment    string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Table:          config.DefaultTable,
		InitialBackoff: config.DefaultRetryBackoff,
		MaxBackoff:     config.DefaultRetryMaxBackoff,
		MaxAttempts:    config.DefaultMaxAttempts,
	}
}

// Option customizes a Logger.
type Option func(*Logger)

// WithHTTPClient sets the client used for inserts.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Logger) {
		if client != nil {
			l.httpClient = client
		}
	}
}

// WithJournal attaches a delivery journal.
func WithJournal(j Journal) Option {
	return func(l *Logger) { l.journal = j }
}

// WithLogOutput sets where NewFromConfig and Open send diagnostics.
// Defaults to os.Stderr.
func WithLogOutput(w io.Writer) Option {
	return func(l *Logger) {
		if w != nil {
			l.logOutput = w
		}
	}
}

// WithDefaults sets the initial instance defaults.
func WithDefaults(d Defaults) Option {
	return func(l *Logger) { l.defaults = d }
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.eventChan = make(chan Event, n)
		}
	}
}

// Logger submits log rows. It is safe for concurrent use.
type Logger struct {
	tokens     TokenSource
	httpClient *http.Client
	journal    Journal
	closer     io.Closer
	logOutput  io.Writer
	eventChan  chan Event
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	baseURL    string
	apiKey     string
	defaults   Defaults
	config     Config
	enabled    atomic.Bool
	mu         sync.RWMutex
}

// New creates a submitter for the given credentials and token source.
func New(creds config.Credentials, tokens TokenSource, cfg Config, opts ...Option) (*Logger, error) {
	l, err := newLogger(creds, tokens, cfg, opts...)
	if err != nil {
		return nil, err
	}
	l.announce()
	return l, nil
}

func newLogger(creds config.Credentials, tokens TokenSource, cfg Config, opts ...Option) (*Logger, error) {
	if missing := creds.Missing(); len(missing) > 0 {
		return nil, &config.ConfigurationError{Missing: missing}
	}
	if tokens == nil {
		return nil, &config.ConfigurationError{Reason: "token source is nil"}
	}

	defaults := DefaultConfig()
	if cfg.Table == "" {
		cfg.Table = defaults.Table
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(defaults.MaxBackoff, cfg.InitialBackoff)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Environment == "" {
		cfg.Environment = creds.Environment
	}

	l := &Logger{
		tokens:     tokens,
		httpClient: &http.Client{Timeout: config.DefaultRequestTimeout},
		logOutput:  os.Stderr,
		eventChan:  make(chan Event, 100),
		now:        time.Now,
		sleep:      sleepContext,
		baseURL:    strings.TrimRight(creds.BaseURL, "/"),
		apiKey:     creds.APIKey,
		config:     cfg,
	}
	l.enabled.Store(true)

	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Logger) announce() {
	logger.Info("supabase logger configured", "table", l.config.Table, "environment", l.config.Environment,
		"journal", l.journal != nil)
}

// NewFromConfig creates a submitter and its token manager from a resolved
// configuration. Both share the same HTTP client. The package log output is
// set from cfg.LogLevel and cfg.LogFormat, and a journal is opened at
// cfg.JournalPath unless WithJournal supplied one. Close releases it.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Logger, *auth.Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	client := &http.Client{Timeout: cfg.RequestTimeout}
	tokens := auth.NewManagerFromConfig(cfg, client)

	l, err := newLogger(cfg.Credentials, tokens, Config{
		Table:          cfg.Table,
		Environment:    cfg.Environment,
		InitialBackoff: cfg.RetryBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
		MaxAttempts:    cfg.MaxAttempts,
	}, append([]Option{WithHTTPClient(client)}, opts...)...)
	if err != nil {
		return nil, nil, err
	}

	logger.Init(l.logOutput, cfg.LogLevel, cfg.LogFormat)

	if l.journal == nil && cfg.JournalPath != "" {
		j, err := journal.New(cfg.JournalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open delivery journal: %w", err)
		}
		l.journal = j
		l.closer = j
	}

	l.announce()
	return l, tokens, nil
}

// Open resolves configuration from explicit credentials, the environment and
// .env files, and returns a ready Logger.
func Open(explicit config.Credentials, opts ...Option) (*Logger, error) {
	cfg, err := config.Load(explicit)
	if err != nil {
		return nil, err
	}
	l, _, err := NewFromConfig(cfg, opts...)
	return l, err
}

// Close releases the journal opened by NewFromConfig or Open. Journals
// passed with WithJournal belong to the caller and are left open.
func (l *Logger) Close() error {
	l.mu.Lock()
	c := l.closer
	l.closer = nil
	l.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// Enabled reports whether logging calls are sent.
func (l *Logger) Enabled() bool {
	return l.enabled.Load()
}

// SetEnabled turns logging on or off without touching call sites.
func (l *Logger) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
}

// Defaults returns the current instance defaults.
func (l *Logger) Defaults() Defaults {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.defaults
}

// SetDefaults replaces the instance defaults.
func (l *Logger) SetDefaults(d Defaults) {
	l.mu.Lock()
	l.defaults = d
	l.mu.Unlock()
}

// LogSuccess records a successful bot exchange.
func (l *Logger) LogSuccess(ctx context.Context, e Entry) Result {
	return l.log(ctx, e, StatusSuccess, "")
}

// LogFailure records a failed bot exchange with its error detail.
func (l *Logger) LogFailure(ctx context.Context, e Entry, errorDetail string) Result {
	return l.log(ctx, e, StatusFailure, errorDetail)
}
