package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/chylli-deriv/supabase-logger/config"
)

// supabaseStub answers the auth and insert endpoints.
type supabaseStub struct {
	*httptest.Server

	mu           sync.Mutex
	insertStatus int
	rows         []map[string]any
}

func newSupabaseStub(t *testing.T) *supabaseStub {
	t.Helper()
	s := &supabaseStub{insertStatus: http.StatusCreated}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/auth/v1/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok-secret-123","refresh_token":"ref","expires_in":3600}`))
		case strings.HasPrefix(r.URL.Path, "/rest/v1/"):
			body, _ := io.ReadAll(r.Body)
			var row map[string]any
			_ = json.Unmarshal(body, &row)

			s.mu.Lock()
			s.rows = append(s.rows, row)
			status := s.insertStatus
			s.mu.Unlock()

			w.WriteHeader(status)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *supabaseStub) flags() []string {
	return []string{"--url", s.URL, "--api-key", "key", "--email", "bot@example.com", "--password", "pw"}
}

// isolateEnv clears every variable the CLI reads and points --env-file at
// an empty file so no .env on the machine leaks in.
func isolateEnv(t *testing.T) string {
	t.Helper()
	for _, key := range []string{
		config.EnvURL, config.EnvAPIKey, config.EnvAuthEmail, config.EnvAuthPassword,
		config.EnvEnvironment, config.EnvTable, config.EnvJournal, config.EnvLogLevel,
		config.EnvLogFormat, config.EnvMaxAttempts,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("# empty\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return envFile
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_VersionAndHelp(t *testing.T) {
	code, out, _ := runCLI(t, "--version")
	if code != 0 || !strings.HasPrefix(out, "supabase-logger ") {
		t.Errorf("--version: code=%d out=%q", code, out)
	}

	code, out, _ = runCLI(t, "-h")
	if code != 0 || !strings.Contains(out, "Commands:") {
		t.Errorf("-h: code=%d out=%q", code, out)
	}

	code, _, errOut := runCLI(t)
	if code != 2 || !strings.Contains(errOut, "Usage:") {
		t.Errorf("no args: code=%d", code)
	}

	code, _, errOut = runCLI(t, "frobnicate")
	if code != 2 || !strings.Contains(errOut, `unknown command "frobnicate"`) {
		t.Errorf("unknown: code=%d err=%q", code, errOut)
	}
}

func TestSend_Success(t *testing.T) {
	envFile := isolateEnv(t)
	stub := newSupabaseStub(t)
	journalPath := filepath.Join(t.TempDir(), "journal.db")

	args := append([]string{"send", "--env-file", envFile, "--journal", journalPath, "--environment", "test",
		"--user", "U1", "--channel", "C1", "--message", "hi", "--response", "hello", "--history", "5"}, stub.flags()...)
	code, out, errOut := runCLI(t, args...)
	if code != 0 {
		t.Fatalf("send exit code = %d, stderr:\n%s", code, errOut)
	}
	if !strings.HasPrefix(out, "delivered ") || !strings.Contains(out, "(attempts: 1)") {
		t.Errorf("stdout = %q", out)
	}

	if len(stub.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(stub.rows))
	}
	row := stub.rows[0]
	if row["user_id"] != "U1" || row["channel_id"] != "C1" || row["status"] != "success" || row["environment"] != "test" {
		t.Errorf("unexpected row: %v", row)
	}
	if row["chat_history_length"] != float64(5) {
		t.Errorf("chat_history_length = %v", row["chat_history_length"])
	}

	recordID := strings.Fields(out)[1]

	code, out, errOut = runCLI(t, "stats", "--env-file", envFile, "--journal", journalPath, "--recent", "5")
	if code != 0 {
		t.Fatalf("stats exit code = %d, stderr:\n%s", code, errOut)
	}
	if !strings.Contains(out, "100.0%") || !strings.Contains(out, "deliveries per hour") {
		t.Errorf("stats output:\n%s", out)
	}
	if !strings.Contains(out, "Recent deliveries") || !strings.Contains(out, recordID) {
		t.Errorf("stats --recent should list %s:\n%s", recordID, out)
	}
}

func TestSend_Failure(t *testing.T) {
	envFile := isolateEnv(t)
	stub := newSupabaseStub(t)
	stub.insertStatus = http.StatusBadRequest

	args := append([]string{"send", "--env-file", envFile, "--user", "U1", "--failure", "model timeout"}, stub.flags()...)
	code, _, errOut := runCLI(t, args...)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "not delivered after 1 attempt(s)") {
		t.Errorf("stderr = %q", errOut)
	}
	if len(stub.rows) != 1 || stub.rows[0]["status"] != "failure" || stub.rows[0]["error_detail"] != "model timeout" {
		t.Errorf("unexpected rows: %v", stub.rows)
	}
}

func TestSend_MissingCredentials(t *testing.T) {
	envFile := isolateEnv(t)

	code, _, errOut := runCLI(t, "send", "--env-file", envFile, "--url", "https://x.supabase.co")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, config.EnvAPIKey) {
		t.Errorf("stderr should name missing variables, got %q", errOut)
	}
}

func TestSend_HelpFlag(t *testing.T) {
	code, _, errOut := runCLI(t, "send", "--help")
	if code != 0 || !strings.Contains(errOut, "--message") {
		t.Errorf("send --help: code=%d stderr=%q", code, errOut)
	}
}

func TestToken(t *testing.T) {
	envFile := isolateEnv(t)
	stub := newSupabaseStub(t)

	code, out, errOut := runCLI(t, append([]string{"token", "--env-file", envFile}, stub.flags()...)...)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, errOut)
	}
	if !strings.HasPrefix(out, "token valid until ") {
		t.Errorf("stdout = %q", out)
	}
	if strings.Contains(out, "tok-secret-123") {
		t.Errorf("token leaked to output: %q", out)
	}
}

func TestStats_NoJournal(t *testing.T) {
	envFile := isolateEnv(t)

	code, _, errOut := runCLI(t, "stats", "--env-file", envFile)
	if code != 1 || !strings.Contains(errOut, "no journal configured") {
		t.Errorf("code=%d stderr=%q", code, errOut)
	}
}

func TestStats_EmptyJournalWithPrune(t *testing.T) {
	envFile := isolateEnv(t)
	journalPath := filepath.Join(t.TempDir(), "nested", "journal.db")

	code, out, errOut := runCLI(t, "stats", "--env-file", envFile, "--journal", journalPath, "--prune", "720h")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, errOut)
	}
	if !strings.Contains(out, "pruned 0 entries") || !strings.Contains(out, "No deliveries recorded") {
		t.Errorf("stdout:\n%s", out)
	}
}
