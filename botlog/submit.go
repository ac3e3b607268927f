package botlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chylli-deriv/supabase-logger/internal/logger"
	"github.com/chylli-deriv/supabase-logger/internal/version"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

func (l *Logger) log(ctx context.Context, e Entry, status, errorDetail string) (res Result) {
	res.RecordID = uuid.NewString()
	started := l.now()
	delivery := Delivery{Time: started, RecordID: res.RecordID, Status: status}
	reported := false

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		res.Delivered = false
		res.Err = fmt.Errorf("%w: panic while logging: %v", ErrNonRetryable, r)
		logger.Error("supabase log panicked", "record_id", res.RecordID, "panic", r)
		if reported {
			return
		}
		l.sendEvent(Event{Type: EventDeliveryFailed, RecordID: res.RecordID, Attempt: res.Attempts, Error: res.Err})
		delivery.Err = res.Err
		delivery.Attempts = res.Attempts
		delivery.Duration = l.now().Sub(started)
		l.record(ctx, delivery)
	}()

	if !l.Enabled() {
		res.Skipped = true
		reported = true
		logger.Debug("supabase logging disabled, skipping", "record_id", res.RecordID)
		l.sendEvent(Event{Type: EventSkipped, RecordID: res.RecordID})
		return res
	}

	row := buildRow(e, l.Defaults(), l.config.Environment, status, errorDetail, started)
	delivery.BotID, delivery.ChannelID, delivery.Environment = row.AIBotID, row.ChannelID, row.Environment
	logger.Debug("supabase log entry", "record_id", res.RecordID, "status", status,
		"user_id", row.UserID, "channel_id", row.ChannelID, "bot_id", row.AIBotID)

	body, err := json.Marshal(row)
	if err != nil {
		res.Err = fmt.Errorf("%w: failed to encode row: %v", ErrNonRetryable, err)
	} else {
		res = l.deliver(ctx, res, body)
	}

	reported = true
	if res.Delivered {
		logger.Info("logged bot response to supabase", "record_id", res.RecordID, "attempts", res.Attempts)
		l.sendEvent(Event{Type: EventDelivered, RecordID: res.RecordID, Attempt: res.Attempts, StatusCode: res.StatusCode})
	} else {
		logger.Error("failed to log to supabase", "record_id", res.RecordID,
			"attempts", res.Attempts, "status", res.StatusCode, "error", res.Err)
		l.sendEvent(Event{Type: EventDeliveryFailed, RecordID: res.RecordID, Attempt: res.Attempts,
			StatusCode: res.StatusCode, Error: res.Err})
	}

	delivery.Err = res.Err
	delivery.Duration = l.now().Sub(started)
	delivery.Attempts = res.Attempts
	delivery.StatusCode = res.StatusCode
	delivery.Delivered = res.Delivered
	l.record(ctx, delivery)

	return res
}

// deliver runs the attempt loop. Each attempt fetches a token right before
// sending. A 401 invalidates the token and retries without waiting; other
// retryable failures back off first.
func (l *Logger) deliver(ctx context.Context, res Result, body []byte) Result {
	backoff := l.config.InitialBackoff
	wait := false

	for attempt := 1; attempt <= l.config.MaxAttempts; attempt++ {
		if wait {
			if err := l.sleep(ctx, backoff); err != nil {
				res.Err = errors.Join(res.Err, err)
				return res
			}
			backoff = min(backoff*2, l.config.MaxBackoff)
		}
		res.Attempts = attempt

		token, err := l.tokens.Token(ctx)
		if err != nil {
			res.Err = err
			res.StatusCode = 0
			l.sendEvent(Event{Type: EventTokenError, RecordID: res.RecordID, Attempt: attempt, Error: err})
			if ctx.Err() != nil {
				return res
			}
			wait = true
			l.retrying(res, attempt)
			continue
		}

		status, err := l.send(ctx, token, res.RecordID, body)
		res.StatusCode = status
		if err == nil {
			res.Delivered = true
			res.Err = nil
			return res
		}
		res.Err = err

		var reqErr *RequestError
		if !errors.As(err, &reqErr) || !reqErr.Retryable() || ctx.Err() != nil {
			return res
		}

		if reqErr.Unauthorized() {
			l.tokens.Invalidate(token)
			wait = false
		} else {
			wait = true
		}
		l.retrying(res, attempt)
	}

	return res
}

func (l *Logger) retrying(res Result, attempt int) {
	if attempt >= l.config.MaxAttempts {
		return
	}
	logger.Info("supabase log attempt failed, retrying", "record_id", res.RecordID,
		"attempt", attempt, "status", res.StatusCode, "error", res.Err)
	l.sendEvent(Event{Type: EventRetrying, RecordID: res.RecordID, Attempt: attempt,
		StatusCode: res.StatusCode, Error: res.Err})
}

// send issues a single insert request.
func (l *Logger) send(ctx context.Context, token, recordID string, body []byte) (int, error) {
	endpoint := l.baseURL + "/rest/v1/" + l.config.Table
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create insert request: %v", ErrNonRetryable, err)
	}
	req.Header.Set("apikey", l.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	req.Header.Set("X-Request-Id", recordID)
	req.Header.Set("User-Agent", version.UserAgent())

	logger.Debug("sending log to supabase", "url", endpoint, "record_id", recordID)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return 0, &RequestError{Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		logger.Debug("failed to read supabase response body", "record_id", recordID, "error", readErr)
	}
	logger.Debug("supabase response", "record_id", recordID, "status", resp.StatusCode)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}

	return resp.StatusCode, &RequestError{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		Err:        errors.New(http.StatusText(resp.StatusCode)),
	}
}

func (l *Logger) record(ctx context.Context, d Delivery) {
	if l.journal == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("supabase delivery journal panicked", "record_id", d.RecordID, "panic", r)
		}
	}()
	// The caller's context may already be cancelled; the journal write is local.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.journal.RecordDelivery(jctx, d); err != nil {
		logger.Warn("failed to journal supabase delivery", "record_id", d.RecordID, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
