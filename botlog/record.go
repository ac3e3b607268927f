package botlog

import (
	"time"
)

// Status values written to the status column.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Entry holds the per-call fields of a bot exchange. Empty ChannelID, BotID
// and BotName fall back to the logger defaults.
type Entry struct {
	RequestTime       time.Time
	ResponseTime      time.Time
	InputAttachments  map[string]any
	OutputAttachments map[string]any
	ChatHistoryLength *int
	UserID            string
	ChannelID         string
	ThreadID          string
	UserMessage       string
	ResponseText      string
	BotID             string
	BotName           string
	SystemPrompt      string
}

// Defaults are instance-level values used when an Entry leaves them empty.
type Defaults struct {
	ChannelID string
	BotID     string
	BotName   string
}

// Row is the JSON shape inserted into the log table.
type Row struct {
	CreatedAt         string         `json:"created_at"`
	RequestTimestamp  string         `json:"request_timestamp"`
	ResponseTimestamp string         `json:"response_timestamp"`
	AIBotID           string         `json:"ai_bot_id"`
	BotName           string         `json:"bot_name"`
	UserID            string         `json:"user_id"`
	ChannelID         string         `json:"channel_id"`
	ThreadID          string         `json:"thread_id"`
	UserMessage       string         `json:"user_message"`
	InputAttachments  map[string]any `json:"input_attachments"`
	SystemPrompt      string         `json:"system_prompt"`
	ChatHistoryLength int            `json:"chat_history_length"`
	ResponseText      string         `json:"response_text"`
	Duration          float64        `json:"duration"`
	OutputAttachments map[string]any `json:"output_attachments"`
	Environment       string         `json:"environment"`
	Status            string         `json:"status"`
	ErrorDetail       string         `json:"error_detail,omitempty"`
}

// Int returns a pointer to n, for Entry.ChatHistoryLength.
func Int(n int) *int {
	return &n
}

// buildRow merges the entry with defaults and shapes it for the table.
// Missing request or response times are taken as now.
func buildRow(e Entry, d Defaults, environment, status, errorDetail string, now time.Time) Row {
	requestTime := orNow(e.RequestTime, now)
	responseTime := orNow(e.ResponseTime, now)

	row := Row{
		CreatedAt:         now.UTC().Format(time.RFC3339Nano),
		RequestTimestamp:  requestTime.Format(time.RFC3339Nano),
		ResponseTimestamp: responseTime.Format(time.RFC3339Nano),
		Duration:          responseTime.Sub(requestTime).Seconds(),
		AIBotID:           pick(e.BotID, d.BotID),
		BotName:           pick(e.BotName, d.BotName),
		UserID:            e.UserID,
		ChannelID:         pick(e.ChannelID, d.ChannelID),
		ThreadID:          e.ThreadID,
		UserMessage:       e.UserMessage,
		InputAttachments:  e.InputAttachments,
		SystemPrompt:      e.SystemPrompt,
		ResponseText:      e.ResponseText,
		OutputAttachments: e.OutputAttachments,
		Environment:       environment,
		Status:            status,
		ErrorDetail:       errorDetail,
	}

	if e.ChatHistoryLength != nil {
		row.ChatHistoryLength = *e.ChatHistoryLength
	}
	if row.InputAttachments == nil {
		row.InputAttachments = map[string]any{}
	}
	if row.OutputAttachments == nil {
		row.OutputAttachments = map[string]any{}
	}

	return row
}

func pick(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
