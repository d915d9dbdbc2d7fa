package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Discord truncates message content above 2000 characters; stay under it.
const maxContentLen = 1900

// Notifier fans alerts out to webhook URLs. Every method is best effort:
// a down webhook must never stall an engine cycle or a dispatch loop, so
// failures are logged and swallowed.
type Notifier struct {
	opsHooks   []string
	errorHooks []string
	http       *http.Client
	logger     *slog.Logger
}

func NewNotifier(opsHooks, errorHooks []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		opsHooks:   opsHooks,
		errorHooks: errorHooks,
		http:       &http.Client{Timeout: 8 * time.Second},
		logger:     logger,
	}
}

// Noop returns a notifier with no targets, for tests and opsctl.
func Noop() *Notifier {
	return NewNotifier(nil, nil, slog.Default())
}

// Ops posts to the operations channel.
func (n *Notifier) Ops(ctx context.Context, text string) {
	n.post(ctx, n.opsHooks, text)
}

// Error posts to the error channel, falling back to ops when no error
// channel is configured.
func (n *Notifier) Error(ctx context.Context, text string) {
	hooks := n.errorHooks
	if len(hooks) == 0 {
		hooks = n.opsHooks
	}
	n.post(ctx, hooks, text)
}

func (n *Notifier) post(ctx context.Context, hooks []string, text string) {
	if len(hooks) == 0 {
		return
	}
	if len(text) > maxContentLen {
		text = text[:maxContentLen] + "..."
	}

	payload, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		n.logger.Error("Notify: failed to encode payload", "error", err)
		return
	}

	for _, hook := range hooks {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook, bytes.NewReader(payload))
		if err != nil {
			n.logger.Error("Notify: failed to build request", "error", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.http.Do(req)
		if err != nil {
			n.logger.Warn("Notify: webhook delivery failed", "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 {
			n.logger.Warn("Notify: webhook refused payload", "status", resp.StatusCode)
		}
	}
}
