package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
	"github.com/abhinav937/who-is-using-the-server/internal/infra/config"
)

const defaultTimeout = 5 * time.Second

// TeamsNotifier posts notification text to a Teams-compatible incoming
// webhook. Delivery is fire-and-forget: the request handler never waits on
// the webhook, failures are logged only, and an empty URL turns the notifier
// into a silent no-op.
type TeamsNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

type teamsMessage struct {
	Text string `json:"text"`
}

// NewTeamsNotifier constructs a notifier from configuration.
func NewTeamsNotifier(cfg config.NotificationSettings, logger *zap.Logger) *TeamsNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &TeamsNotifier{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Send dispatches the notification without blocking the caller. The POST runs
// on its own goroutine with its own deadline, detached from the request
// context, which may already be cancelled by the time delivery happens.
func (n *TeamsNotifier) Send(_ context.Context, note domain.Notification) {
	if n.url == "" {
		n.logger.Debug("webhook not configured, dropping notification",
			zap.String("text", note.Text))
		return
	}

	go n.post(note)
}

func (n *TeamsNotifier) post(note domain.Notification) {
	body, err := json.Marshal(teamsMessage{Text: note.Text})
	if err != nil {
		n.logger.Warn("encode webhook payload", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("build webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		n.logger.Warn("webhook rejected notification",
			zap.Int("status", resp.StatusCode))
		return
	}

	n.logger.Debug("notification sent")
}
