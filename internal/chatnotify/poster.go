package chatnotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prsentry/prsentry/internal/apperrors"
)

const postTimeout = 10 * time.Second

// Poster delivers a built Message to the configured chat webhook URL.
// Delivery is best-effort: the Notification Worker logs a failure and
// marks the job done rather than retrying, since a stale chat message
// is worse than a missing one.
type Poster struct {
	webhookURL string
	logger     *zap.SugaredLogger
	httpClient *http.Client
}

func NewPoster(webhookURL string, logger *zap.SugaredLogger) *Poster {
	return &Poster{
		webhookURL: webhookURL,
		logger:     logger,
		httpClient: &http.Client{Timeout: postTimeout},
	}
}

// Post sends msg to the webhook. The webhook is considered to have
// accepted the message on a 200 response whose body is empty or the
// literal string "ok" — the common contract for Slack-style incoming
// webhooks. Any other outcome is a ChatDeliveryFailure; Post never
// retries, that's the caller's decision.
func (p *Poster) Post(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	payload, err := json.Marshal(msg)
	if err != nil {
		return apperrors.Wrap(apperrors.ChatDeliveryFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Wrap(apperrors.ChatDeliveryFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ChatDeliveryFailure, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return apperrors.New(apperrors.ChatDeliveryFailure, fmt.Sprintf("webhook %d: %s", resp.StatusCode, body))
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" && trimmed != "ok" {
		return apperrors.New(apperrors.ChatDeliveryFailure, fmt.Sprintf("webhook returned unexpected body: %s", truncate(trimmed, 200)))
	}

	p.logger.Debugw("chat message delivered", "webhook", p.webhookURL)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
