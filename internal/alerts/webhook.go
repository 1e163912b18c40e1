package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/painpoint-radar/internal/model"
)

// Webhook posts each alert as JSON to a URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook. It returns nil for an empty url so the
// result can be passed straight to New.
func NewWebhook(url string) *Webhook {
	if url == "" {
		return nil
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify delivers alerts one at a time. Failures are logged and skipped.
func (w *Webhook) Notify(ctx context.Context, alerts []model.Alert) int {
	if w == nil {
		return 0
	}
	sent := 0
	for _, a := range alerts {
		if err := w.send(ctx, a); err != nil {
			zap.L().Error("alerts: webhook delivery failed",
				zap.String("type", string(a.Type)),
				zap.String("entity", a.EntityKey),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

func (w *Webhook) send(ctx context.Context, a model.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "alerts: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "alerts: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "alerts: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("alerts: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
