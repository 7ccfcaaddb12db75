package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/costwatch/internal/model"
)

// WebhookNotifier forwards variance alerts to an external webhook. Delivery
// is rate limited and best-effort; failed posts are logged and dropped.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewWebhookNotifier creates a notifier posting to url, allowing at most rps
// posts per second with a small burst.
func NewWebhookNotifier(url string, rps float64, log *zap.Logger) *WebhookNotifier {
	if rps <= 0 {
		rps = 1
	}
	if log == nil {
		log = zap.L()
	}
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 2),
		log:     log,
	}
}

// Attach subscribes the notifier to variance analysis events on b. No-op
// when no webhook URL is configured.
func (n *WebhookNotifier) Attach(b *Bus) {
	if n.url == "" {
		return
	}
	b.Subscribe(VarianceUpdated, func(_ string, payload any) error {
		p, ok := payload.(VariancePayload)
		if !ok {
			return eris.New("notifier: unexpected payload type")
		}
		n.Notify(context.Background(), p.Alerts)
		return nil
	})
}

// Notify posts each alert to the webhook. Returns the number delivered.
func (n *WebhookNotifier) Notify(ctx context.Context, alerts []model.VarianceAlert) int {
	sent := 0
	for _, alert := range alerts {
		if err := n.limiter.Wait(ctx); err != nil {
			n.log.Warn("notifier: rate wait aborted", zap.Error(err))
			return sent
		}
		if err := n.post(ctx, alert); err != nil {
			n.log.Error("notifier: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("project", alert.ProjectID),
				zap.Error(err),
			)
			continue
		}
		n.log.Info("notifier: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("level", string(alert.Level)),
		)
		sent++
	}
	return sent
}

func (n *WebhookNotifier) post(ctx context.Context, alert model.VarianceAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "notifier: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notifier: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notifier: post")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notifier: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
