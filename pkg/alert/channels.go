package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"netwarden/pkg/logging"
)

// Channel delivers alerts. Each channel declares its own severity
// floor; alerts below it are skipped before delivery.
type Channel interface {
	Name() string
	MinSeverity() Severity
	Deliver(ctx context.Context, a Alert) error
}

// WebhookChannel POSTs alerts as JSON with a bounded timeout
type WebhookChannel struct {
	url         string
	minSeverity Severity
	client      *http.Client
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(url string, minSeverity Severity, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		url:         url,
		minSeverity: minSeverity,
		client:      &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Name() string          { return "webhook" }
func (c *WebhookChannel) MinSeverity() Severity { return c.minSeverity }

func (c *WebhookChannel) Deliver(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogChannel writes alerts to the application log. Always available,
// used as the fallback channel when no webhook is configured.
type LogChannel struct {
	minSeverity Severity
	logger      *logging.Logger
}

// NewLogChannel creates a log channel
func NewLogChannel(minSeverity Severity, logger *logging.Logger) *LogChannel {
	return &LogChannel{minSeverity: minSeverity, logger: logger}
}

func (c *LogChannel) Name() string          { return "log" }
func (c *LogChannel) MinSeverity() Severity { return c.minSeverity }

func (c *LogChannel) Deliver(_ context.Context, a Alert) error {
	switch a.Severity {
	case SeverityCritical:
		c.logger.Error("ALERT", "kind", a.Kind, "message", a.Message, "detail", a.Detail)
	case SeverityWarning:
		c.logger.Warn("ALERT", "kind", a.Kind, "message", a.Message, "detail", a.Detail)
	default:
		c.logger.Info("ALERT", "kind", a.Kind, "message", a.Message, "detail", a.Detail)
	}
	return nil
}
