package channel

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/relgate/relgate/internal/notify"
)

// WebhookChannel POSTs the report as JSON to an arbitrary endpoint.
type WebhookChannel struct {
	name   string
	url    string
	token  string
	client *resty.Client
}

// NewWebhookChannel creates a generic webhook channel. token is optional
// and sent as a bearer token when set.
func NewWebhookChannel(name, url, token string) *WebhookChannel {
	return &WebhookChannel{
		name:   name,
		url:    url,
		token:  token,
		client: resty.New(),
	}
}

func (c *WebhookChannel) Name() string {
	return c.name
}

func (c *WebhookChannel) Validate() error {
	if c.url == "" {
		return fmt.Errorf("webhook channel %s: URL is required", c.name)
	}
	return nil
}

func (c *WebhookChannel) Send(ctx context.Context, report *notify.Report) error {
	if err := c.Validate(); err != nil {
		return err
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(report)
	if c.token != "" {
		req.SetAuthToken(c.token)
	}

	resp, err := req.Post(c.url)
	if err != nil {
		return fmt.Errorf("webhook channel %s: %w", c.name, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook channel %s: endpoint returned %d", c.name, resp.StatusCode())
	}
	return nil
}
