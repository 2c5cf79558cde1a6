package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/relgate/relgate/internal/notify"
)

// statusColors maps run statuses to Discord embed colors.
var statusColors = map[string]int{
	"succeeded":               0x2ecc71,
	"succeeded-with-rollback": 0xf39c12,
	"aborted":                 0xe74c3c,
}

// DiscordChannel posts the final report to a Discord webhook.
type DiscordChannel struct {
	name       string
	webhookURL string
	username   string
	client     *resty.Client
}

// NewDiscordChannel creates a Discord channel. username is optional and
// overrides the webhook's default bot name.
func NewDiscordChannel(name, webhookURL, username string) *DiscordChannel {
	return &DiscordChannel{
		name:       name,
		webhookURL: webhookURL,
		username:   username,
		client:     resty.New(),
	}
}

func (c *DiscordChannel) Name() string {
	return c.name
}

func (c *DiscordChannel) Validate() error {
	if c.webhookURL == "" {
		return fmt.Errorf("discord channel %s: webhook URL is required", c.name)
	}
	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, report *notify.Report) error {
	if err := c.Validate(); err != nil {
		return err
	}

	fields := make([]map[string]interface{}, 0, len(report.Stages)+1)
	for _, stage := range report.Stages {
		value := stage.Outcome
		if stage.Diagnostics != "" {
			value = fmt.Sprintf("%s: %s", stage.Outcome, truncate(stage.Diagnostics, 200))
		}
		fields = append(fields, map[string]interface{}{
			"name":   stage.Name,
			"value":  value,
			"inline": false,
		})
	}
	if report.DeploymentState != "" {
		fields = append(fields, map[string]interface{}{
			"name":   "deployment",
			"value":  report.DeploymentState,
			"inline": false,
		})
	}

	color, ok := statusColors[report.Status]
	if !ok {
		color = 0x95a5a6
	}

	embed := map[string]interface{}{
		"title":       fmt.Sprintf("Release pipeline %s: %s", report.RunID, report.Status),
		"description": fmt.Sprintf("candidate `%s`", report.CandidateDigest),
		"color":       color,
		"fields":      fields,
	}
	if report.EvidenceRef != "" {
		embed["footer"] = map[string]interface{}{
			"text": "evidence: " + report.EvidenceRef,
		}
	}

	payload := map[string]interface{}{
		"embeds": []interface{}{embed},
	}
	if c.username != "" {
		payload["username"] = c.username
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.webhookURL)
	if err != nil {
		return fmt.Errorf("discord channel %s: %w", c.name, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("discord channel %s: webhook returned %d", c.name, resp.StatusCode())
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
