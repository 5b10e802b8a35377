package slack

import (
	"context"
	"fmt"
	"sort"
	"time"

	"resty.dev/v3"

	"codedeploy-autodeploy/internal/logger"
)

const botName = "CodeDeploy AutoDeploy"

// SlackClient handles Slack webhook notifications
type SlackClient struct {
	webhookURL string
	client     *resty.Client
	logger     *logger.Logger
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string       `json:"text,omitempty"`
	Username    string       `json:"username,omitempty"`
	IconEmoji   string       `json:"icon_emoji,omitempty"`
	Channel     string       `json:"channel,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a Slack message attachment
type Attachment struct {
	Color      string   `json:"color,omitempty"`
	Title      string   `json:"title,omitempty"`
	Text       string   `json:"text,omitempty"`
	Timestamp  int64    `json:"ts,omitempty"`
	Footer     string   `json:"footer,omitempty"`
	Fields     []Field  `json:"fields,omitempty"`
	MarkdownIn []string `json:"mrkdwn_in,omitempty"`
}

// Field represents a field in a Slack attachment
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// AlertLevel represents the severity of an alert
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelSuccess  AlertLevel = "success"
)

// NewSlackClient creates a new Slack client
func NewSlackClient(webhookURL string) *SlackClient {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)

	return &SlackClient{
		webhookURL: webhookURL,
		client:     client,
		logger:     logger.NewDefault("slack-client"),
	}
}

// Close releases the underlying HTTP client
func (s *SlackClient) Close() error {
	return s.client.Close()
}

// SendAlert sends an alert to Slack
func (s *SlackClient) SendAlert(ctx context.Context, level AlertLevel, title, message string, fields map[string]string) error {
	if s.webhookURL == "" {
		s.logger.Debug("Slack webhook URL not configured, skipping alert")
		return nil
	}

	attachment := s.createAttachment(level, title, message, fields)
	slackMsg := SlackMessage{
		Username:    botName,
		IconEmoji:   ":rocket:",
		Attachments: []Attachment{attachment},
	}

	return s.sendMessage(ctx, slackMsg)
}

// SendDeploymentTriggeredAlert reports a deployment started for a new instance
func (s *SlackClient) SendDeploymentTriggeredAlert(ctx context.Context, deploymentID, instanceID, groupName, strategy string) error {
	fields := map[string]string{
		"Deployment ID":    deploymentID,
		"Instance ID":      instanceID,
		"Deployment Group": groupName,
		"Strategy":         strategy,
	}

	title := "Deployment Triggered"
	message := fmt.Sprintf("Deployment `%s` started for new instance `%s`", deploymentID, instanceID)

	return s.SendAlert(ctx, AlertLevelInfo, title, message, fields)
}

// SendEpisodeFailureAlert reports an instance that did not get its deployment
func (s *SlackClient) SendEpisodeFailureAlert(ctx context.Context, instanceID, step string, err error) error {
	fields := map[string]string{
		"Instance ID": instanceID,
		"Failed Step": step,
		"Error":       err.Error(),
		"Status":      "Not deployed",
	}

	title := "Deployment Not Triggered"
	message := fmt.Sprintf("Instance `%s` came up but no deployment was started", instanceID)

	return s.SendAlert(ctx, AlertLevelWarning, title, message, fields)
}

// SendCleanupFailureAlert reports leftover tags or groups that need manual removal
func (s *SlackClient) SendCleanupFailureAlert(ctx context.Context, instanceID, suffix, groupName string, err error) error {
	fields := map[string]string{
		"Instance ID":      instanceID,
		"Suffix":           suffix,
		"Deployment Group": groupName,
		"Error":            err.Error(),
		"Action":           "Manual cleanup required",
	}

	title := "Cleanup Failed"
	message := fmt.Sprintf("Restoring deployment group `%s` failed. Check tags ending in `%s`", groupName, suffix)

	return s.SendAlert(ctx, AlertLevelCritical, title, message, fields)
}

// SendInstanceTerminatedAlert reports an instance terminated after a failed deployment
func (s *SlackClient) SendInstanceTerminatedAlert(ctx context.Context, instanceID, deploymentID string, dryRun bool) error {
	action := "Terminated"
	if dryRun {
		action = "Dry run only"
	}
	fields := map[string]string{
		"Instance ID":   instanceID,
		"Deployment ID": deploymentID,
		"Action":        action,
	}

	title := "Instance Terminated"
	message := fmt.Sprintf("Instance `%s` terminated after deployment `%s` failed", instanceID, deploymentID)
	if dryRun {
		message = fmt.Sprintf("Instance `%s` would be terminated after deployment `%s` failed", instanceID, deploymentID)
	}

	return s.SendAlert(ctx, AlertLevelCritical, title, message, fields)
}

// createAttachment creates a Slack attachment based on alert level
func (s *SlackClient) createAttachment(level AlertLevel, title, message string, fields map[string]string) Attachment {
	var color string
	var emoji string

	switch level {
	case AlertLevelWarning:
		color = "#ff9500" // Orange
		emoji = "⚠️"
	case AlertLevelCritical:
		color = "#ff0000" // Red
		emoji = "🚨"
	case AlertLevelSuccess:
		color = "#36a64f" // Green
		emoji = "✅"
	default:
		color = "#36a64f"
		emoji = "ℹ️"
	}

	attachment := Attachment{
		Color:      color,
		Title:      fmt.Sprintf("%s %s", emoji, title),
		Text:       message,
		Timestamp:  time.Now().Unix(),
		Footer:     botName,
		MarkdownIn: []string{"text", "fields"},
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		attachment.Fields = append(attachment.Fields, Field{
			Title: key,
			Value: fields[key],
			Short: true,
		})
	}

	return attachment
}

// sendMessage posts a message to the webhook
func (s *SlackClient) sendMessage(ctx context.Context, message SlackMessage) error {
	s.logger.Debug("Sending Slack alert",
		"webhook_url", s.maskWebhookURL(s.webhookURL))

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.webhookURL)
	if err != nil {
		return fmt.Errorf("failed to send Slack message: %w", err)
	}

	if !resp.IsSuccess() {
		return fmt.Errorf("Slack API returned status %d: %s", resp.StatusCode(), resp.String())
	}

	s.logger.Debug("Slack alert sent successfully",
		"status_code", resp.StatusCode())

	return nil
}

// maskWebhookURL masks the webhook URL for logging (security)
func (s *SlackClient) maskWebhookURL(url string) string {
	if len(url) > 50 {
		return url[:30] + "..." + url[len(url)-10:]
	}
	return "***masked***"
}
