package alerts

import (
	"context"
	"fmt"
	"time"

	"codedeploy-autodeploy/internal/alerts/slack"
	"codedeploy-autodeploy/internal/logger"
)

// Manager handles all alerting functionality. A nil or disabled Manager
// drops every alert.
type Manager struct {
	slackClient *slack.SlackClient
	logger      *logger.Logger
	enabled     bool
}

// Config holds alerting configuration
type Config struct {
	SlackWebhookURL string
	Enabled         bool
}

// NewManager creates a new alert manager
func NewManager(config Config) *Manager {
	var slackClient *slack.SlackClient
	if config.SlackWebhookURL != "" {
		slackClient = slack.NewSlackClient(config.SlackWebhookURL)
	}

	return &Manager{
		slackClient: slackClient,
		logger:      logger.NewDefault("alert-manager"),
		enabled:     config.Enabled && config.SlackWebhookURL != "",
	}
}

// IsEnabled returns whether alerting is enabled
func (m *Manager) IsEnabled() bool {
	return m != nil && m.enabled && m.slackClient != nil
}

// DeploymentTriggered sends an alert when a deployment starts for a new instance
func (m *Manager) DeploymentTriggered(ctx context.Context, deploymentID, instanceID, groupName, strategy string) {
	if !m.IsEnabled() {
		return
	}

	m.logger.Info("Sending deployment triggered alert",
		"deployment_id", deploymentID,
		"instance_id", instanceID)

	if err := m.slackClient.SendDeploymentTriggeredAlert(ctx, deploymentID, instanceID, groupName, strategy); err != nil {
		m.logger.Error("Failed to send deployment triggered alert", "error", err)
	}
}

// EpisodeFailed sends an alert when an instance did not get its deployment
func (m *Manager) EpisodeFailed(ctx context.Context, instanceID, step string, err error) {
	if !m.IsEnabled() {
		return
	}

	m.logger.Warn("Sending episode failure alert",
		"instance_id", instanceID,
		"step", step,
		"error", err)

	if alertErr := m.slackClient.SendEpisodeFailureAlert(ctx, instanceID, step, err); alertErr != nil {
		m.logger.Error("Failed to send episode failure alert", "alert_error", alertErr)
	}
}

// CleanupFailed sends an alert when leftover state needs manual removal
func (m *Manager) CleanupFailed(ctx context.Context, instanceID, suffix, groupName string, err error) {
	if !m.IsEnabled() {
		return
	}

	m.logger.Error("Sending cleanup failure alert",
		"instance_id", instanceID,
		"suffix", suffix,
		"deployment_group", groupName,
		"error", err)

	if alertErr := m.slackClient.SendCleanupFailureAlert(ctx, instanceID, suffix, groupName, err); alertErr != nil {
		m.logger.Error("Failed to send cleanup failure alert", "alert_error", alertErr)
	}
}

// InstanceTerminated sends an alert after the terminate-on-failure policy ran
func (m *Manager) InstanceTerminated(ctx context.Context, instanceID, deploymentID string, dryRun bool) {
	if !m.IsEnabled() {
		return
	}

	m.logger.Info("Sending instance terminated alert",
		"instance_id", instanceID,
		"deployment_id", deploymentID,
		"dry_run", dryRun)

	if err := m.slackClient.SendInstanceTerminatedAlert(ctx, instanceID, deploymentID, dryRun); err != nil {
		m.logger.Error("Failed to send instance terminated alert", "error", err)
	}
}

// TestAlert sends a test alert to verify configuration
func (m *Manager) TestAlert(ctx context.Context) error {
	if !m.IsEnabled() {
		return fmt.Errorf("alerting is not enabled")
	}

	fields := map[string]string{
		"Status":    "Configuration Valid",
		"Timestamp": time.Now().Format(time.RFC3339),
	}

	return m.slackClient.SendAlert(ctx, slack.AlertLevelInfo, "Test Alert", "CodeDeploy AutoDeploy alerting is configured correctly!", fields)
}

// Close releases the Slack client
func (m *Manager) Close() error {
	if m == nil || m.slackClient == nil {
		return nil
	}
	return m.slackClient.Close()
}
