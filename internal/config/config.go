package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"codedeploy-autodeploy/internal/autodeploy"
)

const (
	// RuntimeLambda handles one event per function invocation
	RuntimeLambda = "lambda"
	// RuntimeSQS long-polls a queue as a daemon
	RuntimeSQS = "sqs"

	defaultConfigFile = "config.toml"
)

// Config holds all configuration parameters for the orchestrator
type Config struct {
	// Deployment Configuration
	ApplicationName     string           `env:"APPLICATION_NAME" required:"true"`
	DeploymentGroupName string           `env:"DEPLOYMENT_GROUP_NAME" required:"true"`
	EligibilityTags     []autodeploy.Tag `env:"ELIGIBILITY_TAGS" required:"true"` // Key=Value,Key=Value
	IsolationStrategy   string           `env:"ISOLATION_STRATEGY" default:"retarget"`

	// Naming Configuration
	RetargetTagPrefix    string `env:"RETARGET_TAG_PREFIX" default:"AutoDeploy"`
	GroupTagPrefix       string `env:"GROUP_TAG_PREFIX" default:"DeploymentGroup"`
	NotificationTopicARN string `env:"NOTIFICATION_TOPIC_ARN"` // Required for ephemeral-group

	// Failure Policy
	TerminateOnFailure bool `env:"TERMINATE_ON_FAILURE" default:"false"`
	TerminateDryRun    bool `env:"TERMINATE_DRY_RUN" default:"true"`

	// Polling Configuration
	PollInterval                time.Duration `env:"POLL_INTERVAL" default:"500ms"`
	TagVisibilityMaxAttempts    int           `env:"TAG_VISIBILITY_MAX_ATTEMPTS" default:"60"`
	DeploymentStatusMaxAttempts int           `env:"DEPLOYMENT_STATUS_MAX_ATTEMPTS" default:"720"`
	InvocationTimeout           time.Duration `env:"INVOCATION_TIMEOUT" default:"14m"`

	// Runtime Configuration
	Runtime              string        `env:"RUNTIME" default:"lambda"` // lambda | sqs
	AWSRegion            string        `env:"AWS_REGION" default:"us-east-1"`
	SQSQueueURL          string        `env:"SQS_QUEUE_URL"` // Required in sqs runtime
	SQSVisibilityTimeout time.Duration `env:"SQS_VISIBILITY_TIMEOUT" default:"15m"`
	DedupTTL             time.Duration `env:"DEDUP_TTL" default:"1h"`

	// AWS API Throttling
	APIRateLimitQPS   float64 `env:"API_RATE_LIMIT_QPS" default:"10"`
	APIRateLimitBurst int     `env:"API_RATE_LIMIT_BURST" default:"20"`

	// Alerting Configuration
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`
	AlertsEnabled   bool   `env:"ALERTS_ENABLED" default:"true"`

	// Logging Configuration
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`

	// API Server Configuration
	APIEnabled bool `env:"API_ENABLED" default:"false"`
	APIPort    int  `env:"API_PORT" default:"8080"`
}

// TOMLConfig represents the TOML file structure
type TOMLConfig struct {
	Deployment struct {
		ApplicationName     string   `toml:"application_name"`
		DeploymentGroupName string   `toml:"deployment_group_name"`
		EligibilityTags     []string `toml:"eligibility_tags"`
		IsolationStrategy   string   `toml:"isolation_strategy"`
	} `toml:"deployment"`

	Naming struct {
		RetargetTagPrefix    string `toml:"retarget_tag_prefix"`
		GroupTagPrefix       string `toml:"group_tag_prefix"`
		NotificationTopicARN string `toml:"notification_topic_arn"`
	} `toml:"naming"`

	Failure struct {
		TerminateOnFailure *bool `toml:"terminate_on_failure"`
		TerminateDryRun    *bool `toml:"terminate_dry_run"`
	} `toml:"failure"`

	Polling struct {
		Interval                    string `toml:"interval"`
		TagVisibilityMaxAttempts    int    `toml:"tag_visibility_max_attempts"`
		DeploymentStatusMaxAttempts int    `toml:"deployment_status_max_attempts"`
		InvocationTimeout           string `toml:"invocation_timeout"`
	} `toml:"polling"`

	Runtime struct {
		Mode                 string `toml:"mode"`
		SQSVisibilityTimeout string `toml:"sqs_visibility_timeout"`
		DedupTTL             string `toml:"dedup_ttl"`
	} `toml:"runtime"`

	AWS struct {
		Region      string `toml:"region"`
		SQSQueueURL string `toml:"sqs_queue_url"`
	} `toml:"aws"`

	RateLimiting struct {
		QPS   float64 `toml:"qps"`
		Burst int     `toml:"burst"`
	} `toml:"rate_limiting"`

	Alerts struct {
		Enabled         *bool  `toml:"enabled"`
		SlackWebhookURL string `toml:"slack_webhook_url"`
	} `toml:"alerts"`

	Logging struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"logging"`

	API struct {
		Enabled *bool `toml:"enabled"`
		Port    int   `toml:"port"`
	} `toml:"api"`
}

// LoadConfig loads configuration from TOML file with environment variable fallback.
// The file is CONFIG_FILE when set, config.toml otherwise.
func LoadConfig() (*Config, error) {
	filename := os.Getenv("CONFIG_FILE")
	if filename == "" {
		filename = defaultConfigFile
	}

	tomlConfig, err := loadTOMLConfig(filename)
	if err != nil {
		// If TOML file doesn't exist or can't be parsed, use defaults
		fmt.Fprintf(os.Stderr, "TOML config not found or invalid (%v), using environment variables and defaults\n", err)
		tomlConfig = &TOMLConfig{}
	}

	return loadFrom(tomlConfig)
}

// LoadConfigFile loads configuration from the named TOML file; a missing or
// invalid file is an error
func LoadConfigFile(filename string) (*Config, error) {
	tomlConfig, err := loadTOMLConfig(filename)
	if err != nil {
		return nil, err
	}
	return loadFrom(tomlConfig)
}

func loadFrom(tomlConfig *TOMLConfig) (*Config, error) {
	config := &Config{}
	var err error

	config.ApplicationName = getEnvOrTOMLOrDefault("APPLICATION_NAME", tomlConfig.Deployment.ApplicationName, "")
	config.DeploymentGroupName = getEnvOrTOMLOrDefault("DEPLOYMENT_GROUP_NAME", tomlConfig.Deployment.DeploymentGroupName, "")
	config.IsolationStrategy = getEnvOrTOMLOrDefault("ISOLATION_STRATEGY", tomlConfig.Deployment.IsolationStrategy, string(autodeploy.StrategyRetarget))
	config.RetargetTagPrefix = getEnvOrTOMLOrDefault("RETARGET_TAG_PREFIX", tomlConfig.Naming.RetargetTagPrefix, autodeploy.DefaultRetargetTagPrefix)
	config.GroupTagPrefix = getEnvOrTOMLOrDefault("GROUP_TAG_PREFIX", tomlConfig.Naming.GroupTagPrefix, autodeploy.DefaultGroupTagPrefix)
	config.NotificationTopicARN = getEnvOrTOMLOrDefault("NOTIFICATION_TOPIC_ARN", tomlConfig.Naming.NotificationTopicARN, "")
	config.Runtime = getEnvOrTOMLOrDefault("RUNTIME", tomlConfig.Runtime.Mode, RuntimeLambda)
	config.AWSRegion = getEnvOrTOMLOrDefault("AWS_REGION", tomlConfig.AWS.Region, "us-east-1")
	config.SQSQueueURL = getEnvOrTOMLOrDefault("SQS_QUEUE_URL", tomlConfig.AWS.SQSQueueURL, "")
	config.SlackWebhookURL = getEnvOrTOMLOrDefault("SLACK_WEBHOOK_URL", tomlConfig.Alerts.SlackWebhookURL, "")
	config.LogLevel = getEnvOrTOMLOrDefault("LOG_LEVEL", tomlConfig.Logging.Level, "info")
	config.LogFormat = getEnvOrTOMLOrDefault("LOG_FORMAT", tomlConfig.Logging.Format, "json")

	tags := os.Getenv("ELIGIBILITY_TAGS")
	if tags == "" {
		tags = strings.Join(tomlConfig.Deployment.EligibilityTags, ",")
	}
	config.EligibilityTags, err = ParseTags(tags)
	if err != nil {
		return nil, fmt.Errorf("invalid ELIGIBILITY_TAGS: %w", err)
	}

	// Load boolean fields
	config.TerminateOnFailure, err = getEnvAsBoolOrTOMLOrDefault("TERMINATE_ON_FAILURE", tomlConfig.Failure.TerminateOnFailure, false)
	if err != nil {
		return nil, fmt.Errorf("invalid TERMINATE_ON_FAILURE: %w", err)
	}

	config.TerminateDryRun, err = getEnvAsBoolOrTOMLOrDefault("TERMINATE_DRY_RUN", tomlConfig.Failure.TerminateDryRun, true)
	if err != nil {
		return nil, fmt.Errorf("invalid TERMINATE_DRY_RUN: %w", err)
	}

	config.AlertsEnabled, err = getEnvAsBoolOrTOMLOrDefault("ALERTS_ENABLED", tomlConfig.Alerts.Enabled, true)
	if err != nil {
		return nil, fmt.Errorf("invalid ALERTS_ENABLED: %w", err)
	}

	config.APIEnabled, err = getEnvAsBoolOrTOMLOrDefault("API_ENABLED", tomlConfig.API.Enabled, false)
	if err != nil {
		return nil, fmt.Errorf("invalid API_ENABLED: %w", err)
	}

	// Load integer fields
	config.APIPort, err = getEnvAsIntOrTOMLOrDefault("API_PORT", tomlConfig.API.Port, 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}

	config.TagVisibilityMaxAttempts, err = getEnvAsIntOrTOMLOrDefault("TAG_VISIBILITY_MAX_ATTEMPTS", tomlConfig.Polling.TagVisibilityMaxAttempts, 60)
	if err != nil {
		return nil, fmt.Errorf("invalid TAG_VISIBILITY_MAX_ATTEMPTS: %w", err)
	}

	config.DeploymentStatusMaxAttempts, err = getEnvAsIntOrTOMLOrDefault("DEPLOYMENT_STATUS_MAX_ATTEMPTS", tomlConfig.Polling.DeploymentStatusMaxAttempts, 720)
	if err != nil {
		return nil, fmt.Errorf("invalid DEPLOYMENT_STATUS_MAX_ATTEMPTS: %w", err)
	}

	config.APIRateLimitBurst, err = getEnvAsIntOrTOMLOrDefault("API_RATE_LIMIT_BURST", tomlConfig.RateLimiting.Burst, 20)
	if err != nil {
		return nil, fmt.Errorf("invalid API_RATE_LIMIT_BURST: %w", err)
	}

	config.APIRateLimitQPS, err = getEnvAsFloatOrTOMLOrDefault("API_RATE_LIMIT_QPS", tomlConfig.RateLimiting.QPS, 10)
	if err != nil {
		return nil, fmt.Errorf("invalid API_RATE_LIMIT_QPS: %w", err)
	}

	// Load duration fields
	config.PollInterval, err = getEnvAsDurationOrTOMLOrDefault("POLL_INTERVAL", tomlConfig.Polling.Interval, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
	}

	config.InvocationTimeout, err = getEnvAsDurationOrTOMLOrDefault("INVOCATION_TIMEOUT", tomlConfig.Polling.InvocationTimeout, 14*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid INVOCATION_TIMEOUT: %w", err)
	}

	config.SQSVisibilityTimeout, err = getEnvAsDurationOrTOMLOrDefault("SQS_VISIBILITY_TIMEOUT", tomlConfig.Runtime.SQSVisibilityTimeout, 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SQS_VISIBILITY_TIMEOUT: %w", err)
	}

	config.DedupTTL, err = getEnvAsDurationOrTOMLOrDefault("DEDUP_TTL", tomlConfig.Runtime.DedupTTL, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid DEDUP_TTL: %w", err)
	}

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadTOMLConfig loads configuration from a TOML file
func loadTOMLConfig(filename string) (*TOMLConfig, error) {
	var config TOMLConfig

	// Check if file exists
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("TOML config file %s does not exist", filename)
	}

	// Decode TOML file
	if _, err := toml.DecodeFile(filename, &config); err != nil {
		return nil, fmt.Errorf("failed to decode TOML config file %s: %w", filename, err)
	}

	return &config, nil
}

// ParseTags parses a comma separated list of Key=Value pairs. Empty entries
// are skipped; an entry without '=' or with an empty key is an error.
func ParseTags(s string) ([]autodeploy.Tag, error) {
	var tags []autodeploy.Tag
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("tag %q is not in Key=Value form", entry)
		}
		tags = append(tags, autodeploy.Tag{Key: key, Value: strings.TrimSpace(value)})
	}
	return tags, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors []string

	if c.ApplicationName == "" {
		errors = append(errors, "APPLICATION_NAME is required but not set")
	}

	if c.DeploymentGroupName == "" {
		errors = append(errors, "DEPLOYMENT_GROUP_NAME is required but not set")
	}

	if len(c.EligibilityTags) == 0 {
		errors = append(errors, "ELIGIBILITY_TAGS must name at least one Key=Value tag")
	}

	strategy, err := autodeploy.ParseStrategy(c.IsolationStrategy)
	if err != nil {
		errors = append(errors, fmt.Sprintf("ISOLATION_STRATEGY must be one of: %s, %s",
			autodeploy.StrategyRetarget, autodeploy.StrategyEphemeralGroup))
	}
	if strategy == autodeploy.StrategyEphemeralGroup && c.NotificationTopicARN == "" {
		errors = append(errors, "NOTIFICATION_TOPIC_ARN is required for the ephemeral-group strategy")
	}

	if c.RetargetTagPrefix == "" {
		errors = append(errors, "RETARGET_TAG_PREFIX cannot be empty")
	}

	if c.GroupTagPrefix == "" {
		errors = append(errors, "GROUP_TAG_PREFIX cannot be empty")
	}

	// Validate polling bounds
	if c.PollInterval <= 0 {
		errors = append(errors, "POLL_INTERVAL must be positive")
	}

	if c.TagVisibilityMaxAttempts <= 0 {
		errors = append(errors, "TAG_VISIBILITY_MAX_ATTEMPTS must be positive")
	}

	if c.DeploymentStatusMaxAttempts <= 0 {
		errors = append(errors, "DEPLOYMENT_STATUS_MAX_ATTEMPTS must be positive")
	}

	if c.InvocationTimeout <= 0 {
		errors = append(errors, "INVOCATION_TIMEOUT must be positive")
	}

	// Validate runtime
	switch strings.ToLower(c.Runtime) {
	case RuntimeLambda:
	case RuntimeSQS:
		if c.SQSQueueURL == "" {
			errors = append(errors, "SQS_QUEUE_URL is required in sqs runtime")
		}
		if c.SQSVisibilityTimeout < c.InvocationTimeout {
			errors = append(errors, "SQS_VISIBILITY_TIMEOUT should be at least INVOCATION_TIMEOUT")
		}
		if c.DedupTTL <= 0 {
			errors = append(errors, "DEDUP_TTL must be positive in sqs runtime")
		}
	default:
		errors = append(errors, fmt.Sprintf("RUNTIME must be one of: %s, %s", RuntimeLambda, RuntimeSQS))
	}

	if c.APIRateLimitQPS < 0 {
		errors = append(errors, "API_RATE_LIMIT_QPS must be non-negative")
	}

	if c.APIRateLimitBurst < 0 {
		errors = append(errors, "API_RATE_LIMIT_BURST must be non-negative")
	}

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToLower(c.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errors = append(errors, "LOG_FORMAT must be one of: json, text")
	}

	// Validate API configuration
	if c.APIEnabled {
		if c.APIPort <= 0 || c.APIPort > 65535 {
			errors = append(errors, "API_PORT must be between 1 and 65535 when API is enabled")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// IsLambdaRuntime returns true if events arrive as function invocations
func (c *Config) IsLambdaRuntime() bool {
	return strings.ToLower(c.Runtime) == RuntimeLambda
}

// IsSQSRuntime returns true if events are polled from a queue
func (c *Config) IsSQSRuntime() bool {
	return strings.ToLower(c.Runtime) == RuntimeSQS
}

// Settings returns the core protocol settings. Call only on a validated Config.
func (c *Config) Settings() autodeploy.Settings {
	strategy, _ := autodeploy.ParseStrategy(c.IsolationStrategy)
	return autodeploy.Settings{
		ApplicationName: c.ApplicationName,
		BaseGroupName:   c.DeploymentGroupName,
		Strategy:        strategy,
		Convention: autodeploy.Convention{
			RetargetTagPrefix: c.RetargetTagPrefix,
			GroupTagPrefix:    c.GroupTagPrefix,
		},
		NotificationTopicARN: c.NotificationTopicARN,
		TagVisibility: autodeploy.PollPolicy{
			Interval:    c.PollInterval,
			MaxAttempts: c.TagVisibilityMaxAttempts,
		},
		DeploymentStatus: autodeploy.PollPolicy{
			Interval:    c.PollInterval,
			MaxAttempts: c.DeploymentStatusMaxAttempts,
		},
	}
}

// Helper functions for environment variable and TOML parsing

func getEnvOrTOMLOrDefault(envKey, tomlValue, defaultValue string) string {
	// Environment variable takes precedence
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	// Then TOML value
	if tomlValue != "" {
		return tomlValue
	}
	// Finally default
	return defaultValue
}

func getEnvAsIntOrTOMLOrDefault(envKey string, tomlValue int, defaultValue int) (int, error) {
	// Environment variable takes precedence
	if valueStr := os.Getenv(envKey); valueStr != "" {
		value, err := strconv.Atoi(valueStr)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %s as integer: %w", envKey, err)
		}
		return value, nil
	}
	// Then TOML value (if not zero)
	if tomlValue != 0 {
		return tomlValue, nil
	}
	// Finally default
	return defaultValue, nil
}

func getEnvAsDurationOrTOMLOrDefault(envKey string, tomlValue string, defaultValue time.Duration) (time.Duration, error) {
	// Environment variable takes precedence
	if valueStr := os.Getenv(envKey); valueStr != "" {
		value, err := time.ParseDuration(valueStr)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %s as duration: %w", envKey, err)
		}
		return value, nil
	}
	// Then TOML value
	if tomlValue != "" {
		value, err := time.ParseDuration(tomlValue)
		if err != nil {
			return 0, fmt.Errorf("cannot parse TOML %s as duration: %w", envKey, err)
		}
		return value, nil
	}
	// Finally default
	return defaultValue, nil
}

// getEnvAsBoolOrTOMLOrDefault takes the TOML value as a pointer so an
// explicit false in the file overrides a true default
func getEnvAsBoolOrTOMLOrDefault(envKey string, tomlValue *bool, defaultValue bool) (bool, error) {
	// Environment variable takes precedence
	if valueStr := os.Getenv(envKey); valueStr != "" {
		value, err := strconv.ParseBool(valueStr)
		if err != nil {
			return false, fmt.Errorf("cannot parse %s as boolean: %w", envKey, err)
		}
		return value, nil
	}
	if tomlValue != nil {
		return *tomlValue, nil
	}
	return defaultValue, nil
}

func getEnvAsFloatOrTOMLOrDefault(envKey string, tomlValue float64, defaultValue float64) (float64, error) {
	// Environment variable takes precedence
	if valueStr := os.Getenv(envKey); valueStr != "" {
		value, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %s as float: %w", envKey, err)
		}
		return value, nil
	}
	// Then TOML value (if not zero)
	if tomlValue != 0 {
		return tomlValue, nil
	}
	// Finally default
	return defaultValue, nil
}
