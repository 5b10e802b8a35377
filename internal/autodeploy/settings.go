package autodeploy

import (
	"fmt"
	"strings"
)

// Strategy selects how an instance is isolated for its deployment
type Strategy string

const (
	// StrategyRetarget points the existing group at the ephemeral tag and back
	StrategyRetarget Strategy = "retarget"

	// StrategyEphemeralGroup creates a throwaway group next to the real one
	StrategyEphemeralGroup Strategy = "ephemeral-group"
)

// ParseStrategy converts a configuration value into a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyRetarget:
		return StrategyRetarget, nil
	case StrategyEphemeralGroup:
		return StrategyEphemeralGroup, nil
	}
	return "", fmt.Errorf("unknown isolation strategy %q", s)
}

// Settings is the immutable per-process configuration of the core protocol
type Settings struct {
	ApplicationName      string
	BaseGroupName        string
	Strategy             Strategy
	Convention           Convention
	NotificationTopicARN string

	TagVisibility    PollPolicy
	DeploymentStatus PollPolicy

	// SuffixFunc overrides GenerateSuffix
	SuffixFunc func() string
}

func (s Settings) newSuffix() string {
	if s.SuffixFunc != nil {
		return s.SuffixFunc()
	}
	return GenerateSuffix()
}
