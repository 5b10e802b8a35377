package autodeploy

import (
	"fmt"
	"math/rand"
	"strings"
)

const (
	// SuffixLength is the number of characters in an episode suffix
	SuffixLength = 13

	// SuffixAlphabet is the set of characters a suffix is drawn from
	SuffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	DefaultRetargetTagPrefix = "AutoDeploy"
	DefaultGroupTagPrefix    = "DeploymentGroup"
)

// GenerateSuffix returns a random identifier for one isolation episode.
// Collisions are not re-checked.
func GenerateSuffix() string {
	b := make([]byte, SuffixLength)
	for i := range b {
		b[i] = SuffixAlphabet[rand.Intn(len(SuffixAlphabet))]
	}
	return string(b)
}

// ValidSuffix reports whether s could have been produced by GenerateSuffix
func ValidSuffix(s string) bool {
	if len(s) != SuffixLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(SuffixAlphabet, rune(s[i])) {
			return false
		}
	}
	return true
}

// Convention is the naming contract shared by the code that creates
// ephemeral artifacts and the code that recovers them from a notification.
// An episode's identity is carried entirely by these names.
type Convention struct {
	RetargetTagPrefix string
	GroupTagPrefix    string
}

// DefaultConvention returns the prefixes used when none are configured
func DefaultConvention() Convention {
	return Convention{
		RetargetTagPrefix: DefaultRetargetTagPrefix,
		GroupTagPrefix:    DefaultGroupTagPrefix,
	}
}

// EphemeralTag returns the tag that isolates an instance for the strategy
func (c Convention) EphemeralTag(strategy Strategy, suffix string) Tag {
	if strategy == StrategyEphemeralGroup {
		return Tag{
			Key:   c.GroupTagPrefix + "-" + suffix,
			Value: "True-" + suffix,
		}
	}
	return Tag{
		Key:   c.RetargetTagPrefix + "-" + suffix,
		Value: "True",
	}
}

// GroupName returns the name of the throwaway group for an episode
func (c Convention) GroupName(base, suffix string) string {
	return base + "-" + suffix
}

// TriggerName returns the name of the completion trigger on a throwaway group
func (c Convention) TriggerName(suffix string) string {
	return c.RetargetTagPrefix + "-" + suffix
}

// SuffixFromGroupName recovers the episode suffix from a throwaway group name.
// The name must be exactly <base>-<suffix>.
func (c Convention) SuffixFromGroupName(base, name string) (string, error) {
	prefix := base + "-"
	if base == "" || !strings.HasPrefix(name, prefix) {
		return "", fmt.Errorf("%w: %q does not start with %q", ErrNotEphemeralGroup, name, prefix)
	}

	suffix := strings.TrimPrefix(name, prefix)
	if !ValidSuffix(suffix) {
		return "", fmt.Errorf("%w: %q has no valid %d character suffix", ErrNotEphemeralGroup, name, SuffixLength)
	}
	return suffix, nil
}
