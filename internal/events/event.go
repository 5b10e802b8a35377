// Package events classifies inbound payloads from EventBridge, SNS and SQS
// into the event kinds the orchestrator acts on.
package events

import (
	"time"
)

// Kind is the category an inbound payload was classified into
type Kind string

const (
	KindInstanceRunning     Kind = "InstanceRunning"
	KindDeploymentFailed    Kind = "DeploymentFailed"
	KindDeploymentSucceeded Kind = "DeploymentSucceeded"
	KindTriggerSetupAck     Kind = "TriggerSetupAck"
	KindUnrecognized        Kind = "Unrecognized"
)

// Scope says what a DeploymentFailed event is about
type Scope string

const (
	// ScopeInstance is a per-instance lifecycle failure; InstanceID is set
	ScopeInstance Scope = "instance"
	// ScopeGroup is a whole-deployment completion notification; only the
	// group name identifies the episode
	ScopeGroup Scope = "group"
)

// Source names the envelope a payload arrived in
const (
	SourceEventBridge = "eventbridge"
	SourceSNS         = "sns"
)

// Event is the single parsed form of every inbound payload
type Event struct {
	Kind   Kind      `json:"kind"`
	Scope  Scope     `json:"scope,omitempty"`
	Source string    `json:"source,omitempty"`
	ID     string    `json:"id,omitempty"`
	Region string    `json:"region,omitempty"`
	Time   time.Time `json:"time,omitempty"`

	InstanceID          string `json:"instance_id,omitempty"`
	State               string `json:"state,omitempty"`
	DeploymentID        string `json:"deployment_id,omitempty"`
	ApplicationName     string `json:"application_name,omitempty"`
	DeploymentGroupName string `json:"deployment_group_name,omitempty"`
	Status              string `json:"status,omitempty"`
	Subject             string `json:"subject,omitempty"`
	TriggerName         string `json:"trigger_name,omitempty"`

	// Reason explains an Unrecognized classification
	Reason string `json:"reason,omitempty"`
}

// LogFields returns the populated identifying fields for structured logs
func (e Event) LogFields() []interface{} {
	fields := []interface{}{"event_kind", string(e.Kind)}
	add := func(k, v string) {
		if v != "" {
			fields = append(fields, k, v)
		}
	}
	add("event_id", e.ID)
	add("event_source", e.Source)
	add("scope", string(e.Scope))
	add("region", e.Region)
	add("instance_id", e.InstanceID)
	add("state", e.State)
	add("deployment_id", e.DeploymentID)
	add("application", e.ApplicationName)
	add("deployment_group", e.DeploymentGroupName)
	add("status", e.Status)
	add("trigger_name", e.TriggerName)
	add("reason", e.Reason)
	return fields
}
