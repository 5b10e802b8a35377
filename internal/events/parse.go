package events

import (
	"encoding/json"
	"fmt"
	"strings"

	lambdaevents "github.com/aws/aws-lambda-go/events"
)

const (
	ec2Source               = "aws.ec2"
	ec2StateChangeType      = "EC2 Instance State-change Notification"
	ec2StateRunning         = "running"
	snsNotificationType     = "Notification"
	snsRecordSource         = "aws:sns"
	triggerStatusSucceeded  = "SUCCEEDED"
	triggerStatusFailed     = "FAILED"
	triggerStatusStopped    = "STOPPED"
	codeDeployFailureState  = lambdaevents.CodeDeployDeploymentStateFailure
	codeDeployInstanceEvent = lambdaevents.CodeDeployInstanceEventDetailType

	// CodeDeploy publishes a plain-text test message when a trigger is created
	codeDeployTestMessagePrefix = "This is a test notification"
	codeDeploySubjectMarker     = "AWS CodeDeploy"
)

// discriminator holds just the discriminator fields of every supported envelope
type discriminator struct {
	Source     string            `json:"source"`
	DetailType string            `json:"detail-type"`
	Records    []json.RawMessage `json:"Records"`
	Type       string            `json:"Type"`
	Message    json.RawMessage   `json:"Message"`

	// raw CodeDeploy trigger message, as delivered with SNS raw delivery
	EventTriggerName string `json:"eventTriggerName"`
}

type ec2StateDetail struct {
	InstanceID string `json:"instance-id"`
	State      string `json:"state"`
}

// triggerMessage is the JSON CodeDeploy publishes for a trigger
type triggerMessage struct {
	Region              string `json:"region"`
	EventTriggerName    string `json:"eventTriggerName"`
	ApplicationName     string `json:"applicationName"`
	DeploymentID        string `json:"deploymentId"`
	DeploymentGroupName string `json:"deploymentGroupName"`
	Status              string `json:"status"`
}

// Parse classifies payload. It never fails: anything that does not match a
// supported shape exactly comes back as KindUnrecognized with a Reason.
func Parse(payload []byte) Event {
	var p discriminator
	if err := json.Unmarshal(payload, &p); err != nil {
		return unrecognized("payload is not a JSON object: %v", err)
	}

	switch {
	case p.Source != "" || p.DetailType != "":
		return parseEventBridge(payload, p)
	case p.Records != nil:
		return parseSNSRecords(payload, len(p.Records))
	case p.Type != "" && p.Message != nil:
		return parseSNSEnvelope(payload)
	case p.EventTriggerName != "":
		return parseTriggerMessage(string(payload), Event{Source: SourceSNS})
	}
	return unrecognized("no known event envelope")
}

func parseEventBridge(payload []byte, p discriminator) Event {
	switch {
	case p.Source == ec2Source && p.DetailType == ec2StateChangeType:
		var ev lambdaevents.CloudWatchEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return unrecognized("malformed EC2 state-change event: %v", err)
		}
		var detail ec2StateDetail
		if err := json.Unmarshal(ev.Detail, &detail); err != nil {
			return unrecognized("malformed EC2 state-change detail: %v", err)
		}

		out := Event{
			Source:     SourceEventBridge,
			ID:         ev.ID,
			Region:     ev.Region,
			Time:       ev.Time,
			InstanceID: detail.InstanceID,
			State:      detail.State,
		}
		if detail.InstanceID == "" {
			return withReason(out, "EC2 state-change event has no instance id")
		}
		if detail.State != ec2StateRunning {
			return withReason(out, fmt.Sprintf("unexpected instance state %q, check the event rule", detail.State))
		}
		out.Kind = KindInstanceRunning
		return out

	case p.Source == lambdaevents.CodeDeployEventSource && p.DetailType == codeDeployInstanceEvent:
		var ev lambdaevents.CodeDeployEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return unrecognized("malformed CodeDeploy instance event: %v", err)
		}

		out := Event{
			Source:              SourceEventBridge,
			ID:                  ev.ID,
			Region:              ev.Region,
			Time:                ev.Time,
			InstanceID:          ev.Detail.InstanceID,
			State:               string(ev.Detail.State),
			DeploymentID:        ev.Detail.DeploymentID,
			ApplicationName:     ev.Detail.Application,
			DeploymentGroupName: ev.Detail.DeploymentGroup,
		}
		if ev.Detail.State != codeDeployFailureState {
			return withReason(out, fmt.Sprintf("unexpected deployment instance state %q, check the event rule", ev.Detail.State))
		}
		if ev.Detail.InstanceID == "" {
			return withReason(out, "CodeDeploy instance event has no instance id")
		}
		out.Kind = KindDeploymentFailed
		out.Scope = ScopeInstance
		return out
	}

	return unrecognized("unsupported event %q from %q", p.DetailType, p.Source)
}

func parseSNSRecords(payload []byte, count int) Event {
	if count != 1 {
		return unrecognized("expected exactly one notification record, got %d", count)
	}

	var ev lambdaevents.SNSEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return unrecognized("malformed notification records: %v", err)
	}
	rec := ev.Records[0]
	if rec.EventSource != snsRecordSource {
		return unrecognized("unsupported record source %q", rec.EventSource)
	}
	return parseNotification(rec.SNS)
}

func parseSNSEnvelope(payload []byte) Event {
	var entity lambdaevents.SNSEntity
	if err := json.Unmarshal(payload, &entity); err != nil {
		return unrecognized("malformed notification envelope: %v", err)
	}
	if entity.Type != snsNotificationType {
		return unrecognized("unsupported notification type %q", entity.Type)
	}
	return parseNotification(entity)
}

func parseNotification(entity lambdaevents.SNSEntity) Event {
	base := Event{
		Source:  SourceSNS,
		ID:      entity.MessageID,
		Time:    entity.Timestamp,
		Subject: entity.Subject,
	}
	if isTestNotification(entity.Subject, entity.Message) {
		base.Kind = KindTriggerSetupAck
		return base
	}
	return parseTriggerMessage(entity.Message, base)
}

// isTestNotification reports whether an SNS notification is the plain-text
// message CodeDeploy sends to a topic when a trigger is created
func isTestNotification(subject, message string) bool {
	return strings.Contains(subject, codeDeploySubjectMarker) &&
		strings.HasPrefix(message, codeDeployTestMessagePrefix)
}

// parseTriggerMessage classifies a CodeDeploy trigger message by its status.
// A trigger message that names no deployment acknowledges the trigger setup;
// anything that is not a trigger message at all is unrecognized.
func parseTriggerMessage(message string, base Event) Event {
	var msg triggerMessage
	if err := json.Unmarshal([]byte(message), &msg); err != nil {
		return withReason(base, "notification message is not a CodeDeploy trigger message")
	}
	if msg.EventTriggerName == "" {
		return withReason(base, "notification message names no CodeDeploy trigger")
	}
	base.TriggerName = msg.EventTriggerName

	if msg.DeploymentID == "" {
		base.Kind = KindTriggerSetupAck
		return base
	}

	base.Region = msg.Region
	base.DeploymentID = msg.DeploymentID
	base.ApplicationName = msg.ApplicationName
	base.DeploymentGroupName = msg.DeploymentGroupName
	base.Status = msg.Status

	if msg.DeploymentGroupName == "" {
		return withReason(base, "deployment notification has no deployment group")
	}

	switch msg.Status {
	case triggerStatusSucceeded:
		base.Kind = KindDeploymentSucceeded
	case triggerStatusFailed, triggerStatusStopped:
		base.Kind = KindDeploymentFailed
		base.Scope = ScopeGroup
	default:
		return withReason(base, fmt.Sprintf("unsupported deployment status %q", msg.Status))
	}
	return base
}

func unrecognized(format string, args ...interface{}) Event {
	return Event{Kind: KindUnrecognized, Reason: fmt.Sprintf(format, args...)}
}

func withReason(e Event, reason string) Event {
	e.Kind = KindUnrecognized
	e.Scope = ""
	e.Reason = reason
	return e
}
