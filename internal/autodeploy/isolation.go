package autodeploy

import (
	"context"
	"fmt"

	"codedeploy-autodeploy/internal/logger"
)

// CompletionTriggerEvents re-invoke the orchestrator when a throwaway
// group's deployment finishes, whatever the outcome
var CompletionTriggerEvents = []string{"DeploymentSuccess", "DeploymentFailure", "DeploymentStop"}

// Episode records everything one isolation did, so it can be undone.
// Obligation flags are set before the mutation they guard is issued.
type Episode struct {
	InstanceID      string         `json:"instance_id"`
	Suffix          string         `json:"suffix,omitempty"`
	Strategy        Strategy       `json:"strategy"`
	ApplicationName string         `json:"application_name"`
	BaseGroupName   string         `json:"base_group_name"`
	GroupName       string         `json:"group_name,omitempty"`
	Tag             Tag            `json:"tag"`
	OriginalTargets *TargetingSpec `json:"original_targets,omitempty"`
	Revision        Revision       `json:"revision"`
	DeploymentID    string         `json:"deployment_id,omitempty"`

	TagCreated   bool `json:"tag_created"`
	Retargeted   bool `json:"retargeted"`
	GroupCreated bool `json:"group_created"`
}

// Pending reports whether anything still has to be undone
func (e *Episode) Pending() bool {
	return e != nil && (e.TagCreated || e.Retargeted || e.GroupCreated)
}

// LogFields returns identifying fields for logs and remediation messages
func (e *Episode) LogFields() []interface{} {
	return []interface{}{
		"instance_id", e.InstanceID,
		"suffix", e.Suffix,
		"strategy", string(e.Strategy),
		"application", e.ApplicationName,
		"deployment_group", e.GroupName,
		"tag_key", e.Tag.Key,
	}
}

// Isolator narrows a deployment target down to a single instance
type Isolator struct {
	inventory Inventory
	control   ControlPlane
	settings  Settings
	logger    *logger.Logger
}

// NewIsolator creates a new isolation manager
func NewIsolator(inventory Inventory, control ControlPlane, settings Settings) *Isolator {
	return &Isolator{
		inventory: inventory,
		control:   control,
		settings:  settings,
		logger:    logger.NewDefault("isolation-manager"),
	}
}

// Isolate makes instanceID the only target of a deployment group using the
// configured strategy. The returned episode is never nil, and must be
// handed to Restorer.Restore whether or not an error is returned.
func (m *Isolator) Isolate(ctx context.Context, instanceID string) (*Episode, error) {
	s := m.settings
	ep := &Episode{
		InstanceID:      instanceID,
		Strategy:        s.Strategy,
		ApplicationName: s.ApplicationName,
		BaseGroupName:   s.BaseGroupName,
		GroupName:       s.BaseGroupName,
	}

	base, err := m.control.GetDeploymentGroup(ctx, s.ApplicationName, s.BaseGroupName)
	if err != nil {
		return ep, stepErr(StepGetDeploymentGroup, err)
	}
	if base.Revision.IsZero() {
		return ep, stepErr(StepGetDeploymentGroup,
			fmt.Errorf("%w: %s/%s", ErrNoRevision, s.ApplicationName, s.BaseGroupName))
	}

	original := base.Targets.Clone()
	ep.OriginalTargets = &original
	ep.Revision = base.Revision

	ep.Suffix = s.newSuffix()
	ep.Tag = s.Convention.EphemeralTag(s.Strategy, ep.Suffix)
	if s.Strategy == StrategyEphemeralGroup {
		ep.GroupName = s.Convention.GroupName(s.BaseGroupName, ep.Suffix)
	}

	m.logger.LogEpisodeStart(instanceID, ep.Suffix, string(s.Strategy), ep.GroupName)

	ep.TagCreated = true
	if err := m.inventory.CreateTag(ctx, instanceID, ep.Tag); err != nil {
		return ep, stepErr(StepCreateTag, err)
	}

	if err := m.waitTagVisible(ctx, ep); err != nil {
		return ep, stepErr(StepWaitTag, err)
	}

	switch s.Strategy {
	case StrategyEphemeralGroup:
		err = m.createGroup(ctx, ep, base)
	default:
		err = m.retarget(ctx, ep)
	}
	if err != nil {
		return ep, err
	}

	m.logger.Info("Instance isolated", ep.LogFields()...)
	return ep, nil
}

// waitTagVisible re-reads the instance until the ephemeral tag shows up
func (m *Isolator) waitTagVisible(ctx context.Context, ep *Episode) error {
	attempt := 0
	_, err := WaitUntil(ctx, m.settings.TagVisibility, func(ctx context.Context) (PollResult[struct{}], error) {
		attempt++
		inst, err := m.inventory.GetInstance(ctx, ep.InstanceID)
		if err != nil {
			return Retry[struct{}](), err
		}
		if inst.HasTag(ep.Tag) {
			return Done(struct{}{}), nil
		}
		m.logger.Debug("Ephemeral tag not visible yet",
			"instance_id", ep.InstanceID,
			"tag_key", ep.Tag.Key,
			"attempt", attempt)
		return Retry[struct{}](), nil
	})
	return err
}

func (m *Isolator) retarget(ctx context.Context, ep *Episode) error {
	ep.Retargeted = true
	err := m.control.UpdateDeploymentGroupTargets(ctx, ep.ApplicationName, ep.GroupName, SingleTagTargets(ep.Tag))
	return stepErr(StepRetargetGroup, err)
}

func (m *Isolator) createGroup(ctx context.Context, ep *Episode, base *DeploymentGroup) error {
	group := DeploymentGroup{
		ApplicationName:      ep.ApplicationName,
		Name:                 ep.GroupName,
		ServiceRoleARN:       base.ServiceRoleARN,
		DeploymentConfigName: base.DeploymentConfigName,
		Targets:              SingleTagTargets(ep.Tag),
	}
	if m.settings.NotificationTopicARN != "" {
		group.Triggers = []Trigger{{
			Name:      m.settings.Convention.TriggerName(ep.Suffix),
			TargetARN: m.settings.NotificationTopicARN,
			Events:    CompletionTriggerEvents,
		}}
	}

	ep.GroupCreated = true
	return stepErr(StepCreateGroup, m.control.CreateDeploymentGroup(ctx, group))
}

// Clone returns a deep copy of the spec. Nil and empty slices are kept
// distinct so the restored spec matches the original exactly.
func (t TargetingSpec) Clone() TargetingSpec {
	out := TargetingSpec{
		EC2TagFilters:        cloneFilters(t.EC2TagFilters),
		OnPremisesTagFilters: cloneFilters(t.OnPremisesTagFilters),
	}
	if t.AutoScalingGroups != nil {
		out.AutoScalingGroups = append([]string{}, t.AutoScalingGroups...)
	}
	if t.EC2TagSet != nil {
		out.EC2TagSet = make([][]TagFilter, len(t.EC2TagSet))
		for i, set := range t.EC2TagSet {
			out.EC2TagSet[i] = cloneFilters(set)
		}
	}
	return out
}

func cloneFilters(in []TagFilter) []TagFilter {
	if in == nil {
		return nil
	}
	return append([]TagFilter{}, in...)
}
