package autodeploy

import (
	"context"
	"encoding/json"
)

// Tag is a single EC2 instance tag
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Instance is the subset of an EC2 instance the orchestrator reads
type Instance struct {
	ID     string `json:"id"`
	Region string `json:"region"`
	State  string `json:"state"`
	Tags   []Tag  `json:"tags"`
}

// HasTag reports whether the instance carries exactly the given key and value
func (i *Instance) HasTag(tag Tag) bool {
	if i == nil {
		return false
	}
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TagFilterType mirrors the CodeDeploy tag filter match type
type TagFilterType string

const (
	TagFilterKeyOnly     TagFilterType = "KEY_ONLY"
	TagFilterValueOnly   TagFilterType = "VALUE_ONLY"
	TagFilterKeyAndValue TagFilterType = "KEY_AND_VALUE"
)

// TagFilter is one entry of a deployment group's tag targeting
type TagFilter struct {
	Key   string        `json:"key,omitempty"`
	Value string        `json:"value,omitempty"`
	Type  TagFilterType `json:"type,omitempty"`
}

// TargetingSpec describes which instances a deployment group deploys to.
// CodeDeploy treats the fields as mutually exclusive; whichever were set
// originally must be written back unchanged.
type TargetingSpec struct {
	EC2TagFilters        []TagFilter   `json:"ec2_tag_filters,omitempty"`
	EC2TagSet            [][]TagFilter `json:"ec2_tag_set,omitempty"`
	OnPremisesTagFilters []TagFilter   `json:"on_premises_tag_filters,omitempty"`
	AutoScalingGroups    []string      `json:"auto_scaling_groups,omitempty"`
}

// SingleTagTargets returns a spec that targets only instances carrying tag
func SingleTagTargets(tag Tag) TargetingSpec {
	return TargetingSpec{
		EC2TagFilters: []TagFilter{{
			Key:   tag.Key,
			Value: tag.Value,
			Type:  TagFilterKeyAndValue,
		}},
	}
}

// Revision is an opaque reference to the artifact bundle a group deploys.
// It is copied from a group onto a deployment without interpretation.
type Revision struct {
	Type     string          `json:"type,omitempty"`
	Location json.RawMessage `json:"location,omitempty"`
}

// IsZero reports whether the group had no revision recorded
func (r Revision) IsZero() bool {
	return r.Type == "" && len(r.Location) == 0
}

// Trigger is a deployment group notification configuration
type Trigger struct {
	Name      string   `json:"name"`
	TargetARN string   `json:"target_arn"`
	Events    []string `json:"events"`
}

// DeploymentGroup is the control-plane view of a deployment group
type DeploymentGroup struct {
	ApplicationName      string        `json:"application_name"`
	Name                 string        `json:"name"`
	ServiceRoleARN       string        `json:"service_role_arn,omitempty"`
	DeploymentConfigName string        `json:"deployment_config_name,omitempty"`
	Targets              TargetingSpec `json:"targets"`
	Revision             Revision      `json:"revision"`
	Triggers             []Trigger     `json:"triggers,omitempty"`
}

// DeploymentStatus is the control-plane lifecycle state of a deployment
type DeploymentStatus string

const (
	DeploymentCreated    DeploymentStatus = "Created"
	DeploymentQueued     DeploymentStatus = "Queued"
	DeploymentInProgress DeploymentStatus = "InProgress"
	DeploymentBaking     DeploymentStatus = "Baking"
	DeploymentReady      DeploymentStatus = "Ready"
	DeploymentSucceeded  DeploymentStatus = "Succeeded"
	DeploymentFailed     DeploymentStatus = "Failed"
	DeploymentStopped    DeploymentStatus = "Stopped"
)

// ActiveDeploymentStatuses are the statuses of deployments that have not finished
var ActiveDeploymentStatuses = []DeploymentStatus{
	DeploymentCreated,
	DeploymentQueued,
	DeploymentInProgress,
	DeploymentBaking,
	DeploymentReady,
}

// IsTerminal reports whether no further transitions are expected
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentSucceeded, DeploymentFailed, DeploymentStopped:
		return true
	}
	return false
}

// DeploymentInfo is the control-plane view of a single deployment
type DeploymentInfo struct {
	ID              string           `json:"id"`
	ApplicationName string           `json:"application_name"`
	GroupName       string           `json:"group_name"`
	Status          DeploymentStatus `json:"status"`
	Creator         string           `json:"creator,omitempty"`
	Description     string           `json:"description,omitempty"`
}

// DeploymentAttempt is the tracker's record of one create-deployment call
type DeploymentAttempt struct {
	DeploymentID  string           `json:"deployment_id,omitempty"`
	State         DeploymentStatus `json:"state,omitempty"`
	LimitExceeded bool             `json:"limit_exceeded"`
}

// Inventory is the compute inventory service the orchestrator needs
type Inventory interface {
	GetInstance(ctx context.Context, instanceID string) (*Instance, error)
	CreateTag(ctx context.Context, instanceID string, tag Tag) error
	DeleteTag(ctx context.Context, instanceID string, tag Tag) error
	ListInstancesByTag(ctx context.Context, tag Tag) ([]Instance, error)
	TerminateInstance(ctx context.Context, instanceID string, dryRun bool) error
}

// ControlPlane is the deployment control-plane service the orchestrator needs
type ControlPlane interface {
	GetDeploymentGroup(ctx context.Context, application, group string) (*DeploymentGroup, error)
	UpdateDeploymentGroupTargets(ctx context.Context, application, group string, targets TargetingSpec) error
	CreateDeploymentGroup(ctx context.Context, group DeploymentGroup) error
	DeleteDeploymentGroup(ctx context.Context, application, group string) error
	CreateDeployment(ctx context.Context, application, group string, revision Revision, description string) (string, error)
	GetDeployment(ctx context.Context, deploymentID string) (*DeploymentInfo, error)
	ListDeployments(ctx context.Context, application, group string, statuses []DeploymentStatus) ([]string, error)
	BatchGetDeployments(ctx context.Context, deploymentIDs []string) ([]DeploymentInfo, error)
}
