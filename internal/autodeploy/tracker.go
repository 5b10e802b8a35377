package autodeploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"codedeploy-autodeploy/internal/logger"
)

// DescriptionPrefix starts the description of every deployment this
// package creates
const DescriptionPrefix = "AutoDeploy "

// Tracker creates the deployment for an isolated target and waits for the
// control plane to pick it up
type Tracker struct {
	control  ControlPlane
	settings Settings
	logger   *logger.Logger
}

// NewTracker creates a new deployment trigger and tracker
func NewTracker(control ControlPlane, settings Settings) *Tracker {
	return &Tracker{
		control:  control,
		settings: settings,
		logger:   logger.NewDefault("deployment-tracker"),
	}
}

// Trigger deploys the episode's saved revision to its group and polls until
// the deployment leaves Created. A concurrency-limit rejection returns an
// attempt with LimitExceeded set together with ErrDeploymentLimitExceeded.
func (t *Tracker) Trigger(ctx context.Context, ep *Episode) (*DeploymentAttempt, error) {
	t.reportActiveDeployments(ctx, ep)

	description := fmt.Sprintf("%s%s for instance %s", DescriptionPrefix, ep.Suffix, ep.InstanceID)
	id, err := t.control.CreateDeployment(ctx, ep.ApplicationName, ep.GroupName, ep.Revision, description)
	if err != nil {
		if errors.Is(err, ErrDeploymentLimitExceeded) {
			t.logger.Warn("Control plane rejected deployment", append(ep.LogFields(), "error", err)...)
			return &DeploymentAttempt{LimitExceeded: true}, stepErr(StepCreateDeployment, err)
		}
		return nil, stepErr(StepCreateDeployment, err)
	}

	ep.DeploymentID = id
	attempt := &DeploymentAttempt{DeploymentID: id, State: DeploymentCreated}
	t.logger.LogDeploymentTriggered(id, ep.InstanceID, ep.GroupName)

	state, err := WaitUntil(ctx, t.settings.DeploymentStatus, func(ctx context.Context) (PollResult[DeploymentStatus], error) {
		info, err := t.control.GetDeployment(ctx, id)
		if err != nil {
			return Retry[DeploymentStatus](), err
		}
		if info.Status == DeploymentCreated || info.Status == "" {
			return Retry[DeploymentStatus](), nil
		}
		return Done(info.Status), nil
	})
	if err != nil {
		return attempt, stepErr(StepWaitDeployment, err)
	}

	attempt.State = state
	if state.IsTerminal() {
		t.logger.Warn("Deployment finished before it was seen running",
			"deployment_id", id,
			"status", string(state),
			"deployment_group", ep.GroupName)
		return attempt, nil
	}
	t.logger.Info("Deployment started",
		"deployment_id", id,
		"status", string(state),
		"deployment_group", ep.GroupName)
	return attempt, nil
}

// reportActiveDeployments logs deployments already running against the
// group. It never blocks the trigger; the control plane enforces limits.
func (t *Tracker) reportActiveDeployments(ctx context.Context, ep *Episode) {
	ids, err := t.control.ListDeployments(ctx, ep.ApplicationName, ep.GroupName, ActiveDeploymentStatuses)
	if err != nil {
		t.logger.Debug("Could not list active deployments", "deployment_group", ep.GroupName, "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	infos, err := t.control.BatchGetDeployments(ctx, ids)
	if err != nil {
		t.logger.Warn("Deployment group has active deployments",
			"deployment_group", ep.GroupName,
			"deployment_ids", ids)
		return
	}
	for _, info := range infos {
		t.logger.Warn("Deployment group has an active deployment",
			"deployment_group", ep.GroupName,
			"deployment_id", info.ID,
			"status", string(info.Status),
			"creator", info.Creator)
	}
}

// Owns reports whether info is a deployment this process created for the
// configured application, either on the base group or on one of its
// throwaway groups
func (s Settings) Owns(info DeploymentInfo) bool {
	if info.ApplicationName != s.ApplicationName || !strings.HasPrefix(info.Description, DescriptionPrefix) {
		return false
	}
	if info.GroupName == s.BaseGroupName {
		return true
	}
	_, err := s.Convention.SuffixFromGroupName(s.BaseGroupName, info.GroupName)
	return err == nil
}
