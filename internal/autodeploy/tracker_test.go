package autodeploy_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"codedeploy-autodeploy/internal/autodeploy"
	"codedeploy-autodeploy/internal/autodeploy/fake"
)

func isolatedEpisode() *autodeploy.Episode {
	targets := demoTargets.Clone()
	return &autodeploy.Episode{
		InstanceID:      "i-001",
		Suffix:          testSuffix,
		Strategy:        autodeploy.StrategyRetarget,
		ApplicationName: testApp,
		BaseGroupName:   testGroup,
		GroupName:       testGroup,
		Tag:             autodeploy.Tag{Key: "AutoDeploy-" + testSuffix, Value: "True"},
		OriginalTargets: &targets,
		Revision:        demoRevision,
		TagCreated:      true,
		Retargeted:      true,
	}
}

func TestTrigger_Started(t *testing.T) {
	cp := fake.NewControlPlane(demoGroup())
	cp.StatusSequence = []autodeploy.DeploymentStatus{
		autodeploy.DeploymentCreated,
		autodeploy.DeploymentCreated,
		autodeploy.DeploymentInProgress,
	}
	tr := autodeploy.NewTracker(cp, testSettings(autodeploy.StrategyRetarget))
	ep := isolatedEpisode()

	attempt, err := tr.Trigger(context.Background(), ep)
	if err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	if attempt.DeploymentID == "" || attempt.DeploymentID != ep.DeploymentID {
		t.Errorf("Expected deployment id on attempt and episode, got %q and %q", attempt.DeploymentID, ep.DeploymentID)
	}
	if attempt.State != autodeploy.DeploymentInProgress {
		t.Errorf("Expected state InProgress, got %s", attempt.State)
	}
	if attempt.LimitExceeded {
		t.Error("Expected LimitExceeded false")
	}
	if cp.StatusCalls != 3 {
		t.Errorf("Expected 3 status reads, got %d", cp.StatusCalls)
	}
	if !reflect.DeepEqual(cp.DeployRevisions[0], demoRevision) {
		t.Error("Expected the saved revision to be deployed")
	}
	if cp.ListCalls != 1 {
		t.Errorf("Expected one preflight listing, got %d", cp.ListCalls)
	}
}

func TestTrigger_FinishedBeforeSeenRunning(t *testing.T) {
	tests := []struct {
		name   string
		status autodeploy.DeploymentStatus
	}{
		{"failed", autodeploy.DeploymentFailed},
		{"stopped", autodeploy.DeploymentStopped},
		{"succeeded", autodeploy.DeploymentSucceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := fake.NewControlPlane(demoGroup())
			cp.StatusSequence = []autodeploy.DeploymentStatus{autodeploy.DeploymentCreated, tt.status}
			tr := autodeploy.NewTracker(cp, testSettings(autodeploy.StrategyRetarget))

			attempt, err := tr.Trigger(context.Background(), isolatedEpisode())
			if err != nil {
				t.Fatalf("Trigger() error: %v", err)
			}
			if attempt.State != tt.status {
				t.Errorf("Expected state %s, got %s", tt.status, attempt.State)
			}
			if !attempt.State.IsTerminal() {
				t.Errorf("Expected %s to be terminal", attempt.State)
			}
			if cp.StatusCalls != 2 {
				t.Errorf("Expected polling to stop at the terminal status, got %d reads", cp.StatusCalls)
			}
		})
	}
}

func TestDeploymentStatus_IsTerminal(t *testing.T) {
	for _, s := range autodeploy.ActiveDeploymentStatuses {
		if s.IsTerminal() {
			t.Errorf("Expected active status %s not to be terminal", s)
		}
	}
}

func TestTrigger_ActiveDeploymentsDoNotBlock(t *testing.T) {
	cp := fake.NewControlPlane(demoGroup())
	cp.AddDeployment(autodeploy.DeploymentInfo{
		ID:              "d-EXISTING",
		ApplicationName: testApp,
		GroupName:       testGroup,
		Status:          autodeploy.DeploymentInProgress,
		Creator:         "user",
	})
	tr := autodeploy.NewTracker(cp, testSettings(autodeploy.StrategyRetarget))

	if _, err := tr.Trigger(context.Background(), isolatedEpisode()); err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	if len(cp.CreatedDeploys) != 1 {
		t.Errorf("Expected deployment to be created, got %d", len(cp.CreatedDeploys))
	}
}

func TestTrigger_LimitExceeded(t *testing.T) {
	cp := fake.NewControlPlane(demoGroup())
	cp.CreateDeployErr = fmt.Errorf("create deployment: %w", autodeploy.ErrDeploymentLimitExceeded)
	tr := autodeploy.NewTracker(cp, testSettings(autodeploy.StrategyRetarget))

	attempt, err := tr.Trigger(context.Background(), isolatedEpisode())
	if !errors.Is(err, autodeploy.ErrDeploymentLimitExceeded) {
		t.Fatalf("Expected ErrDeploymentLimitExceeded, got %v", err)
	}
	if attempt == nil || !attempt.LimitExceeded {
		t.Fatalf("Expected attempt with LimitExceeded, got %+v", attempt)
	}
	if attempt.DeploymentID != "" {
		t.Errorf("Expected no deployment id, got %s", attempt.DeploymentID)
	}
	if cp.StatusCalls != 0 {
		t.Errorf("Expected no status polling, got %d calls", cp.StatusCalls)
	}
}

func TestTrigger_CreateFails(t *testing.T) {
	cp := fake.NewControlPlane(demoGroup())
	cp.CreateDeployErr = fake.ErrRemote
	tr := autodeploy.NewTracker(cp, testSettings(autodeploy.StrategyRetarget))

	attempt, err := tr.Trigger(context.Background(), isolatedEpisode())
	if !errors.Is(err, fake.ErrRemote) {
		t.Fatalf("Expected remote error, got %v", err)
	}
	if attempt != nil {
		t.Errorf("Expected no attempt, got %+v", attempt)
	}
	if autodeploy.FailedStep(err) != autodeploy.StepCreateDeployment {
		t.Errorf("Unexpected step %s", autodeploy.FailedStep(err))
	}
}

func TestTrigger_NeverLeavesCreated(t *testing.T) {
	cp := fake.NewControlPlane(demoGroup())
	cp.StatusSequence = []autodeploy.DeploymentStatus{autodeploy.DeploymentCreated}
	tr := autodeploy.NewTracker(cp, testSettings(autodeploy.StrategyRetarget))
	ep := isolatedEpisode()

	attempt, err := tr.Trigger(context.Background(), ep)
	if !errors.Is(err, autodeploy.ErrConvergenceTimeout) {
		t.Fatalf("Expected ErrConvergenceTimeout, got %v", err)
	}
	if attempt == nil || attempt.DeploymentID == "" {
		t.Fatalf("Expected the created deployment id to be reported, got %+v", attempt)
	}
	if ep.DeploymentID != attempt.DeploymentID {
		t.Error("Expected episode to record the deployment id")
	}
	if cp.StatusCalls != 5 {
		t.Errorf("Expected 5 status reads, got %d", cp.StatusCalls)
	}
}

func TestTrigger_StatusReadFails(t *testing.T) {
	cp := fake.NewControlPlane(demoGroup())
	cp.GetDeployErr = fake.ErrRemote
	tr := autodeploy.NewTracker(cp, testSettings(autodeploy.StrategyRetarget))

	_, err := tr.Trigger(context.Background(), isolatedEpisode())
	if !errors.Is(err, fake.ErrRemote) {
		t.Fatalf("Expected remote error, got %v", err)
	}
	if autodeploy.FailedStep(err) != autodeploy.StepWaitDeployment {
		t.Errorf("Unexpected step %s", autodeploy.FailedStep(err))
	}
}

func TestSettings_Owns(t *testing.T) {
	s := testSettings(autodeploy.StrategyRetarget)
	desc := autodeploy.DescriptionPrefix + testSuffix + " for instance i-001"

	tests := []struct {
		name string
		info autodeploy.DeploymentInfo
		want bool
	}{
		{"base group", autodeploy.DeploymentInfo{ApplicationName: testApp, GroupName: testGroup, Description: desc}, true},
		{"ephemeral group", autodeploy.DeploymentInfo{ApplicationName: testApp, GroupName: testGroup + "-" + testSuffix, Description: desc}, true},
		{"other application", autodeploy.DeploymentInfo{ApplicationName: "Other", GroupName: testGroup, Description: desc}, false},
		{"other group", autodeploy.DeploymentInfo{ApplicationName: testApp, GroupName: "Prod", Description: desc}, false},
		{"pipeline deployment", autodeploy.DeploymentInfo{ApplicationName: testApp, GroupName: testGroup, Description: "release 42"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Owns(tt.info); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
