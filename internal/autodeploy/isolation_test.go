package autodeploy_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"codedeploy-autodeploy/internal/autodeploy"
	"codedeploy-autodeploy/internal/autodeploy/fake"
)

func TestIsolate_Retarget(t *testing.T) {
	inv := fake.NewInventory(demoInstance())
	cp := fake.NewControlPlane(demoGroup())
	iso := autodeploy.NewIsolator(inv, cp, testSettings(autodeploy.StrategyRetarget))

	ep, err := iso.Isolate(context.Background(), "i-001")
	if err != nil {
		t.Fatalf("Isolate() error: %v", err)
	}

	wantTag := autodeploy.Tag{Key: "AutoDeploy-" + testSuffix, Value: "True"}
	if ep.Tag != wantTag {
		t.Errorf("Expected tag %+v, got %+v", wantTag, ep.Tag)
	}
	if ep.GroupName != testGroup {
		t.Errorf("Expected group %s, got %s", testGroup, ep.GroupName)
	}
	if !ep.TagCreated || !ep.Retargeted || ep.GroupCreated {
		t.Errorf("Unexpected obligations: tag=%v retargeted=%v group=%v", ep.TagCreated, ep.Retargeted, ep.GroupCreated)
	}
	if !reflect.DeepEqual(*ep.OriginalTargets, demoTargets) {
		t.Errorf("Expected original targets %+v, got %+v", demoTargets, *ep.OriginalTargets)
	}
	if !reflect.DeepEqual(ep.Revision, demoRevision) {
		t.Errorf("Expected revision to be saved")
	}

	if !inv.HasTagKey("i-001", wantTag.Key) {
		t.Error("Expected ephemeral tag on the instance")
	}
	g := cp.Group(testApp, testGroup)
	if !reflect.DeepEqual(g.Targets, autodeploy.SingleTagTargets(wantTag)) {
		t.Errorf("Expected group to target only the ephemeral tag, got %+v", g.Targets)
	}
	if len(cp.CreatedGroups) != 0 {
		t.Errorf("Retarget strategy must not create groups, got %d", len(cp.CreatedGroups))
	}
}

func TestIsolate_EphemeralGroup(t *testing.T) {
	inv := fake.NewInventory(demoInstance())
	cp := fake.NewControlPlane(demoGroup())
	iso := autodeploy.NewIsolator(inv, cp, testSettings(autodeploy.StrategyEphemeralGroup))

	ep, err := iso.Isolate(context.Background(), "i-001")
	if err != nil {
		t.Fatalf("Isolate() error: %v", err)
	}

	wantName := testGroup + "-" + testSuffix
	if ep.GroupName != wantName {
		t.Errorf("Expected group name %s, got %s", wantName, ep.GroupName)
	}
	if !ep.TagCreated || ep.Retargeted || !ep.GroupCreated {
		t.Errorf("Unexpected obligations: tag=%v retargeted=%v group=%v", ep.TagCreated, ep.Retargeted, ep.GroupCreated)
	}
	if len(cp.Updates) != 0 {
		t.Errorf("Ephemeral strategy must not touch the base group, got %d updates", len(cp.Updates))
	}
	if len(cp.CreatedGroups) != 1 {
		t.Fatalf("Expected one created group, got %d", len(cp.CreatedGroups))
	}

	created := cp.CreatedGroups[0]
	if created.ServiceRoleARN != demoGroup().ServiceRoleARN {
		t.Errorf("Expected service role to be inherited, got %s", created.ServiceRoleARN)
	}
	if created.DeploymentConfigName != "CodeDeployDefault.OneAtATime" {
		t.Errorf("Expected deployment config to be inherited, got %s", created.DeploymentConfigName)
	}
	wantTag := autodeploy.Tag{Key: "DeploymentGroup-" + testSuffix, Value: "True-" + testSuffix}
	if !reflect.DeepEqual(created.Targets, autodeploy.SingleTagTargets(wantTag)) {
		t.Errorf("Unexpected targets %+v", created.Targets)
	}
	if len(created.Triggers) != 1 {
		t.Fatalf("Expected one completion trigger, got %d", len(created.Triggers))
	}
	trig := created.Triggers[0]
	if trig.Name != "AutoDeploy-"+testSuffix {
		t.Errorf("Unexpected trigger name %s", trig.Name)
	}
	if !reflect.DeepEqual(trig.Events, autodeploy.CompletionTriggerEvents) {
		t.Errorf("Unexpected trigger events %v", trig.Events)
	}

	base := cp.Group(testApp, testGroup)
	if !reflect.DeepEqual(base.Targets, demoTargets) {
		t.Errorf("Base group targeting changed: %+v", base.Targets)
	}
}

func TestIsolate_WaitsForTagVisibility(t *testing.T) {
	inv := fake.NewInventory(demoInstance())
	inv.HiddenReads = 3
	cp := fake.NewControlPlane(demoGroup())
	iso := autodeploy.NewIsolator(inv, cp, testSettings(autodeploy.StrategyRetarget))

	if _, err := iso.Isolate(context.Background(), "i-001"); err != nil {
		t.Fatalf("Isolate() error: %v", err)
	}
	if inv.Gets != 4 {
		t.Errorf("Expected 4 describe calls, got %d", inv.Gets)
	}
}

func TestIsolate_TagNeverVisible(t *testing.T) {
	inv := fake.NewInventory(demoInstance())
	inv.HiddenReads = 100
	cp := fake.NewControlPlane(demoGroup())
	iso := autodeploy.NewIsolator(inv, cp, testSettings(autodeploy.StrategyRetarget))

	ep, err := iso.Isolate(context.Background(), "i-001")
	if !errors.Is(err, autodeploy.ErrConvergenceTimeout) {
		t.Fatalf("Expected ErrConvergenceTimeout, got %v", err)
	}
	if autodeploy.FailedStep(err) != autodeploy.StepWaitTag {
		t.Errorf("Expected step %s, got %s", autodeploy.StepWaitTag, autodeploy.FailedStep(err))
	}
	if !ep.TagCreated || ep.Retargeted {
		t.Errorf("Expected only the tag obligation, got tag=%v retargeted=%v", ep.TagCreated, ep.Retargeted)
	}
	if len(cp.Updates) != 0 {
		t.Error("Group must not be retargeted before the tag is visible")
	}
}

func TestIsolate_NoRevision(t *testing.T) {
	g := demoGroup()
	g.Revision = autodeploy.Revision{}
	inv := fake.NewInventory(demoInstance())
	cp := fake.NewControlPlane(g)
	iso := autodeploy.NewIsolator(inv, cp, testSettings(autodeploy.StrategyRetarget))

	ep, err := iso.Isolate(context.Background(), "i-001")
	if !errors.Is(err, autodeploy.ErrNoRevision) {
		t.Fatalf("Expected ErrNoRevision, got %v", err)
	}
	if ep.Pending() {
		t.Error("Expected no obligations when the group has no revision")
	}
	if inv.TotalCreates() != 0 || cp.MutationCount() != 0 {
		t.Error("Expected no mutations")
	}
}

func TestIsolate_PartialFailures(t *testing.T) {
	tests := []struct {
		name         string
		strategy     autodeploy.Strategy
		setup        func(*fake.Inventory, *fake.ControlPlane)
		step         string
		tagCreated   bool
		retargeted   bool
		groupCreated bool
	}{
		{
			name:     "get group fails",
			strategy: autodeploy.StrategyRetarget,
			setup:    func(inv *fake.Inventory, cp *fake.ControlPlane) { cp.GetGroupErr = fake.ErrRemote },
			step:     autodeploy.StepGetDeploymentGroup,
		},
		{
			name:       "create tag fails",
			strategy:   autodeploy.StrategyRetarget,
			setup:      func(inv *fake.Inventory, cp *fake.ControlPlane) { inv.CreateTagErr = fake.ErrRemote },
			step:       autodeploy.StepCreateTag,
			tagCreated: true,
		},
		{
			name:       "retarget fails",
			strategy:   autodeploy.StrategyRetarget,
			setup:      func(inv *fake.Inventory, cp *fake.ControlPlane) { cp.UpdateErr = fake.ErrRemote },
			step:       autodeploy.StepRetargetGroup,
			tagCreated: true,
			retargeted: true,
		},
		{
			name:         "create group fails",
			strategy:     autodeploy.StrategyEphemeralGroup,
			setup:        func(inv *fake.Inventory, cp *fake.ControlPlane) { cp.CreateGroupErr = fake.ErrRemote },
			step:         autodeploy.StepCreateGroup,
			tagCreated:   true,
			groupCreated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := fake.NewInventory(demoInstance())
			cp := fake.NewControlPlane(demoGroup())
			tt.setup(inv, cp)
			iso := autodeploy.NewIsolator(inv, cp, testSettings(tt.strategy))

			ep, err := iso.Isolate(context.Background(), "i-001")
			if !errors.Is(err, fake.ErrRemote) {
				t.Fatalf("Expected remote error, got %v", err)
			}
			if got := autodeploy.FailedStep(err); got != tt.step {
				t.Errorf("Expected step %s, got %s", tt.step, got)
			}
			if ep == nil {
				t.Fatal("Expected an episode even on failure")
			}
			if ep.TagCreated != tt.tagCreated || ep.Retargeted != tt.retargeted || ep.GroupCreated != tt.groupCreated {
				t.Errorf("Obligations tag=%v retargeted=%v group=%v, want %v %v %v",
					ep.TagCreated, ep.Retargeted, ep.GroupCreated, tt.tagCreated, tt.retargeted, tt.groupCreated)
			}
		})
	}
}

func TestTargetingSpec_Clone(t *testing.T) {
	orig := autodeploy.TargetingSpec{
		EC2TagSet:         [][]autodeploy.TagFilter{{{Key: "a", Value: "1", Type: autodeploy.TagFilterKeyAndValue}}},
		AutoScalingGroups: []string{},
	}

	c := orig.Clone()
	if !reflect.DeepEqual(c, orig) {
		t.Fatalf("Clone() = %+v, want %+v", c, orig)
	}
	if c.AutoScalingGroups == nil {
		t.Error("Expected empty slice to stay non-nil")
	}
	if c.EC2TagFilters != nil {
		t.Error("Expected nil slice to stay nil")
	}

	c.EC2TagSet[0][0].Key = "changed"
	if orig.EC2TagSet[0][0].Key != "a" {
		t.Error("Clone shares memory with the original")
	}
}
