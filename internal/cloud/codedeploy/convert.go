package codedeploy

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy/types"

	"codedeploy-autodeploy/internal/autodeploy"
)

func toGroup(info *types.DeploymentGroupInfo) (*autodeploy.DeploymentGroup, error) {
	g := &autodeploy.DeploymentGroup{
		ApplicationName:      aws.ToString(info.ApplicationName),
		Name:                 aws.ToString(info.DeploymentGroupName),
		ServiceRoleARN:       aws.ToString(info.ServiceRoleArn),
		DeploymentConfigName: aws.ToString(info.DeploymentConfigName),
		Targets:              toTargets(info),
	}

	if info.TargetRevision != nil {
		rev, err := toRevision(info.TargetRevision)
		if err != nil {
			return nil, err
		}
		g.Revision = rev
	}

	for _, tc := range info.TriggerConfigurations {
		trig := autodeploy.Trigger{
			Name:      aws.ToString(tc.TriggerName),
			TargetARN: aws.ToString(tc.TriggerTargetArn),
		}
		for _, e := range tc.TriggerEvents {
			trig.Events = append(trig.Events, string(e))
		}
		g.Triggers = append(g.Triggers, trig)
	}
	return g, nil
}

func toTargets(info *types.DeploymentGroupInfo) autodeploy.TargetingSpec {
	var spec autodeploy.TargetingSpec

	if info.Ec2TagFilters != nil {
		spec.EC2TagFilters = make([]autodeploy.TagFilter, 0, len(info.Ec2TagFilters))
		for _, f := range info.Ec2TagFilters {
			spec.EC2TagFilters = append(spec.EC2TagFilters, fromEC2Filter(f))
		}
	}

	if info.Ec2TagSet != nil && info.Ec2TagSet.Ec2TagSetList != nil {
		spec.EC2TagSet = make([][]autodeploy.TagFilter, 0, len(info.Ec2TagSet.Ec2TagSetList))
		for _, set := range info.Ec2TagSet.Ec2TagSetList {
			filters := make([]autodeploy.TagFilter, 0, len(set))
			for _, f := range set {
				filters = append(filters, fromEC2Filter(f))
			}
			spec.EC2TagSet = append(spec.EC2TagSet, filters)
		}
	}

	if info.OnPremisesInstanceTagFilters != nil {
		spec.OnPremisesTagFilters = make([]autodeploy.TagFilter, 0, len(info.OnPremisesInstanceTagFilters))
		for _, f := range info.OnPremisesInstanceTagFilters {
			spec.OnPremisesTagFilters = append(spec.OnPremisesTagFilters, autodeploy.TagFilter{
				Key:   aws.ToString(f.Key),
				Value: aws.ToString(f.Value),
				Type:  autodeploy.TagFilterType(f.Type),
			})
		}
	}

	if info.AutoScalingGroups != nil {
		spec.AutoScalingGroups = make([]string, 0, len(info.AutoScalingGroups))
		for _, asg := range info.AutoScalingGroups {
			spec.AutoScalingGroups = append(spec.AutoScalingGroups, aws.ToString(asg.Name))
		}
	}
	return spec
}

func fromEC2Filter(f types.EC2TagFilter) autodeploy.TagFilter {
	return autodeploy.TagFilter{
		Key:   aws.ToString(f.Key),
		Value: aws.ToString(f.Value),
		Type:  autodeploy.TagFilterType(f.Type),
	}
}

func toEC2Filters(in []autodeploy.TagFilter) []types.EC2TagFilter {
	out := make([]types.EC2TagFilter, 0, len(in))
	for _, f := range in {
		out = append(out, types.EC2TagFilter{
			Key:   optional(f.Key),
			Value: optional(f.Value),
			Type:  types.EC2TagFilterType(f.Type),
		})
	}
	return out
}

// targetingFields holds every targeting field of an update. Each is a
// non-nil slice, since CodeDeploy leaves nil fields unchanged and clears
// empty ones; the fields are mutually exclusive so all must be written.
type targetingFields struct {
	ec2TagFilters     []types.EC2TagFilter
	ec2TagSet         *types.EC2TagSet
	onPremFilters     []types.TagFilter
	autoScalingGroups []string
}

func fromTargets(spec autodeploy.TargetingSpec) targetingFields {
	f := targetingFields{
		ec2TagFilters:     toEC2Filters(spec.EC2TagFilters),
		ec2TagSet:         &types.EC2TagSet{Ec2TagSetList: make([][]types.EC2TagFilter, 0, len(spec.EC2TagSet))},
		onPremFilters:     make([]types.TagFilter, 0, len(spec.OnPremisesTagFilters)),
		autoScalingGroups: append(make([]string, 0, len(spec.AutoScalingGroups)), spec.AutoScalingGroups...),
	}
	for _, set := range spec.EC2TagSet {
		f.ec2TagSet.Ec2TagSetList = append(f.ec2TagSet.Ec2TagSetList, toEC2Filters(set))
	}
	for _, t := range spec.OnPremisesTagFilters {
		f.onPremFilters = append(f.onPremFilters, types.TagFilter{
			Key:   optional(t.Key),
			Value: optional(t.Value),
			Type:  types.TagFilterType(t.Type),
		})
	}
	return f
}

// toRevision captures the SDK revision location as opaque JSON
func toRevision(loc *types.RevisionLocation) (autodeploy.Revision, error) {
	raw, err := json.Marshal(loc)
	if err != nil {
		return autodeploy.Revision{}, fmt.Errorf("failed to encode revision: %w", err)
	}
	return autodeploy.Revision{Type: string(loc.RevisionType), Location: raw}, nil
}

func fromRevision(rev autodeploy.Revision) (*types.RevisionLocation, error) {
	var loc types.RevisionLocation
	if err := json.Unmarshal(rev.Location, &loc); err != nil {
		return nil, fmt.Errorf("failed to decode revision: %w", err)
	}
	if loc.RevisionType == "" {
		loc.RevisionType = types.RevisionLocationType(rev.Type)
	}
	return &loc, nil
}

func toDeploymentInfo(info types.DeploymentInfo) autodeploy.DeploymentInfo {
	return autodeploy.DeploymentInfo{
		ID:              aws.ToString(info.DeploymentId),
		ApplicationName: aws.ToString(info.ApplicationName),
		GroupName:       aws.ToString(info.DeploymentGroupName),
		Status:          autodeploy.DeploymentStatus(info.Status),
		Creator:         string(info.Creator),
		Description:     aws.ToString(info.Description),
	}
}

func toTriggerConfigs(triggers []autodeploy.Trigger) []types.TriggerConfig {
	if len(triggers) == 0 {
		return nil
	}
	out := make([]types.TriggerConfig, 0, len(triggers))
	for _, t := range triggers {
		tc := types.TriggerConfig{
			TriggerName:      aws.String(t.Name),
			TriggerTargetArn: aws.String(t.TargetARN),
		}
		for _, e := range t.Events {
			tc.TriggerEvents = append(tc.TriggerEvents, types.TriggerEventType(e))
		}
		out = append(out, tc)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
