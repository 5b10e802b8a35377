package autodeploy_test

import (
	"time"

	"codedeploy-autodeploy/internal/autodeploy"
)

const (
	testApp    = "DemoApplication"
	testGroup  = "Demo-Tag-Ubuntu"
	testSuffix = "AB3K9QZ7P1X4Y"
)

var (
	demoTag      = autodeploy.Tag{Key: "Name", Value: "CodeDeployDemo-Tag-Ubuntu"}
	demoRevision = autodeploy.Revision{Type: "S3", Location: []byte(`{"S3Location":{"Bucket":"releases","Key":"app.zip"}}`)}
	demoTargets  = autodeploy.TargetingSpec{
		EC2TagFilters: []autodeploy.TagFilter{{Key: demoTag.Key, Value: demoTag.Value, Type: autodeploy.TagFilterKeyAndValue}},
	}
)

func demoGroup() autodeploy.DeploymentGroup {
	return autodeploy.DeploymentGroup{
		ApplicationName:      testApp,
		Name:                 testGroup,
		ServiceRoleARN:       "arn:aws:iam::123456789012:role/CodeDeployDemo",
		DeploymentConfigName: "CodeDeployDefault.OneAtATime",
		Targets:              demoTargets.Clone(),
		Revision:             demoRevision,
	}
}

func demoInstance() autodeploy.Instance {
	return autodeploy.Instance{ID: "i-001", Region: "us-east-1", State: "running", Tags: []autodeploy.Tag{demoTag}}
}

func testSettings(strategy autodeploy.Strategy) autodeploy.Settings {
	return autodeploy.Settings{
		ApplicationName:      testApp,
		BaseGroupName:        testGroup,
		Strategy:             strategy,
		Convention:           autodeploy.DefaultConvention(),
		NotificationTopicARN: "arn:aws:sns:us-east-1:123456789012:autodeploy",
		TagVisibility:        autodeploy.PollPolicy{Interval: time.Millisecond, MaxAttempts: 5},
		DeploymentStatus:     autodeploy.PollPolicy{Interval: time.Millisecond, MaxAttempts: 5},
		SuffixFunc:           func() string { return testSuffix },
	}
}
