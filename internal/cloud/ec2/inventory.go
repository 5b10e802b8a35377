// Package ec2 implements the compute inventory on top of the EC2 API
package ec2

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"codedeploy-autodeploy/internal/autodeploy"
	"codedeploy-autodeploy/internal/cloud/ratelimit"
	"codedeploy-autodeploy/internal/logger"
	"codedeploy-autodeploy/internal/metrics"
)

const serviceName = "ec2"

// dryRunCode is returned when a dry-run request would have succeeded
const dryRunCode = "DryRunOperation"

// API is the subset of the EC2 client the inventory uses
type API interface {
	ec2.DescribeInstancesAPIClient
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DeleteTags(ctx context.Context, params *ec2.DeleteTagsInput, optFns ...func(*ec2.Options)) (*ec2.DeleteTagsOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Inventory reads and tags EC2 instances
type Inventory struct {
	api     API
	region  string
	limiter *ratelimit.RateLimiter
	metrics *metrics.Recorder
	logger  *logger.Logger
}

// NewInventory creates a new EC2 inventory. limiter and rec may be nil.
func NewInventory(api API, region string, limiter *ratelimit.RateLimiter, rec *metrics.Recorder) *Inventory {
	return &Inventory{
		api:     api,
		region:  region,
		limiter: limiter,
		metrics: rec,
		logger:  logger.NewDefault("ec2-inventory"),
	}
}

// NewInventoryFromConfig creates an inventory backed by a real EC2 client
func NewInventoryFromConfig(cfg aws.Config, limiter *ratelimit.RateLimiter, rec *metrics.Recorder) *Inventory {
	return NewInventory(ec2.NewFromConfig(cfg), cfg.Region, limiter, rec)
}

var _ autodeploy.Inventory = (*Inventory)(nil)

func (i *Inventory) observe(operation string, err error) {
	i.metrics.ObserveAPICall(serviceName, operation, err)
}

// GetInstance describes a single instance
func (i *Inventory) GetInstance(ctx context.Context, instanceID string) (*autodeploy.Instance, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := i.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	i.observe("DescribeInstances", err)
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}

	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if aws.ToString(inst.InstanceId) == instanceID {
				converted := i.toInstance(inst)
				return &converted, nil
			}
		}
	}
	return nil, fmt.Errorf("instance %s not found", instanceID)
}

// CreateTag adds tag to the instance
func (i *Inventory) CreateTag(ctx context.Context, instanceID string, tag autodeploy.Tag) error {
	if err := i.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := i.api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{instanceID},
		Tags:      []types.Tag{toSDKTag(tag)},
	})
	i.observe("CreateTags", err)
	if err != nil {
		return fmt.Errorf("failed to tag instance %s with %s: %w", instanceID, tag.Key, err)
	}

	i.logger.Debug("Tag created", "instance_id", instanceID, "tag_key", tag.Key, "tag_value", tag.Value)
	return nil
}

// DeleteTag removes exactly the given key and value from the instance
func (i *Inventory) DeleteTag(ctx context.Context, instanceID string, tag autodeploy.Tag) error {
	if err := i.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := i.api.DeleteTags(ctx, &ec2.DeleteTagsInput{
		Resources: []string{instanceID},
		Tags:      []types.Tag{toSDKTag(tag)},
	})
	i.observe("DeleteTags", err)
	if err != nil {
		return fmt.Errorf("failed to remove tag %s from instance %s: %w", tag.Key, instanceID, err)
	}

	i.logger.Debug("Tag deleted", "instance_id", instanceID, "tag_key", tag.Key)
	return nil
}

// ListInstancesByTag returns every instance carrying tag, in any state
func (i *Inventory) ListInstancesByTag(ctx context.Context, tag autodeploy.Tag) ([]autodeploy.Instance, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{{
			Name:   aws.String("tag:" + tag.Key),
			Values: []string{tag.Value},
		}},
	}

	var instances []autodeploy.Instance
	paginator := ec2.NewDescribeInstancesPaginator(i.api, input)
	for paginator.HasMorePages() {
		if err := i.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		i.observe("DescribeInstances", err)
		if err != nil {
			return nil, fmt.Errorf("failed to list instances tagged %s: %w", tag.Key, err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				instances = append(instances, i.toInstance(inst))
			}
		}
	}
	return instances, nil
}

// TerminateInstance terminates the instance. With dryRun the request only
// checks permissions, and the DryRunOperation response counts as success.
func (i *Inventory) TerminateInstance(ctx context.Context, instanceID string, dryRun bool) error {
	if err := i.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := i.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
		DryRun:      aws.Bool(dryRun),
	})
	if dryRun && isDryRunSuccess(err) {
		err = nil
	}
	i.observe("TerminateInstances", err)
	if err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}

	i.logger.Info("Instance termination requested", "instance_id", instanceID, "dry_run", dryRun)
	return nil
}

func isDryRunSuccess(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == dryRunCode
}

func (i *Inventory) toInstance(inst types.Instance) autodeploy.Instance {
	out := autodeploy.Instance{
		ID:     aws.ToString(inst.InstanceId),
		Region: i.region,
		Tags:   make([]autodeploy.Tag, 0, len(inst.Tags)),
	}
	if inst.State != nil {
		out.State = string(inst.State.Name)
	}
	for _, t := range inst.Tags {
		out.Tags = append(out.Tags, autodeploy.Tag{
			Key:   aws.ToString(t.Key),
			Value: aws.ToString(t.Value),
		})
	}
	return out
}

func toSDKTag(tag autodeploy.Tag) types.Tag {
	return types.Tag{Key: aws.String(tag.Key), Value: aws.String(tag.Value)}
}
