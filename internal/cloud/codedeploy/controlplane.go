// Package codedeploy implements the deployment control plane on top of the
// CodeDeploy API
package codedeploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy/types"

	"codedeploy-autodeploy/internal/autodeploy"
	"codedeploy-autodeploy/internal/cloud/ratelimit"
	"codedeploy-autodeploy/internal/logger"
	"codedeploy-autodeploy/internal/metrics"
)

const serviceName = "codedeploy"

// batchGetLimit is the most ids BatchGetDeployments accepts per call
const batchGetLimit = 25

// API is the subset of the CodeDeploy client the control plane uses
type API interface {
	codedeploy.ListDeploymentsAPIClient
	GetDeploymentGroup(ctx context.Context, params *codedeploy.GetDeploymentGroupInput, optFns ...func(*codedeploy.Options)) (*codedeploy.GetDeploymentGroupOutput, error)
	UpdateDeploymentGroup(ctx context.Context, params *codedeploy.UpdateDeploymentGroupInput, optFns ...func(*codedeploy.Options)) (*codedeploy.UpdateDeploymentGroupOutput, error)
	CreateDeploymentGroup(ctx context.Context, params *codedeploy.CreateDeploymentGroupInput, optFns ...func(*codedeploy.Options)) (*codedeploy.CreateDeploymentGroupOutput, error)
	DeleteDeploymentGroup(ctx context.Context, params *codedeploy.DeleteDeploymentGroupInput, optFns ...func(*codedeploy.Options)) (*codedeploy.DeleteDeploymentGroupOutput, error)
	CreateDeployment(ctx context.Context, params *codedeploy.CreateDeploymentInput, optFns ...func(*codedeploy.Options)) (*codedeploy.CreateDeploymentOutput, error)
	GetDeployment(ctx context.Context, params *codedeploy.GetDeploymentInput, optFns ...func(*codedeploy.Options)) (*codedeploy.GetDeploymentOutput, error)
	BatchGetDeployments(ctx context.Context, params *codedeploy.BatchGetDeploymentsInput, optFns ...func(*codedeploy.Options)) (*codedeploy.BatchGetDeploymentsOutput, error)
}

// ControlPlane manages deployment groups and deployments
type ControlPlane struct {
	api     API
	limiter *ratelimit.RateLimiter
	metrics *metrics.Recorder
	logger  *logger.Logger
}

// NewControlPlane creates a new CodeDeploy control plane. limiter and rec
// may be nil.
func NewControlPlane(api API, limiter *ratelimit.RateLimiter, rec *metrics.Recorder) *ControlPlane {
	return &ControlPlane{
		api:     api,
		limiter: limiter,
		metrics: rec,
		logger:  logger.NewDefault("codedeploy-control-plane"),
	}
}

// NewControlPlaneFromConfig creates a control plane backed by a real client
func NewControlPlaneFromConfig(cfg aws.Config, limiter *ratelimit.RateLimiter, rec *metrics.Recorder) *ControlPlane {
	return NewControlPlane(codedeploy.NewFromConfig(cfg), limiter, rec)
}

var _ autodeploy.ControlPlane = (*ControlPlane)(nil)

func (c *ControlPlane) observe(operation string, err error) {
	c.metrics.ObserveAPICall(serviceName, operation, err)
}

// GetDeploymentGroup reads a group's targeting, revision and triggers
func (c *ControlPlane) GetDeploymentGroup(ctx context.Context, application, group string) (*autodeploy.DeploymentGroup, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.api.GetDeploymentGroup(ctx, &codedeploy.GetDeploymentGroupInput{
		ApplicationName:     aws.String(application),
		DeploymentGroupName: aws.String(group),
	})
	c.observe("GetDeploymentGroup", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment group %s/%s: %w", application, group, err)
	}
	if out.DeploymentGroupInfo == nil {
		return nil, fmt.Errorf("deployment group %s/%s returned no info", application, group)
	}
	return toGroup(out.DeploymentGroupInfo)
}

// UpdateDeploymentGroupTargets replaces the group's targeting. Every
// targeting field is written so fields absent from targets are cleared.
func (c *ControlPlane) UpdateDeploymentGroupTargets(ctx context.Context, application, group string, targets autodeploy.TargetingSpec) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	fields := fromTargets(targets)
	_, err := c.api.UpdateDeploymentGroup(ctx, &codedeploy.UpdateDeploymentGroupInput{
		ApplicationName:              aws.String(application),
		CurrentDeploymentGroupName:   aws.String(group),
		Ec2TagFilters:                fields.ec2TagFilters,
		Ec2TagSet:                    fields.ec2TagSet,
		OnPremisesInstanceTagFilters: fields.onPremFilters,
		AutoScalingGroups:            fields.autoScalingGroups,
	})
	c.observe("UpdateDeploymentGroup", err)
	if err != nil {
		return fmt.Errorf("failed to update targets of %s/%s: %w", application, group, err)
	}

	c.logger.Debug("Deployment group targets updated", "application", application, "deployment_group", group)
	return nil
}

// CreateDeploymentGroup creates a group targeting group.Targets
func (c *ControlPlane) CreateDeploymentGroup(ctx context.Context, group autodeploy.DeploymentGroup) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	fields := fromTargets(group.Targets)
	input := &codedeploy.CreateDeploymentGroupInput{
		ApplicationName:       aws.String(group.ApplicationName),
		DeploymentGroupName:   aws.String(group.Name),
		ServiceRoleArn:        aws.String(group.ServiceRoleARN),
		DeploymentConfigName:  optional(group.DeploymentConfigName),
		TriggerConfigurations: toTriggerConfigs(group.Triggers),
	}
	if len(fields.ec2TagFilters) > 0 {
		input.Ec2TagFilters = fields.ec2TagFilters
	}
	if len(fields.ec2TagSet.Ec2TagSetList) > 0 {
		input.Ec2TagSet = fields.ec2TagSet
	}
	if len(fields.onPremFilters) > 0 {
		input.OnPremisesInstanceTagFilters = fields.onPremFilters
	}
	if len(fields.autoScalingGroups) > 0 {
		input.AutoScalingGroups = fields.autoScalingGroups
	}

	_, err := c.api.CreateDeploymentGroup(ctx, input)
	c.observe("CreateDeploymentGroup", err)
	if err != nil {
		return fmt.Errorf("failed to create deployment group %s/%s: %w", group.ApplicationName, group.Name, err)
	}

	c.logger.Info("Deployment group created", "application", group.ApplicationName, "deployment_group", group.Name)
	return nil
}

// DeleteDeploymentGroup deletes a group. A group that no longer exists
// counts as deleted.
func (c *ControlPlane) DeleteDeploymentGroup(ctx context.Context, application, group string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.api.DeleteDeploymentGroup(ctx, &codedeploy.DeleteDeploymentGroupInput{
		ApplicationName:     aws.String(application),
		DeploymentGroupName: aws.String(group),
	})
	c.observe("DeleteDeploymentGroup", err)
	if err != nil {
		var notFound *types.DeploymentGroupDoesNotExistException
		if errors.As(err, &notFound) {
			c.logger.Debug("Deployment group already gone", "application", application, "deployment_group", group)
			return nil
		}
		return fmt.Errorf("failed to delete deployment group %s/%s: %w", application, group, err)
	}

	c.logger.Info("Deployment group deleted", "application", application, "deployment_group", group)
	return nil
}

// CreateDeployment deploys revision to the group. A concurrency-limit
// rejection is reported as autodeploy.ErrDeploymentLimitExceeded.
func (c *ControlPlane) CreateDeployment(ctx context.Context, application, group string, revision autodeploy.Revision, description string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	loc, err := fromRevision(revision)
	if err != nil {
		return "", err
	}

	out, err := c.api.CreateDeployment(ctx, &codedeploy.CreateDeploymentInput{
		ApplicationName:     aws.String(application),
		DeploymentGroupName: aws.String(group),
		Revision:            loc,
		Description:         optional(description),
	})
	c.observe("CreateDeployment", err)
	if err != nil {
		var limitErr *types.DeploymentLimitExceededException
		if errors.As(err, &limitErr) {
			return "", fmt.Errorf("%w: %s", autodeploy.ErrDeploymentLimitExceeded, limitErr.ErrorMessage())
		}
		return "", fmt.Errorf("failed to create deployment for %s/%s: %w", application, group, err)
	}
	return aws.ToString(out.DeploymentId), nil
}

// GetDeployment reads a deployment's status
func (c *ControlPlane) GetDeployment(ctx context.Context, deploymentID string) (*autodeploy.DeploymentInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.api.GetDeployment(ctx, &codedeploy.GetDeploymentInput{
		DeploymentId: aws.String(deploymentID),
	})
	c.observe("GetDeployment", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment %s: %w", deploymentID, err)
	}
	if out.DeploymentInfo == nil {
		return nil, fmt.Errorf("deployment %s returned no info", deploymentID)
	}

	info := toDeploymentInfo(*out.DeploymentInfo)
	return &info, nil
}

// ListDeployments returns the ids of the group's deployments in any of
// statuses
func (c *ControlPlane) ListDeployments(ctx context.Context, application, group string, statuses []autodeploy.DeploymentStatus) ([]string, error) {
	input := &codedeploy.ListDeploymentsInput{
		ApplicationName:     aws.String(application),
		DeploymentGroupName: aws.String(group),
	}
	for _, s := range statuses {
		input.IncludeOnlyStatuses = append(input.IncludeOnlyStatuses, types.DeploymentStatus(s))
	}

	var ids []string
	paginator := codedeploy.NewListDeploymentsPaginator(c.api, input)
	for paginator.HasMorePages() {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		c.observe("ListDeployments", err)
		if err != nil {
			return nil, fmt.Errorf("failed to list deployments of %s/%s: %w", application, group, err)
		}
		ids = append(ids, page.Deployments...)
	}
	return ids, nil
}

// BatchGetDeployments describes deployments in batches the API accepts
func (c *ControlPlane) BatchGetDeployments(ctx context.Context, deploymentIDs []string) ([]autodeploy.DeploymentInfo, error) {
	var infos []autodeploy.DeploymentInfo
	for start := 0; start < len(deploymentIDs); start += batchGetLimit {
		end := min(start+batchGetLimit, len(deploymentIDs))

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		out, err := c.api.BatchGetDeployments(ctx, &codedeploy.BatchGetDeploymentsInput{
			DeploymentIds: deploymentIDs[start:end],
		})
		c.observe("BatchGetDeployments", err)
		if err != nil {
			return nil, fmt.Errorf("failed to describe deployments: %w", err)
		}
		for _, info := range out.DeploymentsInfo {
			infos = append(infos, toDeploymentInfo(info))
		}
	}
	return infos, nil
}
