package ec2

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"codedeploy-autodeploy/internal/autodeploy"
)

type mockAPI struct {
	pages        []*ec2.DescribeInstancesOutput
	describeErr  error
	terminateErr error

	describeInputs  []*ec2.DescribeInstancesInput
	createInputs    []*ec2.CreateTagsInput
	deleteInputs    []*ec2.DeleteTagsInput
	terminateInputs []*ec2.TerminateInstancesInput
}

func (m *mockAPI) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	m.describeInputs = append(m.describeInputs, params)
	if m.describeErr != nil {
		return nil, m.describeErr
	}
	page := len(m.describeInputs) - 1
	if page >= len(m.pages) {
		return &ec2.DescribeInstancesOutput{}, nil
	}
	return m.pages[page], nil
}

func (m *mockAPI) CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	m.createInputs = append(m.createInputs, params)
	return &ec2.CreateTagsOutput{}, nil
}

func (m *mockAPI) DeleteTags(ctx context.Context, params *ec2.DeleteTagsInput, optFns ...func(*ec2.Options)) (*ec2.DeleteTagsOutput, error) {
	m.deleteInputs = append(m.deleteInputs, params)
	return &ec2.DeleteTagsOutput{}, nil
}

func (m *mockAPI) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	m.terminateInputs = append(m.terminateInputs, params)
	if m.terminateErr != nil {
		return nil, m.terminateErr
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

func sdkInstance(id string, tags ...types.Tag) types.Instance {
	return types.Instance{
		InstanceId: aws.String(id),
		State:      &types.InstanceState{Name: types.InstanceStateNameRunning},
		Tags:       tags,
	}
}

func TestGetInstance(t *testing.T) {
	api := &mockAPI{pages: []*ec2.DescribeInstancesOutput{{
		Reservations: []types.Reservation{{Instances: []types.Instance{
			sdkInstance("i-001", types.Tag{Key: aws.String("Name"), Value: aws.String("web")}),
		}}},
	}}}
	inv := NewInventory(api, "us-east-1", nil, nil)

	inst, err := inv.GetInstance(context.Background(), "i-001")
	if err != nil {
		t.Fatalf("GetInstance() error: %v", err)
	}
	if inst.ID != "i-001" || inst.State != "running" || inst.Region != "us-east-1" {
		t.Errorf("Unexpected instance %+v", inst)
	}
	if !inst.HasTag(autodeploy.Tag{Key: "Name", Value: "web"}) {
		t.Errorf("Expected Name=web tag, got %+v", inst.Tags)
	}
	if got := api.describeInputs[0].InstanceIds; len(got) != 1 || got[0] != "i-001" {
		t.Errorf("Unexpected instance ids %v", got)
	}
}

func TestGetInstance_NotFound(t *testing.T) {
	inv := NewInventory(&mockAPI{}, "us-east-1", nil, nil)

	if _, err := inv.GetInstance(context.Background(), "i-404"); err == nil {
		t.Error("Expected error for a missing instance")
	}
}

func TestCreateAndDeleteTag(t *testing.T) {
	api := &mockAPI{}
	inv := NewInventory(api, "us-east-1", nil, nil)
	tag := autodeploy.Tag{Key: "AutoDeploy-AB3K9QZ7P1X4Y", Value: "True"}

	if err := inv.CreateTag(context.Background(), "i-001", tag); err != nil {
		t.Fatalf("CreateTag() error: %v", err)
	}
	if err := inv.DeleteTag(context.Background(), "i-001", tag); err != nil {
		t.Fatalf("DeleteTag() error: %v", err)
	}

	created := api.createInputs[0]
	if created.Resources[0] != "i-001" || aws.ToString(created.Tags[0].Key) != tag.Key || aws.ToString(created.Tags[0].Value) != tag.Value {
		t.Errorf("Unexpected CreateTags input %+v", created)
	}
	deleted := api.deleteInputs[0]
	if aws.ToString(deleted.Tags[0].Value) != tag.Value {
		t.Error("Expected delete to name the exact tag value")
	}
}

func TestListInstancesByTag_Paginates(t *testing.T) {
	tag := types.Tag{Key: aws.String("DeploymentGroup-AB3K9QZ7P1X4Y"), Value: aws.String("True-AB3K9QZ7P1X4Y")}
	api := &mockAPI{pages: []*ec2.DescribeInstancesOutput{
		{
			Reservations: []types.Reservation{{Instances: []types.Instance{sdkInstance("i-001", tag)}}},
			NextToken:    aws.String("page-2"),
		},
		{
			Reservations: []types.Reservation{{Instances: []types.Instance{sdkInstance("i-002", tag)}}},
		},
	}}
	inv := NewInventory(api, "us-east-1", nil, nil)

	got, err := inv.ListInstancesByTag(context.Background(), autodeploy.Tag{Key: *tag.Key, Value: *tag.Value})
	if err != nil {
		t.Fatalf("ListInstancesByTag() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 instances, got %d", len(got))
	}

	filter := api.describeInputs[0].Filters[0]
	if aws.ToString(filter.Name) != "tag:DeploymentGroup-AB3K9QZ7P1X4Y" {
		t.Errorf("Unexpected filter name %s", aws.ToString(filter.Name))
	}
	if filter.Values[0] != "True-AB3K9QZ7P1X4Y" {
		t.Errorf("Unexpected filter value %v", filter.Values)
	}
	if aws.ToString(api.describeInputs[1].NextToken) != "page-2" {
		t.Error("Expected second page to be requested with the token")
	}
}

func TestListInstancesByTag_Error(t *testing.T) {
	api := &mockAPI{describeErr: errors.New("throttled")}
	inv := NewInventory(api, "us-east-1", nil, nil)

	if _, err := inv.ListInstancesByTag(context.Background(), autodeploy.Tag{Key: "k", Value: "v"}); err == nil {
		t.Error("Expected error")
	}
}

func TestTerminateInstance(t *testing.T) {
	dryRunErr := &smithy.GenericAPIError{Code: "DryRunOperation", Message: "Request would have succeeded"}

	tests := []struct {
		name    string
		dryRun  bool
		apiErr  error
		wantErr bool
	}{
		{"real termination", false, nil, false},
		{"dry run succeeds", true, dryRunErr, false},
		{"dry run unauthorized", true, &smithy.GenericAPIError{Code: "UnauthorizedOperation"}, true},
		{"dry run code outside dry run", false, dryRunErr, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{terminateErr: tt.apiErr}
			inv := NewInventory(api, "us-east-1", nil, nil)

			err := inv.TerminateInstance(context.Background(), "i-001", tt.dryRun)
			if (err != nil) != tt.wantErr {
				t.Errorf("TerminateInstance() error = %v, wantErr %v", err, tt.wantErr)
			}
			if aws.ToBool(api.terminateInputs[0].DryRun) != tt.dryRun {
				t.Errorf("Expected DryRun=%v", tt.dryRun)
			}
		})
	}
}
