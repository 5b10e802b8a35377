package autodeploy

import (
	"errors"
	"fmt"
)

var (
	// ErrIneligibleInstance means the instance carries none of the eligibility tags
	ErrIneligibleInstance = errors.New("instance has no matching eligibility tag")

	// ErrConvergenceTimeout means a bounded poll ran out of attempts or time
	ErrConvergenceTimeout = errors.New("remote state did not converge")

	// ErrDeploymentLimitExceeded means the control plane refused a concurrent deployment
	ErrDeploymentLimitExceeded = errors.New("deployment limit exceeded")

	// ErrInvariantViolation means remote state contradicts the naming convention
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNoRevision means the base deployment group has never been deployed
	ErrNoRevision = errors.New("deployment group has no target revision")

	// ErrNotEphemeralGroup means a group name does not follow <base>-<suffix>
	ErrNotEphemeralGroup = errors.New("not an ephemeral deployment group")
)

// Step names used to annotate remote failures
const (
	StepDescribeInstance   = "describe-instance"
	StepGetDeploymentGroup = "get-deployment-group"
	StepCreateTag          = "create-tag"
	StepWaitTag            = "wait-tag-visible"
	StepRetargetGroup      = "retarget-deployment-group"
	StepCreateGroup        = "create-deployment-group"
	StepCreateDeployment   = "create-deployment"
	StepWaitDeployment     = "wait-deployment-started"
	StepRestoreGroup       = "restore-deployment-group"
	StepDeleteTag          = "delete-tag"
	StepDeleteGroup        = "delete-deployment-group"
	StepFindInstance       = "find-tagged-instance"
	StepTerminate          = "terminate-instance"
	StepGetDeployment      = "get-deployment"
)

// StepError annotates a failure with the protocol step that produced it
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// stepErr wraps err with the step name, leaving nil untouched
func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// FailedStep returns the step name recorded on err, if any
func FailedStep(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
