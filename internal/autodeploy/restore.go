package autodeploy

import (
	"context"
	"errors"
	"fmt"

	"codedeploy-autodeploy/internal/logger"
)

// Restorer reverses what an Isolator did
type Restorer struct {
	inventory Inventory
	control   ControlPlane
	settings  Settings
	logger    *logger.Logger
}

// NewRestorer creates a new restoration manager
func NewRestorer(inventory Inventory, control ControlPlane, settings Settings) *Restorer {
	return &Restorer{
		inventory: inventory,
		control:   control,
		settings:  settings,
		logger:    logger.NewDefault("restoration-manager"),
	}
}

// Restore undoes every obligation recorded on the episode. It is safe on a
// partially isolated episode and idempotent: each undo that succeeds clears
// its flag, so calling it again only retries what failed. The ephemeral tag
// is always deleted, even when restoring the group fails.
func (r *Restorer) Restore(ctx context.Context, ep *Episode) error {
	if !ep.Pending() {
		return nil
	}

	var errs []error

	if ep.Retargeted {
		if err := r.restoreTargets(ctx, ep); err != nil {
			r.logger.LogRestoreFailure(StepRestoreGroup, err, ep.LogFields()...)
			errs = append(errs, stepErr(StepRestoreGroup, err))
		} else {
			ep.Retargeted = false
		}
	}

	if ep.TagCreated {
		if err := r.inventory.DeleteTag(ctx, ep.InstanceID, ep.Tag); err != nil {
			r.logger.LogRestoreFailure(StepDeleteTag, err, ep.LogFields()...)
			errs = append(errs, stepErr(StepDeleteTag, err))
		} else {
			ep.TagCreated = false
		}
	}

	if ep.GroupCreated {
		if err := r.control.DeleteDeploymentGroup(ctx, ep.ApplicationName, ep.GroupName); err != nil {
			r.logger.LogRestoreFailure(StepDeleteGroup, err, ep.LogFields()...)
			errs = append(errs, stepErr(StepDeleteGroup, err))
		} else {
			ep.GroupCreated = false
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.logger.Info("Isolation restored", ep.LogFields()...)
	return nil
}

func (r *Restorer) restoreTargets(ctx context.Context, ep *Episode) error {
	if ep.OriginalTargets == nil {
		return fmt.Errorf("%w: no saved targeting for %s", ErrInvariantViolation, ep.GroupName)
	}
	return r.control.UpdateDeploymentGroupTargets(ctx, ep.ApplicationName, ep.GroupName, ep.OriginalTargets.Clone())
}

// RecoverEphemeralGroup tears down a throwaway group named in a completion
// notification. The suffix embedded in groupName identifies the instance
// tag; exactly one instance must carry it, otherwise nothing is deleted.
// It returns the id of the instance that was released.
func (r *Restorer) RecoverEphemeralGroup(ctx context.Context, groupName string) (string, error) {
	s := r.settings
	suffix, err := s.Convention.SuffixFromGroupName(s.BaseGroupName, groupName)
	if err != nil {
		return "", err
	}
	tag := s.Convention.EphemeralTag(StrategyEphemeralGroup, suffix)

	instances, err := r.inventory.ListInstancesByTag(ctx, tag)
	if err != nil {
		return "", stepErr(StepFindInstance, err)
	}
	if len(instances) != 1 {
		ids := make([]string, 0, len(instances))
		for _, inst := range instances {
			ids = append(ids, inst.ID)
		}
		err := fmt.Errorf("%w: expected exactly one instance tagged %s=%s, found %d %v",
			ErrInvariantViolation, tag.Key, tag.Value, len(instances), ids)
		r.logger.LogError("recover-ephemeral-group", err,
			"deployment_group", groupName,
			"suffix", suffix,
			"matches", len(instances))
		return "", stepErr(StepFindInstance, err)
	}

	ep := &Episode{
		InstanceID:      instances[0].ID,
		Suffix:          suffix,
		Strategy:        StrategyEphemeralGroup,
		ApplicationName: s.ApplicationName,
		BaseGroupName:   s.BaseGroupName,
		GroupName:       groupName,
		Tag:             tag,
	}

	if err := r.inventory.DeleteTag(ctx, ep.InstanceID, tag); err != nil {
		r.logger.LogRestoreFailure(StepDeleteTag, err, ep.LogFields()...)
		return ep.InstanceID, stepErr(StepDeleteTag, err)
	}
	if err := r.control.DeleteDeploymentGroup(ctx, s.ApplicationName, groupName); err != nil {
		r.logger.LogRestoreFailure(StepDeleteGroup, err, ep.LogFields()...)
		return ep.InstanceID, stepErr(StepDeleteGroup, err)
	}

	r.logger.Info("Ephemeral deployment group removed", ep.LogFields()...)
	return ep.InstanceID, nil
}
