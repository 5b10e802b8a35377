package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"codedeploy-autodeploy/internal/alerts"
	"codedeploy-autodeploy/internal/autodeploy"
	"codedeploy-autodeploy/internal/config"
	"codedeploy-autodeploy/internal/events"
	"codedeploy-autodeploy/internal/logger"
	"codedeploy-autodeploy/internal/metrics"
	"codedeploy-autodeploy/internal/orchestrator/state"
)

// cleanupTimeout bounds restoration once the invocation context has ended
const cleanupTimeout = 2 * time.Minute

// Status prefixes every handler result
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
)

// Result is the operator-facing outcome of one event
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %s", r.Status, r.Message)
}

func success(format string, args ...interface{}) Result {
	return Result{Status: StatusSuccess, Message: fmt.Sprintf(format, args...)}
}

func warning(format string, args ...interface{}) Result {
	return Result{Status: StatusWarning, Message: fmt.Sprintf(format, args...)}
}

func failure(format string, args ...interface{}) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// Orchestrator routes inbound events to the isolation protocol. It keeps no
// episode state between events; every event is handled to completion.
type Orchestrator struct {
	config       *config.Config
	settings     autodeploy.Settings
	inventory    autodeploy.Inventory
	control      autodeploy.ControlPlane
	isolator     *autodeploy.Isolator
	tracker      *autodeploy.Tracker
	restorer     *autodeploy.Restorer
	state        *state.State
	alertManager *alerts.Manager
	metrics      *metrics.Recorder
	deduper      *EventDeduper
	logger       *logger.Logger
}

// NewOrchestrator creates a new orchestrator. alertManager and rec may be nil.
func NewOrchestrator(cfg *config.Config, inventory autodeploy.Inventory, control autodeploy.ControlPlane, alertManager *alerts.Manager, rec *metrics.Recorder) *Orchestrator {
	return newOrchestrator(cfg, cfg.Settings(), inventory, control, alertManager, rec)
}

func newOrchestrator(cfg *config.Config, settings autodeploy.Settings, inventory autodeploy.Inventory, control autodeploy.ControlPlane, alertManager *alerts.Manager, rec *metrics.Recorder) *Orchestrator {
	log := logger.NewDefault("orchestrator")

	st := state.NewState()
	st.SetStrategy(string(settings.Strategy))
	st.SetStatus("healthy")

	log.Info("Orchestrator initialized",
		"application", settings.ApplicationName,
		"deployment_group", settings.BaseGroupName,
		"strategy", string(settings.Strategy),
		"eligibility_tags", autodeploy.TagsToMap(cfg.EligibilityTags),
		"terminate_on_failure", cfg.TerminateOnFailure,
		"terminate_dry_run", cfg.TerminateDryRun,
		"alerts_enabled", alertManager.IsEnabled())

	return &Orchestrator{
		config:       cfg,
		settings:     settings,
		inventory:    inventory,
		control:      control,
		isolator:     autodeploy.NewIsolator(inventory, control, settings),
		tracker:      autodeploy.NewTracker(control, settings),
		restorer:     autodeploy.NewRestorer(inventory, control, settings),
		state:        st,
		alertManager: alertManager,
		metrics:      rec,
		deduper:      NewEventDeduper(cfg.DedupTTL),
		logger:       log,
	}
}

// State returns the handler state for the status API
func (o *Orchestrator) State() *state.State {
	return o.state
}

// Handle implements watcher.Handler
func (o *Orchestrator) Handle(ctx context.Context, payload []byte) error {
	_, err := o.HandleEvent(ctx, payload)
	return err
}

// HandleEvent parses payload and runs the matching workflow under the
// invocation timeout. A non-nil error means the event source should
// redeliver the event; the Result describes the outcome either way.
func (o *Orchestrator) HandleEvent(ctx context.Context, payload []byte) (Result, error) {
	start := time.Now()
	ctx = logger.ContextWithInvocationID(ctx, uuid.NewString())
	ctx, cancel := context.WithTimeout(ctx, o.config.InvocationTimeout)
	defer cancel()
	log := o.logger.WithContext(ctx)

	ev := events.Parse(payload)
	log.Info("AutoDeploy invoked", append(ev.LogFields(),
		"application", o.settings.ApplicationName,
		"base_group", o.settings.BaseGroupName)...)

	var dedupKey string
	if ev.ID != "" && ev.Kind != events.KindUnrecognized {
		dedupKey = string(ev.Kind) + "/" + ev.ID
	}
	if o.deduper.CheckAndMark(dedupKey, start) {
		log.Info("Duplicate event ignored", ev.LogFields()...)
		o.metrics.ObserveEvent(string(ev.Kind), "DUPLICATE", time.Since(start))
		return success("Event %s already handled", ev.ID), nil
	}

	res, err := o.dispatch(ctx, log, ev, payload)
	if err != nil {
		o.deduper.Forget(dedupKey)
	}

	o.state.RecordEvent(string(ev.Kind))
	if res.Status == StatusError {
		o.state.SetLastError(res.Message)
	}
	o.metrics.ObserveEvent(string(ev.Kind), string(res.Status), time.Since(start))

	fields := append(ev.LogFields(), "result", res.String(), "duration", time.Since(start).String())
	switch res.Status {
	case StatusSuccess:
		log.Info("Event handled", fields...)
	case StatusWarning:
		log.Warn("Event handled", fields...)
	default:
		log.Error("Event handled", fields...)
	}
	if err != nil {
		log.Warn("Event left for redelivery", "error", err)
	}

	return res, err
}

func (o *Orchestrator) dispatch(ctx context.Context, log *logger.Logger, ev events.Event, payload []byte) (Result, error) {
	switch ev.Kind {
	case events.KindInstanceRunning:
		return o.handleInstanceRunning(ctx, log, ev)

	case events.KindDeploymentFailed:
		if ev.Scope == events.ScopeInstance {
			return o.handleInstanceFailure(ctx, log, ev)
		}
		return o.handleCompletion(ctx, log, ev)

	case events.KindDeploymentSucceeded:
		return o.handleCompletion(ctx, log, ev)

	case events.KindTriggerSetupAck:
		if ev.TriggerName != "" && !strings.HasPrefix(ev.TriggerName, o.settings.Convention.RetargetTagPrefix+"-") {
			log.Warn("Trigger setup message for a foreign trigger", "trigger_name", ev.TriggerName, "event", dump(payload))
			return warning("Unknown event received: trigger %s was not created by AutoDeploy", ev.TriggerName), nil
		}
		log.Info("Notification trigger setup message received", "subject", ev.Subject, "trigger_name", ev.TriggerName)
		return success("Trigger setup notification acknowledged"), nil
	}

	log.Warn("Unknown event received", "reason", ev.Reason, "event", dump(payload))
	return warning("Unknown event received: %s", ev.Reason), nil
}

// handleInstanceRunning runs one isolation episode for a newly running instance
func (o *Orchestrator) handleInstanceRunning(ctx context.Context, log *logger.Logger, ev events.Event) (Result, error) {
	inst, err := o.inventory.GetInstance(ctx, ev.InstanceID)
	if err != nil {
		err = &autodeploy.StepError{Step: autodeploy.StepDescribeInstance, Err: err}
		o.alertManager.EpisodeFailed(ctx, ev.InstanceID, autodeploy.StepDescribeInstance, err)
		return failure("Could not describe instance %s: %v", ev.InstanceID, err), nil
	}

	if !autodeploy.IsEligible(inst.Tags, o.config.EligibilityTags) {
		log.Warn("No matching eligibility tag on instance",
			"instance_id", inst.ID,
			"instance_tags", autodeploy.TagsToMap(inst.Tags),
			"eligibility_tags", autodeploy.TagsToMap(o.config.EligibilityTags))
		return warning("Couldn't find any matching Tags for instance %s. Skipping event.", inst.ID), nil
	}

	return o.runEpisode(ctx, log, inst.ID)
}

// runEpisode isolates, triggers and, unless the ephemeral group's completion
// notification will do it, restores. Restoration runs in a deferred call so
// every exit path reaches it.
func (o *Orchestrator) runEpisode(ctx context.Context, log *logger.Logger, instanceID string) (res Result, redeliver error) {
	ep, err := o.isolator.Isolate(ctx, instanceID)
	defer func() {
		if !o.restoreNow(ep) {
			return
		}
		if cleanupErr := o.restore(ctx, log, ep); cleanupErr != nil {
			res = Result{
				Status: StatusError,
				Message: fmt.Sprintf("%s. Cleanup failed, remove tag %s from %s and check group %s: %v",
					res.Message, ep.Tag.Key, ep.InstanceID, ep.GroupName, cleanupErr),
			}
		}
	}()

	if err != nil {
		o.metrics.ObserveDeployment("not_isolated")
		o.alertManager.EpisodeFailed(ctx, instanceID, autodeploy.FailedStep(err), err)
		return failure("Could not isolate instance %s: %v", instanceID, err), redeliverable(err, ep)
	}

	attempt, err := o.tracker.Trigger(ctx, ep)
	switch {
	case err == nil:
		o.metrics.ObserveDeployment("started")
		o.state.RecordDeployment(attempt.DeploymentID)
		o.alertManager.DeploymentTriggered(ctx, attempt.DeploymentID, instanceID, ep.GroupName, string(ep.Strategy))
		if ep.Strategy == autodeploy.StrategyEphemeralGroup {
			log.Info("Cleanup deferred to completion notification", ep.LogFields()...)
		}
		return success("Deployment %s triggered", attempt.DeploymentID), nil

	case attempt != nil && attempt.LimitExceeded:
		o.metrics.ObserveDeployment("limit_exceeded")
		o.alertManager.EpisodeFailed(ctx, instanceID, autodeploy.StepCreateDeployment, err)
		return failure("Deployment limit exceeded for %s/%s, instance %s was not deployed: %v",
			ep.ApplicationName, ep.GroupName, instanceID, err), redeliverable(err, ep)

	case ep.DeploymentID != "":
		// The deployment exists; redelivery would start a second one
		o.metrics.ObserveDeployment("unconfirmed")
		o.state.RecordDeployment(ep.DeploymentID)
		o.alertManager.DeploymentTriggered(ctx, ep.DeploymentID, instanceID, ep.GroupName, string(ep.Strategy))
		return warning("Deployment %s triggered but not confirmed started: %v", ep.DeploymentID, err), nil

	default:
		o.metrics.ObserveDeployment("failed")
		o.alertManager.EpisodeFailed(ctx, instanceID, autodeploy.FailedStep(err), err)
		return failure("Could not trigger deployment for instance %s: %v", instanceID, err), redeliverable(err, ep)
	}
}

// restoreNow reports whether the episode must be undone before returning.
// A throwaway group with a running deployment is left for its notification.
func (o *Orchestrator) restoreNow(ep *autodeploy.Episode) bool {
	if !ep.Pending() {
		return false
	}
	return ep.Strategy != autodeploy.StrategyEphemeralGroup || ep.DeploymentID == ""
}

// restore undoes ep under its own deadline, so an expired invocation
// context does not also abandon the cleanup
func (o *Orchestrator) restore(ctx context.Context, log *logger.Logger, ep *autodeploy.Episode) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	err := o.restorer.Restore(cleanupCtx, ep)
	if err != nil {
		log.Error("Episode cleanup incomplete", append(ep.LogFields(), "error", err.Error())...)
		o.cleanupFailed(ctx, ep.InstanceID, ep.Suffix, ep.GroupName, err)
	}
	return err
}

func (o *Orchestrator) cleanupFailed(ctx context.Context, instanceID, suffix, groupName string, err error) {
	o.metrics.ObserveRestoreFailure()
	o.state.RecordRestoreFailure()
	o.alertManager.CleanupFailed(ctx, instanceID, suffix, groupName, err)
}

// redeliverable returns err when trying the event again later is safe and
// may succeed: nothing was deployed and the failure was a limit or a
// convergence timeout
func redeliverable(err error, ep *autodeploy.Episode) error {
	if ep != nil && ep.DeploymentID != "" {
		return nil
	}
	if errors.Is(err, autodeploy.ErrDeploymentLimitExceeded) || errors.Is(err, autodeploy.ErrConvergenceTimeout) {
		return err
	}
	return nil
}

// handleInstanceFailure applies the terminate-on-failure policy to an
// instance whose deployment failed
func (o *Orchestrator) handleInstanceFailure(ctx context.Context, log *logger.Logger, ev events.Event) (Result, error) {
	log.Info(fmt.Sprintf("Deployment %s to instance %s is now in '%s' state", ev.DeploymentID, ev.InstanceID, ev.State),
		"region", ev.Region)

	if !o.config.TerminateOnFailure {
		return warning("'terminate_on_failure' flag is not enabled, skipping termination of instance %s", ev.InstanceID), nil
	}

	infos, err := o.control.BatchGetDeployments(ctx, []string{ev.DeploymentID})
	if err != nil {
		err = &autodeploy.StepError{Step: autodeploy.StepGetDeployment, Err: err}
		return failure("Could not verify deployment %s before terminating instance %s: %v", ev.DeploymentID, ev.InstanceID, err), err
	}
	if len(infos) != 1 || !o.settings.Owns(infos[0]) {
		return warning("Deployment %s was not started by AutoDeploy for %s/%s, skipping termination of instance %s",
			ev.DeploymentID, o.settings.ApplicationName, o.settings.BaseGroupName, ev.InstanceID), nil
	}

	return o.terminate(ctx, log, ev.InstanceID, ev.DeploymentID), nil
}

func (o *Orchestrator) terminate(ctx context.Context, log *logger.Logger, instanceID, deploymentID string) Result {
	dryRun := o.config.TerminateDryRun
	if err := o.inventory.TerminateInstance(ctx, instanceID, dryRun); err != nil {
		err = &autodeploy.StepError{Step: autodeploy.StepTerminate, Err: err}
		log.LogError("terminate-instance", err, "instance_id", instanceID, "deployment_id", deploymentID)
		return failure("Could not terminate instance %s: %v", instanceID, err)
	}

	o.metrics.ObserveTermination(dryRun)
	o.alertManager.InstanceTerminated(ctx, instanceID, deploymentID, dryRun)
	log.Info("Terminate requested for instance with failed deployment",
		"instance_id", instanceID,
		"deployment_id", deploymentID,
		"dry_run", dryRun)

	if dryRun {
		return success("Dry run termination of instance %s after failed deployment %s", instanceID, deploymentID)
	}
	return success("Instance %s terminated after failed deployment %s", instanceID, deploymentID)
}

// handleCompletion tears down the throwaway group named in a deployment
// completion notification
func (o *Orchestrator) handleCompletion(ctx context.Context, log *logger.Logger, ev events.Event) (Result, error) {
	if ev.ApplicationName != "" && ev.ApplicationName != o.settings.ApplicationName {
		return warning("Notification for application %s ignored, expected %s", ev.ApplicationName, o.settings.ApplicationName), nil
	}

	instanceID, err := o.restorer.RecoverEphemeralGroup(ctx, ev.DeploymentGroupName)
	if errors.Is(err, autodeploy.ErrNotEphemeralGroup) {
		log.Warn("Notification does not name an ephemeral deployment group",
			"deployment_group", ev.DeploymentGroupName,
			"error", err)
		return warning("Deployment group %s is not an ephemeral group of %s, nothing to clean up",
			ev.DeploymentGroupName, o.settings.BaseGroupName), nil
	}
	if err != nil {
		suffix, _ := o.settings.Convention.SuffixFromGroupName(o.settings.BaseGroupName, ev.DeploymentGroupName)
		o.cleanupFailed(ctx, instanceID, suffix, ev.DeploymentGroupName, err)

		// Retrying is useful only while the tag still identifies the instance
		var retry error
		if !errors.Is(err, autodeploy.ErrInvariantViolation) && autodeploy.FailedStep(err) != autodeploy.StepDeleteGroup {
			retry = err
		}
		return failure("Cleanup of deployment group %s failed: %v", ev.DeploymentGroupName, err), retry
	}

	if ev.Kind == events.KindDeploymentSucceeded {
		return success("Deployment %s succeeded, removed deployment group %s and released instance %s",
			ev.DeploymentID, ev.DeploymentGroupName, instanceID), nil
	}

	if !o.config.TerminateOnFailure {
		return warning("Deployment %s ended %s, removed deployment group %s. 'terminate_on_failure' flag is not enabled, skipping termination of instance %s",
			ev.DeploymentID, ev.Status, ev.DeploymentGroupName, instanceID), nil
	}

	res := o.terminate(ctx, log, instanceID, ev.DeploymentID)
	res.Message = fmt.Sprintf("Deployment %s ended %s, removed deployment group %s. %s",
		ev.DeploymentID, ev.Status, ev.DeploymentGroupName, res.Message)
	return res, nil
}

// dump renders payload for the diagnostic log of an unknown event
func dump(payload []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return string(payload)
	}
	return buf.String()
}
