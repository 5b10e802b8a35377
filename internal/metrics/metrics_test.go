package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()

	r.ObserveEvent("InstanceRunning", "SUCCESS", 2*time.Second)
	r.ObserveEvent("InstanceRunning", "SUCCESS", time.Second)
	r.ObserveDeployment("started")
	r.ObserveRestoreFailure()
	r.ObserveTermination(true)
	r.ObserveAPICall("ec2", "CreateTags", nil)
	r.ObserveAPICall("ec2", "CreateTags", errors.New("throttled"))

	if got := testutil.ToFloat64(r.events.WithLabelValues("InstanceRunning", "SUCCESS")); got != 2 {
		t.Errorf("Expected 2 events, got %v", got)
	}
	if got := testutil.ToFloat64(r.deployments.WithLabelValues("started")); got != 1 {
		t.Errorf("Expected 1 deployment, got %v", got)
	}
	if got := testutil.ToFloat64(r.restoreFailures); got != 1 {
		t.Errorf("Expected 1 restore failure, got %v", got)
	}
	if got := testutil.ToFloat64(r.terminations.WithLabelValues("true")); got != 1 {
		t.Errorf("Expected 1 dry-run termination, got %v", got)
	}
	if got := testutil.ToFloat64(r.apiCalls.WithLabelValues("ec2", "CreateTags", "error")); got != 1 {
		t.Errorf("Expected 1 failed API call, got %v", got)
	}

	families, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected registered metric families")
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder

	// None of these may panic
	r.ObserveEvent("Unrecognized", "WARNING", time.Millisecond)
	r.ObserveDeployment("failed")
	r.ObserveRestoreFailure()
	r.ObserveTermination(false)
	r.ObserveAPICall("codedeploy", "GetDeployment", nil)

	if r.Registry() != nil {
		t.Error("Expected nil registry")
	}
}
