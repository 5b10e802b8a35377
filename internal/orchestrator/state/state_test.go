package state

import (
	"sync"
	"testing"
	"time"
)

func TestNewState(t *testing.T) {
	s := NewState()
	if s == nil {
		t.Fatal("NewState() returned nil")
	}

	snapshot := s.GetSnapshot()
	if snapshot.Status != "initializing" {
		t.Errorf("Expected status 'initializing', got '%s'", snapshot.Status)
	}

	if snapshot.Strategy != "" {
		t.Errorf("Expected empty strategy, got '%s'", snapshot.Strategy)
	}

	if snapshot.EventCount != 0 {
		t.Errorf("Expected event count 0, got %d", snapshot.EventCount)
	}
}

func TestSetStrategy(t *testing.T) {
	s := NewState()

	s.SetStrategy("retarget")
	if got := s.GetStrategy(); got != "retarget" {
		t.Errorf("Expected 'retarget', got '%s'", got)
	}

	s.SetStrategy("ephemeral-group")
	if got := s.GetStrategy(); got != "ephemeral-group" {
		t.Errorf("Expected 'ephemeral-group', got '%s'", got)
	}
}

func TestRecordEvent(t *testing.T) {
	s := NewState()

	before := time.Now()
	s.RecordEvent("InstanceRunning")
	after := time.Now()

	snapshot := s.GetSnapshot()
	if snapshot.EventCount != 1 {
		t.Errorf("Expected event count 1, got %d", snapshot.EventCount)
	}
	if snapshot.LastEventKind != "InstanceRunning" {
		t.Errorf("Expected last kind 'InstanceRunning', got '%s'", snapshot.LastEventKind)
	}
	if snapshot.LastEvent.Before(before) || snapshot.LastEvent.After(after) {
		t.Errorf("Event timestamp %v not within expected range [%v, %v]",
			snapshot.LastEvent, before, after)
	}

	s.RecordEvent("DeploymentSucceeded")
	snapshot = s.GetSnapshot()
	if snapshot.EventCount != 2 || snapshot.LastEventKind != "DeploymentSucceeded" {
		t.Errorf("Unexpected snapshot %+v", snapshot)
	}
}

func TestRecordDeployment(t *testing.T) {
	s := NewState()

	s.RecordDeployment("d-000000001")
	s.RecordDeployment("d-000000002")

	snapshot := s.GetSnapshot()
	if snapshot.DeploymentsTriggered != 2 {
		t.Errorf("Expected 2 deployments, got %d", snapshot.DeploymentsTriggered)
	}
	if snapshot.LastDeploymentID != "d-000000002" {
		t.Errorf("Expected last deployment 'd-000000002', got '%s'", snapshot.LastDeploymentID)
	}
}

func TestSetStatusAndError(t *testing.T) {
	s := NewState()

	s.SetStatus("healthy")
	s.SetLastError("create-tag: throttled")
	s.RecordRestoreFailure()

	snapshot := s.GetSnapshot()
	if snapshot.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", snapshot.Status)
	}
	if snapshot.LastError != "create-tag: throttled" {
		t.Errorf("Unexpected error '%s'", snapshot.LastError)
	}
	if snapshot.RestoreFailures != 1 {
		t.Errorf("Expected 1 restore failure, got %d", snapshot.RestoreFailures)
	}

	s.SetLastError("")
	if s.GetSnapshot().LastError != "" {
		t.Error("Expected error to be cleared")
	}

	// Verify timestamp is recent
	if time.Since(snapshot.Timestamp) > time.Second {
		t.Errorf("Snapshot timestamp %v is too old", snapshot.Timestamp)
	}
}

// TestConcurrentAccess verifies thread safety
func TestConcurrentAccess(t *testing.T) {
	s := NewState()

	var wg sync.WaitGroup
	numGoroutines := 100

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()

			s.SetStrategy("retarget")
			s.SetStatus("healthy")
			s.RecordEvent("InstanceRunning")
			s.RecordDeployment("d-1")
			s.SetLastError("concurrent error")

			_ = s.GetStrategy()
			_ = s.GetSnapshot()
		}(i)
	}

	wg.Wait()

	snapshot := s.GetSnapshot()
	if snapshot.EventCount != numGoroutines {
		t.Errorf("Expected event count %d, got %d", numGoroutines, snapshot.EventCount)
	}
	if snapshot.DeploymentsTriggered != numGoroutines {
		t.Errorf("Expected %d deployments, got %d", numGoroutines, snapshot.DeploymentsTriggered)
	}
}
