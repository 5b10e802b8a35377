package state

import (
	"sync"
	"time"
)

// StateSnapshot represents a point-in-time snapshot of the handler state
type StateSnapshot struct {
	Strategy             string    `json:"strategy"`
	LastEventKind        string    `json:"last_event_kind,omitempty"`
	LastEvent            time.Time `json:"last_event"`
	EventCount           int       `json:"event_count"`
	LastDeploymentID     string    `json:"last_deployment_id,omitempty"`
	DeploymentsTriggered int       `json:"deployments_triggered"`
	RestoreFailures      int       `json:"restore_failures"`
	LastError            string    `json:"last_error,omitempty"`
	Status               string    `json:"status"`
	Timestamp            time.Time `json:"timestamp"`
}

// State tracks what the handler has done since the process started. It
// holds counters only; no episode state lives here.
type State struct {
	mu                   sync.RWMutex
	strategy             string
	lastEventKind        string
	lastEvent            time.Time
	eventCount           int
	lastDeploymentID     string
	deploymentsTriggered int
	restoreFailures      int
	lastError            string
	status               string
}

// NewState creates a new state manager
func NewState() *State {
	return &State{
		status: "initializing",
	}
}

// GetStrategy returns the configured isolation strategy
func (s *State) GetStrategy() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strategy
}

// SetStrategy records the configured isolation strategy
func (s *State) SetStrategy(strategy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = strategy
}

// RecordEvent records a handled event
func (s *State) RecordEvent(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEventKind = kind
	s.lastEvent = time.Now()
	s.eventCount++
}

// RecordDeployment records a triggered deployment
func (s *State) RecordDeployment(deploymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDeploymentID = deploymentID
	s.deploymentsTriggered++
}

// RecordRestoreFailure records an episode that needs manual cleanup
func (s *State) RecordRestoreFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreFailures++
}

// SetStatus sets the current status
func (s *State) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetLastError sets the last error
func (s *State) SetLastError(err string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err
}

// GetSnapshot returns a snapshot of the current state
func (s *State) GetSnapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StateSnapshot{
		Strategy:             s.strategy,
		LastEventKind:        s.lastEventKind,
		LastEvent:            s.lastEvent,
		EventCount:           s.eventCount,
		LastDeploymentID:     s.lastDeploymentID,
		DeploymentsTriggered: s.deploymentsTriggered,
		RestoreFailures:      s.restoreFailures,
		LastError:            s.lastError,
		Status:               s.status,
		Timestamp:            time.Now(),
	}
}
