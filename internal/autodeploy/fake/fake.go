// Package fake provides in-memory inventory and control-plane services that
// record every call, for exercising the isolation protocol without AWS.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"codedeploy-autodeploy/internal/autodeploy"
)

// ErrRemote is a generic injected remote failure
var ErrRemote = errors.New("remote service unavailable")

// Inventory is an in-memory EC2 inventory
type Inventory struct {
	mu        sync.Mutex
	instances map[string]*autodeploy.Instance
	stale     map[string][]autodeploy.Tag

	// HiddenReads is the number of GetInstance calls that still return the
	// tags as they were before the most recent CreateTag
	HiddenReads int

	GetErr       error
	CreateTagErr error
	DeleteTagErr error
	ListErr      error
	TerminateErr error

	Gets         int
	Lists        int
	Creates      map[string]int
	Deletes      map[string]int
	Terminated   []string
	TerminateDry []bool
}

// NewInventory creates an inventory holding copies of instances
func NewInventory(instances ...autodeploy.Instance) *Inventory {
	f := &Inventory{
		instances: make(map[string]*autodeploy.Instance),
		stale:     make(map[string][]autodeploy.Tag),
		Creates:   make(map[string]int),
		Deletes:   make(map[string]int),
	}
	for i := range instances {
		inst := instances[i]
		inst.Tags = append([]autodeploy.Tag{}, inst.Tags...)
		f.instances[inst.ID] = &inst
	}
	return f
}

func (f *Inventory) GetInstance(ctx context.Context, instanceID string) (*autodeploy.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Gets++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	inst, ok := f.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("instance %s not found", instanceID)
	}
	out := *inst
	if f.HiddenReads > 0 {
		f.HiddenReads--
		if stale, ok := f.stale[instanceID]; ok {
			out.Tags = append([]autodeploy.Tag{}, stale...)
			return &out, nil
		}
	}
	out.Tags = append([]autodeploy.Tag{}, inst.Tags...)
	return &out, nil
}

func (f *Inventory) CreateTag(ctx context.Context, instanceID string, tag autodeploy.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Creates[tag.Key]++
	if f.CreateTagErr != nil {
		return f.CreateTagErr
	}
	inst, ok := f.instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %s not found", instanceID)
	}
	f.stale[instanceID] = append([]autodeploy.Tag{}, inst.Tags...)
	inst.Tags = append(inst.Tags, tag)
	return nil
}

func (f *Inventory) DeleteTag(ctx context.Context, instanceID string, tag autodeploy.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deletes[tag.Key]++
	if f.DeleteTagErr != nil {
		return f.DeleteTagErr
	}
	inst, ok := f.instances[instanceID]
	if !ok {
		return nil
	}
	kept := make([]autodeploy.Tag, 0, len(inst.Tags))
	for _, t := range inst.Tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	inst.Tags = kept
	return nil
}

func (f *Inventory) ListInstancesByTag(ctx context.Context, tag autodeploy.Tag) ([]autodeploy.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lists++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	var out []autodeploy.Instance
	for _, inst := range f.instances {
		if inst.HasTag(tag) {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (f *Inventory) TerminateInstance(ctx context.Context, instanceID string, dryRun bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TerminateErr != nil {
		return f.TerminateErr
	}
	f.Terminated = append(f.Terminated, instanceID)
	f.TerminateDry = append(f.TerminateDry, dryRun)
	return nil
}

// HasTagKey reports whether the instance currently carries a tag with key
func (f *Inventory) HasTagKey(instanceID, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[instanceID]
	if !ok {
		return false
	}
	for _, t := range inst.Tags {
		if t.Key == key {
			return true
		}
	}
	return false
}

// TotalCreates is the number of CreateTag calls over all keys
func (f *Inventory) TotalCreates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Creates {
		n += c
	}
	return n
}

// TotalDeletes is the number of DeleteTag calls over all keys
func (f *Inventory) TotalDeletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Deletes {
		n += c
	}
	return n
}

// ControlPlane is an in-memory CodeDeploy
type ControlPlane struct {
	mu          sync.Mutex
	groups      map[string]*autodeploy.DeploymentGroup
	deployments map[string]*autodeploy.DeploymentInfo
	nextID      int
	statusReads int

	// StatusSequence is returned by successive GetDeployment calls; the
	// last entry repeats
	StatusSequence []autodeploy.DeploymentStatus

	GetGroupErr     error
	CreateGroupErr  error
	DeleteGroupErr  error
	CreateDeployErr error
	GetDeployErr    error
	BatchGetErr     error

	// UpdateErr fails every UpdateDeploymentGroupTargets call after the
	// first UpdateErrAfter calls
	UpdateErr      error
	UpdateErrAfter int

	Updates         []autodeploy.TargetingSpec
	CreatedGroups   []autodeploy.DeploymentGroup
	DeletedGroups   []string
	CreatedDeploys  []string
	DeployRevisions []autodeploy.Revision
	ListCalls       int
	StatusCalls     int
}

// NewControlPlane creates a control plane holding copies of groups
func NewControlPlane(groups ...autodeploy.DeploymentGroup) *ControlPlane {
	f := &ControlPlane{
		groups:         make(map[string]*autodeploy.DeploymentGroup),
		deployments:    make(map[string]*autodeploy.DeploymentInfo),
		StatusSequence: []autodeploy.DeploymentStatus{autodeploy.DeploymentInProgress},
	}
	for i := range groups {
		g := groups[i]
		g.Targets = g.Targets.Clone()
		f.groups[key(g.ApplicationName, g.Name)] = &g
	}
	return f
}

func key(application, group string) string {
	return application + "/" + group
}

// AddDeployment registers an existing deployment
func (f *ControlPlane) AddDeployment(info autodeploy.DeploymentInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[info.ID] = &info
}

// Group returns a copy of the stored group, or nil
func (f *ControlPlane) Group(application, name string) *autodeploy.DeploymentGroup {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[key(application, name)]
	if !ok {
		return nil
	}
	out := *g
	out.Targets = g.Targets.Clone()
	return &out
}

// MutationCount is the number of calls that change control-plane state
func (f *ControlPlane) MutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Updates) + len(f.CreatedGroups) + len(f.DeletedGroups) + len(f.CreatedDeploys)
}

func (f *ControlPlane) GetDeploymentGroup(ctx context.Context, application, group string) (*autodeploy.DeploymentGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetGroupErr != nil {
		return nil, f.GetGroupErr
	}
	g, ok := f.groups[key(application, group)]
	if !ok {
		return nil, fmt.Errorf("deployment group %s/%s not found", application, group)
	}
	out := *g
	out.Targets = g.Targets.Clone()
	return &out, nil
}

func (f *ControlPlane) UpdateDeploymentGroupTargets(ctx context.Context, application, group string, targets autodeploy.TargetingSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updates = append(f.Updates, targets.Clone())
	if f.UpdateErr != nil && len(f.Updates) > f.UpdateErrAfter {
		return f.UpdateErr
	}
	g, ok := f.groups[key(application, group)]
	if !ok {
		return fmt.Errorf("deployment group %s/%s not found", application, group)
	}
	g.Targets = targets.Clone()
	return nil
}

func (f *ControlPlane) CreateDeploymentGroup(ctx context.Context, group autodeploy.DeploymentGroup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreatedGroups = append(f.CreatedGroups, group)
	if f.CreateGroupErr != nil {
		return f.CreateGroupErr
	}
	g := group
	f.groups[key(group.ApplicationName, group.Name)] = &g
	return nil
}

func (f *ControlPlane) DeleteDeploymentGroup(ctx context.Context, application, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeletedGroups = append(f.DeletedGroups, group)
	if f.DeleteGroupErr != nil {
		return f.DeleteGroupErr
	}
	delete(f.groups, key(application, group))
	return nil
}

func (f *ControlPlane) CreateDeployment(ctx context.Context, application, group string, revision autodeploy.Revision, description string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateDeployErr != nil {
		return "", f.CreateDeployErr
	}
	f.nextID++
	id := fmt.Sprintf("d-%09d", f.nextID)
	f.CreatedDeploys = append(f.CreatedDeploys, id)
	f.DeployRevisions = append(f.DeployRevisions, revision)
	f.deployments[id] = &autodeploy.DeploymentInfo{
		ID:              id,
		ApplicationName: application,
		GroupName:       group,
		Status:          autodeploy.DeploymentCreated,
		Description:     description,
	}
	return id, nil
}

func (f *ControlPlane) GetDeployment(ctx context.Context, deploymentID string) (*autodeploy.DeploymentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusCalls++
	if f.GetDeployErr != nil {
		return nil, f.GetDeployErr
	}
	d, ok := f.deployments[deploymentID]
	if !ok {
		return nil, fmt.Errorf("deployment %s does not exist", deploymentID)
	}
	if len(f.StatusSequence) > 0 {
		i := f.statusReads
		if i >= len(f.StatusSequence) {
			i = len(f.StatusSequence) - 1
		}
		f.statusReads++
		d.Status = f.StatusSequence[i]
	}
	out := *d
	return &out, nil
}

func (f *ControlPlane) ListDeployments(ctx context.Context, application, group string, statuses []autodeploy.DeploymentStatus) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	var ids []string
	for id, d := range f.deployments {
		if d.ApplicationName != application || d.GroupName != group {
			continue
		}
		for _, s := range statuses {
			if d.Status == s {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, nil
}

func (f *ControlPlane) BatchGetDeployments(ctx context.Context, deploymentIDs []string) ([]autodeploy.DeploymentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BatchGetErr != nil {
		return nil, f.BatchGetErr
	}
	var out []autodeploy.DeploymentInfo
	for _, id := range deploymentIDs {
		if d, ok := f.deployments[id]; ok {
			out = append(out, *d)
		}
	}
	return out, nil
}
