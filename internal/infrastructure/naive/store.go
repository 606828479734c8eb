// Package naive provides in-memory default adapters for the Store, CPI,
// Agent, and Lock ports (SPEC_FULL.md section 7: "naive in-memory default
// adapters"), used by the sync workflow engine's tests and by operators
// trying the CLI without a real cloud backend wired up.
package naive

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fleetshift/deployctl/internal/domain"
)

type vmKey struct {
	deployment domain.DeploymentName
	job        domain.JobName
	index      int
}

// Store is an in-memory domain.Store.
type Store struct {
	mu   sync.Mutex
	vms  map[string]domain.VMRecord
	byJI map[vmKey]string

	manifests map[domain.DeploymentName]string
	releases  map[domain.DeploymentName]map[domain.ReleaseName]string
	stemcells map[domain.DeploymentName]map[domain.StemcellRef]bool
	catalog   map[domain.ReleaseVersionRef]*domain.ReleaseVersion
	records   map[domain.DeploymentName]domain.DeploymentRecord
}

func NewStore() *Store {
	return &Store{
		vms:       map[string]domain.VMRecord{},
		byJI:      map[vmKey]string{},
		manifests: map[domain.DeploymentName]string{},
		releases:  map[domain.DeploymentName]map[domain.ReleaseName]string{},
		stemcells: map[domain.DeploymentName]map[domain.StemcellRef]bool{},
		catalog:   map[domain.ReleaseVersionRef]*domain.ReleaseVersion{},
		records:   map[domain.DeploymentName]domain.DeploymentRecord{},
	}
}

func (s *Store) SaveDeploymentRecord(_ context.Context, rec domain.DeploymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Name] = rec
	return nil
}

func (s *Store) GetDeploymentRecord(_ context.Context, name domain.DeploymentName) (domain.DeploymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok {
		return domain.DeploymentRecord{}, fmt.Errorf("%w: deployment %s", domain.ErrNotFound, name)
	}
	return rec, nil
}

func (s *Store) ListDeploymentRecords(_ context.Context) ([]domain.DeploymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DeploymentRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) DeleteDeploymentRecord(_ context.Context, name domain.DeploymentName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[name]; !ok {
		return fmt.Errorf("%w: deployment %s", domain.ErrNotFound, name)
	}
	delete(s.records, name)
	return nil
}

func (s *Store) ReleaseCatalog(_ context.Context, refs []domain.ReleaseVersionRef) (map[domain.ReleaseName]*domain.ReleaseVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[domain.ReleaseName]*domain.ReleaseVersion{}
	for _, ref := range refs {
		if rv, ok := s.catalog[ref]; ok {
			out[ref.Name] = rv
		}
	}
	return out, nil
}

func (s *Store) PutReleaseVersion(_ context.Context, rv *domain.ReleaseVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[domain.ReleaseVersionRef{Name: rv.Release, Version: rv.Version}] = rv
	return nil
}

func (s *Store) FindVM(_ context.Context, deployment domain.DeploymentName, job domain.JobName, index int) (*domain.VMRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byJI[vmKey{deployment, job, index}]
	if !ok {
		return nil, false, nil
	}
	rec := s.vms[id]
	return &rec, true, nil
}

func (s *Store) IdleVMs(_ context.Context, deployment domain.DeploymentName, pool domain.PoolName) ([]domain.VMRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VMRecord
	for _, vm := range s.vms {
		if vm.Deployment == deployment && vm.Pool == pool && vm.IsIdle {
			out = append(out, vm)
		}
	}
	return out, nil
}

func (s *Store) SaveVM(_ context.Context, vm domain.VMRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vms[vm.VMID] = vm
	if !vm.IsIdle && vm.Job != "" {
		s.byJI[vmKey{vm.Deployment, vm.Job, vm.Index}] = vm.VMID
	}
	return nil
}

func (s *Store) DeleteVM(_ context.Context, vmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[vmID]
	if !ok {
		return fmt.Errorf("%w: vm %s", domain.ErrNotFound, vmID)
	}
	delete(s.vms, vmID)
	delete(s.byJI, vmKey{vm.Deployment, vm.Job, vm.Index})
	return nil
}

func (s *Store) CommitReleaseVersions(_ context.Context, deployment domain.DeploymentName, releases map[domain.ReleaseName]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[domain.ReleaseName]string, len(releases))
	for k, v := range releases {
		cp[k] = v
	}
	s.releases[deployment] = cp
	return nil
}

func (s *Store) UpdateStemcellReferences(_ context.Context, deployment domain.DeploymentName, used []domain.StemcellRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := map[domain.StemcellRef]bool{}
	for _, r := range used {
		m[r] = true
	}
	s.stemcells[deployment] = m
	return nil
}

func (s *Store) SaveManifest(_ context.Context, deployment domain.DeploymentName, manifest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[deployment] = manifest
	return nil
}

// CPI is an in-memory domain.CPI that fabricates CIDs via uuid.
type CPI struct {
	mu    sync.Mutex
	disks map[string]int
}

func NewCPI() *CPI { return &CPI{disks: map[string]int{}} }

func (c *CPI) CreateVM(_ context.Context, _ domain.StemcellRef, _ domain.Value, _ []domain.NetworkName, _ []string) (string, error) {
	return "vm-" + uuid.NewString(), nil
}

func (c *CPI) DeleteVM(_ context.Context, _ string) error { return nil }

func (c *CPI) CreateDisk(_ context.Context, sizeMB int, _ domain.Value) (string, error) {
	id := "disk-" + uuid.NewString()
	c.mu.Lock()
	c.disks[id] = sizeMB
	c.mu.Unlock()
	return id, nil
}

func (c *CPI) AttachDisk(_ context.Context, _, _ string) error { return nil }
func (c *CPI) DetachDisk(_ context.Context, _, _ string) error { return nil }

func (c *CPI) SnapshotDisk(_ context.Context, diskCID string) (string, error) {
	return "snap-" + uuid.NewString(), nil
}

// Agent is an in-memory domain.Agent that reports a VM as running as soon
// as Start is called on it (and stopped before that or after Stop), for
// tests and for trying the CLI without a real fleet.
type Agent struct {
	mu     sync.Mutex
	states map[string]domain.AgentState
}

func NewAgent() *Agent { return &Agent{states: map[string]domain.AgentState{}} }

func (a *Agent) Prepare(_ context.Context, vmCID string, _ domain.InstanceSpec) error { return nil }
func (a *Agent) Apply(_ context.Context, vmCID string, _ domain.InstanceSpec) error   { return nil }

func (a *Agent) Start(_ context.Context, vmCID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states[vmCID] = domain.AgentRunning
	return nil
}

func (a *Agent) Stop(_ context.Context, vmCID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states[vmCID] = domain.AgentStopped
	return nil
}

func (a *Agent) Drain(_ context.Context, _ string, _ string) error { return nil }

func (a *Agent) GetState(_ context.Context, vmCID string) (domain.AgentState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.states[vmCID]; ok {
		return s, nil
	}
	return domain.AgentStopped, nil
}

func (a *Agent) RunErrand(_ context.Context, _ string, _ string) error { return nil }

// Lock is an in-memory domain.Lock backed by per-key mutexes; it never
// blocks across processes, only within one.
type Lock struct {
	mu    sync.Mutex
	held  map[string]*sync.Mutex
}

func NewLock() *Lock { return &Lock{held: map[string]*sync.Mutex{}} }

func (l *Lock) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.held[key]
	if !ok {
		m = &sync.Mutex{}
		l.held[key] = m
	}
	return m
}

func (l *Lock) AcquireExclusive(ctx context.Context, deployment domain.DeploymentName) (func(), error) {
	m := l.lockFor("deployment:" + string(deployment))
	done := make(chan struct{})
	go func() { m.Lock(); close(done) }()
	select {
	case <-done:
		var once sync.Once
		return func() { once.Do(m.Unlock) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", domain.ErrLockUnavailable, ctx.Err())
	}
}

func (l *Lock) AcquireShared(ctx context.Context, release domain.ReleaseName) (func(), error) {
	m := l.lockFor("release:" + string(release))
	done := make(chan struct{})
	go func() { m.Lock(); close(done) }()
	select {
	case <-done:
		var once sync.Once
		return func() { once.Do(m.Unlock) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", domain.ErrLockUnavailable, ctx.Err())
	}
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.CPI   = (*CPI)(nil)
	_ domain.Agent = (*Agent)(nil)
	_ domain.Lock  = (*Lock)(nil)
)
