package domain

import "context"

// The types in this file are the orchestrator's external collaborators
// (spec.md section 1: "out of scope... treated as external collaborators
// with fixed interfaces" and section 6 "External Interfaces"). The core
// depends only on these interfaces; infrastructure packages provide both
// "naive" in-memory adapters (for tests and the syncworkflow engine) and
// real backends.

// VMRecord is the store's view of a provisioned VM.
type VMRecord struct {
	VMID        string
	Deployment  DeploymentName
	Job         JobName
	Index       int
	Pool        PoolName
	Stemcell    StemcellRef
	Networks    []NetworkName
	SpecDigest  string
	DiskID      string
	IsIdle      bool
}

// DiskRecord is the store's view of a persistent disk.
type DiskRecord struct {
	DiskID     string
	VMID       string
	SizeMB     int
}

// Store is the persistence port (spec.md section 6 "Store (consumed)").
// Implementations provide transactional CRUD for the entities the core
// reads and writes over the course of one apply.
type Store interface {
	// FindVM returns the VM record bound to (deployment, job, index), if any.
	FindVM(ctx context.Context, deployment DeploymentName, job JobName, index int) (*VMRecord, bool, error)
	// IdleVMs returns the idle VMs currently owned by a resource pool.
	IdleVMs(ctx context.Context, deployment DeploymentName, pool PoolName) ([]VMRecord, error)
	// SaveVM upserts a VM record.
	SaveVM(ctx context.Context, vm VMRecord) error
	// DeleteVM removes a VM record.
	DeleteVM(ctx context.Context, vmID string) error

	// CommitReleaseVersions atomically rewrites the deployment's recorded
	// release-version set, within a single transaction (spec.md section 6).
	CommitReleaseVersions(ctx context.Context, deployment DeploymentName, releases map[ReleaseName]string) error
	// UpdateStemcellReferences reconciles the stemcells.deployments join
	// table after a successful apply, dropping stale rows.
	UpdateStemcellReferences(ctx context.Context, deployment DeploymentName, used []StemcellRef) error
	// SaveManifest records the last successful manifest text for a deployment.
	SaveManifest(ctx context.Context, deployment DeploymentName, manifest string) error

	// ReleaseCatalog resolves the exact (name, version) pairs a manifest
	// declares, for the Manifest Parser's parse_release step. A ref that
	// does not match a known release version is simply absent from the
	// returned map.
	ReleaseCatalog(ctx context.Context, refs []ReleaseVersionRef) (map[ReleaseName]*ReleaseVersion, error)

	// PutReleaseVersion registers a release version's published templates
	// in the catalog, so later ReleaseCatalog lookups can resolve it. Real
	// deployments populate this out of band (release upload); tests and
	// the in-memory adapter use it directly to seed fixtures.
	PutReleaseVersion(ctx context.Context, rv *ReleaseVersion) error

	// SaveDeploymentRecord upserts the deployment-resource record (name,
	// lifecycle state, last manifest). Distinct from SaveManifest, which
	// only the Apply workflow's finalize step writes on a successful run;
	// this is the CRUD-level record the application layer manages across
	// the deployment's whole lifetime.
	SaveDeploymentRecord(ctx context.Context, rec DeploymentRecord) error
	// GetDeploymentRecord returns the deployment-resource record.
	GetDeploymentRecord(ctx context.Context, name DeploymentName) (DeploymentRecord, error)
	// ListDeploymentRecords returns every known deployment-resource record.
	ListDeploymentRecords(ctx context.Context) ([]DeploymentRecord, error)
	// DeleteDeploymentRecord removes the deployment-resource record.
	DeleteDeploymentRecord(ctx context.Context, name DeploymentName) error
}

// ReleaseVersionRef names one (release, version) pair a manifest declares.
type ReleaseVersionRef struct {
	Name    ReleaseName
	Version string
}

// CPI is the cloud provider adapter port (spec.md section 6).
type CPI interface {
	CreateVM(ctx context.Context, stemcell StemcellRef, cloudProperties Value, networks []NetworkName, diskCIDs []string) (vmCID string, err error)
	DeleteVM(ctx context.Context, vmCID string) error
	CreateDisk(ctx context.Context, sizeMB int, cloudProperties Value) (diskCID string, err error)
	AttachDisk(ctx context.Context, vmCID, diskCID string) error
	DetachDisk(ctx context.Context, vmCID, diskCID string) error
	SnapshotDisk(ctx context.Context, diskCID string) (snapshotID string, err error)
}

// AgentState is the lifecycle state reported by get_state().
type AgentState string

const (
	AgentRunning AgentState = "running"
	AgentStopped AgentState = "stopped"
	AgentFailing AgentState = "failing"
)

// Agent is the per-VM RPC port (spec.md section 6 "Agent RPC (consumed)").
type Agent interface {
	Prepare(ctx context.Context, vmCID string, spec InstanceSpec) error
	Apply(ctx context.Context, vmCID string, spec InstanceSpec) error
	Start(ctx context.Context, vmCID string) error
	Stop(ctx context.Context, vmCID string) error
	Drain(ctx context.Context, vmCID string, kind string) error
	GetState(ctx context.Context, vmCID string) (AgentState, error)
	RunErrand(ctx context.Context, vmCID string, name string) error
}

// Lock is the distributed lock manager port. Acquire blocks or fails fast
// depending on the implementation; Release is idempotent.
type Lock interface {
	// AcquireExclusive acquires the per-deployment lock held for the whole
	// apply (spec.md section 5 "Shared resource policy").
	AcquireExclusive(ctx context.Context, deployment DeploymentName) (release func(), err error)
	// AcquireShared acquires a per-release shared lock, held only around the
	// final release-version commit.
	AcquireShared(ctx context.Context, release ReleaseName) (unlock func(), err error)
}
