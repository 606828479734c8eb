package domain

// Plan is the fully resolved, typed representation of a deployment
// manifest: the arena that owns every entity derived from the manifest for
// the duration of one apply (spec.md section 9 "cyclic references" design
// note). Components hold keys into this arena (JobName, PoolName, ...)
// rather than owning pointers into each other, breaking the Template <->
// ReleaseVersion <-> Job <-> Plan reference cycle.
//
// The Plan is single-writer during Parse and read-only thereafter;
// concurrent readers (the Job Updater, the Renderer) need no locking once
// construction returns.
type Plan struct {
	DeploymentName DeploymentName
	Releases       map[ReleaseName]*ReleaseVersion
	ResourcePools  map[PoolName]*ResourcePool
	Networks       map[NetworkName]*Network
	Jobs           map[JobName]*Job
	// JobOrder preserves manifest declaration order, the default update
	// order for the Batch Multi-Job Updater (spec.md 4.6 step 1).
	JobOrder []JobName
}

// ReleaseVersion is an immutable, published set of templates contributed by
// one release. Reference counting (spec.md section 3) is the store's
// concern, not the Plan's; the Plan only needs to know which templates a
// release version declares.
type ReleaseVersion struct {
	Release   ReleaseName
	Version   string
	Templates map[TemplateName]*Template
}

// Template belongs to exactly one ReleaseVersion.
type Template struct {
	Release ReleaseName
	Name    TemplateName
	// Schema is nil if the template declares no property schema at all
	// (spec.md 4.1: "a template's property schema is either fully
	// specified or entirely absent").
	Schema PropertySchema
}

// ResourcePool is a group of fungible VMs sharing a stemcell and cloud
// properties (spec.md section 3). CloudProperties is passed through to the
// CPI opaquely; the Plan does not interpret it.
type ResourcePool struct {
	Name            PoolName
	Size            int
	Stemcell        StemcellRef
	CloudProperties Value
	Network         NetworkName
}

// Network is a named network reference; its CloudProperties/ranges are
// opaque to the Plan and passed through to the CPI at VM-creation time.
type Network struct {
	Name            NetworkName
	Type            string
	CloudProperties Value
}

// UpdateConfig carries the Job Updater's tunable parameters (spec.md 4.5).
type UpdateConfig struct {
	Canaries        int
	MaxInFlight     int
	CanaryWatchTime WatchWindow
	UpdateWatchTime WatchWindow
	Serial          bool
}

// WatchWindow is a [min, max] millisecond range the Job Updater polls the
// agent within, failing if the instance is not ready by max.
type WatchWindow struct {
	MinMillis int
	MaxMillis int
}

// DefaultUpdateConfig returns the spec.md 4.5 defaults: canaries=1,
// max_in_flight=1, serial=true.
func DefaultUpdateConfig() UpdateConfig {
	return UpdateConfig{
		Canaries:        1,
		MaxInFlight:     1,
		CanaryWatchTime: WatchWindow{MinMillis: 0, MaxMillis: 300000},
		UpdateWatchTime: WatchWindow{MinMillis: 0, MaxMillis: 300000},
		Serial:          true,
	}
}

// TemplateBinding is one resolved (job-local) template reference: the
// template name plus the release version it was resolved against. Built by
// parse_template/parse_templates (spec.md 4.1).
type TemplateBinding struct {
	Name    TemplateName
	Release ReleaseName
}

// Job is one job group: an ordered list of templates from a single release
// version, a target resource pool and networks, bound properties, and
// per-instance overrides.
type Job struct {
	Name             JobName
	Templates        []TemplateBinding
	ReleaseVersion   *ReleaseVersion
	ResourcePool     PoolName
	Networks         []NetworkName
	Instances        int
	PersistentDiskMB int
	Properties       Value
	PropertyMappings []PropertyMapping
	Update           UpdateConfig
	// JobStateOverrides maps a 0-based instance index to a forced target
	// state, overriding the job-level default of "started".
	JobStateOverrides map[int]InstanceState
	// Rename maps an old job name to this job's name, for migrated_from
	// style in-place renames (carried from the pack's InstanceGroup
	// MigratedFrom field; spec.md mentions an optional "rename mapping").
	Rename string
}

// TargetState returns the target lifecycle state for instance index i,
// applying JobStateOverrides over the job-level default of "started".
func (j *Job) TargetState(index int) InstanceState {
	if j.JobStateOverrides != nil {
		if s, ok := j.JobStateOverrides[index]; ok {
			return s
		}
	}
	return InstanceStarted
}

// Instance is one (job, index) slot, which may or may not currently be
// backed by a VM/disk.
type Instance struct {
	Job   JobName
	Index int

	TargetState InstanceState

	// CurrentVMID and CurrentDiskID are set when the store already has a
	// VM/disk bound to this (job, index); empty means no existing VM/disk
	// was found (a pure create).
	CurrentVMID   string
	CurrentDiskID string

	// CurrentSpecDigest is the content hash of the VM's last-applied spec,
	// as recorded by the store; empty if there is no prior record.
	CurrentSpecDigest string
	// TargetSpecDigest is computed from the Plan's resolved InstanceSpec
	// for this instance.
	TargetSpecDigest string

	// Recreate forces VM replacement regardless of digest (spec.md 4.5:
	// "recreate forces VM replacement regardless of spec digest"),
	// e.g. from the CLI's --recreate flag.
	Recreate bool
}

// InstanceSpec is the content whose BLAKE3 hash becomes an instance's
// target spec digest (SPEC_FULL.md section 4): everything about an
// instance's intended configuration that, if changed, means the instance
// needs an "update" transition rather than a no-op.
type InstanceSpec struct {
	Job              JobName
	Index            int
	Templates        []TemplateBinding
	ReleaseVersion   string
	ResourcePool     PoolName
	Stemcell         StemcellRef
	Networks         []NetworkName
	PersistentDiskMB int
	Properties       Value
}
