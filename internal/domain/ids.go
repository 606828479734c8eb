package domain

// DeploymentName identifies a deployment. Unique across the store.
type DeploymentName string

// ReleaseName identifies a release (a set of versioned templates).
type ReleaseName string

// TemplateName identifies a template within a release version.
type TemplateName string

// JobName identifies a job group within a deployment. Unique per deployment.
type JobName string

// PoolName identifies a resource pool within a deployment.
type PoolName string

// NetworkName identifies a network within a deployment.
type NetworkName string

// StemcellName identifies a stemcell by name; paired with a version to form
// a full reference.
type StemcellName string

// InstanceState is the target or observed lifecycle state of one instance.
type InstanceState string

const (
	InstanceStarted  InstanceState = "started"
	InstanceStopped  InstanceState = "stopped"
	InstanceDetached InstanceState = "detached"
)

// StemcellRef uniquely identifies a published stemcell image.
type StemcellRef struct {
	Name    StemcellName
	Version string
}

// DeploymentState is the lifecycle state of a deployment resource, tracked
// independently of any single apply run so a deployment mid-apply or being
// torn down is visible to callers rather than inferred from the absence of
// a manifest.
type DeploymentState string

const (
	DeploymentPending  DeploymentState = "pending"
	DeploymentActive   DeploymentState = "active"
	DeploymentDeleting DeploymentState = "deleting"
)

// DeploymentRecord is the deployment-resource view the application layer's
// CRUD surface works with, distinct from the Plan built fresh on every
// apply.
type DeploymentRecord struct {
	Name     DeploymentName
	State    DeploymentState
	Manifest string
}
