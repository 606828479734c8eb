// Package application wires the domain's pure components to a concrete
// Store/WorkflowEngine and exposes the deployment-resource CRUD surface the
// CLI and tests drive, mirroring the teacher's DeploymentService/
// OrchestrationService split.
package application

import (
	"context"
	"fmt"

	"github.com/fleetshift/deployctl/internal/domain"
)

// ApplyInput is the caller-provided input for running an apply.
type ApplyInput struct {
	Deployment        domain.DeploymentName
	ManifestYAML      map[string]any
	ManifestText      string
	Recreate          bool
	JobStateOverrides map[string]domain.InstanceState
}

// DeploymentService manages deployment-resource lifecycle and drives the
// Apply workflow, adapted from the teacher's DeploymentService (create/
// get/list/delete wrapping orchestration).
type DeploymentService struct {
	Store domain.Store
	Apply domain.ApplyRunner
}

// Create registers a deployment record in DeploymentPending state and runs
// an apply to bring it up, mirroring the teacher's Create-then-orchestrate
// shape.
func (s *DeploymentService) Create(ctx context.Context, in ApplyInput) (domain.DeploymentRecord, error) {
	if in.Deployment == "" {
		return domain.DeploymentRecord{}, fmt.Errorf("%w: deployment name is required", domain.ErrInvalidArgument)
	}

	rec := domain.DeploymentRecord{Name: in.Deployment, State: domain.DeploymentPending, Manifest: in.ManifestText}
	if err := s.Store.SaveDeploymentRecord(ctx, rec); err != nil {
		return domain.DeploymentRecord{}, err
	}

	_, applyErr := s.runApply(ctx, in)

	rec.State = domain.DeploymentActive
	if applyErr != nil {
		rec.State = domain.DeploymentPending
	}
	if err := s.Store.SaveDeploymentRecord(ctx, rec); err != nil {
		return domain.DeploymentRecord{}, err
	}

	if applyErr != nil {
		return rec, fmt.Errorf("apply %s: %w", in.Deployment, applyErr)
	}
	return rec, nil
}

// Update re-runs the apply pipeline against an existing deployment record
// with a new manifest (the spec.md "re-apply" path: a deployment is always
// converged toward its most recently applied manifest).
func (s *DeploymentService) Update(ctx context.Context, in ApplyInput) (domain.DeploymentRecord, domain.ApplyResult, error) {
	rec, err := s.Store.GetDeploymentRecord(ctx, in.Deployment)
	if err != nil {
		return domain.DeploymentRecord{}, domain.ApplyResult{}, err
	}

	result, applyErr := s.runApply(ctx, in)

	rec.Manifest = in.ManifestText
	rec.State = domain.DeploymentActive
	if saveErr := s.Store.SaveDeploymentRecord(ctx, rec); saveErr != nil {
		return domain.DeploymentRecord{}, domain.ApplyResult{}, saveErr
	}
	if applyErr != nil {
		return rec, result, fmt.Errorf("apply %s: %w", in.Deployment, applyErr)
	}
	return rec, result, nil
}

func (s *DeploymentService) runApply(ctx context.Context, in ApplyInput) (domain.ApplyResult, error) {
	handle, err := s.Apply.Run(ctx, domain.ApplyRequest{
		Deployment:        in.Deployment,
		ManifestYAML:      in.ManifestYAML,
		ManifestText:      in.ManifestText,
		Recreate:          in.Recreate,
		JobStateOverrides: in.JobStateOverrides,
	})
	if err != nil {
		return domain.ApplyResult{}, fmt.Errorf("start apply workflow: %w", err)
	}
	return handle.AwaitResult(ctx)
}

// Get retrieves a deployment record by name.
func (s *DeploymentService) Get(ctx context.Context, name domain.DeploymentName) (domain.DeploymentRecord, error) {
	return s.Store.GetDeploymentRecord(ctx, name)
}

// List returns every known deployment record.
func (s *DeploymentService) List(ctx context.Context) ([]domain.DeploymentRecord, error) {
	return s.Store.ListDeploymentRecords(ctx)
}

// Delete marks a deployment as deleting, then removes its record. Instances
// themselves are left to a future apply with an empty job list; this
// method only retires the resource-level bookkeeping, matching the
// teacher's Delete (remove record + dependent rows, no cascading side
// effects of its own).
func (s *DeploymentService) Delete(ctx context.Context, name domain.DeploymentName) error {
	rec, err := s.Store.GetDeploymentRecord(ctx, name)
	if err != nil {
		return err
	}
	rec.State = domain.DeploymentDeleting
	if err := s.Store.SaveDeploymentRecord(ctx, rec); err != nil {
		return err
	}
	return s.Store.DeleteDeploymentRecord(ctx, name)
}
