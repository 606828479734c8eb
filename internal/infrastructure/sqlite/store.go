package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fleetshift/deployctl/internal/domain"
)

// Store implements [domain.Store] backed by SQLite, following the
// teacher's TargetRepo scan/error-wrapping style.
type Store struct {
	DB *sql.DB
}

func (s *Store) FindVM(ctx context.Context, deployment domain.DeploymentName, job domain.JobName, index int) (*domain.VMRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT vm_id, deployment_name, job_name, instance_index, pool_name,
		       stemcell_name, stemcell_version, networks, spec_digest, disk_id, is_idle
		FROM vms
		WHERE deployment_name = ? AND job_name = ? AND instance_index = ? AND is_idle = 0`,
		string(deployment), string(job), index,
	)
	vm, err := scanVM(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &vm, true, nil
}

func (s *Store) IdleVMs(ctx context.Context, deployment domain.DeploymentName, pool domain.PoolName) ([]domain.VMRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT vm_id, deployment_name, job_name, instance_index, pool_name,
		       stemcell_name, stemcell_version, networks, spec_digest, disk_id, is_idle
		FROM vms
		WHERE deployment_name = ? AND pool_name = ? AND is_idle = 1`,
		string(deployment), string(pool),
	)
	if err != nil {
		return nil, fmt.Errorf("list idle vms: %w", err)
	}
	defer rows.Close()

	var out []domain.VMRecord
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, vm)
	}
	return out, rows.Err()
}

func (s *Store) SaveVM(ctx context.Context, vm domain.VMRecord) error {
	var networks []string
	for _, n := range vm.Networks {
		networks = append(networks, string(n))
	}
	idle := 0
	if vm.IsIdle {
		idle = 1
	}
	if _, err := s.DB.ExecContext(ctx, `
		INSERT INTO deployments (name) VALUES (?)
		ON CONFLICT (name) DO NOTHING`, string(vm.Deployment)); err != nil {
		return fmt.Errorf("save vm: ensure deployment row: %w", err)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO vms (vm_id, deployment_name, job_name, instance_index, pool_name,
		                  stemcell_name, stemcell_version, networks, spec_digest, disk_id, is_idle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vm_id) DO UPDATE SET
			deployment_name = excluded.deployment_name,
			job_name = excluded.job_name,
			instance_index = excluded.instance_index,
			pool_name = excluded.pool_name,
			stemcell_name = excluded.stemcell_name,
			stemcell_version = excluded.stemcell_version,
			networks = excluded.networks,
			spec_digest = excluded.spec_digest,
			disk_id = excluded.disk_id,
			is_idle = excluded.is_idle`,
		vm.VMID, string(vm.Deployment), string(vm.Job), vm.Index, string(vm.Pool),
		string(vm.Stemcell.Name), vm.Stemcell.Version, strings.Join(networks, ","), vm.SpecDigest, vm.DiskID, idle,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("vm %q: %w", vm.VMID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("save vm: %w", err)
	}
	return nil
}

func (s *Store) DeleteVM(ctx context.Context, vmID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM vms WHERE vm_id = ?`, vmID)
	if err != nil {
		return fmt.Errorf("delete vm: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("vm %q: %w", vmID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) CommitReleaseVersions(ctx context.Context, deployment domain.DeploymentName, releases map[domain.ReleaseName]string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrStoreTransactionFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO deployments (name) VALUES (?)
		ON CONFLICT (name) DO NOTHING`, string(deployment)); err != nil {
		return fmt.Errorf("%w: ensure deployment row: %v", domain.ErrStoreTransactionFailed, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM release_versions WHERE deployment_name = ?`, string(deployment)); err != nil {
		return fmt.Errorf("%w: clear release versions: %v", domain.ErrStoreTransactionFailed, err)
	}
	for name, version := range releases {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO release_versions (deployment_name, release_name, version) VALUES (?, ?, ?)`,
			string(deployment), string(name), version,
		); err != nil {
			return fmt.Errorf("%w: insert release version: %v", domain.ErrStoreTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreTransactionFailed, err)
	}
	return nil
}

func (s *Store) UpdateStemcellReferences(ctx context.Context, deployment domain.DeploymentName, used []domain.StemcellRef) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrStoreTransactionFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO deployments (name) VALUES (?)
		ON CONFLICT (name) DO NOTHING`, string(deployment)); err != nil {
		return fmt.Errorf("%w: ensure deployment row: %v", domain.ErrStoreTransactionFailed, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stemcell_deployments WHERE deployment_name = ?`, string(deployment)); err != nil {
		return fmt.Errorf("%w: clear stemcell refs: %v", domain.ErrStoreTransactionFailed, err)
	}
	for _, ref := range used {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stemcell_deployments (deployment_name, stemcell_name, stemcell_version) VALUES (?, ?, ?)`,
			string(deployment), string(ref.Name), ref.Version,
		); err != nil {
			return fmt.Errorf("%w: insert stemcell ref: %v", domain.ErrStoreTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreTransactionFailed, err)
	}
	return nil
}

func (s *Store) SaveManifest(ctx context.Context, deployment domain.DeploymentName, manifest string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO deployments (name, manifest) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET manifest = excluded.manifest, updated_at = unixepoch()`,
		string(deployment), manifest,
	)
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVM(s scanner) (domain.VMRecord, error) {
	var vm domain.VMRecord
	var deployment, job, pool, stemcellName, stemcellVersion, networks string
	var idle int
	err := s.Scan(&vm.VMID, &deployment, &job, &vm.Index, &pool, &stemcellName, &stemcellVersion, &networks, &vm.SpecDigest, &vm.DiskID, &idle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vm, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return vm, fmt.Errorf("scan vm: %w", err)
	}
	vm.Deployment = domain.DeploymentName(deployment)
	vm.Job = domain.JobName(job)
	vm.Pool = domain.PoolName(pool)
	vm.Stemcell = domain.StemcellRef{Name: domain.StemcellName(stemcellName), Version: stemcellVersion}
	vm.IsIdle = idle != 0
	if networks != "" {
		for _, n := range strings.Split(networks, ",") {
			vm.Networks = append(vm.Networks, domain.NetworkName(n))
		}
	}
	return vm, nil
}

var _ domain.Store = (*Store)(nil)
