package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetshift/deployctl/internal/domain"
)

func (s *Store) SaveDeploymentRecord(ctx context.Context, rec domain.DeploymentRecord) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO deployments (name, manifest, state) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			manifest = excluded.manifest, state = excluded.state, updated_at = unixepoch()`,
		string(rec.Name), rec.Manifest, string(rec.State),
	)
	if err != nil {
		return fmt.Errorf("save deployment record: %w", err)
	}
	return nil
}

func (s *Store) GetDeploymentRecord(ctx context.Context, name domain.DeploymentName) (domain.DeploymentRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT name, manifest, state FROM deployments WHERE name = ?`, string(name))
	return scanDeploymentRecord(row)
}

func (s *Store) ListDeploymentRecords(ctx context.Context) ([]domain.DeploymentRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT name, manifest, state FROM deployments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list deployment records: %w", err)
	}
	defer rows.Close()

	var out []domain.DeploymentRecord
	for rows.Next() {
		rec, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDeploymentRecord(ctx context.Context, name domain.DeploymentName) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM deployments WHERE name = ?`, string(name))
	if err != nil {
		return fmt.Errorf("delete deployment record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("deployment %q: %w", name, domain.ErrNotFound)
	}
	return nil
}

func scanDeploymentRecord(s scanner) (domain.DeploymentRecord, error) {
	var rec domain.DeploymentRecord
	var name, state string
	if err := s.Scan(&name, &rec.Manifest, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return rec, fmt.Errorf("scan deployment record: %w", err)
	}
	rec.Name = domain.DeploymentName(name)
	rec.State = domain.DeploymentState(state)
	return rec, nil
}
