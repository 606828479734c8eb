package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fleetshift/deployctl/internal/domain"
)

// templateJSON is the JSON wire shape for one Template, matching the
// teacher's pattern of JSON-marshaling structured columns (target_repo.go
// Labels/Properties).
type templateJSON struct {
	Name   string          `json:"name"`
	Schema []propertyJSON  `json:"schema,omitempty"`
}

type propertyJSON struct {
	Path       string `json:"path"`
	Default    any    `json:"default,omitempty"`
	HasDefault bool   `json:"has_default,omitempty"`
	Required   bool   `json:"required,omitempty"`
}

func (s *Store) PutReleaseVersion(ctx context.Context, rv *domain.ReleaseVersion) error {
	var templates []templateJSON
	for _, t := range rv.Templates {
		tj := templateJSON{Name: string(t.Name)}
		for _, def := range t.Schema {
			tj.Schema = append(tj.Schema, propertyJSON{
				Path:       def.Path,
				Default:    def.Default.ToAny(),
				HasDefault: def.HasDefault,
				Required:   def.Required,
			})
		}
		templates = append(templates, tj)
	}
	blob, err := json.Marshal(templates)
	if err != nil {
		return fmt.Errorf("marshal templates: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO known_releases (release_name, version, templates) VALUES (?, ?, ?)
		ON CONFLICT (release_name, version) DO UPDATE SET templates = excluded.templates`,
		string(rv.Release), rv.Version, string(blob),
	)
	if err != nil {
		return fmt.Errorf("put release version: %w", err)
	}
	return nil
}

func (s *Store) ReleaseCatalog(ctx context.Context, refs []domain.ReleaseVersionRef) (map[domain.ReleaseName]*domain.ReleaseVersion, error) {
	out := map[domain.ReleaseName]*domain.ReleaseVersion{}
	for _, ref := range refs {
		row := s.DB.QueryRowContext(ctx, `
			SELECT templates FROM known_releases WHERE release_name = ? AND version = ?`,
			string(ref.Name), ref.Version,
		)
		var blob string
		if err := row.Scan(&blob); err != nil {
			continue
		}
		var templates []templateJSON
		if err := json.Unmarshal([]byte(blob), &templates); err != nil {
			return nil, fmt.Errorf("unmarshal templates: %w", err)
		}
		rv := &domain.ReleaseVersion{Release: ref.Name, Version: ref.Version, Templates: map[domain.TemplateName]*domain.Template{}}
		for _, tj := range templates {
			var schema domain.PropertySchema
			for _, pj := range tj.Schema {
				schema = append(schema, domain.PropertyDef{
					Path:       pj.Path,
					Default:    domain.FromAny(pj.Default),
					HasDefault: pj.HasDefault,
					Required:   pj.Required,
				})
			}
			rv.Templates[domain.TemplateName(tj.Name)] = &domain.Template{Release: ref.Name, Name: domain.TemplateName(tj.Name), Schema: schema}
		}
		out[ref.Name] = rv
	}
	return out, nil
}
