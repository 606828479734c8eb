package domain

import "fmt"

// PropertyDef is one entry in a template's declared property schema: a
// dotted-path key mapped to an optional default and a required flag.
type PropertyDef struct {
	Path     string
	Default  Value
	HasDefault bool
	Required bool
}

// PropertySchema is a template's full property schema, or nil if the
// template declares none. Per spec.md 4.2 rule 1/3, a job's selected
// templates must either all declare a schema or all declare none.
type PropertySchema []PropertyDef

// PropertyMapping renames a bound subtree: the value at Source is copied to
// Alias and the original path is deleted.
type PropertyMapping struct {
	Alias  string
	Source string
}

// BindProperties implements the algorithm in spec.md 4.2.
//
//  1. If no selected template declares a schema, the job's properties are
//     exactly the deployment properties subtree (bind(props) == props).
//  2. If all selected templates declare schemas, the union of their schemas
//     is built (by path); each path takes the deployment value if present,
//     else the template default, else fails with ErrMissingProperty if
//     required.
//  3. Mixed schemas (some declare, some don't) fail with
//     ErrIncompatibleSpecs.
//  4. property_mappings are applied first, to a copy of the deployment
//     properties, before any of the rules above: for each (alias, source)
//     pair the subtree at source is copied to alias and the original path
//     removed; a missing source fails with ErrInvalidPropertyMapping.
func BindProperties(jobName JobName, deploymentProps Value, schemas []PropertySchema, mappings []PropertyMapping) (Value, error) {
	// property_mappings rewrite the deployment properties tree under their
	// aliases before schema resolution runs, so a schema's declared paths
	// can name the alias rather than the deployment's original key. This is
	// what lets a mapping like mem -> dea.max_memory satisfy a schema that
	// declares "mem": the schema never sees "dea.max_memory" directly.
	working := deploymentProps.Clone()
	for _, m := range mappings {
		src, ok := working.Get(m.Source)
		if !ok {
			return Value{}, fmt.Errorf("%w: job %q: mapping %q -> %q: source path not found",
				ErrInvalidPropertyMapping, jobName, m.Alias, m.Source)
		}
		working.Set(m.Alias, src)
		working.Delete(m.Source)
	}

	declared := 0
	for _, s := range schemas {
		if s != nil {
			declared++
		}
	}

	switch {
	case declared == 0:
		return working, nil
	case declared == len(schemas):
		return mergeSchemas(jobName, working, schemas)
	default:
		return Value{}, fmt.Errorf("%w: job %q: some templates declare a property schema and some do not",
			ErrIncompatibleSpecs, jobName)
	}
}

// mergeSchemas builds the union of schemas keyed by dotted path and
// resolves each path against the deployment-provided properties, falling
// back to the template default, failing if required and absent.
func mergeSchemas(jobName JobName, deploymentProps Value, schemas []PropertySchema) (Value, error) {
	type entry struct {
		def PropertyDef
	}
	union := map[string]entry{}
	var order []string
	for _, schema := range schemas {
		for _, def := range schema {
			if _, ok := union[def.Path]; !ok {
				order = append(order, def.Path)
			}
			union[def.Path] = entry{def: def}
		}
	}

	out := NewMapping()
	for _, path := range order {
		e := union[path]
		if v, ok := deploymentProps.Get(path); ok {
			out.Set(path, v)
			continue
		}
		if e.def.HasDefault {
			out.Set(path, e.def.Default)
			continue
		}
		if e.def.Required {
			return Value{}, fmt.Errorf("%w: job %q: property %q has no default and no value supplied",
				ErrMissingProperty, jobName, path)
		}
	}
	return out, nil
}
