package domain

import (
	"errors"
	"fmt"
)

// ParseError names the offending manifest path and the validation category
// it violates (spec.md 4.1: MissingField, InvalidType, InvalidValue, plus
// the cross-reference categories UnknownRelease/UnknownResourcePool/
// InvalidTemplates/IncompatibleSpecs/InvalidPropertyMapping/
// MissingProperty). errors.Is(err, domain.ErrMissingField) etc. all work
// against a *ParseError via Unwrap.
type ParseError struct {
	Path    string
	Kind    error
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Kind }

func perr(kind error, path, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ParseManifest builds a typed Plan from a decoded manifest tree (as
// produced by [FromAny] over a YAML-decoded map[string]any), resolving
// releases against the given release-version catalog and following the
// fixed parse order from spec.md 4.1:
//
//	parse_name -> parse_release -> parse_template -> parse_templates ->
//	parse_disk -> parse_properties -> parse_resource_pool ->
//	parse_update_config -> parse_instances -> parse_networks
//
// Each stage depends on state built by the previous one (e.g. template
// resolution needs the deployment's declared releases), so stages run in
// order and the first stage to fail halts parsing of the whole manifest
// (no partial Plan is returned). Within the per-job loop, jobs are
// independent of each other, so all jobs are parsed and their errors
// accumulated (via errors.Join) before the manifest parse as a whole fails.
func ParseManifest(raw Value, releases map[ReleaseName]*ReleaseVersion) (*Plan, error) {
	name, err := parseName(raw)
	if err != nil {
		return nil, err
	}

	declaredReleases, err := parseDeclaredReleases(raw, releases)
	if err != nil {
		return nil, err
	}

	pools, err := parseResourcePools(raw)
	if err != nil {
		return nil, err
	}

	networks, err := parseNetworks(raw)
	if err != nil {
		return nil, err
	}

	deploymentProps, _ := raw.Get("properties")

	jobsRaw, ok := raw.Get("jobs")
	if !ok || jobsRaw.Kind != KindSequence {
		return nil, perr(ErrMissingField, "jobs", "jobs must be a sequence")
	}

	jobs := map[JobName]*Job{}
	var order []JobName
	var jobErrs []error
	for i, jobRaw := range jobsRaw.Seq {
		path := fmt.Sprintf("jobs[%d]", i)
		job, err := parseJob(path, jobRaw, declaredReleases, pools, networks, deploymentProps)
		if err != nil {
			jobErrs = append(jobErrs, err)
			continue
		}
		if _, dup := jobs[job.Name]; dup {
			jobErrs = append(jobErrs, perr(ErrInvalidValue, path+".name", "duplicate job name %q", job.Name))
			continue
		}
		jobs[job.Name] = job
		order = append(order, job.Name)
	}
	if len(jobErrs) > 0 {
		return nil, errors.Join(jobErrs...)
	}

	if err := validatePoolCapacity(jobs, pools); err != nil {
		return nil, err
	}

	return &Plan{
		DeploymentName: name,
		Releases:       declaredReleases,
		ResourcePools:  pools,
		Networks:       networks,
		Jobs:           jobs,
		JobOrder:       order,
	}, nil
}

// parse_name
func parseName(raw Value) (DeploymentName, error) {
	v, ok := raw.Get("name")
	if !ok {
		return "", perr(ErrMissingField, "name", "deployment name is required")
	}
	if v.Kind != KindString {
		return "", perr(ErrInvalidType, "name", "must be a string")
	}
	if v.Str == "" {
		return "", perr(ErrInvalidValue, "name", "must not be empty")
	}
	return DeploymentName(v.Str), nil
}

// PeekDeclaredReleases reads just the deployment-level "releases"
// sequence, without validating the rest of the manifest. Callers use it to
// batch-fetch the exact release versions a manifest needs from the store
// before running [ParseManifest], which takes the resolved catalog rather
// than querying the store itself.
func PeekDeclaredReleases(raw Value) []ReleaseVersionRef {
	seq, ok := raw.Get("releases")
	if !ok || seq.Kind != KindSequence {
		return nil
	}
	var out []ReleaseVersionRef
	for _, r := range seq.Seq {
		nameV, ok := r.Get("name")
		if !ok || nameV.Kind != KindString {
			continue
		}
		verV, _ := r.Get("version")
		out = append(out, ReleaseVersionRef{Name: ReleaseName(nameV.Str), Version: verV.Str})
	}
	return out
}

// parse_release: the deployment-level "releases" sequence, resolved
// against the store's known release-version catalog.
func parseDeclaredReleases(raw Value, catalog map[ReleaseName]*ReleaseVersion) (map[ReleaseName]*ReleaseVersion, error) {
	seq, ok := raw.Get("releases")
	if !ok || seq.Kind != KindSequence {
		return nil, perr(ErrMissingField, "releases", "releases must be a sequence")
	}
	out := map[ReleaseName]*ReleaseVersion{}
	for i, r := range seq.Seq {
		path := fmt.Sprintf("releases[%d]", i)
		nameV, ok := r.Get("name")
		if !ok || nameV.Kind != KindString {
			return nil, perr(ErrMissingField, path+".name", "release name is required")
		}
		verV, ok := r.Get("version")
		if !ok || verV.Kind != KindString {
			return nil, perr(ErrMissingField, path+".version", "release version is required")
		}
		rn := ReleaseName(nameV.Str)
		rv, found := catalog[rn]
		if !found || rv.Version != verV.Str {
			return nil, perr(ErrUnknownRelease, path, "release %q version %q is not known", rn, verV.Str)
		}
		out[rn] = rv
	}
	return out, nil
}

func parseResourcePools(raw Value) (map[PoolName]*ResourcePool, error) {
	seq, ok := raw.Get("resource_pools")
	if !ok || seq.Kind != KindSequence {
		return nil, perr(ErrMissingField, "resource_pools", "resource_pools must be a sequence")
	}
	out := map[PoolName]*ResourcePool{}
	for i, p := range seq.Seq {
		path := fmt.Sprintf("resource_pools[%d]", i)
		nameV, ok := p.Get("name")
		if !ok || nameV.Kind != KindString {
			return nil, perr(ErrMissingField, path+".name", "resource pool name is required")
		}
		sizeV, ok := p.Get("size")
		if !ok || sizeV.Kind != KindInt {
			return nil, perr(ErrInvalidType, path+".size", "size must be an integer")
		}
		stemcellV, ok := p.Get("stemcell")
		if !ok {
			return nil, perr(ErrMissingField, path+".stemcell", "stemcell is required")
		}
		snV, _ := stemcellV.Get("name")
		svV, _ := stemcellV.Get("version")
		netV, _ := p.Get("network")
		cloudProps, _ := p.Get("cloud_properties")

		out[PoolName(nameV.Str)] = &ResourcePool{
			Name:            PoolName(nameV.Str),
			Size:            int(sizeV.Int),
			Stemcell:        StemcellRef{Name: StemcellName(snV.Str), Version: svV.Str},
			CloudProperties: cloudProps,
			Network:         NetworkName(netV.Str),
		}
	}
	return out, nil
}

func parseNetworks(raw Value) (map[NetworkName]*Network, error) {
	seq, ok := raw.Get("networks")
	if !ok || seq.Kind != KindSequence {
		return nil, perr(ErrMissingField, "networks", "networks must be a sequence")
	}
	out := map[NetworkName]*Network{}
	for i, n := range seq.Seq {
		path := fmt.Sprintf("networks[%d]", i)
		nameV, ok := n.Get("name")
		if !ok || nameV.Kind != KindString {
			return nil, perr(ErrMissingField, path+".name", "network name is required")
		}
		typeV, _ := n.Get("type")
		cloudProps, _ := n.Get("cloud_properties")
		out[NetworkName(nameV.Str)] = &Network{
			Name:            NetworkName(nameV.Str),
			Type:            typeV.Str,
			CloudProperties: cloudProps,
		}
	}
	return out, nil
}

// parseJob runs parse_template -> parse_templates -> parse_disk ->
// parse_properties -> parse_resource_pool -> parse_update_config ->
// parse_instances for one job entry.
func parseJob(path string, raw Value, releases map[ReleaseName]*ReleaseVersion, pools map[PoolName]*ResourcePool, networks map[NetworkName]*Network, deploymentProps Value) (*Job, error) {
	nameV, ok := raw.Get("name")
	if !ok || nameV.Kind != KindString || nameV.Str == "" {
		return nil, perr(ErrMissingField, path+".name", "job name is required")
	}
	jobName := JobName(nameV.Str)

	bindings, rv, err := parseJobTemplates(path, raw, releases)
	if err != nil {
		return nil, err
	}

	diskMB, err := parseDisk(path, raw)
	if err != nil {
		return nil, err
	}

	props, mappings, err := parseJobProperties(path, jobName, raw, bindings, rv, deploymentProps)
	if err != nil {
		return nil, err
	}

	rename, err := parseJobRename(path, raw)
	if err != nil {
		return nil, err
	}

	poolV, ok := raw.Get("resource_pool")
	if !ok || poolV.Kind != KindString {
		return nil, perr(ErrMissingField, path+".resource_pool", "resource_pool is required")
	}
	pool, found := pools[PoolName(poolV.Str)]
	if !found {
		return nil, perr(ErrUnknownResourcePool, path+".resource_pool", "resource pool %q is not declared", poolV.Str)
	}

	update, err := parseUpdateConfig(path, raw)
	if err != nil {
		return nil, err
	}

	instancesV, ok := raw.Get("instances")
	if !ok || instancesV.Kind != KindInt {
		return nil, perr(ErrInvalidType, path+".instances", "instances must be an integer")
	}
	if instancesV.Int < 0 {
		return nil, perr(ErrInvalidValue, path+".instances", "instances must be >= 0")
	}

	netNames, err := parseJobNetworks(path, raw, networks)
	if err != nil {
		return nil, err
	}

	overrides, err := parseJobStateOverrides(path, raw)
	if err != nil {
		return nil, err
	}

	return &Job{
		Name:              jobName,
		Templates:         bindings,
		ReleaseVersion:    rv,
		ResourcePool:      pool.Name,
		Networks:          netNames,
		Instances:         int(instancesV.Int),
		PersistentDiskMB:  diskMB,
		Properties:        props,
		PropertyMappings:  mappings,
		Update:            update,
		JobStateOverrides: overrides,
		Rename:            rename,
	}, nil
}

// parse_rename (spec.md 3's optional "rename" mapping): a job may carry the
// name it migrates from, so the Assembler can bind to a VM record stored
// under the old name instead of planning a create.
func parseJobRename(path string, raw Value) (string, error) {
	v, ok := raw.Get("rename")
	if !ok {
		return "", nil
	}
	if v.Kind != KindMapping {
		return "", perr(ErrInvalidType, path+".rename", "rename must be a mapping with a from key")
	}
	fromV, ok := v.Get("from")
	if !ok || fromV.Kind != KindString || fromV.Str == "" {
		return "", perr(ErrMissingField, path+".rename.from", "rename.from is required")
	}
	return fromV.Str, nil
}

// parse_template / parse_templates (spec.md 4.1 resolution rules).
func parseJobTemplates(path string, raw Value, releases map[ReleaseName]*ReleaseVersion) ([]TemplateBinding, *ReleaseVersion, error) {
	jobReleaseV, _ := raw.Get("release")
	defaultRelease := ReleaseName(jobReleaseV.Str)

	var bindings []TemplateBinding

	if tv, ok := raw.Get("template"); ok {
		switch tv.Kind {
		case KindString:
			bindings = append(bindings, TemplateBinding{Name: TemplateName(tv.Str), Release: defaultRelease})
		case KindSequence:
			for _, e := range tv.Seq {
				if e.Kind != KindString {
					return nil, nil, perr(ErrInvalidType, path+".template", "each template entry must be a string")
				}
				bindings = append(bindings, TemplateBinding{Name: TemplateName(e.Str), Release: defaultRelease})
			}
		default:
			return nil, nil, perr(ErrInvalidType, path+".template", "template must be a string or sequence")
		}
	} else if tv, ok := raw.Get("templates"); ok {
		if tv.Kind != KindSequence {
			return nil, nil, perr(ErrInvalidType, path+".templates", "templates must be a sequence")
		}
		for i, e := range tv.Seq {
			nameV, ok := e.Get("name")
			if !ok || nameV.Kind != KindString {
				return nil, nil, perr(ErrMissingField, fmt.Sprintf("%s.templates[%d].name", path, i), "template name is required")
			}
			rel := defaultRelease
			if relV, ok := e.Get("release"); ok && relV.Kind == KindString {
				rel = ReleaseName(relV.Str)
			}
			bindings = append(bindings, TemplateBinding{Name: TemplateName(nameV.Str), Release: rel})
		}
	} else {
		return nil, nil, perr(ErrMissingField, path+".template", "a job must declare template(s)")
	}

	seen := map[TemplateName]bool{}
	for _, b := range bindings {
		if seen[b.Name] {
			return nil, nil, perr(ErrInvalidTemplates, path+".templates", "must not have repeating names")
		}
		seen[b.Name] = true
	}

	var resolvedRelease ReleaseName
	var rv *ReleaseVersion
	var templates []*Template
	for _, b := range bindings {
		release, ok := releases[b.Release]
		if !ok {
			return nil, nil, perr(ErrUnknownRelease, path+".templates", "release %q is not declared on the deployment", b.Release)
		}
		if resolvedRelease == "" {
			resolvedRelease = b.Release
			rv = release
		} else if resolvedRelease != b.Release {
			return nil, nil, perr(ErrInvalidTemplates, path+".templates", "must come from the same release")
		}
		tmpl, ok := release.Templates[b.Name]
		if !ok {
			return nil, nil, perr(ErrUnknownRelease, path+".templates", "template %q not found in release %q version %q", b.Name, release.Release, release.Version)
		}
		templates = append(templates, tmpl)
	}

	return bindings, rv, nil
}

func parseDisk(path string, raw Value) (int, error) {
	v, ok := raw.Get("persistent_disk")
	if !ok {
		return 0, nil
	}
	if v.Kind != KindInt {
		return 0, perr(ErrInvalidType, path+".persistent_disk", "persistent_disk must be an integer")
	}
	if v.Int < 0 {
		return 0, perr(ErrInvalidValue, path+".persistent_disk", "persistent_disk must be >= 0")
	}
	return int(v.Int), nil
}

// parse_properties: resolves the job's property schemas (from its
// templates) and binds job properties via BindProperties (spec.md 4.2).
func parseJobProperties(path string, jobName JobName, raw Value, bindings []TemplateBinding, rv *ReleaseVersion, deploymentProps Value) (Value, []PropertyMapping, error) {
	var schemas []PropertySchema
	if rv != nil {
		for _, b := range bindings {
			tmpl := rv.Templates[b.Name]
			schemas = append(schemas, tmpl.Schema)
		}
	}

	jobProps, _ := raw.Get("properties")
	base := deploymentProps
	if jobProps.Kind == KindMapping {
		base = Merge(deploymentProps, jobProps)
	}

	var mappings []PropertyMapping
	if mv, ok := raw.Get("property_mappings"); ok && mv.Kind == KindMapping {
		for alias, src := range mv.Mapping {
			if src.Kind != KindString {
				return Value{}, nil, perr(ErrInvalidType, path+".property_mappings."+alias, "mapping source must be a string path")
			}
			mappings = append(mappings, PropertyMapping{Alias: alias, Source: src.Str})
		}
	}

	bound, err := BindProperties(jobName, base, schemas, mappings)
	if err != nil {
		return Value{}, nil, err
	}
	return bound, mappings, nil
}

func parseUpdateConfig(path string, raw Value) (UpdateConfig, error) {
	cfg := DefaultUpdateConfig()
	v, ok := raw.Get("update")
	if !ok {
		return cfg, nil
	}
	if canaries, ok := v.Get("canaries"); ok {
		if canaries.Kind != KindInt {
			return cfg, perr(ErrInvalidType, path+".update.canaries", "canaries must be an integer")
		}
		cfg.Canaries = int(canaries.Int)
	}
	if mif, ok := v.Get("max_in_flight"); ok {
		if mif.Kind != KindInt {
			return cfg, perr(ErrInvalidType, path+".update.max_in_flight", "max_in_flight must be an integer")
		}
		cfg.MaxInFlight = int(mif.Int)
	}
	if cfg.MaxInFlight < 1 {
		return cfg, perr(ErrInvalidValue, path+".update.max_in_flight", "max_in_flight must be >= 1")
	}
	if w, ok := v.Get("canary_watch_time"); ok {
		ww, err := parseWatchWindow(path+".update.canary_watch_time", w)
		if err != nil {
			return cfg, err
		}
		cfg.CanaryWatchTime = ww
	}
	if w, ok := v.Get("update_watch_time"); ok {
		ww, err := parseWatchWindow(path+".update.update_watch_time", w)
		if err != nil {
			return cfg, err
		}
		cfg.UpdateWatchTime = ww
	}
	if s, ok := v.Get("serial"); ok {
		if s.Kind != KindBool {
			return cfg, perr(ErrInvalidType, path+".update.serial", "serial must be a boolean")
		}
		cfg.Serial = s.Bool
	}
	return cfg, nil
}

func parseWatchWindow(path string, v Value) (WatchWindow, error) {
	if v.Kind == KindInt {
		return WatchWindow{MinMillis: 0, MaxMillis: int(v.Int)}, nil
	}
	if v.Kind == KindSequence && len(v.Seq) == 2 {
		if v.Seq[0].Kind != KindInt || v.Seq[1].Kind != KindInt {
			return WatchWindow{}, perr(ErrInvalidType, path, "watch time range must contain integers")
		}
		return WatchWindow{MinMillis: int(v.Seq[0].Int), MaxMillis: int(v.Seq[1].Int)}, nil
	}
	return WatchWindow{}, perr(ErrInvalidType, path, "watch time must be an integer or a [min, max] sequence")
}

func parseJobNetworks(path string, raw Value, networks map[NetworkName]*Network) ([]NetworkName, error) {
	seq, ok := raw.Get("networks")
	if !ok || seq.Kind != KindSequence {
		return nil, perr(ErrMissingField, path+".networks", "a job must declare at least one network")
	}
	var out []NetworkName
	for i, n := range seq.Seq {
		nameV, ok := n.Get("name")
		if !ok || nameV.Kind != KindString {
			return nil, perr(ErrMissingField, fmt.Sprintf("%s.networks[%d].name", path, i), "network name is required")
		}
		if _, found := networks[NetworkName(nameV.Str)]; !found {
			return nil, perr(ErrInvalidValue, fmt.Sprintf("%s.networks[%d]", path, i), "network %q is not declared on the deployment", nameV.Str)
		}
		out = append(out, NetworkName(nameV.Str))
	}
	return out, nil
}

func parseJobStateOverrides(path string, raw Value) (map[int]InstanceState, error) {
	v, ok := raw.Get("job_state_overrides")
	if !ok || v.Kind != KindMapping {
		return nil, nil
	}
	out := map[int]InstanceState{}
	for k, sv := range v.Mapping {
		var idx int
		if _, err := fmt.Sscanf(k, "%d", &idx); err != nil {
			return nil, perr(ErrInvalidValue, path+".job_state_overrides", "key %q is not a valid instance index", k)
		}
		if sv.Kind != KindString {
			return nil, perr(ErrInvalidType, path+".job_state_overrides", "override value must be a string")
		}
		switch InstanceState(sv.Str) {
		case InstanceStarted, InstanceStopped, InstanceDetached:
			out[idx] = InstanceState(sv.Str)
		default:
			return nil, perr(ErrInvalidValue, path+".job_state_overrides", "unknown state %q", sv.Str)
		}
	}
	return out, nil
}

// validatePoolCapacity checks spec.md 3's invariant: sum of instances
// across jobs assigned to a pool must not exceed the pool's size.
func validatePoolCapacity(jobs map[JobName]*Job, pools map[PoolName]*ResourcePool) error {
	totals := map[PoolName]int{}
	for _, j := range jobs {
		totals[j.ResourcePool] += j.Instances
	}
	for pool, total := range totals {
		p, ok := pools[pool]
		if !ok {
			continue
		}
		if total > p.Size {
			return perr(ErrInvalidValue, "resource_pools", "pool %q: instances assigned (%d) exceed pool size (%d)", pool, total, p.Size)
		}
	}
	return nil
}
