// Package mock provides test doubles for the runtime facade so the
// reconciliation engine can be exercised against a controllable in-memory
// runtime.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"baseline/internal/profile"
	"baseline/internal/runtime"
	"baseline/internal/unit"
)

// Runtime is an in-memory implementation of runtime.Facade. It models the
// real runtime's quirks that the engine depends on: installing a feature
// marks it required, uninstalling only works on required features, and
// fragment bundles refuse to start.
type Runtime struct {
	mu sync.Mutex

	repos    map[string]bool
	bundles  map[unit.BundleID]*bundleEntry
	features map[featureKey]*featureEntry

	// fragmentHints records which bundle ids are fragments, so a bundle
	// installed by the engine comes back with the right flag.
	fragmentHints map[unit.BundleID]bool

	calls    []string
	failures []*failureRule
}

type bundleEntry struct {
	state    unit.BundleState
	fragment bool
}

type featureKey struct {
	region string
	id     unit.FeatureID
}

type featureEntry struct {
	state    unit.FeatureState
	required bool
}

type failureRule struct {
	prefix    string
	remaining int
	err       error
}

// NewRuntime creates an empty mock runtime.
func NewRuntime() *Runtime {
	return &Runtime{
		repos:         make(map[string]bool),
		bundles:       make(map[unit.BundleID]*bundleEntry),
		features:      make(map[featureKey]*featureEntry),
		fragmentHints: make(map[unit.BundleID]bool),
	}
}

// Seed applies a profile's units to the runtime state verbatim, without
// recording calls. Snapshots with an Uninstalled state are skipped.
func (r *Runtime) Seed(p *profile.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, uri := range p.Repositories {
		r.repos[uri] = true
	}
	for _, b := range p.Bundles {
		r.fragmentHints[b.ID] = b.Fragment
		if b.State == unit.BundleUninstalled {
			continue
		}
		r.bundles[b.ID] = &bundleEntry{state: b.State, fragment: b.Fragment}
	}
	for _, f := range p.Features {
		if !f.State.Present() {
			continue
		}
		key := featureKey{region: f.EffectiveRegion(), id: f.ID}
		r.features[key] = &featureEntry{state: f.State, required: f.Required}
	}
}

// SetFragment marks a bundle id as a fragment for future installs.
func (r *Runtime) SetFragment(id unit.BundleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fragmentHints[id] = true
}

// FailNext makes the next times calls whose recorded call string starts
// with prefix fail with err.
func (r *Runtime) FailNext(prefix string, times int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, &failureRule{prefix: prefix, remaining: times, err: err})
}

// Calls returns every recorded facade call in order.
func (r *Runtime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// CallsWithPrefix returns the recorded calls starting with prefix.
func (r *Runtime) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range r.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// record logs the call and returns the injected failure, if any. Callers
// must hold r.mu.
func (r *Runtime) record(call string) error {
	r.calls = append(r.calls, call)
	for _, rule := range r.failures {
		if rule.remaining > 0 && strings.HasPrefix(call, rule.prefix) {
			rule.remaining--
			return rule.err
		}
	}
	return nil
}

// Repositories returns the repository client.
func (r *Runtime) Repositories() runtime.Repositories {
	return (*repoClient)(r)
}

// Bundles returns the bundle client.
func (r *Runtime) Bundles() runtime.Bundles {
	return (*bundleClient)(r)
}

// Features returns the feature client.
func (r *Runtime) Features() runtime.Features {
	return (*featureClient)(r)
}

type repoClient Runtime

func (c *repoClient) List(ctx context.Context) ([]string, error) {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("repository.list"); err != nil {
		return nil, err
	}

	uris := make([]string, 0, len(r.repos))
	for uri := range r.repos {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris, nil
}

func (c *repoClient) Add(ctx context.Context, uri string) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("repository.add " + uri); err != nil {
		return err
	}
	r.repos[uri] = true
	return nil
}

func (c *repoClient) Remove(ctx context.Context, uri string) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("repository.remove " + uri); err != nil {
		return err
	}
	if !r.repos[uri] {
		return fmt.Errorf("repository %s is not registered", uri)
	}
	delete(r.repos, uri)
	return nil
}

type bundleClient Runtime

func (c *bundleClient) List(ctx context.Context) ([]unit.BundleSnapshot, error) {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("bundle.list"); err != nil {
		return nil, err
	}

	out := make([]unit.BundleSnapshot, 0, len(r.bundles))
	for id, entry := range r.bundles {
		out = append(out, unit.BundleSnapshot{ID: id, State: entry.state, Fragment: entry.fragment})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (c *bundleClient) State(ctx context.Context, id unit.BundleID) (unit.BundleState, error) {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("bundle.state " + id.String()); err != nil {
		return unit.BundleUninstalled, err
	}
	entry, ok := r.bundles[id]
	if !ok {
		return unit.BundleUninstalled, nil
	}
	return entry.state, nil
}

func (c *bundleClient) Install(ctx context.Context, id unit.BundleID) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("bundle.install " + id.String()); err != nil {
		return err
	}
	if _, ok := r.bundles[id]; ok {
		return fmt.Errorf("bundle %s is already installed", id)
	}
	r.bundles[id] = &bundleEntry{state: unit.BundleInstalled, fragment: r.fragmentHints[id]}
	return nil
}

func (c *bundleClient) Uninstall(ctx context.Context, id unit.BundleID) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("bundle.uninstall " + id.String()); err != nil {
		return err
	}
	if _, ok := r.bundles[id]; !ok {
		return fmt.Errorf("bundle %s is not installed", id)
	}
	delete(r.bundles, id)
	return nil
}

func (c *bundleClient) Start(ctx context.Context, id unit.BundleID) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("bundle.start " + id.String()); err != nil {
		return err
	}
	entry, ok := r.bundles[id]
	if !ok {
		return fmt.Errorf("bundle %s is not installed", id)
	}
	if entry.fragment {
		return fmt.Errorf("fragment bundle %s cannot be started", id)
	}
	entry.state = unit.BundleActive
	return nil
}

func (c *bundleClient) Stop(ctx context.Context, id unit.BundleID) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("bundle.stop " + id.String()); err != nil {
		return err
	}
	entry, ok := r.bundles[id]
	if !ok {
		return fmt.Errorf("bundle %s is not installed", id)
	}
	entry.state = unit.BundleInstalled
	return nil
}

type featureClient Runtime

func (c *featureClient) List(ctx context.Context) ([]unit.FeatureSnapshot, error) {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("feature.list"); err != nil {
		return nil, err
	}

	out := make([]unit.FeatureSnapshot, 0, len(r.features))
	for key, entry := range r.features {
		out = append(out, unit.FeatureSnapshot{
			ID:       key.id,
			State:    entry.state,
			Required: entry.required,
			Region:   key.region,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (c *featureClient) State(ctx context.Context, id unit.FeatureID) (unit.FeatureState, error) {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("feature.state " + id.String()); err != nil {
		return unit.FeatureUninstalled, err
	}
	entry, _, ok := r.findFeature(id)
	if !ok {
		return unit.FeatureUninstalled, nil
	}
	return entry.state, nil
}

func (c *featureClient) IsRequired(ctx context.Context, id unit.FeatureID) (bool, error) {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("feature.isRequired " + id.String()); err != nil {
		return false, err
	}
	entry, _, ok := r.findFeature(id)
	if !ok {
		return false, fmt.Errorf("feature %s is not installed", id)
	}
	return entry.required, nil
}

func (c *featureClient) Install(ctx context.Context, region string, ids []unit.FeatureID, opts runtime.InstallOptions) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record(fmt.Sprintf("feature.install %s %s", region, idList(ids))); err != nil {
		return err
	}

	state := unit.FeatureStarted
	if opts.NoAutoStart {
		state = unit.FeatureInstalled
	}

	for _, id := range ids {
		key := featureKey{region: region, id: id}
		if _, ok := r.features[key]; ok {
			return fmt.Errorf("feature %s is already installed in region %s", id, region)
		}
		// Installing a feature registers it as required.
		r.features[key] = &featureEntry{state: state, required: true}
	}
	return nil
}

func (c *featureClient) Uninstall(ctx context.Context, region string, ids []unit.FeatureID) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record(fmt.Sprintf("feature.uninstall %s %s", region, idList(ids))); err != nil {
		return err
	}

	for _, id := range ids {
		key := featureKey{region: region, id: id}
		entry, ok := r.features[key]
		if !ok {
			return fmt.Errorf("feature %s is not installed in region %s", id, region)
		}
		if !entry.required {
			// The uninstall primitive only operates on required features.
			return fmt.Errorf("feature %s is not required and cannot be uninstalled", id)
		}
		delete(r.features, key)
	}
	return nil
}

func (c *featureClient) Start(ctx context.Context, id unit.FeatureID) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("feature.start " + id.String()); err != nil {
		return err
	}
	entry, _, ok := r.findFeature(id)
	if !ok {
		return fmt.Errorf("feature %s is not installed", id)
	}
	entry.state = unit.FeatureStarted
	return nil
}

func (c *featureClient) Stop(ctx context.Context, id unit.FeatureID) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record("feature.stop " + id.String()); err != nil {
		return err
	}
	entry, _, ok := r.findFeature(id)
	if !ok {
		return fmt.Errorf("feature %s is not installed", id)
	}
	entry.state = unit.FeatureResolved
	return nil
}

func (c *featureClient) AddRequirements(ctx context.Context, region string, ids []unit.FeatureID) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record(fmt.Sprintf("feature.addRequirements %s %s", region, idList(ids))); err != nil {
		return err
	}
	return r.setRequired(region, ids, true)
}

func (c *featureClient) RemoveRequirements(ctx context.Context, region string, ids []unit.FeatureID) error {
	r := (*Runtime)(c)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record(fmt.Sprintf("feature.removeRequirements %s %s", region, idList(ids))); err != nil {
		return err
	}
	return r.setRequired(region, ids, false)
}

// findFeature locates a feature entry by id across regions. Callers must
// hold r.mu.
func (r *Runtime) findFeature(id unit.FeatureID) (*featureEntry, featureKey, bool) {
	for key, entry := range r.features {
		if key.id == id {
			return entry, key, true
		}
	}
	return nil, featureKey{}, false
}

// setRequired flips the required flag. Callers must hold r.mu.
func (r *Runtime) setRequired(region string, ids []unit.FeatureID, required bool) error {
	for _, id := range ids {
		entry, ok := r.features[featureKey{region: region, id: id}]
		if !ok {
			return fmt.Errorf("feature %s is not installed in region %s", id, region)
		}
		entry.required = required
	}
	return nil
}

func idList(ids []unit.FeatureID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return "[" + strings.Join(names, ", ") + "]"
}
