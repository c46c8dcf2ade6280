// Package profile defines the aggregate snapshot of a runtime's desired
// unit state and its YAML persistence. A Profile is what the reconciliation
// engine restores the runtime to: the baseline Profile captured at startup,
// or a transient per-test overlay.
package profile

import (
	"baseline/internal/unit"
)

// Profile is an aggregate snapshot: repository URIs, feature snapshots and
// bundle snapshots, plus the apply mode. Profiles own their collections by
// value and are safe to retain across restores.
type Profile struct {
	// Name identifies the profile in logs and the restore journal.
	Name string `yaml:"name" validate:"required"`

	// OverlayOnly selects overlay apply: units present in the runtime but
	// absent from this profile are left alone. A full restore (false)
	// actively removes such leftovers.
	OverlayOnly bool `yaml:"overlayOnly,omitempty"`

	// Repositories holds the URIs of the repositories that must be
	// registered.
	Repositories []string `yaml:"repositories,omitempty" validate:"dive,required"`

	// Features holds the desired feature snapshots.
	Features []unit.FeatureSnapshot `yaml:"features,omitempty" validate:"dive"`

	// Bundles holds the desired bundle snapshots.
	Bundles []unit.BundleSnapshot `yaml:"bundles,omitempty" validate:"dive"`
}

// RepositorySet returns the repository URIs as a set.
func (p *Profile) RepositorySet() map[string]bool {
	set := make(map[string]bool, len(p.Repositories))
	for _, uri := range p.Repositories {
		set[uri] = true
	}
	return set
}

// BundleIndex returns the bundle snapshots keyed by ID.
func (p *Profile) BundleIndex() map[unit.BundleID]unit.BundleSnapshot {
	idx := make(map[unit.BundleID]unit.BundleSnapshot, len(p.Bundles))
	for _, b := range p.Bundles {
		idx[b.ID] = b
	}
	return idx
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	out := &Profile{
		Name:        p.Name,
		OverlayOnly: p.OverlayOnly,
	}
	out.Repositories = append(out.Repositories, p.Repositories...)
	out.Features = append(out.Features, p.Features...)
	out.Bundles = append(out.Bundles, p.Bundles...)
	return out
}
