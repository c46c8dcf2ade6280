// Package unit defines the installable unit model of the managed runtime:
// repositories, bundles and features, their identities, lifecycle states and
// the immutable snapshot value objects the reconciliation engine works on.
package unit

import "fmt"

// Kind identifies one of the three installable unit kinds.
type Kind string

const (
	// KindRepository represents descriptor catalogs, identified by URI.
	KindRepository Kind = "repository"

	// KindBundle represents individually installable code units.
	KindBundle Kind = "bundle"

	// KindFeature represents named, versioned installable groups.
	KindFeature Kind = "feature"
)

// DefaultRegion is the region features belong to when none is specified.
const DefaultRegion = "root"

// BundleID identifies a bundle by symbolic name and version.
type BundleID struct {
	SymbolicName string `yaml:"symbolicName" validate:"required"`
	Version      string `yaml:"version" validate:"required"`
}

// String returns the canonical "symbolic-name/version" form.
func (id BundleID) String() string {
	return id.SymbolicName + "/" + id.Version
}

// FeatureID identifies a feature by name and version. An empty Version is a
// versionless reference meaning "the newest installed version, whichever it
// is".
type FeatureID struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version,omitempty"`
}

// Versionless reports whether the reference leaves the version open.
func (id FeatureID) Versionless() bool {
	return id.Version == ""
}

// String returns "name/version", or just the name for versionless references.
func (id FeatureID) String() string {
	if id.Versionless() {
		return id.Name
	}
	return id.Name + "/" + id.Version
}

// BundleState is the lifecycle state of a bundle. Fragment bundles never
// reach Active; they stop at Installed.
type BundleState string

const (
	BundleUninstalled BundleState = "Uninstalled"
	BundleInstalled   BundleState = "Installed"
	BundleActive      BundleState = "Active"
)

// Valid reports whether s is a known bundle state.
func (s BundleState) Valid() bool {
	switch s {
	case BundleUninstalled, BundleInstalled, BundleActive:
		return true
	}
	return false
}

// FeatureState is the lifecycle state of a feature. Resolved means present
// but stopped.
type FeatureState string

const (
	FeatureUninstalled FeatureState = "Uninstalled"
	FeatureInstalled   FeatureState = "Installed"
	FeatureResolved    FeatureState = "Resolved"
	FeatureStarted     FeatureState = "Started"
)

// Valid reports whether s is a known feature state.
func (s FeatureState) Valid() bool {
	switch s {
	case FeatureUninstalled, FeatureInstalled, FeatureResolved, FeatureStarted:
		return true
	}
	return false
}

// Present reports whether the state implies the feature exists in the
// runtime.
func (s FeatureState) Present() bool {
	return s.Valid() && s != FeatureUninstalled
}

// BundleSnapshot captures one bundle's identity and lifecycle state.
type BundleSnapshot struct {
	ID       BundleID    `yaml:"id" validate:"required"`
	State    BundleState `yaml:"state" validate:"required,oneof=Uninstalled Installed Active"`
	Fragment bool        `yaml:"fragment,omitempty"`
}

// String describes the snapshot for diagnostics.
func (s BundleSnapshot) String() string {
	if s.Fragment {
		return fmt.Sprintf("bundle %s [%s, fragment]", s.ID, s.State)
	}
	return fmt.Sprintf("bundle %s [%s]", s.ID, s.State)
}

// FeatureSnapshot captures one feature's identity, lifecycle state, required
// flag and region. The required flag is independent bookkeeping inside the
// runtime, orthogonal to the lifecycle state.
type FeatureSnapshot struct {
	ID       FeatureID    `yaml:"id" validate:"required"`
	State    FeatureState `yaml:"state" validate:"required,oneof=Uninstalled Installed Resolved Started"`
	Required bool         `yaml:"required,omitempty"`
	Region   string       `yaml:"region,omitempty"`
}

// EffectiveRegion returns the snapshot's region, defaulting to
// DefaultRegion.
func (s FeatureSnapshot) EffectiveRegion() string {
	if s.Region == "" {
		return DefaultRegion
	}
	return s.Region
}

// String describes the snapshot for diagnostics.
func (s FeatureSnapshot) String() string {
	req := ""
	if s.Required {
		req = ", required"
	}
	return fmt.Sprintf("feature %s [%s%s] region=%s", s.ID, s.State, req, s.EffectiveRegion())
}
