// Package runtime defines the facade the reconciliation engine drives the
// live modular runtime through. The engine only ever talks to these
// interfaces; concrete bindings (remote shell, management API) live outside
// this repository, and tests use the mock implementation under
// internal/testing/mock.
package runtime

import (
	"context"

	"baseline/internal/unit"
)

// InstallOptions controls how install operations behave.
type InstallOptions struct {
	// NoAutoStart installs units without starting them, so lifecycle
	// transitions stay one-per-pass.
	NoAutoStart bool

	// NoAutoRefresh suppresses the runtime's automatic refresh of dependent
	// units after the operation.
	NoAutoRefresh bool
}

// Repositories manages descriptor catalogs. A repository is fully described
// by its URI; there are no intermediate lifecycle states.
type Repositories interface {
	// List returns the URIs of all registered repositories.
	List(ctx context.Context) ([]string, error)

	// Add registers the repository at the given URI.
	Add(ctx context.Context, uri string) error

	// Remove unregisters the repository at the given URI.
	Remove(ctx context.Context, uri string) error
}

// Bundles manages individually installable code units.
type Bundles interface {
	// List returns a snapshot of every bundle present in the runtime.
	List(ctx context.Context) ([]unit.BundleSnapshot, error)

	// State returns the bundle's current lifecycle state. Unknown bundles
	// report Uninstalled.
	State(ctx context.Context, id unit.BundleID) (unit.BundleState, error)

	// Install installs the bundle without starting it.
	Install(ctx context.Context, id unit.BundleID) error

	// Uninstall removes the bundle from the runtime.
	Uninstall(ctx context.Context, id unit.BundleID) error

	// Start moves an installed bundle to Active. Fragments cannot be
	// started.
	Start(ctx context.Context, id unit.BundleID) error

	// Stop moves an active bundle back to Installed.
	Stop(ctx context.Context, id unit.BundleID) error
}

// Features manages named, versioned unit groups. Install, uninstall and
// requirement calls are batched: they take a set of feature ids within one
// region in a single call, which is cheaper and lets the runtime order
// intra-region dependencies itself.
type Features interface {
	// List returns a snapshot of every feature present in the runtime,
	// including its required flag and region.
	List(ctx context.Context) ([]unit.FeatureSnapshot, error)

	// State returns the feature's current lifecycle state. Unknown features
	// report Uninstalled.
	State(ctx context.Context, id unit.FeatureID) (unit.FeatureState, error)

	// IsRequired reports whether the runtime's bookkeeping marks the feature
	// as required.
	IsRequired(ctx context.Context, id unit.FeatureID) (bool, error)

	// Install installs the given features into the region.
	Install(ctx context.Context, region string, ids []unit.FeatureID, opts InstallOptions) error

	// Uninstall removes the given features from the region. The runtime's
	// uninstall primitive only operates on features it believes are
	// required; callers must mark features required first.
	Uninstall(ctx context.Context, region string, ids []unit.FeatureID) error

	// Start starts an installed or resolved feature.
	Start(ctx context.Context, id unit.FeatureID) error

	// Stop moves a started feature to Resolved.
	Stop(ctx context.Context, id unit.FeatureID) error

	// AddRequirements marks the given features as required in the region's
	// bookkeeping.
	AddRequirements(ctx context.Context, region string, ids []unit.FeatureID) error

	// RemoveRequirements clears the required mark for the given features.
	RemoveRequirements(ctx context.Context, region string, ids []unit.FeatureID) error
}

// Facade bundles the per-kind clients of one runtime.
type Facade interface {
	Repositories() Repositories
	Bundles() Bundles
	Features() Features
}
