package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baseline/internal/profile"
	"baseline/internal/testing/mock"
	"baseline/internal/unit"
)

// reconcileBundles runs one processor pass and executes the queued tasks,
// returning their descriptions.
func reconcileBundles(t *testing.T, rt *mock.Runtime, prof *profile.Profile) []string {
	t.Helper()

	proc := NewBundleProcessor(rt.Bundles())
	tasks := NewTaskList()
	require.NoError(t, proc.Reconcile(context.Background(), prof, tasks))

	var descriptions []string
	for _, task := range tasks.Tasks() {
		descriptions = append(descriptions, task.Describe())
	}

	report := NewReport()
	report.BeginAttempt(false)
	failed, err := tasks.Execute(context.Background(), report)
	require.NoError(t, err)
	require.False(t, failed)
	return descriptions
}

func TestBundleProcessorStateTable(t *testing.T) {
	tests := []struct {
		name     string
		target   unit.BundleState
		observed unit.BundleState // BundleUninstalled means absent
		want     []string
	}{
		{"uninstalled to uninstalled", unit.BundleUninstalled, unit.BundleUninstalled, nil},
		{"installed to uninstalled", unit.BundleUninstalled, unit.BundleInstalled, []string{"uninstall b/1.0"}},
		{"active to uninstalled", unit.BundleUninstalled, unit.BundleActive, []string{"uninstall b/1.0"}},
		{"uninstalled to installed", unit.BundleInstalled, unit.BundleUninstalled, []string{"install b/1.0"}},
		{"installed to installed", unit.BundleInstalled, unit.BundleInstalled, nil},
		{"active to installed", unit.BundleInstalled, unit.BundleActive, []string{"stop b/1.0"}},
		{"uninstalled to active", unit.BundleActive, unit.BundleUninstalled, []string{"install b/1.0"}},
		{"installed to active", unit.BundleActive, unit.BundleInstalled, []string{"start b/1.0"}},
		{"active to active", unit.BundleActive, unit.BundleActive, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := mock.NewRuntime()
			if tt.observed != unit.BundleUninstalled {
				rt.Seed(&profile.Profile{Name: "seed", Bundles: []unit.BundleSnapshot{bundle("b", "1.0", tt.observed)}})
			}

			prof := &profile.Profile{Name: "target"}
			if tt.target != unit.BundleUninstalled {
				prof.Bundles = []unit.BundleSnapshot{bundle("b", "1.0", tt.target)}
			} else if tt.observed != unit.BundleUninstalled {
				// Target absence is expressed by leaving the bundle out of
				// a full-restore profile.
				prof.Bundles = nil
			}

			got := reconcileBundles(t, rt, prof)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBundleProcessorInstallThenStartTakesTwoPasses(t *testing.T) {
	rt := mock.NewRuntime()
	prof := &profile.Profile{Name: "p", Bundles: []unit.BundleSnapshot{bundle("b", "1.0", unit.BundleActive)}}

	// First pass installs only.
	assert.Equal(t, []string{"install b/1.0"}, reconcileBundles(t, rt, prof))

	// Second pass observes Installed and starts.
	assert.Equal(t, []string{"start b/1.0"}, reconcileBundles(t, rt, prof))

	// Third pass finds no diff.
	assert.Empty(t, reconcileBundles(t, rt, prof))
}

func TestBundleProcessorFragmentConvergesAtInstalled(t *testing.T) {
	rt := mock.NewRuntime()
	rt.SetFragment(bundleID("frag", "1.0"))

	prof := &profile.Profile{Name: "p", Bundles: []unit.BundleSnapshot{fragment("frag", "1.0", unit.BundleActive)}}

	assert.Equal(t, []string{"install frag/1.0"}, reconcileBundles(t, rt, prof))
	// No start is ever queued for a fragment, even with an Active target.
	assert.Empty(t, reconcileBundles(t, rt, prof))
	assert.Empty(t, rt.CallsWithPrefix("bundle.start"))
}

func TestBundleProcessorLeftoverRemoval(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Bundles: []unit.BundleSnapshot{bundle("leftover", "2.0", unit.BundleActive)}})

	full := &profile.Profile{Name: "full"}
	assert.Equal(t, []string{"uninstall leftover/2.0"}, reconcileBundles(t, rt, full))
}

func TestBundleProcessorOverlayIgnoresLeftovers(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Bundles: []unit.BundleSnapshot{bundle("leftover", "2.0", unit.BundleActive)}})

	overlay := &profile.Profile{Name: "overlay", OverlayOnly: true}
	assert.Empty(t, reconcileBundles(t, rt, overlay))
}
