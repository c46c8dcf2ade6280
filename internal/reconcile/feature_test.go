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

func reconcileFeatures(t *testing.T, rt *mock.Runtime, prof *profile.Profile) {
	t.Helper()

	proc := NewFeatureProcessor(rt.Features())
	tasks := NewTaskList()
	require.NoError(t, proc.Reconcile(context.Background(), prof, tasks))

	report := NewReport()
	report.BeginAttempt(true)
	failed, err := tasks.Execute(context.Background(), report)
	require.NoError(t, err)
	require.False(t, failed)
}

func TestFeatureProcessorBatchesInstallsPerRegion(t *testing.T) {
	rt := mock.NewRuntime()

	prof := &profile.Profile{Name: "p", Features: []unit.FeatureSnapshot{
		{ID: featureID("f1", "1.0"), State: unit.FeatureInstalled, Required: true, Region: "apps"},
		{ID: featureID("f2", "1.0"), State: unit.FeatureInstalled, Required: true, Region: "apps"},
		{ID: featureID("core", "1.0"), State: unit.FeatureInstalled, Required: true},
	}}

	reconcileFeatures(t, rt, prof)

	installs := rt.CallsWithPrefix("feature.install")
	assert.ElementsMatch(t, []string{
		"feature.install apps [f1/1.0, f2/1.0]",
		"feature.install root [core/1.0]",
	}, installs)
}

func TestFeatureProcessorInstallThenStartTakesTwoPasses(t *testing.T) {
	rt := mock.NewRuntime()

	prof := &profile.Profile{Name: "p", Features: []unit.FeatureSnapshot{
		{ID: featureID("f", "1.0"), State: unit.FeatureStarted, Required: true},
	}}

	reconcileFeatures(t, rt, prof)
	assert.Equal(t, []string{"feature.install root [f/1.0]"}, rt.CallsWithPrefix("feature.install"))
	assert.Empty(t, rt.CallsWithPrefix("feature.start"))

	reconcileFeatures(t, rt, prof)
	assert.Equal(t, []string{"feature.start f/1.0"}, rt.CallsWithPrefix("feature.start"))
}

func TestFeatureProcessorVersionlessResolvesNewestInstalled(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Features: []unit.FeatureSnapshot{
		{ID: featureID("f", "1.0"), State: unit.FeatureInstalled, Required: true},
		{ID: featureID("f", "2.0"), State: unit.FeatureInstalled, Required: true},
	}})

	prof := &profile.Profile{Name: "p", OverlayOnly: true, Features: []unit.FeatureSnapshot{
		{ID: featureID("f", ""), State: unit.FeatureStarted, Required: true},
	}}

	reconcileFeatures(t, rt, prof)
	assert.Equal(t, []string{"feature.start f/2.0"}, rt.CallsWithPrefix("feature.start"))
}

func TestFeatureProcessorUninstallIsCompound(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Features: []unit.FeatureSnapshot{
		{ID: featureID("old", "1.0"), State: unit.FeatureInstalled, Required: false},
	}})

	prof := &profile.Profile{Name: "p"}
	reconcileFeatures(t, rt, prof)

	// The feature is re-marked required before the uninstall, because the
	// uninstall primitive rejects non-required features.
	assert.Equal(t, []string{
		"feature.list",
		"feature.addRequirements root [old/1.0]",
		"feature.uninstall root [old/1.0]",
	}, rt.Calls())
}

func TestFeatureProcessorRequirementDriftOnly(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Features: []unit.FeatureSnapshot{
		{ID: featureID("a", "1.0"), State: unit.FeatureStarted, Required: false},
		{ID: featureID("b", "1.0"), State: unit.FeatureStarted, Required: true},
	}})

	prof := &profile.Profile{Name: "p", Features: []unit.FeatureSnapshot{
		{ID: featureID("a", "1.0"), State: unit.FeatureStarted, Required: true},
		{ID: featureID("b", "1.0"), State: unit.FeatureStarted, Required: false},
	}}

	reconcileFeatures(t, rt, prof)

	// Both flag updates travel in one task for the region; the lifecycle is
	// left untouched.
	assert.Equal(t, []string{
		"feature.list",
		"feature.addRequirements root [a/1.0]",
		"feature.removeRequirements root [b/1.0]",
	}, rt.Calls())
}

func TestFeatureProcessorStopAndUninstallTransitions(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Features: []unit.FeatureSnapshot{
		{ID: featureID("running", "1.0"), State: unit.FeatureStarted, Required: true},
		{ID: featureID("doomed", "1.0"), State: unit.FeatureInstalled, Required: true},
	}})

	prof := &profile.Profile{Name: "p", OverlayOnly: true, Features: []unit.FeatureSnapshot{
		{ID: featureID("running", "1.0"), State: unit.FeatureInstalled, Required: true},
		{ID: featureID("doomed", "1.0"), State: unit.FeatureUninstalled},
	}}

	reconcileFeatures(t, rt, prof)

	assert.Equal(t, []string{"feature.stop running/1.0"}, rt.CallsWithPrefix("feature.stop"))
	assert.Equal(t, []string{"feature.uninstall root [doomed/1.0]"}, rt.CallsWithPrefix("feature.uninstall"))
}

func TestFeatureProcessorRegionScopedMatching(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Features: []unit.FeatureSnapshot{
		{ID: featureID("f", "1.0"), State: unit.FeatureInstalled, Required: true, Region: "apps"},
	}})

	// The same feature wanted in root does not match the apps entry.
	prof := &profile.Profile{Name: "p", OverlayOnly: true, Features: []unit.FeatureSnapshot{
		{ID: featureID("f", "1.0"), State: unit.FeatureInstalled, Required: true},
	}}

	reconcileFeatures(t, rt, prof)
	assert.Equal(t, []string{"feature.install root [f/1.0]"}, rt.CallsWithPrefix("feature.install"))
}
