package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baseline/internal/profile"
	"baseline/internal/runtime"
	"baseline/internal/testing/mock"
	"baseline/internal/unit"
)

func TestAdminRestoreConvergesFromEmptyRuntime(t *testing.T) {
	rt := mock.NewRuntime()
	rec := &testRecorder{}
	admin := newTestAdmin(rt, rec)

	prof := &profile.Profile{
		Name:         "workbench",
		Repositories: []string{"mvn:repo/1.0"},
		Bundles:      []unit.BundleSnapshot{bundle("b", "1.0", unit.BundleActive)},
		Features: []unit.FeatureSnapshot{
			{ID: featureID("f", "1.0"), State: unit.FeatureStarted, Required: true},
		},
	}

	require.NoError(t, admin.Restore(context.Background(), prof))

	assert.Equal(t, []string{"repository.add mvn:repo/1.0"}, rt.CallsWithPrefix("repository.add"))
	assert.Equal(t, []string{"bundle.install b/1.0"}, rt.CallsWithPrefix("bundle.install"))
	assert.Equal(t, []string{"bundle.start b/1.0"}, rt.CallsWithPrefix("bundle.start"))
	assert.Equal(t, []string{"feature.install root [f/1.0]"}, rt.CallsWithPrefix("feature.install"))
	assert.Equal(t, []string{"feature.start f/1.0"}, rt.CallsWithPrefix("feature.start"))

	assert.Equal(t, 1, rec.started)
	assert.Equal(t, OutcomeConverged, rec.outcome)
	assert.NoError(t, rec.err)
	// The corrective attempt is followed by one clean verification attempt.
	assert.Equal(t, 2, rec.total)
}

func TestAdminRestoreConvergedRuntimeMakesNoMutatingCalls(t *testing.T) {
	seed := &profile.Profile{
		Name:         "seed",
		Repositories: []string{"mvn:repo/1.0"},
		Bundles:      []unit.BundleSnapshot{bundle("b", "1.0", unit.BundleActive)},
		Features: []unit.FeatureSnapshot{
			{ID: featureID("f", "1.0"), State: unit.FeatureStarted, Required: true},
		},
	}

	rt := mock.NewRuntime()
	rt.Seed(seed)
	rec := &testRecorder{}
	admin := newTestAdmin(rt, rec)

	require.NoError(t, admin.Restore(context.Background(), seed))

	for _, call := range rt.Calls() {
		assert.Contains(t, call, ".list", "unexpected mutating call %q", call)
	}
	assert.Equal(t, 1, rec.total)
}

func TestAdminRestoreOverlayLeavesUnknownUnits(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{
		Name:         "seed",
		Repositories: []string{"mvn:extra/1.0"},
		Bundles:      []unit.BundleSnapshot{bundle("extra", "1.0", unit.BundleActive)},
		Features: []unit.FeatureSnapshot{
			{ID: featureID("extra", "1.0"), State: unit.FeatureStarted, Required: true},
		},
	})

	admin := newTestAdmin(rt, nil)

	overlay := &profile.Profile{
		Name:        "overlay",
		OverlayOnly: true,
		Bundles:     []unit.BundleSnapshot{bundle("mine", "1.0", unit.BundleActive)},
	}

	require.NoError(t, admin.Restore(context.Background(), overlay))

	assert.Empty(t, rt.CallsWithPrefix("repository.remove"))
	assert.Empty(t, rt.CallsWithPrefix("bundle.uninstall"))
	assert.Empty(t, rt.CallsWithPrefix("feature.uninstall"))
	assert.Equal(t, []string{"bundle.install mine/1.0", "bundle.start mine/1.0"},
		append(rt.CallsWithPrefix("bundle.install"), rt.CallsWithPrefix("bundle.start")...))
}

func TestAdminRestoreRequirementDriftOnly(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Features: []unit.FeatureSnapshot{
		{ID: featureID("f", "1.0"), State: unit.FeatureStarted, Required: true},
	}})

	admin := newTestAdmin(rt, nil)

	prof := &profile.Profile{Name: "p", OverlayOnly: true, Features: []unit.FeatureSnapshot{
		{ID: featureID("f", "1.0"), State: unit.FeatureStarted, Required: false},
	}}

	require.NoError(t, admin.Restore(context.Background(), prof))

	assert.Equal(t, []string{"feature.removeRequirements root [f/1.0]"}, rt.CallsWithPrefix("feature.removeRequirements"))
	assert.Empty(t, rt.CallsWithPrefix("feature.stop"))
	assert.Empty(t, rt.CallsWithPrefix("feature.uninstall"))
}

func TestAdminRestoreRetriesThroughTransientFailures(t *testing.T) {
	rt := mock.NewRuntime()
	rt.FailNext("bundle.start", 2, errors.New("resolution pending"))
	rec := &testRecorder{}
	admin := newTestAdmin(rt, rec)

	prof := &profile.Profile{Name: "p", Bundles: []unit.BundleSnapshot{bundle("b", "1.0", unit.BundleActive)}}

	require.NoError(t, admin.Restore(context.Background(), prof))

	// Two suppressed failures, then the third start lands.
	assert.Len(t, rt.CallsWithPrefix("bundle.start"), 3)
	assert.Equal(t, OutcomeConverged, rec.outcome)
}

func TestAdminRestoreFailsAfterAttemptBudget(t *testing.T) {
	boom := errors.New("bundle is wedged")

	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Bundles: []unit.BundleSnapshot{bundle("x", "1.0", unit.BundleActive)}})
	rt.FailNext("bundle.stop", 100, boom)
	rec := &testRecorder{}
	admin := newTestAdmin(rt, rec)

	prof := &profile.Profile{Name: "p", Bundles: []unit.BundleSnapshot{bundle("x", "1.0", unit.BundleInstalled)}}

	err := admin.Restore(context.Background(), prof)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "x/1.0")
	assert.Contains(t, err.Error(), "after 5 attempts")

	assert.Len(t, rt.CallsWithPrefix("bundle.stop"), 5)
	assert.Equal(t, OutcomeFailedOut, rec.outcome)
	assert.Equal(t, 5, rec.total)
	assert.ErrorIs(t, rec.err, boom)
}

func TestAdminRestoreSuppressesListingFailures(t *testing.T) {
	rt := mock.NewRuntime()
	rt.FailNext("feature.list", 1, errors.New("connection reset"))
	admin := newTestAdmin(rt, nil)

	require.NoError(t, admin.Restore(context.Background(), emptyProfile("p")))
}

func TestAdminRestoreStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rt := mock.NewRuntime()
	admin := newTestAdmin(rt, nil)

	err := admin.Restore(ctx, emptyProfile("p"))
	assert.ErrorIs(t, err, context.Canceled)
}

type staticProvider struct {
	prof *profile.Profile
	err  error
}

func (p *staticProvider) DesiredProfile(ctx context.Context) (*profile.Profile, error) {
	return p.prof, p.err
}

func TestAdminRestoreFrom(t *testing.T) {
	rt := mock.NewRuntime()
	admin := newTestAdmin(rt, nil)

	prof := &profile.Profile{Name: "p", Repositories: []string{"mvn:repo/1.0"}}
	require.NoError(t, admin.RestoreFrom(context.Background(), &staticProvider{prof: prof}))
	assert.Equal(t, []string{"repository.add mvn:repo/1.0"}, rt.CallsWithPrefix("repository.add"))

	boom := errors.New("no profile for this test")
	err := admin.RestoreFrom(context.Background(), &staticProvider{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestAdminSnapshotCapturesOnce(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Repositories: []string{"mvn:repo/1.0"}})
	admin := newTestAdmin(rt, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := admin.Snapshot(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, []string{"mvn:repo/1.0"}, p.Repositories)
		}()
	}
	wg.Wait()

	assert.Len(t, rt.CallsWithPrefix("repository.list"), 1)
	assert.Len(t, rt.CallsWithPrefix("bundle.list"), 1)
	assert.Len(t, rt.CallsWithPrefix("feature.list"), 1)
}

func TestAdminRestoreBaselineUndoesDrift(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Bundles: []unit.BundleSnapshot{bundle("b", "1.0", unit.BundleActive)}})
	admin := newTestAdmin(rt, nil)

	_, err := admin.Snapshot(context.Background())
	require.NoError(t, err)

	// Drift: a test stopped the bundle and left something behind.
	require.NoError(t, rt.Bundles().Stop(context.Background(), bundleID("b", "1.0")))
	require.NoError(t, rt.Bundles().Install(context.Background(), bundleID("stray", "1.0")))

	require.NoError(t, admin.RestoreBaseline(context.Background()))

	after, err := admin.Capture(context.Background(), "after")
	require.NoError(t, err)
	assert.Equal(t, []unit.BundleSnapshot{bundle("b", "1.0", unit.BundleActive)}, after.Bundles)
}

func TestAdminStabilizeTimesOut(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Bundles: []unit.BundleSnapshot{bundle("stuck", "1.0", unit.BundleInstalled)}})
	admin := newTestAdmin(rt, nil)

	err := admin.Stabilize(context.Background(), 20*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStabilizeTimeout)
	assert.Contains(t, err.Error(), "stuck/1.0")
}

func TestAdminStabilizeAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Bundles: []unit.BundleSnapshot{bundle("stuck", "1.0", unit.BundleInstalled)}})
	admin := newTestAdmin(rt, nil)

	err := admin.Stabilize(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdminStabilizeFragmentsSettleInstalled(t *testing.T) {
	rt := mock.NewRuntime()
	rt.Seed(&profile.Profile{Name: "seed", Bundles: []unit.BundleSnapshot{
		bundle("b", "1.0", unit.BundleActive),
		fragment("frag", "1.0", unit.BundleInstalled),
	}})
	admin := newTestAdmin(rt, nil)

	require.NoError(t, admin.Stabilize(context.Background(), time.Second))
}

func TestAdminRestoreFatalErrorsStillRetried(t *testing.T) {
	// A fatal runtime error aborts nothing by itself; the suppression policy
	// decides, same as any other failure.
	rt := mock.NewRuntime()
	rt.FailNext("repository.add", 1, runtime.Fatal(errors.New("runtime shut down")))
	admin := newTestAdmin(rt, nil)

	prof := &profile.Profile{Name: "p", Repositories: []string{"mvn:repo/1.0"}}
	require.NoError(t, admin.Restore(context.Background(), prof))
	assert.Len(t, rt.CallsWithPrefix("repository.add"), 2)
}

func TestAdminRestoresAreSerialized(t *testing.T) {
	rt := mock.NewRuntime()
	admin := newTestAdmin(rt, nil)

	prof := &profile.Profile{Name: "p", Repositories: []string{"mvn:repo/1.0"}}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, admin.Restore(context.Background(), prof))
		}()
	}
	wg.Wait()

	// The first restore adds the repository; the later ones find nothing to
	// do because they observe the finished state.
	assert.Len(t, rt.CallsWithPrefix("repository.add"), 1)
}
