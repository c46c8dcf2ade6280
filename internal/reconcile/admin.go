package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"baseline/internal/profile"
	"baseline/internal/runtime"
	"baseline/internal/unit"
	"baseline/pkg/logging"
)

// Processor reconciles one unit kind: given a live listing and a target
// profile it queues corrective tasks for one pass. Implementations must be
// idempotent, so repeated passes converge instead of oscillating.
type Processor interface {
	Kind() unit.Kind
	Reconcile(ctx context.Context, prof *profile.Profile, tasks *TaskList) error
}

// Recorder receives restore lifecycle notifications, typically backed by
// the journal. A nil Recorder is fine.
type Recorder interface {
	RestoreStarted(invocationID, profileName string, overlay bool, startedAt time.Time)
	AttemptCompleted(invocationID string, attempt, executed, failed int)
	RestoreFinished(invocationID string, attempts int, outcome string, err error, finishedAt time.Time)
}

// DesiredStateProvider supplies the profile a restore should converge to.
// Test-lifecycle hooks implement it to hand per-test overlays to the Admin
// without the Admin knowing where profiles come from.
type DesiredStateProvider interface {
	DesiredProfile(ctx context.Context) (*profile.Profile, error)
}

// Restore outcomes reported to the Recorder.
const (
	OutcomeConverged = "converged"
	OutcomeFailedOut = "failed"
)

// Config holds the orchestrator's tuning knobs. Zero values select the
// defaults.
type Config struct {
	// AttemptCount is the restore attempt budget. All attempts but the
	// last suppress task failures. Defaults to 5.
	AttemptCount int

	// PollInterval is the sleep between stabilization polls. Defaults to
	// 1 second.
	PollInterval time.Duration

	// StabilizeTimeout bounds the stabilization wait after a converged
	// restore. Defaults to 5 minutes.
	StabilizeTimeout time.Duration

	// Recorder receives restore lifecycle notifications. Optional.
	Recorder Recorder
}

// Admin is the reconciliation orchestrator. It captures the runtime's
// baseline profile, restores profiles through repeated processor passes and
// waits out the runtime's asynchronous side effects.
//
// Restores are serialized: the underlying runtime is not safely reentrant
// across concurrent structural changes, so only one restore is in flight at
// a time.
type Admin struct {
	facade     runtime.Facade
	cfg        Config
	processors []Processor

	// restoreMu serializes Restore invocations.
	restoreMu sync.Mutex

	// The baseline profile is captured lazily exactly once and retained
	// for the Admin's lifetime.
	baselineGroup singleflight.Group
	baselineMu    sync.RWMutex
	baseline      *profile.Profile
}

// NewAdmin creates an orchestrator over the given runtime facade.
func NewAdmin(facade runtime.Facade, cfg Config) *Admin {
	if cfg.AttemptCount == 0 {
		cfg.AttemptCount = 5
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StabilizeTimeout == 0 {
		cfg.StabilizeTimeout = 5 * time.Minute
	}

	return &Admin{
		facade: facade,
		cfg:    cfg,
		// Layer order matters: feature corrections can implicitly install
		// bundles, and both depend on the repository set.
		processors: []Processor{
			NewRepositoryProcessor(facade.Repositories()),
			NewBundleProcessor(facade.Bundles()),
			NewFeatureProcessor(facade.Features()),
		},
	}
}

// Snapshot returns the baseline profile, capturing it from the live runtime
// on the first call. Concurrent first calls share one capture.
func (a *Admin) Snapshot(ctx context.Context) (*profile.Profile, error) {
	a.baselineMu.RLock()
	cached := a.baseline
	a.baselineMu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := a.baselineGroup.Do("baseline", func() (interface{}, error) {
		p, err := a.Capture(ctx, "baseline")
		if err != nil {
			return nil, err
		}

		a.baselineMu.Lock()
		a.baseline = p
		a.baselineMu.Unlock()

		logging.Info("Admin", "Captured baseline profile: %d repositories, %d bundles, %d features",
			len(p.Repositories), len(p.Bundles), len(p.Features))
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*profile.Profile), nil
}

// Capture builds a profile from the live runtime's current unit state.
func (a *Admin) Capture(ctx context.Context, name string) (*profile.Profile, error) {
	repos, err := a.facade.Repositories().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}

	bundles, err := a.facade.Bundles().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing bundles: %w", err)
	}

	features, err := a.facade.Features().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing features: %w", err)
	}

	p := &profile.Profile{Name: name}
	p.Repositories = append(p.Repositories, repos...)
	p.Bundles = append(p.Bundles, bundles...)
	p.Features = append(p.Features, features...)
	return p, nil
}

// RestoreFrom fetches the desired profile from the provider and restores it.
func (a *Admin) RestoreFrom(ctx context.Context, provider DesiredStateProvider) error {
	prof, err := provider.DesiredProfile(ctx)
	if err != nil {
		return fmt.Errorf("resolving desired profile: %w", err)
	}
	return a.Restore(ctx, prof)
}

// RestoreBaseline restores the runtime to the baseline profile, capturing
// it first if no restore or snapshot has run yet.
func (a *Admin) RestoreBaseline(ctx context.Context) error {
	baseline, err := a.Snapshot(ctx)
	if err != nil {
		return err
	}
	return a.Restore(ctx, baseline)
}

// Restore drives the runtime back to the given profile. It retries the
// repository-bundle-feature pass sequence up to the attempt budget,
// suppressing task failures on all but the final attempt, and stabilizes
// once a pass finds nothing left to correct.
func (a *Admin) Restore(ctx context.Context, prof *profile.Profile) error {
	a.restoreMu.Lock()
	defer a.restoreMu.Unlock()

	invocationID := uuid.NewString()
	started := time.Now()
	logging.Info("Admin", "Restore %s of profile %s started (overlay=%t)", invocationID, prof.Name, prof.OverlayOnly)

	if rec := a.cfg.Recorder; rec != nil {
		rec.RestoreStarted(invocationID, prof.Name, prof.OverlayOnly, started)
	}

	report := NewReport()
	attempts := 0
	err := func() error {
		for attempt := 1; attempt <= a.cfg.AttemptCount; attempt++ {
			attempts = attempt
			final := attempt == a.cfg.AttemptCount
			report.BeginAttempt(final)

			clean, err := a.restorePass(ctx, prof, report)

			if rec := a.cfg.Recorder; rec != nil {
				rec.AttemptCompleted(invocationID, attempt, report.QueuedThisAttempt(), report.FailedThisAttempt())
			}

			if err != nil {
				if final {
					return fmt.Errorf("restore of profile %s failed after %d attempts: %w", prof.Name, attempt, err)
				}
				return err
			}
			if clean {
				logging.Debug("Admin", "Restore %s converged on attempt %d", invocationID, attempt)
				return a.stabilizeProfile(ctx, prof, a.cfg.StabilizeTimeout)
			}

			logging.Debug("Admin", "Restore %s attempt %d left work or failures, retrying", invocationID, attempt)
		}

		if err := report.Err(); err != nil {
			return fmt.Errorf("restore of profile %s failed after %d attempts: %w", prof.Name, a.cfg.AttemptCount, err)
		}
		return fmt.Errorf("restore of profile %s did not converge within %d attempts", prof.Name, a.cfg.AttemptCount)
	}()

	outcome := OutcomeConverged
	if err != nil {
		outcome = OutcomeFailedOut
		logging.Error("Admin", err, "Restore %s of profile %s failed", invocationID, prof.Name)
	} else {
		logging.Info("Admin", "Restore %s of profile %s converged after %d attempt(s) in %v",
			invocationID, prof.Name, attempts, time.Since(started).Round(time.Millisecond))
	}

	if rec := a.cfg.Recorder; rec != nil {
		rec.RestoreFinished(invocationID, attempts, outcome, err, time.Now())
	}
	return err
}

// restorePass runs the repository layer to a local fixed point, then
// bundles, then features, each gated on the previous layer's success. It
// returns clean=true only when every layer found nothing to correct on its
// first look, meaning the runtime was already converged when queried.
func (a *Admin) restorePass(ctx context.Context, prof *profile.Profile, report *Report) (clean bool, err error) {
	clean = true
	for _, proc := range a.processors {
		res, err := a.converge(ctx, proc, prof, report)
		if err != nil {
			return false, err
		}
		if !res.untouched {
			clean = false
		}
		if !res.converged {
			// A suppressed failure in this layer; later layers depend on
			// it, so the attempt ends here.
			return false, nil
		}
	}
	return clean, nil
}

// layerResult describes one layer's convergence loop. converged means the
// layer reached an empty task list without failures; untouched means its
// very first reconcile queued nothing.
type layerResult struct {
	converged bool
	untouched bool
}

// converge repeatedly reconciles and executes one layer until no tasks
// remain or an execution fails.
func (a *Admin) converge(ctx context.Context, proc Processor, prof *profile.Profile, report *Report) (layerResult, error) {
	untouched := true
	for {
		if err := ctx.Err(); err != nil {
			return layerResult{}, err
		}

		tasks := NewTaskList()
		if err := proc.Reconcile(ctx, prof, tasks); err != nil {
			// Listing failures go through the same suppression policy as
			// corrective operations.
			key := taskKey{op: OpQuery, key: string(proc.Kind())}
			report.beginExecution(key)
			if report.record(key, err) == OutcomeFailed {
				return layerResult{}, report.Err()
			}
			logging.Debug("Admin", "Suppressed %s listing failure: %v", proc.Kind(), err)
			return layerResult{converged: false, untouched: untouched}, nil
		}

		if tasks.IsEmpty() {
			return layerResult{converged: true, untouched: untouched}, nil
		}
		untouched = false

		logging.Debug("Admin", "Reconciling %s layer: %d task(s) queued", proc.Kind(), tasks.Len())
		failed, err := tasks.Execute(ctx, report)
		if err != nil {
			return layerResult{}, err
		}
		if failed {
			return layerResult{converged: false}, nil
		}
	}
}
