package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"baseline/internal/profile"
	"baseline/internal/unit"
	"baseline/pkg/logging"
)

// ErrStabilizeTimeout is wrapped by the error returned when the runtime's
// bundles fail to settle within the caller's timeout. Stabilization
// timeouts are always fatal and never retried.
var ErrStabilizeTimeout = errors.New("stabilization timed out")

// Stabilize waits for the runtime to finish the asynchronous side effects
// of earlier corrective operations, polling bundle states until they
// settle or the timeout expires. When a baseline profile has been
// captured, settling means each baseline bundle reached its target state;
// otherwise every non-fragment bundle must be Active and every fragment
// Installed.
func (a *Admin) Stabilize(ctx context.Context, timeout time.Duration) error {
	a.baselineMu.RLock()
	baseline := a.baseline
	a.baselineMu.RUnlock()

	return a.stabilizeProfile(ctx, baseline, timeout)
}

// stabilizeProfile polls bundle states every PollInterval until they settle
// relative to prof, bounded by timeout. A nil profile selects the
// active-or-fragment rule for every live bundle.
func (a *Admin) stabilizeProfile(ctx context.Context, prof *profile.Profile, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		pending, err := a.unsettledBundles(ctx, prof)
		if err != nil {
			return fmt.Errorf("polling bundle states: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v; unsettled bundles: %s",
				ErrStabilizeTimeout, timeout, strings.Join(pending, ", "))
		}

		logging.Debug("Admin", "Waiting for %d bundle(s) to settle: %s", len(pending), strings.Join(pending, ", "))

		select {
		case <-ctx.Done():
			// Interruption is fatal; the wait is never resumed.
			return ctx.Err()
		case <-time.After(a.cfg.PollInterval):
		}
	}
}

// unsettledBundles lists the live bundles that have not yet reached their
// expected state.
func (a *Admin) unsettledBundles(ctx context.Context, prof *profile.Profile) ([]string, error) {
	live, err := a.facade.Bundles().List(ctx)
	if err != nil {
		return nil, err
	}

	var expected map[unit.BundleID]unit.BundleSnapshot
	if prof != nil {
		expected = prof.BundleIndex()
	}

	var pending []string
	for _, b := range live {
		var want unit.BundleState
		if prof != nil {
			target, ok := expected[b.ID]
			if !ok {
				// Not the profile's concern; overlay leftovers are left
				// alone here too.
				continue
			}
			want = target.State
			if target.Fragment && want == unit.BundleActive {
				want = unit.BundleInstalled
			}
		} else {
			want = unit.BundleActive
			if b.Fragment {
				want = unit.BundleInstalled
			}
		}

		if b.State != want {
			pending = append(pending, fmt.Sprintf("%s (%s, want %s)", b.ID, b.State, want))
		}
	}
	return pending, nil
}
