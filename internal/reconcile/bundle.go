package reconcile

import (
	"context"
	"sort"

	"baseline/internal/profile"
	"baseline/internal/runtime"
	"baseline/internal/unit"
)

// BundleProcessor reconciles bundle lifecycle states against the profile.
//
// It never queues two state transitions for one bundle in a single pass: a
// bundle targeted Active but observed Uninstalled is installed this pass
// and started on a later pass, once the listing observes it Installed.
type BundleProcessor struct {
	bundles runtime.Bundles
}

// NewBundleProcessor creates a processor over the given client.
func NewBundleProcessor(bundles runtime.Bundles) *BundleProcessor {
	return &BundleProcessor{bundles: bundles}
}

// Kind returns the unit kind this processor reconciles.
func (p *BundleProcessor) Kind() unit.Kind {
	return unit.KindBundle
}

// Reconcile diffs the live bundle listing against the profile and queues
// one corrective operation per diverging bundle.
func (p *BundleProcessor) Reconcile(ctx context.Context, prof *profile.Profile, tasks *TaskList) error {
	live, err := p.bundles.List(ctx)
	if err != nil {
		return err
	}

	observed := make(map[unit.BundleID]unit.BundleSnapshot, len(live))
	for _, b := range live {
		observed[b.ID] = b
	}

	for _, target := range sortedBundles(prof.Bundles) {
		current, present := observed[target.ID]
		delete(observed, target.ID)

		state := unit.BundleUninstalled
		if present {
			state = current.State
		}

		p.queueTransition(tasks, target, state)
	}

	if prof.OverlayOnly {
		return nil
	}

	// Anything still observed is a leftover and gets removed.
	var leftovers []unit.BundleSnapshot
	for _, b := range observed {
		leftovers = append(leftovers, b)
	}
	for _, b := range sortedBundles(leftovers) {
		id := b.ID
		tasks.Add(OpUninstall, id.String(), func(ctx context.Context) error {
			return p.bundles.Uninstall(ctx, id)
		})
	}

	return nil
}

// queueTransition queues at most one lifecycle operation moving the bundle
// a single step toward its target state.
func (p *BundleProcessor) queueTransition(tasks *TaskList, target unit.BundleSnapshot, observed unit.BundleState) {
	id := target.ID

	// Fragments never reach Active; they are converged once Installed.
	goal := target.State
	if target.Fragment && goal == unit.BundleActive {
		goal = unit.BundleInstalled
	}

	switch goal {
	case unit.BundleUninstalled:
		if observed != unit.BundleUninstalled {
			tasks.Add(OpUninstall, id.String(), func(ctx context.Context) error {
				return p.bundles.Uninstall(ctx, id)
			})
		}

	case unit.BundleInstalled:
		switch observed {
		case unit.BundleUninstalled:
			tasks.Add(OpInstall, id.String(), func(ctx context.Context) error {
				return p.bundles.Install(ctx, id)
			})
		case unit.BundleActive:
			tasks.Add(OpStop, id.String(), func(ctx context.Context) error {
				return p.bundles.Stop(ctx, id)
			})
		}

	case unit.BundleActive:
		switch observed {
		case unit.BundleUninstalled:
			// Install only; the start happens next pass.
			tasks.Add(OpInstall, id.String(), func(ctx context.Context) error {
				return p.bundles.Install(ctx, id)
			})
		case unit.BundleInstalled:
			tasks.Add(OpStart, id.String(), func(ctx context.Context) error {
				return p.bundles.Start(ctx, id)
			})
		}
	}
}

func sortedBundles(in []unit.BundleSnapshot) []unit.BundleSnapshot {
	out := append([]unit.BundleSnapshot(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
