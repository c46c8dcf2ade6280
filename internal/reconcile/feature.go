package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"baseline/internal/profile"
	"baseline/internal/runtime"
	"baseline/internal/unit"
)

// FeatureProcessor reconciles feature lifecycle states and required flags
// against the profile.
//
// Unlike bundles, feature install, uninstall and requirement updates are
// batched: one task per (operation, region) whose payload accumulates the
// qualifying feature ids, issued as a single runtime call so the runtime
// can order intra-region dependencies itself. Uninstalling is a compound
// action: the features are re-marked required first, because the uninstall
// primitive only operates on features the runtime believes are required.
type FeatureProcessor struct {
	features runtime.Features
}

// NewFeatureProcessor creates a processor over the given client.
func NewFeatureProcessor(features runtime.Features) *FeatureProcessor {
	return &FeatureProcessor{features: features}
}

// Kind returns the unit kind this processor reconciles.
func (p *FeatureProcessor) Kind() unit.Kind {
	return unit.KindFeature
}

// Reconcile diffs the live feature listing against the profile. Lifecycle
// transitions follow the one-step-per-pass rule; requirement-flag drift
// queues an update without touching the lifecycle.
func (p *FeatureProcessor) Reconcile(ctx context.Context, prof *profile.Profile, tasks *TaskList) error {
	live, err := p.features.List(ctx)
	if err != nil {
		return err
	}

	working := append([]unit.FeatureSnapshot(nil), live...)

	for _, target := range sortedFeatures(prof.Features) {
		observed, found := takeMatch(&working, target)

		state := unit.FeatureUninstalled
		if found {
			state = observed.State
		}

		p.queueTransition(tasks, target, observed, found, state)

		// The required flag is reconciled independently of the lifecycle,
		// but only once the feature is observable.
		if found && target.State.Present() && observed.Required != target.Required {
			p.queueRequirementUpdate(tasks, target.EffectiveRegion(), observed.ID, target.Required)
		}
	}

	if prof.OverlayOnly {
		return nil
	}

	for _, leftover := range sortedFeatures(working) {
		p.queueUninstall(tasks, leftover.EffectiveRegion(), leftover.ID)
	}

	return nil
}

// queueTransition queues at most one lifecycle step toward the target
// state.
func (p *FeatureProcessor) queueTransition(tasks *TaskList, target, observed unit.FeatureSnapshot, found bool, state unit.FeatureState) {
	region := target.EffectiveRegion()

	// Operate on the live identity when the reference resolved, so a
	// versionless target starts the version that is actually installed.
	id := target.ID
	if found {
		id = observed.ID
	}

	switch target.State {
	case unit.FeatureUninstalled:
		if found {
			p.queueUninstall(tasks, observed.EffectiveRegion(), observed.ID)
		}

	case unit.FeatureInstalled, unit.FeatureResolved:
		switch state {
		case unit.FeatureUninstalled:
			p.queueInstall(tasks, region, id)
		case unit.FeatureStarted:
			tasks.Add(OpStop, id.String(), func(ctx context.Context) error {
				return p.features.Stop(ctx, id)
			})
		}

	case unit.FeatureStarted:
		switch state {
		case unit.FeatureUninstalled:
			// Install only; the start happens next pass.
			p.queueInstall(tasks, region, id)
		case unit.FeatureInstalled, unit.FeatureResolved:
			tasks.Add(OpStart, id.String(), func(ctx context.Context) error {
				return p.features.Start(ctx, id)
			})
		}
	}
}

// queueInstall merges the feature into the region's batched install task.
func (p *FeatureProcessor) queueInstall(tasks *TaskList, region string, id unit.FeatureID) {
	batch := p.featureBatch(tasks, OpInstall, region, func(ctx context.Context, set *featureSet) error {
		return p.features.Install(ctx, region, set.IDs(), runtime.InstallOptions{
			NoAutoStart:   true,
			NoAutoRefresh: true,
		})
	})
	batch.add(id)
}

// queueUninstall merges the feature into the region's batched compound
// uninstall task: mark required, then uninstall.
func (p *FeatureProcessor) queueUninstall(tasks *TaskList, region string, id unit.FeatureID) {
	batch := p.featureBatch(tasks, OpUninstall, region, func(ctx context.Context, set *featureSet) error {
		if err := p.features.AddRequirements(ctx, region, set.IDs()); err != nil {
			return fmt.Errorf("marking features required before uninstall: %w", err)
		}
		return p.features.Uninstall(ctx, region, set.IDs())
	})
	batch.add(id)
}

// queueRequirementUpdate merges the feature into the region's update task,
// grouped by the flag value being set.
func (p *FeatureProcessor) queueRequirementUpdate(tasks *TaskList, region string, id unit.FeatureID, required bool) {
	task := tasks.AddIfAbsent(OpUpdate, region, func() *Task {
		update := &requirementUpdate{
			region: region,
			add:    newFeatureSet(region),
			remove: newFeatureSet(region),
		}
		t := NewTask(OpUpdate, region, func(ctx context.Context) error {
			if !update.add.empty() {
				if err := p.features.AddRequirements(ctx, region, update.add.IDs()); err != nil {
					return err
				}
			}
			if !update.remove.empty() {
				if err := p.features.RemoveRequirements(ctx, region, update.remove.IDs()); err != nil {
					return err
				}
			}
			return nil
		})
		t.Payload = update
		return t
	})

	update := task.Payload.(*requirementUpdate)
	if required {
		update.add.add(id)
	} else {
		update.remove.add(id)
	}
}

// featureBatch returns the merged payload of the (op, region) task, seeding
// the task on first use.
func (p *FeatureProcessor) featureBatch(tasks *TaskList, op Op, region string, run func(ctx context.Context, set *featureSet) error) *featureSet {
	task := tasks.AddIfAbsent(op, region, func() *Task {
		set := newFeatureSet(region)
		t := NewTask(op, region, func(ctx context.Context) error {
			return run(ctx, set)
		})
		t.Payload = set
		return t
	})
	return task.Payload.(*featureSet)
}

// takeMatch resolves the target's feature reference against the working
// listing and removes the matched entry. A versionless reference resolves
// to the newest installed version of the name within the region.
func takeMatch(working *[]unit.FeatureSnapshot, target unit.FeatureSnapshot) (unit.FeatureSnapshot, bool) {
	best := -1
	for i, candidate := range *working {
		if candidate.ID.Name != target.ID.Name {
			continue
		}
		if candidate.EffectiveRegion() != target.EffectiveRegion() {
			continue
		}

		if !target.ID.Versionless() {
			if candidate.ID.Version == target.ID.Version {
				best = i
				break
			}
			continue
		}

		if best < 0 || unit.CompareVersions(candidate.ID.Version, (*working)[best].ID.Version) > 0 {
			best = i
		}
	}

	if best < 0 {
		return unit.FeatureSnapshot{}, false
	}

	matched := (*working)[best]
	*working = append((*working)[:best], (*working)[best+1:]...)
	return matched, true
}

// featureSet is the payload of a batched feature task.
type featureSet struct {
	region string
	ids    []unit.FeatureID
	seen   map[unit.FeatureID]bool
}

func newFeatureSet(region string) *featureSet {
	return &featureSet{region: region, seen: make(map[unit.FeatureID]bool)}
}

func (s *featureSet) add(id unit.FeatureID) {
	if s.seen[id] {
		return
	}
	s.seen[id] = true
	s.ids = append(s.ids, id)
}

func (s *featureSet) empty() bool {
	return len(s.ids) == 0
}

// IDs returns the accumulated feature ids in insertion order.
func (s *featureSet) IDs() []unit.FeatureID {
	return s.ids
}

// String renders the batch for diagnostics.
func (s *featureSet) String() string {
	names := make([]string, len(s.ids))
	for i, id := range s.ids {
		names[i] = id.String()
	}
	return fmt.Sprintf("features [%s] in region %s", strings.Join(names, ", "), s.region)
}

// requirementUpdate is the payload of a region's OpUpdate task.
type requirementUpdate struct {
	region string
	add    *featureSet
	remove *featureSet
}

// String renders the update for diagnostics.
func (u *requirementUpdate) String() string {
	var parts []string
	if !u.add.empty() {
		parts = append(parts, "require "+u.add.String())
	}
	if !u.remove.empty() {
		parts = append(parts, "unrequire "+u.remove.String())
	}
	if len(parts) == 0 {
		return "requirements in region " + u.region
	}
	return strings.Join(parts, "; ")
}

func sortedFeatures(in []unit.FeatureSnapshot) []unit.FeatureSnapshot {
	out := append([]unit.FeatureSnapshot(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].EffectiveRegion() != out[j].EffectiveRegion() {
			return out[i].EffectiveRegion() < out[j].EffectiveRegion()
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
