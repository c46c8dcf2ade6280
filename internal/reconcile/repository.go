package reconcile

import (
	"context"
	"sort"

	"baseline/internal/profile"
	"baseline/internal/runtime"
	"baseline/internal/unit"
)

// RepositoryProcessor reconciles the registered repository set against the
// profile. Repositories are binary present/absent, so every diff yields
// exactly one queued operation.
type RepositoryProcessor struct {
	repos runtime.Repositories
}

// NewRepositoryProcessor creates a processor over the given client.
func NewRepositoryProcessor(repos runtime.Repositories) *RepositoryProcessor {
	return &RepositoryProcessor{repos: repos}
}

// Kind returns the unit kind this processor reconciles.
func (p *RepositoryProcessor) Kind() unit.Kind {
	return unit.KindRepository
}

// Reconcile queues an add for every profiled repository missing from the
// runtime and, unless the profile is overlay-only, a remove for every
// leftover.
func (p *RepositoryProcessor) Reconcile(ctx context.Context, prof *profile.Profile, tasks *TaskList) error {
	live, err := p.repos.List(ctx)
	if err != nil {
		return err
	}

	want := prof.RepositorySet()
	seen := make(map[string]bool, len(live))

	var leftovers []string
	for _, uri := range live {
		seen[uri] = true
		if !want[uri] && !prof.OverlayOnly {
			leftovers = append(leftovers, uri)
		}
	}

	var missing []string
	for uri := range want {
		if !seen[uri] {
			missing = append(missing, uri)
		}
	}

	// Deterministic task order keeps diagnostics stable.
	sort.Strings(leftovers)
	sort.Strings(missing)

	for _, uri := range leftovers {
		uri := uri
		tasks.Add(OpUninstall, uri, func(ctx context.Context) error {
			return p.repos.Remove(ctx, uri)
		})
	}
	for _, uri := range missing {
		uri := uri
		tasks.Add(OpInstall, uri, func(ctx context.Context) error {
			return p.repos.Add(ctx, uri)
		})
	}

	return nil
}
