package reconciler

import (
	"context"
	"fmt"

	"github.com/kfsoftware/asd/internal/asderrors"
	"github.com/kfsoftware/asd/internal/proxyctl"
	"github.com/kfsoftware/asd/internal/readiness"
	"github.com/kfsoftware/asd/internal/registry"
	"github.com/kfsoftware/asd/internal/tunnelmgr"
)

// RemoveScope selects which entries a removal pass targets.
type RemoveScope struct {
	// IDs restricts the pass to these entries. Empty means every entry
	// currently in the registry (used by `net reset`; `net clean` passes
	// the discovered entries' ids).
	IDs []string
	// PurgeRegistry also deletes the registry entry, not just its tunnel
	// and proxy route. `net remove`, `net clean` and `net reset` set this;
	// `net stop` does not go through Remove.
	PurgeRegistry bool
}

// Remove stops each targeted entry's owned tunnel session, revokes its
// proxy route, and optionally purges its registry entry (spec §4.9,
// "net clean / net remove / net reset"). There is no ordering guarantee
// between entries — each one's revocation is individually atomic, and a
// failure on one entry does not block the others.
func Remove(ctx context.Context, deps Deps, scope RemoveScope) (*asderrors.Aggregate, error) {
	failures := asderrors.NewAggregate()

	all, err := deps.Registry.Snapshot()
	if err != nil {
		return nil, err
	}
	targets := all
	if len(scope.IDs) > 0 {
		wanted := make(map[string]bool, len(scope.IDs))
		for _, id := range scope.IDs {
			wanted[id] = true
		}
		targets = nil
		for _, e := range all {
			if wanted[e.ID] {
				targets = append(targets, e)
			}
		}
	}

	var remaining []registry.Entry
	removedIDs := make(map[string]bool, len(targets))
	for _, e := range targets {
		sess, ok := deps.Sessions[e.ID]
		if !ok {
			// A session started by an earlier invocation is not in Sessions;
			// its detached process is found through its PID file.
			sess = tunnelmgr.New(fmt.Sprintf("tunnel-%s", e.ID), e.ID, "", "", "", "", readiness.Budget{}, deps.Paths)
		}
		if err := sess.Stop(); err != nil {
			failures.Add(asderrors.Wrapf(asderrors.KindTransient, e.ID, err, "stop tunnel session"))
		}
		delete(deps.Sessions, e.ID)
		removedIDs[e.ID] = true
		if scope.PurgeRegistry {
			if err := deps.Registry.Remove(e.ID); err != nil {
				failures.Add(asderrors.Wrapf(asderrors.KindTransient, e.ID, err, "remove registry entry"))
			}
		}
	}

	// Revoke proxy routes for removed entries by re-applying the desired
	// set computed from whatever's left in the registry.
	if deps.Proxy != nil {
		live, err := deps.Registry.Snapshot()
		if err != nil {
			failures.Add(asderrors.Wrapf(asderrors.KindTransient, "", err, "snapshot registry after removal"))
		} else {
			for _, e := range live {
				if !removedIDs[e.ID] {
					remaining = append(remaining, e)
				}
			}
			authPolicy := basicAuthPolicyForDeps(deps)
			routes := make([]proxyctl.Route, 0, len(remaining))
			for _, e := range remaining {
				routes = append(routes, routesForEntry(ctx, e, authPolicy)...)
			}
			if err := deps.Proxy.Apply(ctx, routes); err != nil {
				failures.Add(asderrors.Wrapf(asderrors.KindProtocol, "", err, "revoke proxy routes"))
			}
		}
	}

	return failures, nil
}
