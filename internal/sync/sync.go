package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mirrorops/mirrorsyncd/internal/config"
	"github.com/mirrorops/mirrorsyncd/internal/git"
	"github.com/mirrorops/mirrorsyncd/internal/patch"
	"github.com/mirrorops/mirrorsyncd/internal/publish"
	"github.com/mirrorops/mirrorsyncd/internal/reconcile"
	"github.com/mirrorops/mirrorsyncd/internal/refs"
	"github.com/mirrorops/mirrorsyncd/internal/trigger"
)

// Engine orchestrates one mirror run: fetch the upstream snapshot once,
// enumerate the refs to mirror, reconcile and publish them one at a time
// against the shared workspace, then fan out one downstream build per
// changed ref.
type Engine struct {
	cfg        *config.Config
	git        git.Client
	dispatcher trigger.Dispatcher
	logger     *slog.Logger
	dryRun     bool
}

// NewEngine creates a new mirror engine. dispatcher may be nil when no
// downstream builds are configured.
func NewEngine(cfg *config.Config, gitClient git.Client, dispatcher trigger.Dispatcher, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:        cfg,
		git:        gitClient,
		dispatcher: dispatcher,
		logger:     logger,
		dryRun:     dryRun,
	}
}

// Run executes the complete mirror run. The returned error is non-nil only
// for failures that abort the run (enumeration, reconciliation); per-ref
// publish failures and downstream build failures are recorded in the Result.
// Re-running against unchanged upstream content is a no-op.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.logger.Info("starting mirror run",
		"upstream", e.cfg.Upstream.URL,
		"mirror", e.cfg.Mirror.URL,
		"dry_run", e.dryRun)

	if err := os.MkdirAll(e.cfg.Paths.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	// Enumeration errors are fatal before any ref is touched.
	snap := reconcile.NewSnapshot(e.cfg.SnapshotDir(), e.cfg.Upstream.URL, e.git, e.logger)
	if err := snap.Ensure(ctx); err != nil {
		return nil, err
	}

	tags, err := snap.Tags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream tag catalog: %w", err)
	}

	refList, err := refs.Enumerate(
		refs.Catalog{DefaultBranch: e.cfg.Upstream.DefaultBranch, Tags: tags},
		refs.Options{
			TagPrefix:  e.cfg.Refs.TagPrefix,
			MinVersion: e.cfg.Refs.MinVersion,
			Exclude:    e.cfg.Refs.Exclude,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate refs: %w", err)
	}
	e.logger.Info("enumerated refs", "count", len(refList), "refs", refs.Names(refList))

	ws := reconcile.NewWorkspace(reconcile.Config{
		Dir:            e.cfg.MirrorDir(),
		URL:            e.cfg.Mirror.URL,
		ReservedPaths:  e.cfg.ReservedPaths,
		DefaultBranch:  e.cfg.Upstream.DefaultBranch,
		TrackingPrefix: e.cfg.Mirror.TrackingBranchPrefix,
	}, e.git, e.logger)
	if err := ws.Ensure(ctx); err != nil {
		return nil, err
	}

	publisher := publish.NewPublisher(e.git,
		e.cfg.Mirror.CommitMessage,
		e.cfg.Mirror.TrackingBranchPrefix,
		e.dryRun, e.logger)

	fixedPatch := patch.Patch{
		File:   e.cfg.Patch.File,
		Marker: e.cfg.Patch.Marker,
		Insert: e.cfg.Patch.Insert,
	}

	result := &Result{}
	for _, ref := range refList {
		// No cancellation mid-ref: a ref either completes its cycle or the
		// whole run aborts. The context is only consulted between refs.
		if err := ctx.Err(); err != nil {
			return result, err
		}

		e.logger.Info("processing ref", "ref", ref.Name)

		// A reconciliation failure aborts the run: a half-reconciled tree
		// must never reach staging, let alone a push.
		if err := e.reconcileRef(ctx, ws, snap, ref, fixedPatch); err != nil {
			return result, fmt.Errorf("reconciliation failed for %s: %w", ref.Name, err)
		}

		changed, err := publisher.Publish(ctx, ws, ref)
		if err != nil {
			// Publish failures stay with their ref; later refs still run.
			e.logger.Error("publish failed", "ref", ref.Name, "error", err)
			result.Refs = append(result.Refs, RefResult{Ref: ref, Status: StatusFailed, Err: err})
			continue
		}

		if changed {
			result.Refs = append(result.Refs, RefResult{Ref: ref, Status: StatusPublished})
			result.Updated = append(result.Updated, ref.Name)
		} else {
			result.Refs = append(result.Refs, RefResult{Ref: ref, Status: StatusNoChange})
		}
	}

	e.triggerBuilds(ctx, result)

	e.logger.Info("mirror run completed",
		"processed", len(result.Refs),
		"updated", result.Updated,
		"failed", result.Failed())
	return result, nil
}

// reconcileRef runs one ref's reconciliation cycle against the shared
// workspace: reset to the ref's prior state, check out the upstream
// content, replace the non-reserved tree.
func (e *Engine) reconcileRef(ctx context.Context, ws *reconcile.Workspace, snap *reconcile.Snapshot, ref refs.Ref, p patch.Patch) error {
	if err := ws.ResetToCleanState(ctx, ref); err != nil {
		return err
	}
	if err := snap.CheckoutRef(ctx, ref); err != nil {
		return err
	}
	return ws.Reconcile(ctx, snap, p)
}

// triggerBuilds fans out one downstream build per updated ref and records
// dispatch failures on the matching ref results.
func (e *Engine) triggerBuilds(ctx context.Context, result *Result) {
	if len(result.Updated) == 0 {
		e.logger.Info("no refs updated, skipping downstream builds")
		return
	}
	if e.dryRun {
		e.logger.Info("[dry-run] would trigger downstream builds", "refs", result.Updated)
		return
	}
	if e.dispatcher == nil {
		e.logger.Info("no build dispatch configured, skipping downstream builds", "refs", result.Updated)
		return
	}

	failures := trigger.FanOut(ctx, e.dispatcher, result.Updated, e.cfg.Trigger.Concurrency, e.logger)
	for _, f := range failures {
		for i := range result.Refs {
			if result.Refs[i].Ref.Name == f.Ref {
				result.Refs[i].TriggerErr = f.Err
			}
		}
	}
}
