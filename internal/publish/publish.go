package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mirrorops/mirrorsyncd/internal/git"
	"github.com/mirrorops/mirrorsyncd/internal/reconcile"
	"github.com/mirrorops/mirrorsyncd/internal/refs"
)

// remote is the mirror repository's push target. The workspace is always a
// clone of the mirror remote, so the name is fixed.
const remote = "origin"

// Publisher commits and force-pushes a reconciled workspace. Force semantics
// are deliberate: mirrored history is reproducible from upstream plus the
// fixed patch, so the remote's prior history is disposable.
type Publisher struct {
	git            git.Client
	commitMessage  string
	trackingPrefix string
	dryRun         bool
	logger         *slog.Logger
}

// NewPublisher creates a publisher. commitMessage may contain the "{ref}"
// placeholder, replaced by the ref name so the message stays deterministic.
func NewPublisher(gitClient git.Client, commitMessage, trackingPrefix string, dryRun bool, logger *slog.Logger) *Publisher {
	return &Publisher{
		git:            gitClient,
		commitMessage:  commitMessage,
		trackingPrefix: trackingPrefix,
		dryRun:         dryRun,
		logger:         logger,
	}
}

// Publish stages the reconciled workspace and reports whether the ref
// changed. An empty stage publishes nothing. A non-empty stage is committed
// with the fixed message; tags additionally get a force-moved tag object,
// and everything is force-pushed. In dry-run mode the change is detected and
// reported but nothing is committed or pushed.
func (p *Publisher) Publish(ctx context.Context, ws *reconcile.Workspace, ref refs.Ref) (bool, error) {
	if err := p.git.StageAll(ctx, ws.Dir()); err != nil {
		return false, fmt.Errorf("failed to stage changes for %s: %w", ref.Name, err)
	}

	changed, err := p.git.HasStagedChanges(ctx, ws.Dir())
	if err != nil {
		return false, fmt.Errorf("failed to diff staged changes for %s: %w", ref.Name, err)
	}
	if !changed {
		p.logger.Info("no changes", "ref", ref.Name)
		return false, nil
	}

	if p.dryRun {
		p.logger.Info("[dry-run] would publish", "ref", ref.Name)
		return true, nil
	}

	message := strings.ReplaceAll(p.commitMessage, "{ref}", ref.Name)
	if err := p.git.Commit(ctx, ws.Dir(), message); err != nil {
		return false, fmt.Errorf("failed to commit %s: %w", ref.Name, err)
	}

	branch := ws.BranchFor(ref)
	refspecs := []string{"refs/heads/" + branch}
	if ref.IsTag() {
		if err := p.git.TagForce(ctx, ws.Dir(), ref.Name); err != nil {
			return false, fmt.Errorf("failed to tag %s: %w", ref.Name, err)
		}
		refspecs = append(refspecs, "refs/tags/"+ref.Name)
	}

	if err := p.git.PushForce(ctx, ws.Dir(), remote, refspecs...); err != nil {
		return false, fmt.Errorf("failed to push %s: %w", ref.Name, err)
	}

	p.logger.Info("published", "ref", ref.Name, "branch", branch)
	return true, nil
}
