package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mirrorops/mirrorsyncd/internal/git"
	"github.com/mirrorops/mirrorsyncd/internal/refs"
)

// Snapshot is the single local clone of the upstream repository. It is
// fetched once per run and checked out repeatedly, once per mirrored ref.
// The patch step may dirty its working copy; Discard restores it before
// the next ref is processed so no modification leaks across cycles.
type Snapshot struct {
	dir    string
	url    string
	git    git.Client
	logger *slog.Logger
}

// NewSnapshot creates a snapshot handle rooted at dir for the upstream url.
func NewSnapshot(dir, url string, gitClient git.Client, logger *slog.Logger) *Snapshot {
	return &Snapshot{
		dir:    dir,
		url:    url,
		git:    gitClient,
		logger: logger,
	}
}

// Dir returns the snapshot's working copy root.
func (s *Snapshot) Dir() string {
	return s.dir
}

// Ensure clones or updates the upstream repository.
func (s *Snapshot) Ensure(ctx context.Context) error {
	s.logger.Info("fetching upstream snapshot", "url", s.url, "dest", s.dir)
	if err := s.git.EnsureClone(ctx, s.url, s.dir); err != nil {
		return fmt.Errorf("failed to fetch upstream: %w", err)
	}
	return nil
}

// Tags lists the upstream tag catalog.
func (s *Snapshot) Tags(ctx context.Context) ([]string, error) {
	return s.git.ListTags(ctx, s.dir)
}

// CheckoutRef checks out the upstream content for the given ref.
func (s *Snapshot) CheckoutRef(ctx context.Context, ref refs.Ref) error {
	if err := s.git.Checkout(ctx, s.dir, ref.Name); err != nil {
		return fmt.Errorf("failed to checkout upstream ref %s: %w", ref.Name, err)
	}
	return nil
}

// Discard drops any working copy modifications, restoring the checked-out
// ref's pristine content.
func (s *Snapshot) Discard(ctx context.Context) error {
	if err := s.git.ResetHard(ctx, s.dir, "HEAD"); err != nil {
		return fmt.Errorf("failed to reset upstream snapshot: %w", err)
	}
	if err := s.git.CleanUntracked(ctx, s.dir); err != nil {
		return fmt.Errorf("failed to clean upstream snapshot: %w", err)
	}
	return nil
}
