package reconcile

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cp "github.com/otiai10/copy"

	"github.com/mirrorops/mirrorsyncd/internal/git"
	"github.com/mirrorops/mirrorsyncd/internal/patch"
	"github.com/mirrorops/mirrorsyncd/internal/refs"
)

// Workspace is the mirror repository's working tree. It is a singleton
// mutable resource: refs are reconciled against it one at a time, and every
// cycle starts from ResetToCleanState so residue from the previous ref never
// leaks into the next one.
type Workspace struct {
	dir            string
	url            string
	git            git.Client
	reservedPaths  []string
	defaultBranch  string
	trackingPrefix string
	logger         *slog.Logger
}

// Config carries the workspace construction parameters.
type Config struct {
	Dir            string
	URL            string
	ReservedPaths  []string
	DefaultBranch  string
	TrackingPrefix string
}

// NewWorkspace creates a workspace handle for the mirror clone.
func NewWorkspace(cfg Config, gitClient git.Client, logger *slog.Logger) *Workspace {
	return &Workspace{
		dir:            cfg.Dir,
		url:            cfg.URL,
		git:            gitClient,
		reservedPaths:  cfg.ReservedPaths,
		defaultBranch:  cfg.DefaultBranch,
		trackingPrefix: cfg.TrackingPrefix,
		logger:         logger,
	}
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string {
	return w.dir
}

// Ensure clones or updates the mirror repository.
func (w *Workspace) Ensure(ctx context.Context) error {
	w.logger.Info("preparing mirror workspace", "url", w.url, "dest", w.dir)
	if err := w.git.EnsureClone(ctx, w.url, w.dir); err != nil {
		return fmt.Errorf("failed to prepare mirror workspace: %w", err)
	}
	return nil
}

// BranchFor returns the local branch that carries a ref's mirrored content:
// the branch itself for the default branch, the tracking branch for tags.
func (w *Workspace) BranchFor(ref refs.Ref) string {
	return ref.TrackingBranch(w.trackingPrefix)
}

// ResetToCleanState checks out the ref's prior local state, or branches
// fresh from the default branch when the ref has never been mirrored.
// On return the working tree is a clean checkout with no leftover
// modifications or untracked files.
func (w *Workspace) ResetToCleanState(ctx context.Context, ref refs.Ref) error {
	branch := w.BranchFor(ref)

	start, err := w.startPoint(ctx, branch)
	if err != nil {
		return err
	}

	if start == "" {
		// Empty mirror remote: the very first branch starts without history.
		if err := w.git.CheckoutOrphan(ctx, w.dir, branch); err != nil {
			return fmt.Errorf("failed to start branch %s: %w", branch, err)
		}
	} else {
		if err := w.git.CheckoutBranch(ctx, w.dir, branch, start); err != nil {
			return fmt.Errorf("failed to reset branch %s: %w", branch, err)
		}
		if err := w.git.ResetHard(ctx, w.dir, "HEAD"); err != nil {
			return fmt.Errorf("failed to reset workspace: %w", err)
		}
	}

	if err := w.git.CleanUntracked(ctx, w.dir); err != nil {
		return fmt.Errorf("failed to clean workspace: %w", err)
	}
	return nil
}

// startPoint picks the commit a ref's cycle starts from: the ref's own prior
// branch when it exists (locally or on the mirror remote), otherwise the
// mirrored default branch, otherwise nothing (empty mirror).
func (w *Workspace) startPoint(ctx context.Context, branch string) (string, error) {
	for _, candidate := range []string{
		"refs/remotes/origin/" + branch,
		"refs/heads/" + branch,
		"refs/remotes/origin/" + w.defaultBranch,
		"refs/heads/" + w.defaultBranch,
	} {
		ok, err := w.git.HasRef(ctx, w.dir, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to resolve start point for %s: %w", branch, err)
		}
		if ok {
			return candidate, nil
		}
	}
	return "", nil
}

// Reconcile replaces the workspace's non-reserved content with the snapshot's
// content for the currently checked-out ref, applying the configured patch.
// The sequence is: wipe non-reserved paths, patch the fixed file inside the
// snapshot working copy, copy the snapshot over, then discard the snapshot's
// modifications. Running it twice against unchanged upstream content yields
// no further diff.
func (w *Workspace) Reconcile(ctx context.Context, snap *Snapshot, p patch.Patch) error {
	if err := w.wipe(); err != nil {
		return fmt.Errorf("failed to wipe workspace: %w", err)
	}

	if p.Enabled() {
		if err := w.applyPatch(snap, p); err != nil {
			return fmt.Errorf("failed to patch %s: %w", p.File, err)
		}
	}

	if err := w.copyFrom(snap); err != nil {
		return fmt.Errorf("failed to copy upstream content: %w", err)
	}

	if err := snap.Discard(ctx); err != nil {
		return err
	}
	return nil
}

// wipe deletes every file not under a reserved path, then removes the
// directories the deletions emptied. Reserved paths and the repository
// metadata stay untouched.
func (w *Workspace) wipe() error {
	var dirs []string

	err := filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == w.dir {
			return nil
		}

		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			return err
		}
		if w.isReserved(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		return os.Remove(path)
	})
	if err != nil {
		return err
	}

	// Deepest directories first, so emptied parents can go too.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		// Directories still holding reserved content stay; os.Remove only
		// succeeds on empty ones.
		_ = os.Remove(dir)
	}
	return nil
}

// applyPatch rewrites the fixed file inside the snapshot working copy.
// A missing file or absent marker is not an error.
func (w *Workspace) applyPatch(snap *Snapshot, p patch.Patch) error {
	path := filepath.Join(snap.Dir(), p.File)

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.logger.Debug("patch target missing, skipping", "file", p.File)
			return nil
		}
		return err
	}

	patched, applied := p.Apply(content)
	if !applied {
		w.logger.Debug("patch marker absent, copying unmodified", "file", p.File)
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, patched, info.Mode()); err != nil {
		return err
	}

	w.logger.Info("applied patch", "file", p.File, "marker", p.Marker)
	return nil
}

// copyFrom copies the snapshot tree into the workspace, skipping repository
// metadata and the upstream's own copies of reserved paths.
func (w *Workspace) copyFrom(snap *Snapshot) error {
	srcRoot := snap.Dir()

	opts := cp.Options{
		Skip: func(info os.FileInfo, src, dest string) (bool, error) {
			rel, err := filepath.Rel(srcRoot, src)
			if err != nil {
				return false, err
			}
			if rel == "." {
				return false, nil
			}
			if rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
				return true, nil
			}
			return w.isReserved(rel), nil
		},
		OnSymlink: func(src string) cp.SymlinkAction {
			return cp.Shallow
		},
	}

	return cp.Copy(srcRoot, w.dir, opts)
}

// isReserved reports whether the relative path sits under a reserved prefix.
func (w *Workspace) isReserved(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return true
	}
	for _, reserved := range w.reservedPaths {
		reserved = strings.Trim(filepath.ToSlash(reserved), "/")
		if reserved == "" {
			continue
		}
		if rel == reserved || strings.HasPrefix(rel, reserved+"/") {
			return true
		}
	}
	return false
}
