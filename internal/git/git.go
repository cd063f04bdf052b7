package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client provides the git operations the mirror pipeline is built on.
// History on the mirror side is disposable: every push overwrites the
// remote ref, because mirrored content is derived from upstream plus a
// fixed patch, never hand-authored.
type Client interface {
	// EnsureClone clones url into destDir, or fetches (with tags, pruned)
	// when a clone already exists.
	EnsureClone(ctx context.Context, url, destDir string) error
	// ListTags returns all tag names known to the repository at dir.
	ListTags(ctx context.Context, dir string) ([]string, error)
	// Checkout force-checks-out a ref, falling back to origin/<ref> for
	// remote branches.
	Checkout(ctx context.Context, dir, ref string) error
	// CheckoutBranch force-creates (or resets) a local branch at the given
	// start point and checks it out.
	CheckoutBranch(ctx context.Context, dir, branch, startPoint string) error
	// CheckoutOrphan checks out a new branch with no history and an empty
	// index. Used on the very first run against an empty mirror remote.
	CheckoutOrphan(ctx context.Context, dir, branch string) error
	// HasRef reports whether the revision resolves in the repository.
	HasRef(ctx context.Context, dir, rev string) (bool, error)
	// ResetHard discards all tracked modifications relative to rev.
	ResetHard(ctx context.Context, dir, rev string) error
	// CleanUntracked removes untracked files and directories.
	CleanUntracked(ctx context.Context, dir string) error
	// StageAll stages every modification, addition and deletion.
	StageAll(ctx context.Context, dir string) error
	// HasStagedChanges reports whether the index differs from HEAD.
	HasStagedChanges(ctx context.Context, dir string) (bool, error)
	// Commit records the staged tree with the configured author.
	Commit(ctx context.Context, dir, message string) error
	// TagForce creates or moves a tag to HEAD.
	TagForce(ctx context.Context, dir, name string) error
	// PushForce pushes the given refspecs, overwriting remote history.
	PushForce(ctx context.Context, dir, remote string, refspecs ...string) error
	// RevParse resolves a revision to a commit hash.
	RevParse(ctx context.Context, dir, rev string) (string, error)
}

// ShellClient implements Client by shelling out to the git command.
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
	authorName     string
	authorEmail    string
}

// NewShellClient creates a new git client that uses the git command.
// Commits are recorded with the given author identity.
func NewShellClient(sshKeyFile, httpsTokenFile, authorName, authorEmail string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
		authorName:     authorName,
		authorEmail:    authorEmail,
	}
}

// EnsureClone clones or fetches the repository at url into destDir.
func (c *ShellClient) EnsureClone(ctx context.Context, url, destDir string) error {
	gitDir := filepath.Join(destDir, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
			return fmt.Errorf("failed to create parent directory: %w", err)
		}

		cmd := exec.CommandContext(ctx, "git", "clone", url, destDir)
		if err := c.configureAuth(cmd, url); err != nil {
			return err
		}
		if err := c.runCommand(cmd); err != nil {
			return fmt.Errorf("git clone failed: %w", err)
		}
		return nil
	}

	// Tags may move upstream (re-pushed releases have been observed), so
	// fetch them forced and pruned rather than assuming immutability.
	cmd := exec.CommandContext(ctx, "git", "-C", destDir, "fetch", "origin",
		"--tags", "--force", "--prune", "--prune-tags")
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git fetch failed: %w", err)
	}
	return nil
}

// ListTags returns all tag names in the repository at dir.
func (c *ShellClient) ListTags(ctx context.Context, dir string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "tag", "--list")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git tag --list failed: %w", err)
	}

	var tags []string
	for _, line := range strings.Split(string(output), "\n") {
		if tag := strings.TrimSpace(line); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// Checkout force-checks-out the specified ref.
// Tries the ref directly first (local branches, tags, hashes), then as a
// remote branch. This prefers local refs when they exist.
func (c *ShellClient) Checkout(ctx context.Context, dir, ref string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "checkout", "-f", ref)
	if err := c.runCommand(cmd); err != nil {
		remoteRef := "origin/" + ref
		cmd = exec.CommandContext(ctx, "git", "-C", dir, "checkout", "-f", remoteRef)
		if err := c.runCommand(cmd); err != nil {
			return fmt.Errorf("git checkout failed for ref %q (tried both direct and remote): %w", ref, err)
		}
	}
	return nil
}

// CheckoutBranch force-creates or resets branch at startPoint and checks it out.
func (c *ShellClient) CheckoutBranch(ctx context.Context, dir, branch, startPoint string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "checkout", "-f", "-B", branch, startPoint)
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git checkout -B %s failed: %w", branch, err)
	}
	return nil
}

// CheckoutOrphan checks out a history-less branch with an empty index.
func (c *ShellClient) CheckoutOrphan(ctx context.Context, dir, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "checkout", "--orphan", branch)
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git checkout --orphan %s failed: %w", branch, err)
	}

	// An orphan checkout keeps the previous index; drop it so the branch
	// starts from nothing.
	cmd = exec.CommandContext(ctx, "git", "-C", dir, "rm", "-rf", "--ignore-unmatch", "-q", ".")
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("failed to clear orphan index: %w", err)
	}
	return nil
}

// HasRef reports whether rev resolves in the repository at dir.
func (c *ShellClient) HasRef(ctx context.Context, dir, rev string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--verify", "--quiet", rev)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git rev-parse --verify failed for %q: %w", rev, err)
}

// ResetHard discards tracked modifications relative to rev.
func (c *ShellClient) ResetHard(ctx context.Context, dir, rev string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "reset", "--hard", rev)
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git reset --hard failed: %w", err)
	}
	return nil
}

// CleanUntracked removes untracked files and directories.
func (c *ShellClient) CleanUntracked(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "clean", "-fd")
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git clean failed: %w", err)
	}
	return nil
}

// StageAll stages all working tree changes, including deletions.
func (c *ShellClient) StageAll(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "add", "-A")
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}
	return nil
}

// HasStagedChanges reports whether the index differs from HEAD.
// On a branch without any commit yet, a non-empty index counts as changed.
func (c *ShellClient) HasStagedChanges(ctx context.Context, dir string) (bool, error) {
	hasHead, err := c.HasRef(ctx, dir, "HEAD")
	if err != nil {
		return false, err
	}
	if !hasHead {
		cmd := exec.CommandContext(ctx, "git", "-C", dir, "ls-files", "--cached")
		output, err := cmd.Output()
		if err != nil {
			return false, fmt.Errorf("git ls-files failed: %w", err)
		}
		return strings.TrimSpace(string(output)) != "", nil
	}

	// diff --cached exits 1 when the index differs from HEAD.
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "diff", "--cached", "--quiet")
	err = cmd.Run()
	if err == nil {
		return false, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff --cached failed: %w", err)
}

// Commit records the staged tree with the configured author identity.
func (c *ShellClient) Commit(ctx context.Context, dir, message string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir,
		"-c", "user.name="+c.authorName,
		"-c", "user.email="+c.authorEmail,
		"commit", "-m", message)
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git commit failed: %w", err)
	}
	return nil
}

// TagForce creates or moves the tag to HEAD.
func (c *ShellClient) TagForce(ctx context.Context, dir, name string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "tag", "-f", name)
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git tag -f %s failed: %w", name, err)
	}
	return nil
}

// PushForce pushes the given refspecs to the remote, overwriting its history.
func (c *ShellClient) PushForce(ctx context.Context, dir, remote string, refspecs ...string) error {
	args := append([]string{"-C", dir, "push", "--force", remote}, refspecs...)
	cmd := exec.CommandContext(ctx, "git", args...)

	url, err := c.remoteURL(ctx, dir, remote)
	if err != nil {
		return err
	}
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}

	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git push failed: %w", err)
	}
	return nil
}

// RevParse resolves rev to a commit hash.
func (c *ShellClient) RevParse(ctx context.Context, dir, rev string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", rev)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// remoteURL reads the configured URL for a remote, so pushes pick the
// matching auth mechanism.
func (c *ShellClient) remoteURL(ctx context.Context, dir, remote string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "remote", "get-url", remote)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git remote get-url %s failed: %w", remote, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// Use GIT_SSH_COMMAND to specify the SSH key.
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		tokenStr := strings.TrimSpace(string(token))

		// Pass the token via environment variable and configure a git
		// credential helper that reads it. This avoids embedding the
		// token directly in a shell expression.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "MIRRORSYNCD_GIT_TOKEN="+tokenStr)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$MIRRORSYNCD_GIT_TOKEN"; }; f`,
		)

		return nil
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with its output on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
