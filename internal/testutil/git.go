// Package testutil provides git helpers shared by tests that exercise the
// mirror pipeline against real repositories.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// Git runs a git command in dir and returns its output, failing the test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return string(out)
}

// InitRepo initializes a repository in dir with an initial branch and a
// throwaway committer identity.
func InitRepo(t *testing.T, dir, branch string) {
	t.Helper()
	if out, err := exec.Command("git", "init", "-b", branch, dir).CombinedOutput(); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test")
}

// InitBareRepo initializes a bare repository in dir, suitable as a push target.
func InitBareRepo(t *testing.T, dir, branch string) {
	t.Helper()
	if out, err := exec.Command("git", "init", "--bare", "-b", branch, dir).CombinedOutput(); err != nil {
		t.Fatalf("git init --bare: %v: %s", err, out)
	}
}

// WriteFile creates rel (and any parent directories) under dir.
func WriteFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// Commit stages everything in dir and commits it.
func Commit(t *testing.T, dir, msg string) {
	t.Helper()
	Git(t, dir, "add", "-A")
	Git(t, dir, "commit", "-m", msg)
}

// Tag creates a tag at HEAD.
func Tag(t *testing.T, dir, name string) {
	t.Helper()
	Git(t, dir, "tag", name)
}
