package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mirrorops/mirrorsyncd/internal/testutil"
)

func newTestClient() *ShellClient {
	return NewShellClient("", "", "Test", "test@test.com")
}

func TestEnsureCloneAndFetch(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	testutil.InitRepo(t, remoteDir, "main")
	testutil.WriteFile(t, remoteDir, "hello.txt", "version1\n")
	testutil.Commit(t, remoteDir, "initial")
	testutil.Tag(t, remoteDir, "v1.0.0")

	cloneDir := filepath.Join(t.TempDir(), "repo")
	client := newTestClient()

	// First call clones.
	if err := client.EnsureClone(ctx, remoteDir, cloneDir); err != nil {
		t.Fatalf("clone: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(cloneDir, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "version1\n" {
		t.Fatalf("expected version1, got %q", got)
	}

	// New upstream tag must be picked up by the second call.
	testutil.WriteFile(t, remoteDir, "hello.txt", "version2\n")
	testutil.Commit(t, remoteDir, "update")
	testutil.Tag(t, remoteDir, "v2.0.0")

	if err := client.EnsureClone(ctx, remoteDir, cloneDir); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	tags, err := client.ListTags(ctx, cloneDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags after fetch, got %v", tags)
	}
}

func TestEnsureCloneFetchesMovedTag(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	testutil.InitRepo(t, remoteDir, "main")
	testutil.WriteFile(t, remoteDir, "hello.txt", "v1\n")
	testutil.Commit(t, remoteDir, "initial")
	testutil.Tag(t, remoteDir, "v1.0.0")

	cloneDir := filepath.Join(t.TempDir(), "repo")
	client := newTestClient()
	if err := client.EnsureClone(ctx, remoteDir, cloneDir); err != nil {
		t.Fatal(err)
	}

	// Move the tag upstream. Tags are not immutable in practice.
	testutil.WriteFile(t, remoteDir, "hello.txt", "v1-rebuilt\n")
	testutil.Commit(t, remoteDir, "rebuild release")
	testutil.Git(t, remoteDir, "tag", "-f", "v1.0.0")

	if err := client.EnsureClone(ctx, remoteDir, cloneDir); err != nil {
		t.Fatal(err)
	}
	if err := client.Checkout(ctx, cloneDir, "v1.0.0"); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(cloneDir, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v1-rebuilt\n" {
		t.Fatalf("expected moved tag content, got %q", got)
	}
}

func TestCheckoutFallsBackToRemoteBranch(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	testutil.InitRepo(t, remoteDir, "main")
	testutil.WriteFile(t, remoteDir, "hello.txt", "main\n")
	testutil.Commit(t, remoteDir, "initial")
	testutil.Git(t, remoteDir, "checkout", "-b", "feature")
	testutil.WriteFile(t, remoteDir, "hello.txt", "feature\n")
	testutil.Commit(t, remoteDir, "feature work")
	testutil.Git(t, remoteDir, "checkout", "main")

	cloneDir := filepath.Join(t.TempDir(), "repo")
	client := newTestClient()
	if err := client.EnsureClone(ctx, remoteDir, cloneDir); err != nil {
		t.Fatal(err)
	}

	// "feature" only exists as origin/feature in the clone.
	if err := client.Checkout(ctx, cloneDir, "feature"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(cloneDir, "hello.txt"))
	if string(got) != "feature\n" {
		t.Fatalf("expected feature content, got %q", got)
	}
}

func TestStageCommitAndDiffDetection(t *testing.T) {
	ctx := context.Background()

	repoDir := t.TempDir()
	testutil.InitRepo(t, repoDir, "main")
	testutil.WriteFile(t, repoDir, "hello.txt", "one\n")
	testutil.Commit(t, repoDir, "initial")

	client := newTestClient()

	// No modifications: nothing staged.
	if err := client.StageAll(ctx, repoDir); err != nil {
		t.Fatal(err)
	}
	changed, err := client.HasStagedChanges(ctx, repoDir)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("expected no staged changes on a clean tree")
	}

	// Modify, stage, detect, commit.
	testutil.WriteFile(t, repoDir, "hello.txt", "two\n")
	if err := client.StageAll(ctx, repoDir); err != nil {
		t.Fatal(err)
	}
	changed, err = client.HasStagedChanges(ctx, repoDir)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected staged changes after modification")
	}

	if err := client.Commit(ctx, repoDir, "update"); err != nil {
		t.Fatal(err)
	}
	changed, err = client.HasStagedChanges(ctx, repoDir)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("expected clean index after commit")
	}
}

func TestHasStagedChangesOnUnbornBranch(t *testing.T) {
	ctx := context.Background()

	repoDir := t.TempDir()
	testutil.InitRepo(t, repoDir, "main")

	client := newTestClient()

	changed, err := client.HasStagedChanges(ctx, repoDir)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("empty unborn branch must report no changes")
	}

	testutil.WriteFile(t, repoDir, "hello.txt", "one\n")
	if err := client.StageAll(ctx, repoDir); err != nil {
		t.Fatal(err)
	}
	changed, err = client.HasStagedChanges(ctx, repoDir)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("staged file on unborn branch must count as a change")
	}
}

func TestTagForceAndPushForce(t *testing.T) {
	ctx := context.Background()

	bareDir := t.TempDir()
	testutil.InitBareRepo(t, bareDir, "main")

	repoDir := filepath.Join(t.TempDir(), "repo")
	client := newTestClient()
	if err := client.EnsureClone(ctx, bareDir, repoDir); err != nil {
		t.Fatal(err)
	}

	if err := client.CheckoutOrphan(ctx, repoDir, "main"); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, repoDir, "hello.txt", "one\n")
	if err := client.StageAll(ctx, repoDir); err != nil {
		t.Fatal(err)
	}
	if err := client.Commit(ctx, repoDir, "first"); err != nil {
		t.Fatal(err)
	}
	if err := client.TagForce(ctx, repoDir, "v1.0.0"); err != nil {
		t.Fatal(err)
	}
	if err := client.PushForce(ctx, repoDir, "origin",
		"refs/heads/main", "refs/tags/v1.0.0"); err != nil {
		t.Fatal(err)
	}

	// Rewrite history and push again; the remote must follow.
	testutil.WriteFile(t, repoDir, "hello.txt", "two\n")
	testutil.Git(t, repoDir, "add", "-A")
	testutil.Git(t, repoDir, "commit", "--amend", "-m", "rewritten")
	if err := client.TagForce(ctx, repoDir, "v1.0.0"); err != nil {
		t.Fatal(err)
	}
	if err := client.PushForce(ctx, repoDir, "origin",
		"refs/heads/main", "refs/tags/v1.0.0"); err != nil {
		t.Fatalf("force push after rewrite: %v", err)
	}

	localHead, err := client.RevParse(ctx, repoDir, "main")
	if err != nil {
		t.Fatal(err)
	}
	remoteHead := strings.TrimSpace(testutil.Git(t, bareDir, "rev-parse", "main"))
	if localHead != remoteHead {
		t.Errorf("remote main not updated: local %s remote %s", localHead, remoteHead)
	}
}

func TestHasRef(t *testing.T) {
	ctx := context.Background()

	repoDir := t.TempDir()
	testutil.InitRepo(t, repoDir, "main")
	testutil.WriteFile(t, repoDir, "hello.txt", "one\n")
	testutil.Commit(t, repoDir, "initial")

	client := newTestClient()

	ok, err := client.HasRef(ctx, repoDir, "refs/heads/main")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected main to resolve")
	}

	ok, err = client.HasRef(ctx, repoDir, "refs/heads/nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected missing branch not to resolve")
	}
}
