package backend

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseRefsFromShowRef(t *testing.T) {
	t.Parallel()

	const (
		commit1 = "1111111111111111111111111111111111111111"
		commit2 = "2222222222222222222222222222222222222222"
		tagObj  = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	)

	in := strings.Join([]string{
		commit1 + " refs/heads/main",
		commit1 + " refs/remotes/origin/main",
		commit1 + " refs/remotes/origin/HEAD",
		commit2 + " refs/tags/v1.0",
		tagObj + " refs/tags/v2.0",
		commit1 + " refs/tags/v2.0^{}",
		commit2 + " refs/stash",
		"",
	}, "\n")

	got, err := parseRefsFromShowRef(in)
	if err != nil {
		t.Fatalf("parseRefsFromShowRef() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("unexpected ref count: got %d want 4 (%+v)", len(got), got)
	}

	assertHasRef(t, got, Ref{Hash: commit1, Kind: RefKindBranch, Name: "main"})
	assertHasRef(t, got, Ref{Hash: commit1, Kind: RefKindRemoteBranch, Name: "origin/main"})
	assertHasRef(t, got, Ref{Hash: commit2, Kind: RefKindTag, Name: "v1.0"})
	// v2.0 should use the peeled hash.
	assertHasRef(t, got, Ref{Hash: commit1, Kind: RefKindTag, Name: "v2.0"})
}

func TestParseRefsFromShowRef_InvalidLine(t *testing.T) {
	t.Parallel()

	_, err := parseRefsFromShowRef("refs/heads/main\n")
	if err == nil {
		t.Fatal("expected error")
	}
}

func assertHasRef(t *testing.T, refs []Ref, want Ref) {
	t.Helper()
	for _, got := range refs {
		if got == want {
			return
		}
	}
	t.Fatalf("missing ref: %+v (got=%+v)", want, refs)
}

// initRepo creates a repository with a linear main branch of n commits and
// returns its path. Tests using it are skipped without a usable git.
func initRepo(t *testing.T, n int) string {
	t.Helper()
	if _, err := GitVersion(); err != nil {
		t.Skipf("git unavailable: %v", err)
	}
	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command(gitBinary, append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Alice", "GIT_AUTHOR_EMAIL=alice@example.com",
			"GIT_COMMITTER_NAME=Alice", "GIT_COMMITTER_EMAIL=alice@example.com",
			"GIT_CONFIG_GLOBAL=/dev/null", "GIT_CONFIG_NOSYSTEM=1",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	git("init", "-q", "-b", "main")
	for i := range n {
		name := filepath.Join(dir, "file.txt")
		if err := os.WriteFile(name, []byte(strings.Repeat("x", i+1)), 0o644); err != nil {
			t.Fatal(err)
		}
		git("add", "file.txt")
		git("commit", "-q", "-m", "commit "+string(rune('a'+i)))
	}
	git("tag", "-a", "v1", "-m", "release")
	return dir
}

func TestGitCLIRepository(t *testing.T) {
	dir := initRepo(t, 5)
	ctx := context.Background()

	b, err := OpenCLI(ctx, filepath.Join(dir, "."))
	if err != nil {
		t.Fatalf("OpenCLI: %v", err)
	}

	hash, ref, ok, err := b.HeadState(ctx)
	if err != nil || !ok {
		t.Fatalf("HeadState: ok=%v err=%v", ok, err)
	}
	if ref != "refs/heads/main" {
		t.Fatalf("unexpected head ref %q", ref)
	}

	refs, err := b.ListRefs(ctx)
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	assertHasRef(t, refs, Ref{Hash: hash, Kind: RefKindBranch, Name: "main"})
	assertHasRef(t, refs, Ref{Hash: hash, Kind: RefKindTag, Name: "v1"})

	remotes, err := b.Remotes(ctx)
	if err != nil || len(remotes) != 0 {
		t.Fatalf("Remotes: %v %v", remotes, err)
	}

	stream, err := b.StartLogStream(ctx, hash, LogOptions{FirstParent: true, MaxCount: 3})
	if err != nil {
		t.Fatalf("StartLogStream: %v", err)
	}
	var commits []*Commit
	for {
		c, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		commits = append(commits, c)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(commits))
	}
	if commits[0].Hash != hash || strings.TrimSpace(commits[0].Message) != "commit e" {
		t.Fatalf("unexpected first commit %+v", commits[0])
	}
	for i := 1; i < len(commits); i++ {
		if commits[i-1].ParentHashes[0] != commits[i].Hash {
			t.Fatalf("commit %d is not the first parent of %d", i, i-1)
		}
	}

	parent := commits[1].Hash
	if err := b.Switch(ctx, parent, true); err != nil {
		t.Fatalf("Switch detach: %v", err)
	}
	got, ref, _, err := b.HeadState(ctx)
	if err != nil || got != parent || ref != "" {
		t.Fatalf("expected detached head at %s, got %s %q %v", parent, got, ref, err)
	}
	if err := b.Switch(ctx, "main", false); err != nil {
		t.Fatalf("Switch main: %v", err)
	}
}

func TestLogStreamUnknownStart(t *testing.T) {
	dir := initRepo(t, 1)
	ctx := context.Background()
	b, err := OpenCLI(ctx, dir)
	if err != nil {
		t.Fatalf("OpenCLI: %v", err)
	}
	stream, err := b.StartLogStream(ctx, strings.Repeat("0", 40), LogOptions{FirstParent: true})
	if err != nil {
		t.Fatalf("StartLogStream: %v", err)
	}
	defer stream.Close()
	if _, err := stream.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected git error, got %v", err)
	}
}

func TestOpenCLINotARepository(t *testing.T) {
	if _, err := GitVersion(); err != nil {
		t.Skipf("git unavailable: %v", err)
	}
	if _, err := OpenCLI(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error outside a repository")
	}
}
