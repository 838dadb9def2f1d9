package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thiagokokada/branchwise/internal/git"
	gitbackend "github.com/thiagokokada/branchwise/internal/git/backend"
)

// CheckoutBranch switches the current project's work tree to branch. Local
// branches are checked out by name; remote branches and tags detach HEAD at
// them. The reloaded project is published to subscribers.
func (s *Service) CheckoutBranch(ctx context.Context, branch git.Branch) error {
	detach := branch.Namespace != git.NamespaceLocal
	target := branch.Name
	if branch.Namespace == git.NamespaceTag {
		target = "refs/tags/" + branch.Name
	}
	return s.checkout(ctx, target, detach)
}

// CheckoutCommit detaches HEAD at hash.
func (s *Service) CheckoutCommit(ctx context.Context, hash string) error {
	return s.checkout(ctx, strings.TrimSpace(hash), true)
}

func (s *Service) checkout(ctx context.Context, target string, detach bool) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return errNoCurrentProject
	}
	dir := s.current.Directory
	s.mu.Unlock()

	b, err := gitbackend.OpenCLI(ctx, dir)
	if err != nil {
		return fmt.Errorf("%w: %w", git.ErrInvalidGitFolder, err)
	}
	if err := b.Switch(ctx, target, detach); err != nil {
		return fmt.Errorf("checkout %s: %w", target, err)
	}
	slog.Info("checked out",
		slog.String("project", dir),
		slog.String("target", target),
		slog.Bool("detached", detach),
	)
	return s.reload(ctx, dir)
}
