package backend

import (
	"context"
	"fmt"
	"strings"
)

func (g *gitCLI) HeadState(ctx context.Context) (hash string, ref string, ok bool, err error) {
	out, err := g.run(ctx, []string{"rev-parse", "-q", "--verify", "HEAD"}, true, "git rev-parse")
	if err != nil {
		return "", "", false, err
	}
	hash = strings.TrimSpace(out)
	if hash == "" {
		return "", "", false, nil
	}
	out, err = g.run(ctx, []string{"symbolic-ref", "-q", "HEAD"}, true, "git symbolic-ref")
	if err != nil {
		return "", "", false, err
	}
	return hash, strings.TrimSpace(out), true, nil
}

func (g *gitCLI) ListRefs(ctx context.Context) ([]Ref, error) {
	out, err := g.run(ctx, []string{"--no-pager", "show-ref", "--dereference"}, true, "git show-ref")
	if err != nil {
		return nil, err
	}
	return parseRefsFromShowRef(out)
}

func (g *gitCLI) Remotes(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, []string{"remote"}, false, "git remote")
	if err != nil {
		return nil, err
	}
	var remotes []string
	for line := range strings.Lines(out) {
		if name := strings.TrimSpace(line); name != "" {
			remotes = append(remotes, name)
		}
	}
	return remotes, nil
}

func (g *gitCLI) Switch(ctx context.Context, target string, detach bool) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("switch target not specified")
	}
	args := []string{"switch"}
	if detach {
		args = append(args, "--detach", target)
	} else {
		args = append(args, "--", target)
	}
	_, err := g.run(ctx, args, false, "git switch")
	return err
}

// parseRefsFromShowRef reads "git show-ref --dereference" output. Annotated
// tags resolve to the peeled commit and symbolic remote HEADs are skipped.
func parseRefsFromShowRef(out string) ([]Ref, error) {
	type refEntry struct {
		hash string
		ref  string
	}

	peeledByTagRef := map[string]string{}
	var entries []refEntry

	for rawLine := range strings.Lines(out) {
		line := strings.TrimRight(rawLine, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("unexpected show-ref output line: %q", line)
		}
		hash, refName := parts[0], parts[1]
		if base, ok := strings.CutSuffix(refName, "^{}"); ok {
			if base != "" {
				peeledByTagRef[base] = hash
			}
			continue
		}
		entries = append(entries, refEntry{hash: hash, ref: refName})
	}

	var refs []Ref
	for _, entry := range entries {
		kind, short, ok := classifyRef(entry.ref)
		if !ok {
			continue
		}
		hash := entry.hash
		if kind == RefKindTag {
			if peeled := peeledByTagRef[entry.ref]; peeled != "" {
				hash = peeled
			}
		}
		refs = append(refs, Ref{Hash: hash, Kind: kind, Name: short})
	}
	return refs, nil
}

func classifyRef(refName string) (RefKind, string, bool) {
	if short, ok := strings.CutPrefix(refName, "refs/heads/"); ok && short != "" {
		return RefKindBranch, short, true
	}
	if short, ok := strings.CutPrefix(refName, "refs/remotes/"); ok && short != "" {
		if short == "HEAD" || strings.HasSuffix(short, "/HEAD") {
			return 0, "", false
		}
		return RefKindRemoteBranch, short, true
	}
	if short, ok := strings.CutPrefix(refName, "refs/tags/"); ok && short != "" {
		return RefKindTag, short, true
	}
	return 0, "", false
}
