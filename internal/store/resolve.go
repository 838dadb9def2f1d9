package store

import "github.com/thiagokokada/branchwise/internal/git"

var searchOrder = [...]git.Namespace{git.NamespaceLocal, git.NamespaceRemote, git.NamespaceTag}

// FindBranch looks target up by name in the project's branch collections,
// starting with target's own namespace. The returned branch carries the
// project's commit for that name, which may differ from target.Commit.
func FindBranch(project git.Project, target git.Branch) (git.Branch, bool) {
	if target.Name == "" {
		return git.Branch{}, false
	}
	if b, ok := findIn(project, target.Namespace, target.Name); ok {
		return b, true
	}
	for _, ns := range searchOrder {
		if ns == target.Namespace {
			continue
		}
		if b, ok := findIn(project, ns, target.Name); ok {
			return b, true
		}
	}
	return git.Branch{}, false
}

// ResolveHead derives the active branch from the project's head. A detached
// head, or a head naming a branch the project no longer lists, resolves to
// nothing and the caller clears its selection.
func ResolveHead(project git.Project) (git.Branch, bool) {
	ns, name, ok := project.Head.BranchRef()
	if !ok {
		return git.Branch{}, false
	}
	return findIn(project, ns, name)
}

// findIn stamps the collection's namespace on the match so the result is
// always identified by the collection it came from.
func findIn(project git.Project, ns git.Namespace, name string) (git.Branch, bool) {
	for _, b := range project.Branches(ns) {
		if b.Name == name {
			b.Namespace = ns
			return b, true
		}
	}
	return git.Branch{}, false
}
