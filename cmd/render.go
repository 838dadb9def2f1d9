package cmd

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/thiagokokada/branchwise/internal/git"
	"github.com/thiagokokada/branchwise/internal/store"
)

const (
	summaryWidth  = 80
	moreIndicator = "There are more commits..."
)

type printer struct {
	out io.Writer
	now func() time.Time
}

func newPrinter(out io.Writer) printer {
	return printer{out: out, now: time.Now}
}

func (p printer) projects(projects []git.Project, current string) {
	if len(projects) == 0 {
		fmt.Fprintln(p.out, "No projects.")
		return
	}
	for _, pr := range projects {
		marker := " "
		if pr.Directory == current {
			marker = color.GreenString("*")
		}
		state := color.GreenString(string(pr.State))
		if !pr.IsValid() {
			state = color.RedString(string(pr.State))
		}
		fmt.Fprintf(p.out, "%s %s  %s  %s\n", marker, pr.Directory, state, projectCounts(pr))
	}
}

func (p printer) project(pr git.Project) {
	color.New(color.FgGreen, color.Underline).Fprintln(p.out, pr.Directory)
	fmt.Fprintf(p.out, "HEAD     %s\n", headLabel(pr.Head))
	fmt.Fprintf(p.out, "Branches %s\n", projectCounts(pr))
	if len(pr.Remotes) > 0 {
		fmt.Fprintf(p.out, "Remotes  %s\n", strings.Join(pr.Remotes, ", "))
	}
}

func projectCounts(pr git.Project) string {
	return fmt.Sprintf("%d local, %d remote, %d tags",
		len(pr.LocalBranches), len(pr.RemoteBranches), len(pr.Tags))
}

func headLabel(h git.Head) string {
	if hash, ok := h.DetachedHash(); ok {
		return "detached at " + shortHash(hash)
	}
	ns, name, _ := h.BranchRef()
	if ns == git.NamespaceLocal {
		return name
	}
	return ns.String() + " " + name
}

func shortHash(hash string) string {
	return git.Commit{Hash: hash}.ShortHash()
}

// history prints the loaded commits of st, marking the selected one.
func (p printer) history(st store.State) {
	if st.Project == nil {
		return
	}
	if st.Branch == nil {
		fmt.Fprintln(p.out, "No branch selected.")
		return
	}
	color.New(color.FgGreen).Fprintf(p.out, "%s (%s)\n", st.Branch.Name, st.Branch.Namespace)
	if len(st.History) == 0 {
		fmt.Fprintln(p.out, "Repository has no commits yet.")
		return
	}
	labels := branchLabels(*st.Project)
	selected := ""
	if st.Commit != nil {
		selected = st.Commit.Hash
	}
	for _, c := range st.History {
		marker := " "
		if c.Hash == selected {
			marker = color.GreenString("*")
		}
		msg, author, when := p.commitColumns(c)
		fmt.Fprintf(p.out, "%s %s%s  %s  %s\n",
			marker,
			msg,
			color.YellowString("%s", formatLabelSuffix(labels[c.Hash])),
			color.CyanString("%s", author),
			when,
		)
	}
	if st.HasMore {
		fmt.Fprintln(p.out, moreIndicator)
	}
}

func (p printer) commitColumns(c git.Commit) (msg, author, when string) {
	summary := c.Summary()
	if len(summary) > summaryWidth {
		summary = summary[:summaryWidth-3] + "..."
	}
	msg = fmt.Sprintf("%s  %s", c.ShortHash(), summary)
	author = fmt.Sprintf("%s <%s>", c.Author.User.Name, c.Author.User.Email)
	when = humanize.RelTime(c.Committer.Time(), p.now(), "ago", "from now")
	return
}

// branchLabels maps commit hashes to the names of refs pointing at them.
func branchLabels(pr git.Project) map[string][]string {
	labels := make(map[string][]string)
	for _, ns := range []git.Namespace{git.NamespaceLocal, git.NamespaceRemote, git.NamespaceTag} {
		for _, b := range pr.Branches(ns) {
			name := b.Name
			if ns == git.NamespaceTag {
				name = "tag: " + name
			}
			labels[b.Commit] = append(labels[b.Commit], name)
		}
	}
	return labels
}

func formatLabelSuffix(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return fmt.Sprintf(" [%s]", strings.Join(labels, ", "))
}

// filterProjects ranks projects whose directory fuzzy-matches query, best
// match first. An empty query keeps every project.
func filterProjects(projects []git.Project, query string) []git.Project {
	query = strings.TrimSpace(query)
	if query == "" {
		return projects
	}
	dirs := make([]string, len(projects))
	for i, p := range projects {
		dirs[i] = p.Directory
	}
	ranks := fuzzy.RankFindNormalizedFold(query, dirs)
	slices.SortStableFunc(ranks, func(a, b fuzzy.Rank) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.OriginalIndex, b.OriginalIndex))
	})
	out := make([]git.Project, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, projects[r.OriginalIndex])
	}
	return out
}

// resolveRef finds ref in the project. "local:", "remote:" and "tag:"
// prefixes pin the namespace; otherwise local branches win over remote
// branches, which win over tags.
func resolveRef(pr git.Project, ref string) (git.Branch, bool) {
	ref = strings.TrimSpace(ref)
	if prefix, name, ok := strings.Cut(ref, ":"); ok {
		if ns, err := git.ParseNamespace(prefix); err == nil {
			b, found := store.FindBranch(pr, git.Branch{Namespace: ns, Name: name})
			return b, found && b.Namespace == ns
		}
	}
	return store.FindBranch(pr, git.Branch{Namespace: git.NamespaceLocal, Name: ref})
}
