package git

import (
	"fmt"
	"strings"
	"time"
)

// Namespace selects one of a project's three branch collections.
type Namespace uint8

const (
	NamespaceLocal Namespace = iota
	NamespaceRemote
	NamespaceTag
)

var namespaceNames = [...]string{
	NamespaceLocal:  "local",
	NamespaceRemote: "remote",
	NamespaceTag:    "tag",
}

// Ref directory under .git/refs that holds each namespace.
var namespaceRefDirs = [...]string{
	NamespaceLocal:  "heads",
	NamespaceRemote: "remotes",
	NamespaceTag:    "tags",
}

func (n Namespace) String() string {
	if int(n) < len(namespaceNames) {
		return namespaceNames[n]
	}
	return fmt.Sprintf("namespace(%d)", n)
}

// RefDir returns the refs/ subdirectory for the namespace ("heads", "remotes", "tags").
func (n Namespace) RefDir() string {
	if int(n) < len(namespaceRefDirs) {
		return namespaceRefDirs[n]
	}
	return ""
}

// NamespaceFromRefDir maps "heads", "remotes" and "tags" back to a Namespace.
func NamespaceFromRefDir(dir string) (Namespace, bool) {
	for i, name := range namespaceRefDirs {
		if name == dir {
			return Namespace(i), true
		}
	}
	return 0, false
}

func ParseNamespace(s string) (Namespace, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range namespaceNames {
		if name == s {
			return Namespace(i), nil
		}
	}
	if ns, ok := NamespaceFromRefDir(s); ok {
		return ns, nil
	}
	return 0, fmt.Errorf("unknown branch namespace %q", s)
}

func (n Namespace) MarshalText() ([]byte, error) {
	if int(n) >= len(namespaceNames) {
		return nil, fmt.Errorf("unknown branch namespace %d", n)
	}
	return []byte(n.String()), nil
}

func (n *Namespace) UnmarshalText(text []byte) error {
	ns, err := ParseNamespace(string(text))
	if err != nil {
		return err
	}
	*n = ns
	return nil
}

type ProjectState string

const (
	StateValid   ProjectState = "valid"
	StateInvalid ProjectState = "invalid"
)

// Branch is identified by (Namespace, Name) and points at Commit.
type Branch struct {
	Namespace Namespace `yaml:"namespace"`
	Name      string    `yaml:"name"`
	Commit    string    `yaml:"commit"`
}

// SameRef reports whether both branches name the same ref, ignoring the commit.
func (b Branch) SameRef(other Branch) bool {
	return b.Namespace == other.Namespace && b.Name == other.Name
}

func (b Branch) String() string {
	return b.Namespace.String() + ":" + b.Name
}

type Project struct {
	Directory      string       `yaml:"directory"`
	State          ProjectState `yaml:"state"`
	Head           Head         `yaml:"head"`
	LocalBranches  []Branch     `yaml:"local_branches,omitempty"`
	Remotes        []string     `yaml:"remotes,omitempty"`
	RemoteBranches []Branch     `yaml:"remote_branches,omitempty"`
	Tags           []Branch     `yaml:"tags,omitempty"`
}

// Branches returns the collection for ns. The slice aliases the project.
func (p *Project) Branches(ns Namespace) []Branch {
	if p == nil {
		return nil
	}
	switch ns {
	case NamespaceLocal:
		return p.LocalBranches
	case NamespaceRemote:
		return p.RemoteBranches
	case NamespaceTag:
		return p.Tags
	default:
		return nil
	}
}

func (p Project) Clone() Project {
	out := p
	out.LocalBranches = cloneBranches(p.LocalBranches)
	out.RemoteBranches = cloneBranches(p.RemoteBranches)
	out.Tags = cloneBranches(p.Tags)
	if p.Remotes != nil {
		out.Remotes = append([]string(nil), p.Remotes...)
	}
	return out
}

func (p Project) IsValid() bool {
	return p.State == StateValid
}

func cloneBranches(in []Branch) []Branch {
	if in == nil {
		return nil
	}
	return append([]Branch(nil), in...)
}

type User struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Signature is an author or committer line: identity, epoch seconds and a +hhmm offset.
type Signature struct {
	User     User   `yaml:"user"`
	Seconds  int64  `yaml:"seconds"`
	Timezone string `yaml:"timezone"`
}

func NewSignature(name, email string, when time.Time) Signature {
	return Signature{
		User:     User{Name: name, Email: email},
		Seconds:  when.Unix(),
		Timezone: when.Format("-0700"),
	}
}

// Time rebuilds the signature time in its recorded offset. Unparseable
// offsets fall back to UTC.
func (s Signature) Time() time.Time {
	t := time.Unix(s.Seconds, 0)
	if off, err := time.Parse("-0700", s.Timezone); err == nil {
		_, secs := off.Zone()
		return t.In(time.FixedZone(s.Timezone, secs))
	}
	return t.UTC()
}

type Commit struct {
	Hash         string    `yaml:"hash"`
	TreeHash     string    `yaml:"tree_hash"`
	ParentHashes []string  `yaml:"parent_hashes,omitempty"`
	Author       Signature `yaml:"author"`
	Committer    Signature `yaml:"committer"`
	Message      string    `yaml:"message"`
}

const shortHashLen = 7

func (c Commit) ShortHash() string {
	if len(c.Hash) <= shortHashLen {
		return c.Hash
	}
	return c.Hash[:shortHashLen]
}

// Summary returns the first line of the message.
func (c Commit) Summary() string {
	line, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return strings.TrimSpace(line)
}

// FirstParent returns the first listed parent, or "" for a root commit.
func (c Commit) FirstParent() string {
	if len(c.ParentHashes) == 0 {
		return ""
	}
	return c.ParentHashes[0]
}
