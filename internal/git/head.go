package git

import (
	"fmt"
	"log/slog"
	"strings"
)

type HeadKind uint8

const (
	HeadBranch HeadKind = iota
	HeadDetached
)

func (k HeadKind) String() string {
	switch k {
	case HeadBranch:
		return "branch"
	case HeadDetached:
		return "detached"
	default:
		return fmt.Sprintf("head(%d)", k)
	}
}

func (k HeadKind) MarshalText() ([]byte, error) {
	switch k {
	case HeadBranch, HeadDetached:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("unknown head kind %d", k)
	}
}

func (k *HeadKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "branch":
		*k = HeadBranch
	case "detached":
		*k = HeadDetached
	default:
		return fmt.Errorf("unknown head kind %q", text)
	}
	return nil
}

// Head is either a branch reference (Namespace + Name) or a detached Hash.
// Only the fields of the active Kind are meaningful.
type Head struct {
	Kind      HeadKind  `yaml:"kind"`
	Namespace Namespace `yaml:"namespace,omitempty"`
	Name      string    `yaml:"name,omitempty"`
	Hash      string    `yaml:"hash,omitempty"`
}

func BranchHead(ns Namespace, name string) Head {
	return Head{Kind: HeadBranch, Namespace: ns, Name: name}
}

func DetachedHead(hash string) Head {
	return Head{Kind: HeadDetached, Hash: hash}
}

func (h Head) IsDetached() bool {
	return h.Kind == HeadDetached
}

// BranchRef returns the referenced branch when the head is not detached.
func (h Head) BranchRef() (Namespace, string, bool) {
	if h.Kind != HeadBranch || h.Name == "" {
		return 0, "", false
	}
	return h.Namespace, h.Name, true
}

// DetachedHash returns the bare hash when the head is detached.
func (h Head) DetachedHash() (string, bool) {
	if h.Kind != HeadDetached {
		return "", false
	}
	return h.Hash, true
}

func (h Head) String() string {
	if hash, ok := h.DetachedHash(); ok {
		return hash
	}
	return "refs/" + h.Namespace.RefDir() + "/" + h.Name
}

const hashHexLen = 40

// ParseHead parses the content of a .git/HEAD file.
func ParseHead(content string) (Head, error) {
	content = strings.TrimSpace(content)
	if target, ok := strings.CutPrefix(content, "ref: "); ok {
		return ParseRefName(strings.TrimSpace(target))
	}
	if IsHash(content) {
		slog.Debug("HEAD is detached", slog.String("hash", content))
		return DetachedHead(content), nil
	}
	return Head{}, fmt.Errorf("%w: %q", ErrInvalidHead, content)
}

// ParseRefName turns a full ref name such as refs/remotes/origin/main into a branch head.
func ParseRefName(ref string) (Head, error) {
	rest, ok := strings.CutPrefix(ref, "refs/")
	if !ok {
		return Head{}, fmt.Errorf("%w: %q", ErrInvalidHead, ref)
	}
	dir, name, ok := strings.Cut(rest, "/")
	if !ok || name == "" || strings.HasSuffix(name, "/") {
		return Head{}, fmt.Errorf("%w: %q", ErrInvalidHead, ref)
	}
	ns, ok := NamespaceFromRefDir(dir)
	if !ok {
		return Head{}, fmt.Errorf("%w: %q", ErrInvalidHead, ref)
	}
	return BranchHead(ns, name), nil
}

// IsHash reports whether s is a full 40 character hex object id.
func IsHash(s string) bool {
	if len(s) != hashHexLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
