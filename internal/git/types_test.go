package git

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCommitShortHashAndSummary(t *testing.T) {
	t.Parallel()

	c := Commit{
		Hash:    "ae575432e84a11c11b8dc3e357806f65c50f4619",
		Message: "  Subject line\n\nBody line\n",
	}
	require.Equal(t, "ae57543", c.ShortHash())
	require.Equal(t, "Subject line", c.Summary())
	require.Equal(t, "", c.FirstParent())

	short := Commit{Hash: "abc"}
	require.Equal(t, "abc", short.ShortHash())
}

func TestSignatureTimeKeepsOffset(t *testing.T) {
	t.Parallel()

	when := time.Date(2024, 9, 3, 14, 5, 12, 0, time.FixedZone("", 3*60*60))
	sig := NewSignature("Andrei", "andrei@example.com", when)
	require.Equal(t, int64(1725361512), sig.Seconds)
	require.Equal(t, "+0300", sig.Timezone)

	got := sig.Time()
	require.True(t, got.Equal(when))
	_, offset := got.Zone()
	require.Equal(t, 3*60*60, offset)

	bad := Signature{Seconds: 10, Timezone: "bogus"}
	require.Equal(t, time.UTC, bad.Time().Location())
}

func TestProjectCloneIsDeep(t *testing.T) {
	t.Parallel()

	p := Project{
		Directory:     "/repo",
		LocalBranches: []Branch{{Namespace: NamespaceLocal, Name: "main", Commit: "c1"}},
		Remotes:       []string{"origin"},
	}
	clone := p.Clone()
	clone.LocalBranches[0].Commit = "c2"
	clone.Remotes[0] = "upstream"

	require.Equal(t, "c1", p.LocalBranches[0].Commit)
	require.Equal(t, "origin", p.Remotes[0])
	require.Nil(t, clone.Tags)
}

func TestProjectBranches(t *testing.T) {
	t.Parallel()

	p := &Project{
		LocalBranches:  []Branch{{Name: "main"}},
		RemoteBranches: []Branch{{Name: "origin/main"}},
		Tags:           []Branch{{Name: "v1"}},
	}
	require.Equal(t, "main", p.Branches(NamespaceLocal)[0].Name)
	require.Equal(t, "origin/main", p.Branches(NamespaceRemote)[0].Name)
	require.Equal(t, "v1", p.Branches(NamespaceTag)[0].Name)

	var nilProject *Project
	require.Nil(t, nilProject.Branches(NamespaceLocal))
}

func TestProjectYAMLRoundTripKeepsHeadVariant(t *testing.T) {
	t.Parallel()

	p := Project{
		Directory: "/repo",
		State:     StateValid,
		Head:      BranchHead(NamespaceRemote, "origin/main"),
		RemoteBranches: []Branch{
			{Namespace: NamespaceRemote, Name: "origin/main", Commit: "c1"},
		},
	}
	out, err := yaml.Marshal(p)
	require.NoError(t, err)
	require.Contains(t, string(out), "kind: branch")
	require.Contains(t, string(out), "namespace: remote")

	var got Project
	require.NoError(t, yaml.Unmarshal(out, &got))
	require.Equal(t, p, got)
}

func TestParseNamespace(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Namespace{
		"local":   NamespaceLocal,
		"heads":   NamespaceLocal,
		"Remote":  NamespaceRemote,
		"remotes": NamespaceRemote,
		"tags":    NamespaceTag,
	} {
		got, err := ParseNamespace(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseNamespace("branches")
	require.Error(t, err)
}
