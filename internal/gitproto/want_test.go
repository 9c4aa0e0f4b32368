package gitproto

import (
	"testing"
	"time"

	"github.com/emaste/gitup/internal/hash"
	"github.com/stretchr/testify/require"
)

func TestResolveWantExplicit(t *testing.T) {
	explicit := hash.MustFromHex("3f9e6a1c2b8d4e5f6a7b8c9d0e1f2a3b4c5d6e7f")
	got, display, err := ResolveWant(nil, Selector{Explicit: explicit}, time.Now())
	require.NoError(t, err)
	require.Equal(t, explicit, got)
	require.Equal(t, "(detached)", display)
}

func TestResolveWantTagPrefersPeeled(t *testing.T) {
	tagHash := hash.MustFromHex("1111111111111111111111111111111111111a")
	peeled := hash.MustFromHex("2222222222222222222222222222222222222b")
	refs := []RefAd{{Hash: tagHash, Name: "refs/tags/v1.0", Peeled: peeled}}

	got, display, err := ResolveWant(refs, Selector{Tag: "v1.0"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, peeled, got)
	require.Equal(t, "v1.0", display)
}

func TestResolveWantTagWithoutPeeled(t *testing.T) {
	tagHash := hash.MustFromHex("1111111111111111111111111111111111111a")
	refs := []RefAd{{Hash: tagHash, Name: "refs/tags/v1.0"}}

	got, _, err := ResolveWant(refs, Selector{Tag: "v1.0"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, tagHash, got)
}

func TestResolveWantTagNotFound(t *testing.T) {
	_, _, err := ResolveWant(nil, Selector{Tag: "missing"}, time.Now())
	require.Error(t, err)
}

func TestResolveWantBranch(t *testing.T) {
	branchHash := hash.MustFromHex("3333333333333333333333333333333333333c")
	refs := []RefAd{{Hash: branchHash, Name: "refs/heads/main"}}

	got, display, err := ResolveWant(refs, Selector{Branch: "main"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, branchHash, got)
	require.Equal(t, "main", display)
}

func TestResolveWantQuarterlyFallsBackOnce(t *testing.T) {
	prevHash := hash.MustFromHex("4444444444444444444444444444444444444d")
	now := time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC) // 2026Q2
	refs := []RefAd{{Hash: prevHash, Name: "refs/heads/2026Q1"}}

	got, display, err := ResolveWant(refs, Selector{Branch: "quarterly"}, now)
	require.NoError(t, err)
	require.Equal(t, prevHash, got)
	require.Equal(t, "2026Q1", display)
}

func TestResolveWantQuarterlyNotFound(t *testing.T) {
	now := time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC)
	_, _, err := ResolveWant(nil, Selector{Branch: "quarterly"}, now)
	require.Error(t, err)
}

func TestResolveWantBranchNotFound(t *testing.T) {
	_, _, err := ResolveWant(nil, Selector{Branch: "missing"}, time.Now())
	require.Error(t, err)
}
