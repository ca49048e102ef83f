package deploy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFindAsset looks up sibling assets by name.
func TestFindAsset(t *testing.T) {
	t.Parallel()

	release := &Release{
		Assets: []Asset{
			{ID: 1, Name: "gameserver-v1.0.0.tar.gz"},
			{ID: 2, Name: "gameserver-v1.0.0.tar.gz.asc"},
		},
	}

	asset, ok := release.FindAsset("gameserver-v1.0.0.tar.gz.asc")
	require.True(t, ok)
	require.Equal(t, int64(2), asset.ID)

	_, ok = release.FindAsset("missing")
	require.False(t, ok)
}

// TestDecisionString checks the log names of gate decisions.
func TestDecisionString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "proceed", Proceed.String())
	require.Equal(t, "skip", Skip.String())
	require.Equal(t, "abort", Abort.String())
	require.Equal(t, "unknown", Decision(42).String())
}
