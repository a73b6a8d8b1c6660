package macosver_test

import (
	"testing"

	"github.com/lucid-fabrics/proxmac/internal/macosver"
	"github.com/stretchr/testify/require"
)

func TestLookupSonoma(t *testing.T) {
	version, err := macosver.Lookup("sonoma")
	require.NoError(t, err)
	require.Equal(t, "Mac-827FAC58A8FDFA22", version.BoardID)
	require.Equal(t, "default", version.RecoveryOS)
	require.Equal(t, "MacPro7,1", version.Model)
	require.False(t, version.FullInstaller)
}

func TestLookupUnsupported(t *testing.T) {
	_, err := macosver.Lookup("mojave")
	require.ErrorIs(t, err, macosver.ErrUnsupportedVersion)
}

func TestTahoeNeedsFullInstaller(t *testing.T) {
	version, err := macosver.Lookup("tahoe")
	require.NoError(t, err)
	require.True(t, version.FullInstaller)
	require.Empty(t, version.BoardID)
}

func TestNamesAreSorted(t *testing.T) {
	require.Equal(t, []string{"sequoia", "sonoma", "tahoe"}, macosver.Names())
}
