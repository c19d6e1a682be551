package buildinfo

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func restore(t *testing.T) {
	v, c, d, r := Version, Commit, Date, readBuildInfo
	t.Cleanup(func() { Version, Commit, Date, readBuildInfo = v, c, d, r })
}

func TestFillFromBuildInfoKeepsLdflags(t *testing.T) {
	restore(t)
	Version, Commit, Date = "v1.2.3", "abc", "2026-01-01"
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main:     debug.Module{Version: "v9.9.9"},
			Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffff"}},
		}, true
	}
	fillFromBuildInfo()
	require.Equal(t, "v1.2.3", Version)
	require.Equal(t, "abc", Commit)
	require.Equal(t, "v1.2.3", Short())
}

func TestFillFromBuildInfoUsesVCSStamp(t *testing.T) {
	restore(t)
	Version, Commit, Date = "dev", "unknown", "unknown"
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "(devel)"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef"},
				{Key: "vcs.time", Value: "2026-10-01T00:00:00Z"},
			},
		}, true
	}
	fillFromBuildInfo()
	require.Equal(t, "dev", Version)
	require.Equal(t, "0123456789ab", Commit)
	require.Equal(t, "0123456789ab", Short())
	require.Equal(t, "dev (commit 0123456789ab, built 2026-10-01T00:00:00Z)", String())
}
