package buildinfo

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func resetLdflags(t *testing.T) {
	t.Cleanup(func() { Set("", "", "") })
	Set("", "", "")
}

func TestResolveFromVCS(t *testing.T) {
	resetLdflags(t)
	bi := &debug.BuildInfo{
		GoVersion: "go1.26.1",
		Main:      debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-10-01T00:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	info := resolve(bi, true)
	assert.Equal(t, Info{Version: "dev", Commit: "abc123", Date: "2026-10-01T00:00:00Z", Modified: true, GoVer: "go1.26.1"}, info)
	assert.Equal(t, "replgate dev (commit abc123-dirty, built 2026-10-01T00:00:00Z, go1.26.1)", info.String())

	bi.Main.Version = "v0.4.0"
	assert.Equal(t, "v0.4.0", resolve(bi, true).Version)
}

func TestResolveWithoutBuildInfo(t *testing.T) {
	resetLdflags(t)
	info := resolve(nil, false)
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.Commit)
	assert.Equal(t, "unknown", info.Date)
}

func TestLdflagsOverrideVCS(t *testing.T) {
	resetLdflags(t)
	Set("v1.2.3", "abc123def456", "2026-02-25T00:00:00Z")
	info := resolve(&debug.BuildInfo{
		GoVersion: "go1.26.1",
		Settings:  []debug.BuildSetting{{Key: "vcs.revision", Value: "ignored"}},
	}, true)
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "abc123def456", info.Commit)
	assert.Equal(t, "2026-02-25T00:00:00Z", info.Date)
	assert.Equal(t, "go1.26.1", info.GoVer)
}

func TestGet(t *testing.T) {
	assert.NotEmpty(t, Get().GoVer)
}
