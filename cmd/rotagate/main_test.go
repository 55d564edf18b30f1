package main

import (
	"runtime/debug"
	"testing"
)

func stamped() (*debug.BuildInfo, bool) {
	return &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-09-30T12:00:00Z"},
		},
	}, true
}

func TestResolveBuildFromBuildInfo(t *testing.T) {
	v, c, d := resolveBuild("dev", "none", "unknown", stamped)
	if v != "v0.4.1" || c != "0123456789ab" || d != "2026-09-30T12:00:00Z" {
		t.Errorf("got %s %s %s", v, c, d)
	}
}

func TestResolveBuildKeepsLdflags(t *testing.T) {
	v, c, d := resolveBuild("1.0.0", "abc1234", "2026-01-01", stamped)
	if v != "1.0.0" || c != "abc1234" || d != "2026-01-01" {
		t.Errorf("ldflags overridden: got %s %s %s", v, c, d)
	}
}

func TestResolveBuildWithoutInfo(t *testing.T) {
	none := func() (*debug.BuildInfo, bool) { return nil, false }
	v, c, d := resolveBuild("dev", "none", "unknown", none)
	if v != "dev" || c != "none" || d != "unknown" {
		t.Errorf("got %s %s %s", v, c, d)
	}

	devel := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true
	}
	if v, _, _ := resolveBuild("dev", "none", "unknown", devel); v != "dev" {
		t.Errorf("(devel) should not replace dev, got %s", v)
	}
}
