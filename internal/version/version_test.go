package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFillFromBuildInfo(t *testing.T) {
	info := Info{Version: "dev", GitCommit: "unknown", GitTreeState: "unknown", BuildDate: "unknown"}
	fillFromBuildInfo(&info, &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.modified", Value: "true"},
			{Key: "vcs.time", Value: "2024-01-02T03:04:05Z"},
		},
	})
	want := Info{Version: "v1.2.3", GitCommit: "abc123", GitTreeState: "dirty", BuildDate: "2024-01-02T03:04:05Z"}
	if info != want {
		t.Fatalf("got %+v want %+v", info, want)
	}
}

func TestFillFromBuildInfoKeepsLdflags(t *testing.T) {
	info := Info{Version: "v9.9.9", GitCommit: "fromldflags", GitTreeState: "clean", BuildDate: "then"}
	fillFromBuildInfo(&info, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "other"}},
	})
	if info.Version != "v9.9.9" || info.GitCommit != "fromldflags" {
		t.Fatalf("ldflags values overwritten: %+v", info)
	}
}

func TestInfoStringOmitsUnknown(t *testing.T) {
	out := Info{Version: "dev", GitCommit: "unknown", GitTreeState: "", BuildDate: "unknown", GoVersion: "go1.x", Platform: "linux/amd64"}.String()
	if strings.Contains(out, "GitCommit") || strings.Contains(out, "BuildDate") {
		t.Fatalf("unknown fields rendered: %q", out)
	}
	if !strings.HasPrefix(out, "Version: dev\n") || !strings.Contains(out, "Platform: linux/amd64") {
		t.Fatalf("unexpected output %q", out)
	}
}
