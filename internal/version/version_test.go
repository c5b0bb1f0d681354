package version

import (
	"runtime/debug"
	"testing"
)

func withBuildInfo(t *testing.T, info *debug.BuildInfo, ok bool) {
	t.Helper()
	original := readBuildInfo
	t.Cleanup(func() { readBuildInfo = original })
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, ok }
}

func TestBuildVersion(t *testing.T) {
	tests := []struct {
		name string
		info *debug.BuildInfo
		ok   bool
		want string
	}{
		{"release tag", &debug.BuildInfo{Main: debug.Module{Version: "v0.3.0"}}, true, "v0.3.0"},
		{"unavailable", nil, false, "dev"},
		// (devel) is what go build/run returns
		{"devel", &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true, "dev"},
		{"empty", &debug.BuildInfo{Main: debug.Module{Version: ""}}, true, "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBuildInfo(t, tt.info, tt.ok)
			if got := BuildVersion(); got != tt.want {
				t.Errorf("BuildVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRevision(t *testing.T) {
	settings := func(kv ...string) []debug.BuildSetting {
		var out []debug.BuildSetting
		for i := 0; i+1 < len(kv); i += 2 {
			out = append(out, debug.BuildSetting{Key: kv[i], Value: kv[i+1]})
		}
		return out
	}

	tests := []struct {
		name     string
		settings []debug.BuildSetting
		want     string
	}{
		{"none", nil, ""},
		{"clean", settings("vcs.revision", "0123456789abcdef0123", "vcs.modified", "false"), "0123456789ab"},
		{"dirty", settings("vcs.revision", "0123456789abcdef0123", "vcs.modified", "true"), "0123456789ab+dirty"},
		{"short", settings("vcs.revision", "abc"), "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBuildInfo(t, &debug.BuildInfo{Settings: tt.settings}, true)
			if got := Revision(); got != tt.want {
				t.Errorf("Revision() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	withBuildInfo(t, &debug.BuildInfo{
		Main:     debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "deadbeefcafe"}},
	}, true)
	if got := String(); got != "v1.2.3 (deadbeefcafe)" {
		t.Errorf("String() = %q", got)
	}

	withBuildInfo(t, nil, false)
	if got := String(); got != "dev" {
		t.Errorf("String() = %q", got)
	}
}
