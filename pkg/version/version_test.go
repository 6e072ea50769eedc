package version

import (
	"strings"
	"testing"
)

func TestInfoString(t *testing.T) {
	tests := []struct {
		info Info
		want string
	}{
		{Info{Version: "v1.0.0"}, "v1.0.0"},
		{Info{Version: "v1.0.0", Commit: "0123456789abcdef"}, "v1.0.0+0123456789ab"},
		{Info{Version: "dev", Commit: "abc", Dirty: true}, "dev+abc+dirty"},
	}
	for _, tc := range tests {
		if got := tc.info.String(); got != tc.want {
			t.Errorf("%+v: got %q, want %q", tc.info, got, tc.want)
		}
	}
}

func TestLinkerOverrides(t *testing.T) {
	oldV, oldC, oldD := Version, Commit, Date
	defer func() { Version, Commit, Date = oldV, oldC, oldD }()

	Version, Commit, Date = " v2.3.4 ", "feedface", "2026-01-02T03:04:05Z"
	info := Current()
	if info.Version != "v2.3.4" || info.Commit != "feedface" || info.Date != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected info %+v", info)
	}
	d := Detailed("")
	if !strings.HasPrefix(d, "portfolio-assistant v2.3.4+feedface") || !strings.Contains(d, "Built: 2026-01-02T03:04:05Z") {
		t.Fatalf("unexpected detailed output %q", d)
	}
}

func TestEmptyVersionFallsBackToDev(t *testing.T) {
	old := Version
	defer func() { Version = old }()
	Version = "  "
	if v := Current().Version; v == "" {
		t.Fatal("expected a fallback version")
	}
}
