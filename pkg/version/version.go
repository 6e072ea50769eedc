// Package version reports the build identity of the assistant binary.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Set at link time, for example:
//
//	-X github.com/noorlatif/portfolio-assistant/pkg/version.Version=v1.2.0
//	-X github.com/noorlatif/portfolio-assistant/pkg/version.Commit=<sha>
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
	Dirty   = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

func Current() Info {
	info := Info{
		Version: strings.TrimSpace(Version),
		Commit:  strings.TrimSpace(Commit),
		Date:    strings.TrimSpace(Date),
		Dirty:   strings.EqualFold(strings.TrimSpace(Dirty), "true"),
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Dirty = info.Dirty || s.Value == "true"
		}
	}
	return info
}

// String renders i as version[+shortsha][+dirty].
func (i Info) String() string {
	parts := []string{i.Version}
	if i.Commit != "" {
		parts = append(parts, shortCommit(i.Commit))
	}
	if i.Dirty {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "+")
}

func String() string {
	return Current().String()
}

func Detailed(component string) string {
	v := Current()
	if strings.TrimSpace(component) == "" {
		component = "portfolio-assistant"
	}
	out := fmt.Sprintf("%s %s", component, v)
	if v.Date != "" {
		out += "\nBuilt: " + v.Date
	}
	if v.GoVersion != "" {
		out += "\nGo: " + v.GoVersion
	}
	return out
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
