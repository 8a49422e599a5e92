// Package version exposes the daemon's build identity, stamped at build
// time or recovered from the toolchain's embedded VCS metadata.
package version

import (
	"runtime/debug"
	"strings"
)

// Stamped with:
//
//	-ldflags "-X github.com/YallaPapi/i2v-sub001/version.Version=v1.0.0"
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info is the build identity reported by /healthz and the startup log.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
	Go      string `json:"go,omitempty"`
	Dirty   bool   `json:"dirty,omitempty"`
}

// Get resolves the stamped values, falling back to VCS metadata embedded
// by the Go toolchain.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.Go = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = shortCommit(s.Value)
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// String renders version-commit, with a dirty marker for unclean builds.
func (i Info) String() string {
	parts := []string{i.Version}
	if i.Commit != "" {
		parts = append(parts, i.Commit)
	}
	if i.Dirty {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "-")
}

func shortCommit(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
