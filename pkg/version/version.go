// Package version reports build information for ambiance.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/Masterminds/semver/v3"
)

// Set with -ldflags "-X github.com/sbarron/ambiance/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo is the JSON form of the version command.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Release   bool   `json:"release"`
}

// Short returns the version, falling back to the module version recorded
// by `go install` when no ldflags were given.
func Short() string {
	if Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return Version
}

// IsRelease reports whether the version is a semver release without a
// prerelease suffix.
func IsRelease() bool {
	v, err := semver.NewVersion(Short())
	return err == nil && v.Prerelease() == ""
}

// Get returns the structured build information.
func Get() BuildInfo {
	return BuildInfo{
		Version:   Short(),
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Release:   IsRelease(),
	}
}

// String returns a one-line summary.
func String() string {
	return fmt.Sprintf("ambiance %s (commit %s, built %s, %s %s/%s)",
		Short(), Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
