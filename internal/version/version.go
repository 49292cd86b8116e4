// Package version contains build version information.
package version

import "runtime"

// Version is the current application version. Set at build time via ldflags.
var Version = "0.0.0"

// GitCommit is the git commit hash. Set at build time via ldflags.
var GitCommit = "unknown"

// BuildDate is the build date. Set at build time via ldflags.
var BuildDate = "unknown"

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

// String formats the build information for the version command.
func (i Info) String() string {
	return "triage-garden " + i.Version + " (commit " + i.Commit + ", built " + i.BuildDate + ", " + i.GoVersion + ")"
}
