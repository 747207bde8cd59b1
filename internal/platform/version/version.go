package version

import (
	"fmt"
	"runtime"
)

// Injected via -ldflags "-X" at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is served by /version and the version command.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String is the one-line form whispered back by the version command.
func (i Info) String() string {
	commit := i.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("whispercmd %s (%s, built %s, %s)", i.Version, commit, i.BuildTime, i.GoVersion)
}
