package api

import "runtime/debug"

// Version information (set via ldflags in production builds)
var (
	Version   = ""
	BuildTime = ""
	GitCommit = ""
)

func init() {
	// Without ldflags this is a dev build; take what we can from the VCS stamp.
	if Version != "" {
		return
	}
	Version = "dev"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	var vcsRevision, vcsTime string
	var vcsModified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			vcsRevision = setting.Value
		case "vcs.time":
			vcsTime = setting.Value
		case "vcs.modified":
			vcsModified = setting.Value == "true"
		}
	}
	if vcsRevision != "" {
		short := vcsRevision
		if len(short) > 7 {
			short = short[:7]
		}
		GitCommit = vcsRevision
		Version = "dev-" + short
		if vcsModified {
			Version += "-dirty"
		}
	}
	if vcsTime != "" {
		BuildTime = vcsTime
	}
}

// DisplayVersion prefixes release versions with "v"; dev builds are shown as is.
func DisplayVersion() string {
	if len(Version) > 0 && Version[0] >= '0' && Version[0] <= '9' {
		return "v" + Version
	}
	return Version
}
