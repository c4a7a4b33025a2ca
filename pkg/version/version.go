// Package version exposes the application version derived from build
// metadata. Go embeds VCS info into the binary via runtime/debug.BuildInfo,
// so no -ldflags are required.
package version

import "runtime/debug"

// AppName is the application name used in version strings and the
// GraphQL client's User-Agent header.
const AppName = "askatlas"

// GitCommit is the short git commit hash from build info, or "dev" when
// build info is unavailable (e.g. `go test`, non-git builds).
var GitCommit = initGitCommit()

func initGitCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// Full returns "askatlas/<commit>" for use in user-agent strings and logs.
func Full() string {
	return AppName + "/" + GitCommit
}
