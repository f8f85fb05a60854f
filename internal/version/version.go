package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

var (
	AppName = "treesync"

	// overridden with -ldflags "-X .../version.Version=..."
	Version = devVersion

	Revision = "HEAD"

	BuildDate = ""
)

const devVersion = "0.1.0-dev"

// Info is the version data printed by `treesync version --json`.
type Info struct {
	App       string `json:"app"`
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"build_date"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
}

func Current() Info {
	return Info{
		App:       AppName,
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

const shortRevision = 12

// applyBuildInfo fills whatever -ldflags left at its default from the module
// build info. Values set at link time win.
func applyBuildInfo(mainVersion string, settings map[string]string) {
	if (Version == devVersion || Version == "") && mainVersion != "" && mainVersion != "(devel)" {
		Version = strings.TrimPrefix(mainVersion, "v")
	}

	if rev := settings["vcs.revision"]; rev != "" && (Revision == "HEAD" || Revision == "") {
		if len(rev) > shortRevision {
			rev = rev[:shortRevision]
		}
		if settings["vcs.modified"] == "true" {
			rev += "-dirty"
		}
		Revision = rev
	}

	if BuildDate == "" {
		BuildDate = settings["vcs.time"]
	}
}

// Short is `0.1.0 (5e23a4c1b2d3)`.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}

// Detailed adds the toolchain, platform and build date.
func Detailed() string {
	info := Current()
	return fmt.Sprintf("%s %s (%s; %s; %s; %s)", info.App, info.Version, info.Revision, info.Go, info.Platform, info.BuildDate)
}

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		settings := make(map[string]string, len(info.Settings))
		for _, s := range info.Settings {
			settings[s.Key] = s.Value
		}
		applyBuildInfo(info.Main.Version, settings)
	}
	if BuildDate == "" {
		BuildDate = time.Now().UTC().Format(time.RFC3339)
	}
}
