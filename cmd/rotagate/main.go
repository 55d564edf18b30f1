package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/rotagate/rotagate/cmd/rotagate/cli"
)

// Set via -ldflags at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	v, c, d := resolveBuild(version, commit, date, debug.ReadBuildInfo)
	if err := cli.Execute(v, c, d); err != nil {
		fmt.Fprintln(os.Stderr, "rotagate:", err)
		os.Exit(1)
	}
}

// resolveBuild fills in whatever -ldflags left at its default from the
// module and VCS stamps Go embeds, so `go install` binaries still report
// where they came from.
func resolveBuild(version, commit, date string, read func() (*debug.BuildInfo, bool)) (string, string, string) {
	bi, ok := read()
	if !ok {
		return version, commit, date
	}
	if version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "none" {
				commit = s.Value
				if len(commit) > 12 {
					commit = commit[:12]
				}
			}
		case "vcs.time":
			if date == "unknown" {
				date = s.Value
			}
		}
	}
	return version, commit, date
}
