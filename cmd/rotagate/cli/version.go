package cli

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rotagate/rotagate/internal/config"
)

// buildInfo is what `rotagate version` reports.
type buildInfo struct {
	Version      string   `json:"version"`
	Commit       string   `json:"commit"`
	Built        string   `json:"built"`
	GoVersion    string   `json:"go_version"`
	Platform     string   `json:"platform"`
	StoreDrivers []string `json:"store_drivers"`
}

func newBuildInfo(version, commit, date string) buildInfo {
	return buildInfo{
		Version:      version,
		Commit:       commit,
		Built:        date,
		GoVersion:    runtime.Version(),
		Platform:     runtime.GOOS + "/" + runtime.GOARCH,
		StoreDrivers: config.DriverNames(),
	}
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	var (
		jsonOutput bool
		short      bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print the build version and the credential store drivers compiled into this binary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if short {
				_, err := fmt.Fprintln(out, version)
				return err
			}

			info := newBuildInfo(version, commit, date)
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Fprintf(out, "rotagate %s (%s, built %s)\n", info.Version, info.Commit, info.Built)
			fmt.Fprintf(out, "  go:      %s %s\n", info.GoVersion, info.Platform)
			fmt.Fprintf(out, "  stores:  %s\n", strings.Join(info.StoreDrivers, ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version")
	cmd.MarkFlagsMutuallyExclusive("json", "short")

	return cmd
}
