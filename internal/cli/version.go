package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/p12sign/internal/version"
)

// newChecker is replaced in tests.
var newChecker = version.NewChecker

func (a *app) versionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := map[string]any{
				"version":    version.Version,
				"go_version": runtime.Version(),
				"os":         runtime.GOOS,
				"arch":       runtime.GOARCH,
			}
			if check {
				rel, err := newChecker(a.logger).Latest(cmd.Context())
				if err != nil {
					return err
				}
				out["latest"] = rel.Tag
				out["outdated"] = version.IsOutdated(version.Version, rel.Tag)
				out["release_url"] = rel.URL
			}

			p := a.printer(cmd.OutOrStdout())
			if p.format == OutputFormatJSON {
				return p.printJSON(out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "p12sign version %s\n", version.Version)
			fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			if check {
				if out["outdated"] == true {
					fmt.Fprintf(w, "A newer release is available: %s (%s)\n", out["latest"], out["release_url"])
				} else {
					fmt.Fprintln(w, "You are running the latest release.")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "look up the latest published release")
	return cmd
}
