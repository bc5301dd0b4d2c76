package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/p12sign/internal/discover"
)

func (a *app) discoverCmd() *cobra.Command {
	var (
		opts  discover.Options
		probe bool
	)
	cmd := &cobra.Command{
		Use:   "discover [dir...]",
		Short: "Look for PKCS#12 bundles on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Roots = args
			found := discover.Find(cmd.Context(), opts)
			a.logger.Debug("scan finished", "candidates", len(found))

			var password []byte
			if probe {
				pw, err := a.cfg.Password()
				if err != nil {
					return err
				}
				password = []byte(pw)
			}

			results := make([]map[string]any, 0, len(found))
			for _, c := range found {
				res := map[string]any{"path": c.Path, "size": c.Size}
				if probe {
					if info, err := discover.Probe(c.Path, password); err != nil {
						res["error"] = err.Error()
					} else {
						res["alias"] = info.Alias
						res["subject"] = info.Subject
						res["fingerprint"] = info.FingerprintHex()
					}
				}
				results = append(results, res)
			}

			p := a.printer(cmd.OutOrStdout())
			if p.format == OutputFormatJSON {
				return p.printJSON(map[string]any{"candidates": results})
			}
			w := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(w, "No bundles found")
				return nil
			}
			for _, res := range results {
				switch {
				case res["error"] != nil:
					fmt.Fprintf(w, "%s: %s\n", res["path"], res["error"])
				case res["subject"] != nil:
					fmt.Fprintf(w, "%s: %s\n", res["path"], res["subject"])
				default:
					fmt.Fprintln(w, res["path"])
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "directory depth limit")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many bundles")
	cmd.Flags().BoolVar(&probe, "probe", false, "open each bundle with the configured password")
	return cmd
}
