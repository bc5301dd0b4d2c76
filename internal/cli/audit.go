package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/p12sign/internal/storage"
)

func (a *app) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the signing audit log",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			audit, err := a.requireAudit()
			if err != nil {
				return err
			}
			entries, err := audit.ReadAll()
			if err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).PrintAuditEntries(entries)
		},
	}, &cobra.Command{
		Use:   "verify",
		Short: "Check the audit log hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			audit, err := a.requireAudit()
			if err != nil {
				return err
			}
			if err := audit.Verify(); err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).PrintValue("result", "OK")
		},
	})
	return cmd
}

func (a *app) requireAudit() (*storage.AuditLogger, error) {
	audit, err := a.openAudit()
	if err != nil {
		return nil, err
	}
	if audit == nil {
		return nil, errors.New("audit log is not configured: use --audit-dir or audit.dir")
	}
	return audit, nil
}
