package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage bundles kept in the encrypted vault",
	}
	cmd.AddCommand(a.vaultImportCmd(), a.vaultListCmd(), a.vaultDeleteCmd())
	return cmd
}

func (a *app) vaultImportCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <bundle.p12>",
		Short: "Check a bundle with its password and store it in the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, err := a.openVault()
			if err != nil {
				return err
			}
			password, err := a.cfg.Password()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			entry, err := vault.Import(cmd.Context(), name, f, []byte(password))
			if err != nil {
				return err
			}
			a.logger.Info("bundle imported", "id", entry.ID, "alias", entry.Alias)
			return a.printer(cmd.OutOrStdout()).PrintValue("id", entry.ID)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the file name)")
	return cmd
}

func (a *app) vaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, err := a.openVault()
			if err != nil {
				return err
			}
			entries, err := vault.List(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).PrintVaultEntries(entries)
		},
	}
}

func (a *app) vaultDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a stored bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, err := a.openVault()
			if err != nil {
				return err
			}
			if err := vault.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete %s: %w", args[0], err)
			}
			return a.printer(cmd.OutOrStdout()).PrintValue("deleted", args[0])
		},
	}
}
