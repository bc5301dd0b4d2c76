// Package cli implements the p12sign command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/p12sign/internal/config"
	"github.com/vocdoni/gofirma/p12sign/internal/crypto/pkcs12store"
	"github.com/vocdoni/gofirma/p12sign/internal/logging"
	"github.com/vocdoni/gofirma/p12sign/internal/storage"
	"github.com/vocdoni/gofirma/p12sign/pkg/clientkey"
)

// flags holds command line values that override the configuration file.
type flags struct {
	configFile string
	bundle     string
	vaultID    string
	vaultDir   string
	auditDir   string
	logLevel   string
	logFormat  string
	output     string
}

// app is the state shared by every subcommand of one invocation.
type app struct {
	flags  flags
	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd builds the p12sign command tree.
func NewRootCmd() *cobra.Command {
	a := &app{logger: logging.Discard()}

	root := &cobra.Command{
		Use:   "p12sign",
		Short: "Sign data with the client certificate in a PKCS#12 bundle",
		Long: `p12sign loads a password-protected PKCS#12 bundle, selects its first
private key entry and signs text with SHA-256 and RSA PKCS#1 v1.5.

The bundle password is read from the environment variable named by
password_env (P12SIGN_PASSWORD by default), never from the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configFile, "config", "", "config file (YAML)")
	pf.StringVarP(&a.flags.bundle, "bundle", "b", "", "PKCS#12 bundle to sign with")
	pf.StringVar(&a.flags.vaultID, "vault-id", "", "sign with a bundle imported into the vault")
	pf.StringVar(&a.flags.vaultDir, "vault-dir", "", "vault directory")
	pf.StringVar(&a.flags.auditDir, "audit-dir", "", "write an audit log to this directory")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format (text, json)")
	pf.StringVarP(&a.flags.output, "output", "o", "text", "output format (text, json)")

	root.AddCommand(
		a.infoCmd(),
		a.signCmd(),
		a.verifyCmd(),
		a.codesCmd(),
		a.cmsCmd(),
		a.vaultCmd(),
		a.auditCmd(),
		a.discoverCmd(),
		a.versionCmd(),
	)
	return root
}

// Execute runs the root command. Bundle failures get a plain-language hint
// on stderr.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if pkcs12store.IsImportError(err) {
		fmt.Fprintln(cmd.ErrOrStderr(), pkcs12store.FriendlyError(err))
	}
	return err
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configFile)
	if err != nil {
		return err
	}
	fs := cmd.Flags()
	override := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	override("bundle", &cfg.Bundle, a.flags.bundle)
	override("vault-dir", &cfg.Vault.Dir, a.flags.vaultDir)
	override("audit-dir", &cfg.Audit.Dir, a.flags.auditDir)
	override("log-level", &cfg.Logging.Level, a.flags.logLevel)
	override("log-format", &cfg.Logging.Format, a.flags.logFormat)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	switch a.flags.output {
	case "text", "json":
	default:
		return fmt.Errorf("unknown output format: %s", a.flags.output)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) printer(w io.Writer) *Printer {
	return NewPrinter(a.flags.output, w)
}

// openKey loads the signing identity from the vault or the bundle path.
func (a *app) openKey(cmd *cobra.Command) (*clientkey.ClientKey, error) {
	password, err := a.cfg.Password()
	if err != nil {
		return nil, err
	}
	if a.flags.vaultID != "" {
		vault, err := a.openVault()
		if err != nil {
			return nil, err
		}
		rc, err := vault.Open(cmd.Context(), a.flags.vaultID)
		if err != nil {
			return nil, err
		}
		return clientkey.New(rc, password, clientkey.WithLogger(a.logger))
	}
	if a.cfg.Bundle == "" {
		return nil, errors.New("no bundle given: use --bundle, --vault-id or the bundle config key")
	}
	return clientkey.Open(a.cfg.Bundle, password, clientkey.WithLogger(a.logger))
}

func (a *app) openVault() (*pkcs12store.FileVault, error) {
	if a.cfg.Vault.Dir == "" {
		return nil, errors.New("vault directory is not configured")
	}
	pw, err := a.cfg.VaultPassword()
	if err != nil {
		return nil, err
	}
	return pkcs12store.NewFileVault(a.cfg.Vault.Dir, []byte(pw))
}

// openAudit returns nil when auditing is disabled.
func (a *app) openAudit() (*storage.AuditLogger, error) {
	if a.cfg.Audit.Dir == "" {
		return nil, nil
	}
	return storage.NewAuditLogger(a.cfg.Audit.Dir, a.logger)
}
