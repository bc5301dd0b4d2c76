package cli

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/p12sign/internal/codes"
	"github.com/vocdoni/gofirma/p12sign/internal/crypto/certs"
	"github.com/vocdoni/gofirma/p12sign/internal/storage"
	"github.com/vocdoni/gofirma/p12sign/pkg/clientkey"
)

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the certificate of the signing identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.openKey(cmd)
			if err != nil {
				return err
			}
			defer key.Close()
			info, err := certs.Describe(key.Alias(), key.Certificate())
			if err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).PrintCertificate(info)
		},
	}
}

func (a *app) signCmd() *cobra.Command {
	var inFile string
	cmd := &cobra.Command{
		Use:   "sign [text]",
		Short: "Sign text and print the base64 signature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args, inFile)
			if err != nil {
				return err
			}
			key, err := a.openKey(cmd)
			if err != nil {
				return err
			}
			defer key.Close()

			sig, err := key.Sign(text)
			if aerr := a.record("sign", key, []byte(text), err); aerr != nil {
				return aerr
			}
			if err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).PrintValue("signature", base64.StdEncoding.EncodeToString(sig))
		},
	}
	cmd.Flags().StringVarP(&inFile, "in", "i", "", "read the text from a file (- for stdin)")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	var (
		inFile    string
		signature string
	)
	cmd := &cobra.Command{
		Use:   "verify [text]",
		Short: "Check a base64 signature against the signing certificate",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := base64.StdEncoding.DecodeString(signature)
			if err != nil {
				return fmt.Errorf("decode signature: %w", err)
			}
			text, err := readInput(cmd, args, inFile)
			if err != nil {
				return err
			}
			key, err := a.openKey(cmd)
			if err != nil {
				return err
			}
			defer key.Close()
			if err := key.Verify(text, sig); err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).PrintValue("result", "OK")
		},
	}
	cmd.Flags().StringVarP(&inFile, "in", "i", "", "read the text from a file (- for stdin)")
	cmd.Flags().StringVarP(&signature, "signature", "s", "", "base64 signature")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func (a *app) codesCmd() *cobra.Command {
	var (
		r       codes.Receipt
		when    string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Compute the PKP and BKP security codes of a receipt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339, when)
			if err != nil {
				return fmt.Errorf("parse --time: %w", err)
			}
			r.Time = t
			if err := r.Validate(); err != nil {
				return err
			}
			key, err := a.openKey(cmd)
			if err != nil {
				return err
			}
			defer key.Close()

			c, err := codes.Compute(key, r)
			if aerr := a.record("codes", key, []byte(r.Plaintext()), err); aerr != nil {
				return aerr
			}
			if err != nil {
				return err
			}
			if verbose {
				fmt.Fprintln(cmd.ErrOrStderr(), r.Plaintext())
			}
			return a.printer(cmd.OutOrStdout()).PrintCodes(c.PKP, c.BKP)
		},
	}
	f := cmd.Flags()
	f.StringVar(&r.TaxID, "tax-id", "", "taxpayer identifier (CZ...)")
	f.StringVar(&r.PremisesID, "premises", "", "premises identifier")
	f.StringVar(&r.RegisterID, "register", "", "cash register identifier")
	f.StringVar(&r.SequenceNo, "sequence", "", "receipt sequence number")
	f.StringVar(&when, "time", "", "receipt time (RFC 3339)")
	f.Var(&r.Total, "total", "receipt total, two decimals at most")
	f.BoolVar(&verbose, "show-plaintext", false, "print the signed plaintext to stderr")
	for _, name := range []string{"tax-id", "premises", "register", "sequence", "time"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (a *app) cmsCmd() *cobra.Command {
	var (
		inFile  string
		outFile string
		asPEM   bool
	)
	cmd := &cobra.Command{
		Use:   "cms",
		Short: "Create a detached CMS signature over a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inFile == "" {
				return errors.New("--in is required")
			}
			content, err := readFileOrStdin(cmd, inFile)
			if err != nil {
				return err
			}
			key, err := a.openKey(cmd)
			if err != nil {
				return err
			}
			defer key.Close()

			der, err := key.SignCMS(cmd.Context(), content)
			if aerr := a.record("cms", key, content, err); aerr != nil {
				return aerr
			}
			if err != nil {
				return err
			}
			out := der
			if asPEM {
				out = pem.EncodeToMemory(&pem.Block{Type: "CMS", Bytes: der})
			}
			if outFile == "" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			return os.WriteFile(outFile, out, 0644)
		},
	}
	cmd.Flags().StringVarP(&inFile, "in", "i", "", "file to sign (- for stdin)")
	cmd.Flags().StringVarP(&outFile, "out", "O", "", "write the signature here instead of stdout")
	cmd.Flags().BoolVar(&asPEM, "pem", false, "PEM encode the signature")
	return cmd
}

// record appends an audit entry for a signing operation when auditing is on.
func (a *app) record(op string, key *clientkey.ClientKey, input []byte, opErr error) error {
	audit, err := a.openAudit()
	if err != nil || audit == nil {
		return err
	}
	digest := sha256.Sum256(input)
	entry := storage.AuditEntry{
		Operation:   op,
		Alias:       key.Alias(),
		InputDigest: hex.EncodeToString(digest[:]),
		Status:      storage.StatusOK,
	}
	if info, err := certs.Describe(key.Alias(), key.Certificate()); err == nil {
		entry.SerialNumber = info.SerialNumber.String()
		entry.CertFingerprint = info.FingerprintHex()
	}
	if opErr != nil {
		entry.Status = storage.StatusFailed
		entry.Error = opErr.Error()
	}
	return audit.Log(entry)
}

func readInput(cmd *cobra.Command, args []string, inFile string) (string, error) {
	switch {
	case len(args) == 1 && inFile != "":
		return "", errors.New("give the text as an argument or with --in, not both")
	case len(args) == 1:
		return args[0], nil
	case inFile != "":
		data, err := readFileOrStdin(cmd, inFile)
		return string(data), err
	default:
		return "", errors.New("no text to sign")
	}
}

func readFileOrStdin(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}
