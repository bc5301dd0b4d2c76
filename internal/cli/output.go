package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vocdoni/gofirma/p12sign/internal/crypto/certs"
	"github.com/vocdoni/gofirma/p12sign/internal/crypto/pkcs12store"
	"github.com/vocdoni/gofirma/p12sign/internal/storage"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{format: OutputFormat(format), writer: writer}
}

func (p *Printer) PrintCertificate(info certs.Info) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(map[string]any{
			"alias":       info.Alias,
			"serial":      info.SerialNumber.String(),
			"subject":     info.Subject,
			"issuer":      info.Issuer,
			"tax_id":      info.TaxID,
			"not_before":  info.NotBefore.UTC().Format(time.RFC3339),
			"not_after":   info.NotAfter.UTC().Format(time.RFC3339),
			"fingerprint": info.FingerprintHex(),
		})
	}
	fmt.Fprintf(p.writer, "Alias:       %s\n", info.Alias)
	fmt.Fprintf(p.writer, "Serial:      %s\n", info.SerialNumber)
	fmt.Fprintf(p.writer, "Subject:     %s\n", info.Subject)
	fmt.Fprintf(p.writer, "Issuer:      %s\n", info.Issuer)
	if info.TaxID != "" {
		fmt.Fprintf(p.writer, "Tax ID:      %s\n", info.TaxID)
	}
	fmt.Fprintf(p.writer, "Valid:       %s - %s\n",
		info.NotBefore.UTC().Format(time.RFC3339), info.NotAfter.UTC().Format(time.RFC3339))
	fmt.Fprintf(p.writer, "Fingerprint: %s\n", info.FingerprintHex())
	return nil
}

// PrintValue prints a single named result, bare in text mode.
func (p *Printer) PrintValue(name, value string) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(map[string]string{name: value})
	}
	_, err := fmt.Fprintln(p.writer, value)
	return err
}

func (p *Printer) PrintCodes(pkp, bkp string) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(map[string]string{"pkp": pkp, "bkp": bkp})
	}
	fmt.Fprintf(p.writer, "PKP: %s\n", pkp)
	fmt.Fprintf(p.writer, "BKP: %s\n", bkp)
	return nil
}

func (p *Printer) PrintVaultEntries(entries []pkcs12store.VaultEntry) error {
	if p.format == OutputFormatJSON {
		if entries == nil {
			entries = []pkcs12store.VaultEntry{}
		}
		return p.printJSON(map[string]any{"entries": entries})
	}
	if len(entries) == 0 {
		fmt.Fprintln(p.writer, "No bundles found")
		return nil
	}
	fmt.Fprintf(p.writer, "%-36s %-20s %-25s %s\n", "ID", "NAME", "ALIAS", "EXPIRES")
	fmt.Fprintln(p.writer, strings.Repeat("-", 100))
	for _, e := range entries {
		fmt.Fprintf(p.writer, "%-36s %-20s %-25s %s\n",
			e.ID, e.FriendlyName, e.Alias, e.NotAfter.UTC().Format("2006-01-02"))
	}
	return nil
}

func (p *Printer) PrintAuditEntries(entries []storage.AuditEntry) error {
	if p.format == OutputFormatJSON {
		if entries == nil {
			entries = []storage.AuditEntry{}
		}
		return p.printJSON(map[string]any{"entries": entries})
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s %-8s %-6s %s", e.Timestamp, e.Operation, e.Status, e.Alias)
		if e.Error != "" {
			line += ": " + e.Error
		}
		fmt.Fprintln(p.writer, line)
	}
	return nil
}

func (p *Printer) printJSON(v any) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
