package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/mesudip/certmanager/cert"
)

// certificateOutput is the TOML shape written for each issued bundle.
type certificateOutput struct {
	Domains          []string `toml:"domains"`
	CertificateChain string   `toml:"certificate_chain"`
	PrivateKey       string   `toml:"private_key"`
}

// writeIssued writes one TOML file per issued bundle into dir, named
// after the bundle's primary domain.
func writeIssued(dir string, issued []cert.IssuedCert) error {
	if len(issued) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	for _, c := range issued {
		out := certificateOutput{
			Domains:          c.Domains,
			CertificateChain: c.Certificate,
			PrivateKey:       c.PrivateKey,
		}
		b, err := toml.Marshal(out)
		if err != nil {
			return fmt.Errorf("encoding output for %q: %w", c.Domains[0], err)
		}
		path := filepath.Join(dir, outputFileName(c.Domains[0]))
		if err := os.WriteFile(path, b, 0o600); err != nil {
			return fmt.Errorf("writing %q: %w", path, err)
		}
	}
	return nil
}

// outputFileName keeps wildcard domains filesystem safe.
func outputFileName(domain string) string {
	return strings.ReplaceAll(domain, "*", "_") + ".toml"
}
