package cert

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/devon-mar/pkiutil"
)

const (
	pemBlockCert = "CERTIFICATE"

	maxChainLen = 11
)

func keyToString(k crypto.PrivateKey) (string, error) {
	b, err := pkiutil.MarshalPrivateKey(k)
	if err != nil {
		return "", fmt.Errorf("error encoding private key: %w", err)
	}
	return string(b), nil
}

func bytesToCerts(b []byte, limit int) ([]*x509.Certificate, error) {
	rest := b

	ret := []*x509.Certificate{}

	for i := 0; i < limit; i++ {
		var decoded *pem.Block
		decoded, rest = pem.Decode(rest)
		if decoded == nil {
			break
		} else if decoded.Type != pemBlockCert {
			return nil, fmt.Errorf("got unexpected block type %q for certificate", decoded.Type)
		}
		c, err := x509.ParseCertificate(decoded.Bytes)
		if err != nil {
			return nil, fmt.Errorf("error parsing certificate: %w", err)
		}
		ret = append(ret, c)
	}

	return ret, nil
}

func certsToString(certs ...*x509.Certificate) string {
	ret := []string{}
	for _, c := range certs {
		ret = append(ret, string(pem.EncodeToMemory(&pem.Block{Type: pemBlockCert, Bytes: c.Raw})))
	}
	return strings.Join(ret, "\n")
}

func readEnv(name string) (string, error) {
	val := os.Getenv(name)
	if val == "" {
		return "", fmt.Errorf("%s is empty", name)
	}
	return val, nil
}
