package store

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
)

// KeyStore is a durable mapping from domain names to key/certificate
// records. All backends must be observably equivalent: same
// absent-vs-present semantics, and every domain covered by one
// certificate resolves to the same ID so callers can group them.
type KeyStore interface {
	// SaveKey persists a private key and returns its identifier.
	SaveKey(key crypto.PrivateKey, name string) (ID, error)
	// GenKey generates an RSA key of the given size, persists it under
	// name and returns it.
	GenKey(name string, bits int) (*rsa.PrivateKey, error)
	// SaveCert persists a certificate signed by the key identified by
	// keyID and associates it with every domain in domains.
	SaveCert(keyID ID, cert *x509.Certificate, domains []string, name string) (ID, error)
	// GetCert returns the record covering domain, or (nil, nil) if the
	// domain has no usable certificate. A stored artifact that can no
	// longer be decoded counts as absent so that it gets reissued.
	GetCert(domain string) (*Record, error)
	// AccountKey is the long-lived ACME account key. It is created on
	// first construction of the store.
	AccountKey() crypto.PrivateKey
}

// accountKeyBits is the size of a generated ACME account key.
const accountKeyBits = 2048

// Record is one stored (identifier, key, certificate) triple.
type Record struct {
	ID          ID
	Key         crypto.PrivateKey
	Certificate *x509.Certificate
}

// ID is an opaque record identifier. The relational backend uses numeric
// surrogate keys, the others use names; callers must not depend on the
// underlying representation.
type ID struct {
	num  int64
	name string
}

func NumericID(n int64) ID  { return ID{num: n} }
func NameID(name string) ID { return ID{name: name} }

func (id ID) IsZero() bool { return id.num == 0 && id.name == "" }

func (id ID) String() string {
	if id.name != "" {
		return id.name
	}
	return fmt.Sprintf("%d", id.num)
}

// fingerprint derives a stable name-spaced identifier from certificate
// bytes. Name-based backends use it so that every domain covered by one
// certificate maps to the same ID.
func fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func readEnv(name string) (string, error) {
	val := os.Getenv(name)
	if val == "" {
		return "", fmt.Errorf("%s is empty", name)
	}
	return val, nil
}
