package store

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devon-mar/pkiutil"
)

const fsAccountKeyName = "acme_account"

// FileStore is the filesystem KeyStore backend. Keys live at
// <base>/keys/<name>.key and certificates at <base>/certs/<name>.crt,
// both PEM encoded. A multi-domain certificate is replicated under every
// covered domain's name so single-domain lookups work regardless of
// which domain was the CSR subject.
type FileStore struct {
	keysDir    string
	certsDir   string
	accountKey crypto.PrivateKey
}

func NewFileStore(baseDir string) (*FileStore, error) {
	s := &FileStore{
		keysDir:  filepath.Join(baseDir, "keys"),
		certsDir: filepath.Join(baseDir, "certs"),
	}
	for _, dir := range []string{s.keysDir, s.certsDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("file store: creating %q: %w", dir, err)
		}
	}
	if err := s.initAccountKey(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) initAccountKey() error {
	key, err := s.findKey(fsAccountKeyName)
	if err != nil {
		return fmt.Errorf("file store: reading account key: %w", err)
	}
	if key == nil {
		key, err = s.GenKey(fsAccountKeyName, accountKeyBits)
		if err != nil {
			return fmt.Errorf("file store: generating account key: %w", err)
		}
	}
	s.accountKey = key
	return nil
}

// findKey returns the key stored under name, or nil if there is none.
func (s *FileStore) findKey(name string) (crypto.PrivateKey, error) {
	b, err := os.ReadFile(s.keyPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	key, err := pkiutil.ParsePrivateKey(b)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// SaveKey implements KeyStore. The file at name is overwritten.
func (s *FileStore) SaveKey(key crypto.PrivateKey, name string) (ID, error) {
	if name == "" {
		return ID{}, errors.New("file store: key name is required")
	}
	b, err := pkiutil.MarshalPrivateKey(key)
	if err != nil {
		return ID{}, fmt.Errorf("file store: encoding key: %w", err)
	}
	if err := os.WriteFile(s.keyPath(name), b, 0o600); err != nil {
		return ID{}, fmt.Errorf("file store: writing key %q: %w", name, err)
	}
	return NameID(name), nil
}

// GenKey implements KeyStore.
func (s *FileStore) GenKey(name string, bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	if _, err := s.SaveKey(key, name); err != nil {
		return nil, err
	}
	return key, nil
}

// SaveCert implements KeyStore. The key bytes stored for keyID are
// propagated under every domain's own name; the named .crt file is only
// written when a name is given.
func (s *FileStore) SaveCert(keyID ID, cert *x509.Certificate, domains []string, name string) (ID, error) {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if name != "" {
		if err := os.WriteFile(s.certPath(name), certPEM, 0o600); err != nil {
			return ID{}, fmt.Errorf("file store: writing certificate %q: %w", name, err)
		}
	}

	keyName := keyID.String()
	keyPEM, err := os.ReadFile(s.keyPath(keyName))
	if err != nil {
		return ID{}, fmt.Errorf("file store: reading key %q: %w", keyName, err)
	}

	for _, domain := range domains {
		if domain != keyName {
			if err := os.WriteFile(s.keyPath(domain), keyPEM, 0o600); err != nil {
				return ID{}, fmt.Errorf("file store: propagating key to %q: %w", domain, err)
			}
		}
		if err := os.WriteFile(s.certPath(domain), certPEM, 0o600); err != nil {
			return ID{}, fmt.Errorf("file store: writing certificate for %q: %w", domain, err)
		}
	}
	return NameID(fingerprint(cert)), nil
}

// GetCert implements KeyStore. Missing or undecodable files count as
// absent.
func (s *FileStore) GetCert(domain string) (*Record, error) {
	keyPEM, err := os.ReadFile(s.keyPath(domain))
	if err != nil {
		return nil, nil
	}
	certPEM, err := os.ReadFile(s.certPath(domain))
	if err != nil {
		return nil, nil
	}

	key, err := pkiutil.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, nil
	}
	cert, err := pkiutil.ParseCertificate(certPEM)
	if err != nil {
		return nil, nil
	}
	return &Record{ID: NameID(fingerprint(cert)), Key: key, Certificate: cert}, nil
}

// AccountKey implements KeyStore.
func (s *FileStore) AccountKey() crypto.PrivateKey {
	return s.accountKey
}

func (s *FileStore) keyPath(name string) string {
	return filepath.Join(s.keysDir, name+".key")
}

func (s *FileStore) certPath(name string) string {
	return filepath.Join(s.certsDir, name+".crt")
}
