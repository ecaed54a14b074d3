package store

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/devon-mar/pkiutil"
	vault "github.com/hashicorp/vault/api"
)

const (
	EnvVaultKVMount       = "VAULT_KV_MOUNT"
	EnvVaultKVKeysPath    = "VAULT_KV_KEYS_PATH"
	EnvVaultKVCertsPath   = "VAULT_KV_CERTS_PATH"
	EnvVaultKVAccountPath = "VAULT_KV_ACCOUNT_PATH"
	EnvVaultCertAuth      = "VAULT_CERT_AUTH"
	EnvVaultCertAuthRole  = "VAULT_CERT_AUTH_ROLE"

	vaultKVKeyCert   = "tls.crt"
	vaultKVKeyKey    = "tls.key"
	vaultKVKeyCertID = "cert_id"
)

// VaultStore is a KeyStore backend on Vault KV v2. Keys are stored under
// a keys path by name, and one entry per covered domain under a certs
// path, mirroring the filesystem backend's per-domain replication.
type VaultStore struct {
	kvMount     string
	keysPath    string
	certsPath   string
	accountPath string

	client     *vault.Client
	accountKey crypto.PrivateKey
}

func NewVaultStore() (*VaultStore, error) {
	vs := &VaultStore{}
	var err error
	vs.kvMount, err = readEnv(EnvVaultKVMount)
	if err != nil {
		return nil, err
	}
	vs.keysPath, err = readEnv(EnvVaultKVKeysPath)
	if err != nil {
		return nil, err
	}
	vs.keysPath = cleanPath(vs.keysPath)
	vs.certsPath, err = readEnv(EnvVaultKVCertsPath)
	if err != nil {
		return nil, err
	}
	vs.certsPath = cleanPath(vs.certsPath)
	vs.accountPath, err = readEnv(EnvVaultKVAccountPath)
	if err != nil {
		return nil, err
	}
	vs.accountPath = cleanPath(vs.accountPath)

	vs.client, err = vault.NewClient(vault.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if vs.client.Token() == "" {
		if m := os.Getenv(EnvVaultCertAuth); m != "" {
			_, err := vs.client.Auth().Login(
				context.Background(),
				&vaultCertAuth{Mount: m, Role: os.Getenv(EnvVaultCertAuthRole)},
			)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, errors.New("no Vault auth method configured")
		}
	}

	if err := vs.initAccountKey(); err != nil {
		return nil, err
	}
	return vs, nil
}

func (s *VaultStore) initAccountKey() error {
	data, err := s.kv().Get(context.Background(), s.accountPath)
	if errors.Is(err, vault.ErrSecretNotFound) {
		key, err := s.GenKey("", accountKeyBits)
		if err != nil {
			return fmt.Errorf("vault: generating account key: %w", err)
		}
		s.accountKey = key
		return nil
	} else if err != nil {
		return err
	}

	keyPEM, ok := data.Data[vaultKVKeyKey].(string)
	if !ok {
		return fmt.Errorf("%s:%s wasn't a string", s.accountPath, vaultKVKeyKey)
	}
	s.accountKey, err = pkiutil.ParsePrivateKey([]byte(keyPEM))
	if err != nil {
		return fmt.Errorf("vault: parsing stored account key: %w", err)
	}
	return nil
}

// SaveKey implements KeyStore. An empty name stores the account key.
func (s *VaultStore) SaveKey(key crypto.PrivateKey, name string) (ID, error) {
	b, err := pkiutil.MarshalPrivateKey(key)
	if err != nil {
		return ID{}, fmt.Errorf("vault: encoding key: %w", err)
	}
	path := s.accountPath
	if name != "" {
		path = s.keysPath + "/" + name
	}
	_, err = s.kv().Put(context.Background(), path, map[string]interface{}{vaultKVKeyKey: string(b)})
	if err != nil {
		return ID{}, fmt.Errorf("vault: writing key %q: %w", name, err)
	}
	return NameID(name), nil
}

// GenKey implements KeyStore.
func (s *VaultStore) GenKey(name string, bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	if _, err := s.SaveKey(key, name); err != nil {
		return nil, err
	}
	return key, nil
}

// SaveCert implements KeyStore. One KV entry is written per covered
// domain, each carrying the key, the certificate and the shared ID.
func (s *VaultStore) SaveCert(keyID ID, cert *x509.Certificate, domains []string, name string) (ID, error) {
	keyData, err := s.kv().Get(context.Background(), s.keysPath+"/"+keyID.String())
	if err != nil {
		return ID{}, fmt.Errorf("vault: reading key %q: %w", keyID, err)
	}
	keyPEM, ok := keyData.Data[vaultKVKeyKey].(string)
	if !ok {
		return ID{}, fmt.Errorf("%s:%s wasn't a string", s.keysPath, vaultKVKeyKey)
	}

	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
	certID := fingerprint(cert)
	data := map[string]interface{}{
		vaultKVKeyCert:   certPEM,
		vaultKVKeyKey:    keyPEM,
		vaultKVKeyCertID: certID,
	}

	targets := domains
	if name != "" {
		targets = append([]string{name}, domains...)
	}
	for _, target := range targets {
		if _, err := s.kv().Put(context.Background(), s.certPath(target), data); err != nil {
			return ID{}, fmt.Errorf("vault: writing certificate for %q: %w", target, err)
		}
	}
	return NameID(certID), nil
}

// GetCert implements KeyStore. Missing or undecodable entries count as
// absent.
func (s *VaultStore) GetCert(domain string) (*Record, error) {
	data, err := s.kv().Get(context.Background(), s.certPath(domain))
	if errors.Is(err, vault.ErrSecretNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	certPEM, ok := data.Data[vaultKVKeyCert].(string)
	if !ok {
		return nil, nil
	}
	keyPEM, ok := data.Data[vaultKVKeyKey].(string)
	if !ok {
		return nil, nil
	}

	key, err := pkiutil.ParsePrivateKey([]byte(keyPEM))
	if err != nil {
		return nil, nil
	}
	cert, err := pkiutil.ParseCertificate([]byte(certPEM))
	if err != nil {
		return nil, nil
	}

	certID, _ := data.Data[vaultKVKeyCertID].(string)
	if certID == "" {
		certID = fingerprint(cert)
	}
	return &Record{ID: NameID(certID), Key: key, Certificate: cert}, nil
}

// AccountKey implements KeyStore.
func (s *VaultStore) AccountKey() crypto.PrivateKey {
	return s.accountKey
}

func (s *VaultStore) certPath(name string) string {
	return s.certsPath + "/" + name
}

func (s *VaultStore) kv() *vault.KVv2 {
	return s.client.KVv2(s.kvMount)
}

type vaultCertAuth struct {
	Mount string
	Role  string
}

func (a *vaultCertAuth) Login(ctx context.Context, client *vault.Client) (*vault.Secret, error) {
	data := map[string]interface{}{"name": a.Role}

	path := "auth/" + a.Mount + "/login"

	resp, err := client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return nil, fmt.Errorf("error authenticating with TLS: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("empty response from TLS auth")
	}
	return resp, nil
}

func cleanPath(p string) string {
	return strings.TrimSuffix(p, "/")
}
