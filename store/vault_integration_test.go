//go:build integration

package store

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"os"
	"testing"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// Needs a running Vault with a KV v2 mount at "secret" and VAULT_ADDR /
// VAULT_TOKEN set, e.g.
//
//	vault server -dev -dev-root-token-id=root
func newVaultTestStore(t *testing.T) (*VaultStore, *vault.Client) {
	t.Helper()
	if os.Getenv(vault.EnvVaultAddress) == "" || os.Getenv(vault.EnvVaultToken) == "" {
		t.Skipf("%s and %s are required", vault.EnvVaultAddress, vault.EnvVaultToken)
	}

	// A fresh prefix per test keeps KV version counters at 1.
	prefix := fmt.Sprintf("certmanager-test/%d", time.Now().UnixNano())
	setEnvs(t, map[string]string{
		EnvVaultKVMount:       "secret",
		EnvVaultKVKeysPath:    prefix + "/keys",
		EnvVaultKVCertsPath:   prefix + "/certs",
		EnvVaultKVAccountPath: prefix + "/acme_account",
	})

	s, err := NewVaultStore()
	if err != nil {
		t.Fatalf("error creating vault store: %v", err)
	}
	return s, s.client
}

func setEnvs(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		if err := os.Setenv(k, v); err != nil {
			t.Fatalf("error setting env: %v", err)
		}
	}
}

func TestVaultRoundTrip(t *testing.T) {
	s, _ := newVaultTestStore(t)

	domains := []string{"a.example.com", "b.example.com"}
	cert, key := newTestCert(t, domains...)

	keyID, err := s.SaveKey(key, domains[0])
	if err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if _, err := s.SaveCert(keyID, cert, domains, ""); err != nil {
		t.Fatalf("SaveCert: %v", err)
	}

	var ids []ID
	for _, d := range domains {
		rec, err := s.GetCert(d)
		if err != nil {
			t.Fatalf("GetCert(%q): %v", d, err)
		}
		if rec == nil {
			t.Fatalf("GetCert(%q): absent", d)
		}
		if !bytes.Equal(rec.Certificate.Raw, cert.Raw) {
			t.Errorf("%s: certificate bytes changed", d)
		}
		if !rec.Key.(*ecdsa.PrivateKey).Equal(key) {
			t.Errorf("%s: key changed", d)
		}
		ids = append(ids, rec.ID)
	}
	if ids[0] != ids[1] {
		t.Errorf("domains of one certificate resolved to different IDs: %v vs %v", ids[0], ids[1])
	}

	rec, err := s.GetCert("unknown.example.com")
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if rec != nil {
		t.Errorf("got %+v, want nil", rec)
	}
}

func TestVaultAccountKeyPersists(t *testing.T) {
	first, _ := newVaultTestStore(t)
	firstKey := first.AccountKey().(*rsa.PrivateKey)

	second, err := NewVaultStore()
	if err != nil {
		t.Fatalf("error reopening store: %v", err)
	}
	if !second.AccountKey().(*rsa.PrivateKey).Equal(firstKey) {
		t.Error("account key changed across reopen")
	}
}

func TestVaultCorruptTreatedAsAbsent(t *testing.T) {
	s, client := newVaultTestStore(t)

	domain := "z.example.com"
	cert, key := newTestCert(t, domain)
	keyID, err := s.SaveKey(key, domain)
	if err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if _, err := s.SaveCert(keyID, cert, []string{domain}, ""); err != nil {
		t.Fatalf("SaveCert: %v", err)
	}

	_, err = client.KVv2(s.kvMount).Put(context.Background(), s.certPath(domain),
		map[string]interface{}{vaultKVKeyCert: "garbage", vaultKVKeyKey: "garbage"})
	if err != nil {
		t.Fatalf("error corrupting entry: %v", err)
	}

	rec, err := s.GetCert(domain)
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if rec != nil {
		t.Errorf("got %+v, want nil", rec)
	}
}
