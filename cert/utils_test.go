package cert

import (
	"crypto/ecdsa"
	"strings"
	"testing"

	"github.com/devon-mar/pkiutil"
)

func TestCertsRoundTrip(t *testing.T) {
	a, _ := newSelfSigned(t, "a.example.com")
	b, _ := newSelfSigned(t, "b.example.com")

	tests := map[string]struct {
		count int
	}{
		"single": {count: 1},
		"chain":  {count: 2},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			in := certsToString(a, b)
			if tc.count == 1 {
				in = certsToString(a)
			}
			parsed, err := bytesToCerts([]byte(in), 10)
			if err != nil {
				t.Fatalf("got error: %v", err)
			}
			if len(parsed) != tc.count {
				t.Fatalf("got %d certs, want %d", len(parsed), tc.count)
			}
			if certsToString(parsed...) != in {
				t.Errorf("round trip changed the PEM")
			}
		})
	}
}

func TestBytesToCertsLimit(t *testing.T) {
	a, _ := newSelfSigned(t, "a.example.com")
	in := certsToString(a, a, a)

	parsed, err := bytesToCerts([]byte(in), 2)
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if len(parsed) != 2 {
		t.Errorf("got %d certs, want 2", len(parsed))
	}
}

func TestBytesToCertsWrongBlock(t *testing.T) {
	_, key := newSelfSigned(t, "a.example.com")
	keyPEM, err := keyToString(key)
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if _, err := bytesToCerts([]byte(keyPEM), 10); err == nil {
		t.Error("expected an error for a non-certificate block")
	}
}

func TestKeyRoundTrip(t *testing.T) {
	_, key := newSelfSigned(t, "a.example.com")

	s, err := keyToString(key)
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if !strings.Contains(s, "PRIVATE KEY") {
		t.Fatalf("unexpected encoding: %q", s)
	}

	parsed, err := pkiutil.ParsePrivateKey([]byte(s))
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	ec, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		t.Fatalf("got %T, want *ecdsa.PrivateKey", parsed)
	}
	if !ec.Equal(key) {
		t.Error("key changed across the round trip")
	}
}
