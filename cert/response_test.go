package cert

import (
	"reflect"
	"testing"

	"github.com/mesudip/certmanager/store"
)

func TestNewResponseGrouping(t *testing.T) {
	sharedCert, sharedKey := newSelfSigned(t, "a.example.com", "b.example.com")
	soloCert, soloKey := newSelfSigned(t, "solo.example.com")

	shared := func() *store.Record {
		return &store.Record{ID: store.NameID("shared"), Key: sharedKey, Certificate: sharedCert}
	}
	solo := func() *store.Record {
		return &store.Record{ID: store.NameID("solo"), Key: soloKey, Certificate: soloCert}
	}

	tests := map[string]struct {
		existing    map[string]*store.Record
		wantDomains [][]string
	}{
		"empty": {
			existing:    map[string]*store.Record{},
			wantDomains: nil,
		},
		"distinct": {
			existing: map[string]*store.Record{
				"a.example.com":    shared(),
				"solo.example.com": solo(),
			},
			wantDomains: [][]string{{"a.example.com"}, {"solo.example.com"}},
		},
		"merged": {
			existing: map[string]*store.Record{
				"b.example.com": shared(),
				"a.example.com": shared(),
			},
			wantDomains: [][]string{{"a.example.com", "b.example.com"}},
		},
		"merged plus solo": {
			existing: map[string]*store.Record{
				"solo.example.com": solo(),
				"b.example.com":    shared(),
				"a.example.com":    shared(),
			},
			wantDomains: [][]string{{"a.example.com", "b.example.com"}, {"solo.example.com"}},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			resp, err := newResponse(tc.existing, nil)
			if err != nil {
				t.Fatalf("got error: %v", err)
			}
			var have [][]string
			for _, e := range resp.Existing {
				have = append(have, e.Domains)
			}
			if !reflect.DeepEqual(have, tc.wantDomains) {
				t.Errorf("got %v, want %v", have, tc.wantDomains)
			}
		})
	}
}

func TestNewResponsePEM(t *testing.T) {
	cert, key := newSelfSigned(t, "pem.example.com")
	existing := map[string]*store.Record{
		"pem.example.com": {ID: store.NameID("x"), Key: key, Certificate: cert},
	}

	resp, err := newResponse(existing, nil)
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if len(resp.Existing) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(resp.Existing))
	}
	e := resp.Existing[0]
	if e.Certificate != certsToString(cert) {
		t.Error("certificate PEM mismatch")
	}
	wantKey, err := keyToString(key)
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if e.PrivateKey != wantKey {
		t.Error("key PEM mismatch")
	}
}

func TestIssuedCertPFX(t *testing.T) {
	cert, key := newSelfSigned(t, "pfx.example.com")
	keyPEM, err := keyToString(key)
	if err != nil {
		t.Fatalf("got error: %v", err)
	}

	bundle := IssuedCert{
		PrivateKey:  keyPEM,
		Certificate: certsToString(cert),
		Domains:     []string{"pfx.example.com"},
	}
	pfx, err := bundle.PFX()
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if len(pfx) == 0 {
		t.Error("expected PFX bytes")
	}
}
