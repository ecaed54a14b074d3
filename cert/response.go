package cert

import (
	"fmt"
	"sort"

	"github.com/devon-mar/pkiutil"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/mesudip/certmanager/store"
)

// IssuedCert is a (key, certificate, domain list) bundle ready for
// external use. Key and certificate are PEM encoded.
type IssuedCert struct {
	PrivateKey  string   `json:"privateKey"`
	Certificate string   `json:"certificate"`
	Domains     []string `json:"domains"`
}

// PFX encodes the bundle as a PKCS#12 archive with an empty password.
func (c *IssuedCert) PFX() ([]byte, error) {
	key, err := pkiutil.ParsePrivateKey([]byte(c.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	certs, err := bytesToCerts([]byte(c.Certificate), maxChainLen)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate in bundle")
	}
	return pkcs12.Legacy.Encode(key, certs[0], certs[1:], "")
}

// Response is the aggregate result of one ObtainCertificates call.
// Existing bundles were satisfied from storage without network
// interaction; Issued bundles were obtained by this call.
type Response struct {
	Existing []IssuedCert `json:"existing"`
	Issued   []IssuedCert `json:"issued"`
}

// newResponse assembles a Response from the per-domain lookup results
// and the newly issued bundles. Domains backed by the same stored
// certificate are merged into a single existing entry. Pure except for
// PEM encoding errors; output order is deterministic.
func newResponse(existing map[string]*store.Record, issued []IssuedCert) (*Response, error) {
	domains := make([]string, 0, len(existing))
	for d := range existing {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var order []string
	groups := map[string]*IssuedCert{}
	for _, d := range domains {
		rec := existing[d]
		id := rec.ID.String()
		if g, ok := groups[id]; ok {
			g.Domains = append(g.Domains, d)
			continue
		}

		keyPEM, err := keyToString(rec.Key)
		if err != nil {
			return nil, fmt.Errorf("cert: encoding stored key for %q: %w", d, err)
		}
		groups[id] = &IssuedCert{
			PrivateKey:  keyPEM,
			Certificate: certsToString(rec.Certificate),
			Domains:     []string{d},
		}
		order = append(order, id)
	}

	resp := &Response{Issued: issued}
	for _, id := range order {
		resp.Existing = append(resp.Existing, *groups[id])
	}
	return resp, nil
}
