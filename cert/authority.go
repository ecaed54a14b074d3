package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"time"

	"github.com/mesudip/certmanager/store"

	log "github.com/sirupsen/logrus"
)

// PollOptions tune the two bounded wait loops. Zero values take the
// defaults below.
type PollOptions struct {
	// Interval is the pause between polling rounds.
	Interval time.Duration
	// Timeout bounds challenge polling by wall clock. It only takes
	// effect once MinRounds rounds have elapsed, so a slow first round
	// never aborts the loop on its own.
	Timeout time.Duration
	// MinRounds is the number of challenge polling rounds that must
	// elapse before Timeout is honored.
	MinRounds int
	// FinalizeAttempts bounds the order validity poll after finalization.
	FinalizeAttempts int
}

const (
	defaultPollInterval     = 3 * time.Second
	defaultPollTimeout      = 40 * time.Second
	defaultMinRounds        = 4
	defaultFinalizeAttempts = 5
)

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval == 0 {
		o.Interval = defaultPollInterval
	}
	if o.Timeout == 0 {
		o.Timeout = defaultPollTimeout
	}
	if o.MinRounds == 0 {
		o.MinRounds = defaultMinRounds
	}
	if o.FinalizeAttempts == 0 {
		o.FinalizeAttempts = defaultFinalizeAttempts
	}
	return o
}

// Authority obtains certificates for domain sets. Domains that already
// have a stored certificate are served from the KeyStore; the rest go
// through one ACME order covering all of them.
type Authority struct {
	client     Client
	keys       store.KeyStore
	challenges ChallengeStore
	opts       PollOptions

	// injected for tests
	sleep func(time.Duration)
	now   func() time.Time
}

// NewAuthority registers the ACME account and returns the Authority.
// A rejected registration is fatal.
func NewAuthority(client Client, keys store.KeyStore, challenges ChallengeStore, opts PollOptions) (*Authority, error) {
	if err := client.Register(); err != nil {
		return nil, fmt.Errorf("cert: account registration: %w", err)
	}
	return &Authority{
		client:     client,
		keys:       keys,
		challenges: challenges,
		opts:       opts.withDefaults(),
		sleep:      time.Sleep,
		now:        time.Now,
	}, nil
}

// ObtainCertificates returns a response covering every requested domain:
// bundles already satisfied from storage plus, when needed, one newly
// issued bundle covering all missing domains. A failure on the
// missing-domain path fails the whole call.
func (a *Authority) ObtainCertificates(domains ...string) (*Response, error) {
	if len(domains) == 0 {
		return nil, errors.New("cert: no domains requested")
	}

	existing := map[string]*store.Record{}
	var missing []string
	for _, d := range domains {
		if _, ok := existing[d]; ok {
			continue
		}
		rec, err := a.keys.GetCert(d)
		if err != nil {
			return nil, fmt.Errorf("cert: looking up %q: %w", d, err)
		}
		if rec != nil {
			existing[d] = rec
		} else if !contains(missing, d) {
			missing = append(missing, d)
		}
	}

	if len(missing) == 0 {
		return newResponse(existing, nil)
	}

	log.WithField("domains", missing).Info("Requesting a new certificate")
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cert: generating key: %w", err)
	}

	order, err := a.client.CreateOrder(missing)
	if err != nil {
		return nil, err
	}

	challenges, err := order.RemainingChallenges()
	if err != nil {
		return nil, err
	}
	for _, c := range challenges {
		log.WithField("token", c.Token()).Debug("Publishing challenge")
		if err := a.challenges.Put(c.Token(), c.KeyAuthorization()); err != nil {
			return nil, fmt.Errorf("cert: publishing challenge: %w", err)
		}
		if err := c.Verify(); err != nil {
			return nil, err
		}
	}

	a.pollChallenges(challenges)

	csr, err := newCSR(key, missing)
	if err != nil {
		return nil, fmt.Errorf("cert: building CSR: %w", err)
	}
	if err := order.Finalize(csr); err != nil {
		return nil, err
	}

	issued, err := a.waitValid(order, key, missing)
	if err != nil {
		return nil, err
	}
	return newResponse(existing, []IssuedCert{*issued})
}

// pollChallenges polls all pending challenges in lock-step rounds until
// every one is confirmed or the compound budget (elapsed time AND round
// count) is exhausted. A timeout is logged, never fatal: finalization is
// attempted regardless.
func (a *Authority) pollChallenges(pending []Challenge) {
	deadline := a.now().Add(a.opts.Timeout)
	rounds := 0
	for len(pending) > 0 {
		if a.now().After(deadline) && rounds >= a.opts.MinRounds {
			log.Warn("Challenge polling timed out")
			return
		}

		var next []Challenge
		for _, c := range pending {
			ok, err := c.Confirmed()
			if err != nil {
				log.WithError(err).WithField("token", c.Token()).Debug("Challenge query failed")
			}
			// only a strict confirmation removes a challenge
			if !ok {
				next = append(next, c)
			}
		}
		if len(next) > 0 {
			a.sleep(a.opts.Interval)
		}
		pending = next
		rounds++
	}
}

// waitValid polls the finalized order until it turns valid, then
// downloads and persists the certificate. A processing order is retried
// up to FinalizeAttempts times; any other status fails immediately.
func (a *Authority) waitValid(order Order, key *ecdsa.PrivateKey, domains []string) (*IssuedCert, error) {
	for attempt := 0; attempt < a.opts.FinalizeAttempts; attempt++ {
		a.sleep(a.opts.Interval)
		if err := order.Refresh(); err != nil {
			return nil, err
		}

		switch order.Status() {
		case statusValid:
			chainPEM, err := order.Certificate()
			if err != nil {
				return nil, err
			}
			certs, err := bytesToCerts(chainPEM, maxChainLen)
			if err != nil {
				return nil, fmt.Errorf("cert: parsing issued certificate: %w", err)
			}
			if len(certs) == 0 {
				return nil, errors.New("cert: issued chain contains no certificate")
			}

			keyID, err := a.keys.SaveKey(key, domains[0])
			if err != nil {
				return nil, fmt.Errorf("cert: storing key: %w", err)
			}
			if _, err := a.keys.SaveCert(keyID, certs[0], domains, ""); err != nil {
				return nil, fmt.Errorf("cert: storing certificate: %w", err)
			}

			keyPEM, err := keyToString(key)
			if err != nil {
				return nil, err
			}
			log.WithField("domains", domains).Info("Certificate issued")
			return &IssuedCert{PrivateKey: keyPEM, Certificate: string(chainPEM), Domains: domains}, nil
		case statusProcessing:
			continue
		default:
			return nil, orderError(order)
		}
	}
	return nil, fmt.Errorf("cert: order still processing after %d attempts: %w", a.opts.FinalizeAttempts, orderError(order))
}

func orderError(order Order) error {
	if err := order.Err(); err != nil {
		return err
	}
	return fmt.Errorf("order status %q", order.Status())
}

func newCSR(key *ecdsa.PrivateKey, domains []string) ([]byte, error) {
	tmpl := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domains[0]},
		DNSNames: domains[1:],
	}
	return x509.CreateCertificateRequest(rand.Reader, tmpl, key)
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
