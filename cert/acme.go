package cert

import (
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/acme/api"

	log "github.com/sirupsen/logrus"
)

const (
	EnvACMEEmail         = "ACME_EMAIL"
	EnvACMEDir           = "ACME_DIR_URL"
	EnvACMEChallengeType = "ACME_CHALLENGE_TYPE"
	EnvACMETOSAgreed     = "ACME_TOS_AGREED"

	defaultChallengeType = "http-01"

	userAgent = "certmanager"
)

// ACMEClient implements Client over lego's low-level ACME API. The
// high-level lego obtainer is deliberately not used: order polling and
// finalization are driven by the Authority.
type ACMEClient struct {
	core          *api.Core
	email         string
	challengeType string
}

func NewACMEClient(accountKey crypto.PrivateKey) (*ACMEClient, error) {
	if os.Getenv(EnvACMETOSAgreed) != "true" {
		return nil, errors.New("TOS not agreed")
	}

	dir, err := readEnv(EnvACMEDir)
	if err != nil {
		return nil, err
	}
	email, err := readEnv(EnvACMEEmail)
	if err != nil {
		return nil, err
	}
	challengeType := os.Getenv(EnvACMEChallengeType)
	if challengeType == "" {
		challengeType = defaultChallengeType
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	core, err := api.New(httpClient, userAgent, dir, "", accountKey)
	if err != nil {
		return nil, fmt.Errorf("acme: creating client: %w", err)
	}
	return &ACMEClient{core: core, email: email, challengeType: challengeType}, nil
}

// Register implements Client. A key that already has an account gets it
// back unchanged; the server decides.
func (c *ACMEClient) Register() error {
	account := acme.Account{
		TermsOfServiceAgreed: true,
		Contact:              []string{"mailto:" + c.email},
	}
	ext, err := c.core.Accounts.New(account)
	if err != nil {
		return fmt.Errorf("acme: registration: %w", err)
	}
	log.WithField("account", ext.Location).Debug("ACME account ready")
	return nil
}

// CreateOrder implements Client.
func (c *ACMEClient) CreateOrder(domains []string) (Order, error) {
	ext, err := c.core.Orders.New(domains)
	if err != nil {
		return nil, fmt.Errorf("acme: creating order for %v: %w", domains, err)
	}
	return &acmeOrder{core: c.core, order: ext, challengeType: c.challengeType}, nil
}

type acmeOrder struct {
	core          *api.Core
	order         acme.ExtendedOrder
	challengeType string
}

// RemainingChallenges implements Order. Authorizations the server has
// already validated are skipped.
func (o *acmeOrder) RemainingChallenges() ([]Challenge, error) {
	var out []Challenge
	for _, authzURL := range o.order.Authorizations {
		authz, err := o.core.Authorizations.Get(authzURL)
		if err != nil {
			return nil, fmt.Errorf("acme: fetching authorization: %w", err)
		}
		if authz.Status == acme.StatusValid {
			continue
		}

		chlg := pickChallenge(authz, o.challengeType)
		if chlg == nil {
			return nil, fmt.Errorf("acme: no %s challenge offered for %q", o.challengeType, authz.Identifier.Value)
		}
		keyAuth, err := o.core.GetKeyAuthorization(chlg.Token)
		if err != nil {
			return nil, fmt.Errorf("acme: computing key authorization: %w", err)
		}
		out = append(out, &acmeChallenge{
			core:    o.core,
			url:     chlg.URL,
			token:   chlg.Token,
			keyAuth: keyAuth,
		})
	}
	return out, nil
}

func pickChallenge(authz acme.Authorization, typ string) *acme.Challenge {
	for i := range authz.Challenges {
		if authz.Challenges[i].Type == typ {
			return &authz.Challenges[i]
		}
	}
	return nil
}

// Finalize implements Order.
func (o *acmeOrder) Finalize(csr []byte) error {
	ext, err := o.core.Orders.UpdateForCSR(o.order.Finalize, csr)
	if err != nil {
		return fmt.Errorf("acme: finalizing order: %w", err)
	}
	o.order.Order = ext.Order
	return nil
}

// Refresh implements Order.
func (o *acmeOrder) Refresh() error {
	ext, err := o.core.Orders.Get(o.order.Location)
	if err != nil {
		return fmt.Errorf("acme: refreshing order: %w", err)
	}
	o.order.Order = ext.Order
	return nil
}

// Status implements Order.
func (o *acmeOrder) Status() string {
	return o.order.Status
}

// Certificate implements Order.
func (o *acmeOrder) Certificate() ([]byte, error) {
	if o.order.Certificate == "" {
		return nil, errors.New("acme: order has no certificate URL")
	}
	certPEM, _, err := o.core.Certificates.Get(o.order.Certificate, true)
	if err != nil {
		return nil, fmt.Errorf("acme: downloading certificate: %w", err)
	}
	return certPEM, nil
}

// Err implements Order.
func (o *acmeOrder) Err() error {
	if o.order.Error == nil {
		return nil
	}
	return o.order.Error
}

type acmeChallenge struct {
	core    *api.Core
	url     string
	token   string
	keyAuth string
}

func (c *acmeChallenge) Token() string            { return c.token }
func (c *acmeChallenge) KeyAuthorization() string { return c.keyAuth }

// Verify implements Challenge.
func (c *acmeChallenge) Verify() error {
	_, err := c.core.Challenges.New(c.url)
	if err != nil {
		return fmt.Errorf("acme: requesting validation: %w", err)
	}
	return nil
}

// Confirmed implements Challenge.
func (c *acmeChallenge) Confirmed() (bool, error) {
	chlg, err := c.core.Challenges.Get(c.url)
	if err != nil {
		return false, err
	}
	return chlg.Status == acme.StatusValid, nil
}
