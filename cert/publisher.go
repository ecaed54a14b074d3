package cert

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	EnvPublisherDebug = "PUBLISHER_DEBUG"
	EnvPublisherURL   = "PUBLISHER_URL"
	EnvPublisherCert  = "PUBLISHER_CERT"
	EnvPublisherKey   = "PUBLISHER_KEY"
	EnvPublisherCA    = "PUBLISHER_CA"

	publisherKeyToken    = "token"
	publisherKeyContent  = "content"
	publisherDebugHeader = "X-Forwarded-User"
	publisherDebugUser   = "user"
)

// HTTPChallengeStore publishes token -> key-authorization pairs to an
// HTTP endpoint read by the validation servers.
type HTTPChallengeStore struct {
	url    string
	client http.Client
	debug  bool
}

func NewHTTPChallengeStore() (*HTTPChallengeStore, error) {
	p := &HTTPChallengeStore{}
	transport, err := getTransport()
	if err != nil {
		return nil, err
	}
	p.client = http.Client{Timeout: time.Second * 2, Transport: transport}
	p.debug, _ = strconv.ParseBool(os.Getenv(EnvPublisherDebug))

	p.url, err = readEnv(EnvPublisherURL)
	if err != nil {
		return nil, err
	}

	return p, nil
}

func getTransport() (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	tlsCfg := &tls.Config{}

	certPath := os.Getenv(EnvPublisherCert)
	keyPath := os.Getenv(EnvPublisherKey)
	caPath := os.Getenv(EnvPublisherCA)

	if caPath != "" {
		pool := x509.NewCertPool()
		cert, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("error reading CA: %w", err)
		}
		pool.AppendCertsFromPEM(cert)
		tlsCfg.RootCAs = pool
	}
	if certPath != "" && keyPath != "" {
		c, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("error reading client key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{c}
	}
	transport.TLSClientConfig = tlsCfg
	return transport, nil
}

// Put implements ChallengeStore.
func (p *HTTPChallengeStore) Put(token string, keyAuth string) error {
	values := url.Values{publisherKeyToken: {token}, publisherKeyContent: {keyAuth}}
	req, err := http.NewRequest(http.MethodPut, p.url, strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.debug {
		req.Header.Set(publisherDebugHeader, publisherDebugUser)
	}
	log.WithFields(log.Fields{"token": token}).Debugf("Sending update to %q", p.url)
	r, err := p.client.Do(req)
	if err != nil {
		return err
	}
	if r.StatusCode < 200 || r.StatusCode > 299 {
		return fmt.Errorf("got status %d", r.StatusCode)
	}

	return nil
}
