package main

import (
	"os"

	"github.com/mesudip/certmanager/cert"
	"github.com/mesudip/certmanager/store"

	log "github.com/sirupsen/logrus"
)

var exitFunc func(int) = os.Exit

// obtainer is the slice of cert.Authority that run needs.
type obtainer interface {
	ObtainCertificates(domains ...string) (*cert.Response, error)
}

func main() {
	log.SetLevel(log.DebugLevel)
	cfg, err := configFromEnv()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}

	exitFunc(run(cfg, newStore, newAuthority))
}

func newStore(cfg *config) (store.KeyStore, error) {
	switch cfg.store {
	case storeFile:
		return store.NewFileStore(cfg.fileDir)
	case storeVault:
		return store.NewVaultStore()
	default:
		return store.NewSqliteStore(cfg.sqlitePath)
	}
}

func newAuthority(cfg *config, keys store.KeyStore) (obtainer, error) {
	client, err := cert.NewACMEClient(keys.AccountKey())
	if err != nil {
		return nil, err
	}
	challenges, err := cert.NewHTTPChallengeStore()
	if err != nil {
		return nil, err
	}
	return cert.NewAuthority(client, keys, challenges, cfg.poll)
}

func run(
	cfg *config,
	newStore func(*config) (store.KeyStore, error),
	newAuthority func(*config, store.KeyStore) (obtainer, error),
) int {
	log.Infof("Found %d domain set(s)", len(cfg.requests))

	keys, err := newStore(cfg)
	if err != nil {
		log.WithError(err).Error("error initializing key store")
		return 1
	}

	authority, err := newAuthority(cfg, keys)
	if err != nil {
		log.WithError(err).Error("error initializing certificate authority")
		return 1
	}

	var ret int
	for _, domains := range cfg.requests {
		resp, err := authority.ObtainCertificates(domains...)
		if err != nil {
			log.WithError(err).Errorf("error obtaining certificates for %v", domains)
			ret++
			if cfg.exitOnError {
				break
			}
			continue
		}
		log.WithFields(log.Fields{
			"existing": len(resp.Existing),
			"issued":   len(resp.Issued),
		}).Infof("Processed %v", domains)

		if cfg.outputDir != "" {
			if err := writeIssued(cfg.outputDir, resp.Issued); err != nil {
				log.WithError(err).Error("error writing issued certificates")
				ret++
				if cfg.exitOnError {
					break
				}
			}
		}
	}

	return ret
}
