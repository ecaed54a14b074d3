package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mesudip/certmanager/cert"
)

const (
	envStore     = "CM_STORE"
	envSqlite    = "CM_SQLITE_PATH"
	envFileDir   = "CM_FILE_DIR"
	envDomains   = "CM_DOMAINS"
	envOutputDir = "CM_OUTPUT_DIR"
	envExitError = "CM_EXIT_ERROR"

	envPollInterval     = "CM_POLL_INTERVAL"
	envPollTimeout      = "CM_POLL_TIMEOUT"
	envPollMinRounds    = "CM_POLL_MIN_ROUNDS"
	envFinalizeAttempts = "CM_FINALIZE_ATTEMPTS"

	storeSqlite = "sqlite"
	storeFile   = "file"
	storeVault  = "vault"

	defaultSqlitePath = "db/certmanager.db"
)

type config struct {
	store      string
	sqlitePath string
	fileDir    string

	// requests holds one domain set per issuance call; the first domain
	// of each set is the CSR subject.
	requests [][]string

	outputDir   string
	exitOnError bool

	poll cert.PollOptions
}

func configFromEnv() (*config, error) {
	cfg := &config{
		store:      os.Getenv(envStore),
		sqlitePath: os.Getenv(envSqlite),
		fileDir:    os.Getenv(envFileDir),
		outputDir:  os.Getenv(envOutputDir),
	}
	if cfg.store == "" {
		cfg.store = storeSqlite
	}
	if cfg.sqlitePath == "" {
		cfg.sqlitePath = defaultSqlitePath
	}
	if cfg.fileDir == "" {
		cfg.fileDir = "."
	}
	cfg.exitOnError, _ = strconv.ParseBool(os.Getenv(envExitError))

	for _, line := range strings.Split(os.Getenv(envDomains), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var domains []string
		for _, d := range strings.Split(line, ",") {
			trimmed := strings.TrimSpace(d)
			if trimmed == "" {
				continue
			}
			domains = append(domains, trimmed)
		}
		if len(domains) > 0 {
			cfg.requests = append(cfg.requests, domains)
		}
	}

	var err error
	if cfg.poll, err = pollFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func pollFromEnv() (cert.PollOptions, error) {
	var opts cert.PollOptions
	var err error

	if v := os.Getenv(envPollInterval); v != "" {
		if opts.Interval, err = time.ParseDuration(v); err != nil {
			return opts, fmt.Errorf("%s: %w", envPollInterval, err)
		}
	}
	if v := os.Getenv(envPollTimeout); v != "" {
		if opts.Timeout, err = time.ParseDuration(v); err != nil {
			return opts, fmt.Errorf("%s: %w", envPollTimeout, err)
		}
	}
	if v := os.Getenv(envPollMinRounds); v != "" {
		if opts.MinRounds, err = strconv.Atoi(v); err != nil {
			return opts, fmt.Errorf("%s: %w", envPollMinRounds, err)
		}
	}
	if v := os.Getenv(envFinalizeAttempts); v != "" {
		if opts.FinalizeAttempts, err = strconv.Atoi(v); err != nil {
			return opts, fmt.Errorf("%s: %w", envFinalizeAttempts, err)
		}
	}
	return opts, nil
}

func (c *config) validate() error {
	switch c.store {
	case storeSqlite, storeFile, storeVault:
	default:
		return fmt.Errorf("unsupported store backend %q", c.store)
	}
	if len(c.requests) == 0 {
		return errors.New("0 domains found")
	}
	if c.poll.MinRounds < 0 || c.poll.FinalizeAttempts < 0 {
		return errors.New("poll bounds cannot be negative")
	}
	return nil
}
