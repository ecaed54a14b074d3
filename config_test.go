package main

import (
	"log"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/mesudip/certmanager/cert"
)

func TestConfigFromEnv(t *testing.T) {
	tests := map[string]struct {
		env map[string]string

		want      *config
		wantError bool
	}{
		"empty env": {
			env:       map[string]string{},
			wantError: true,
		},
		"one set": {
			env: map[string]string{envDomains: "cert.example.com"},
			want: &config{
				store:      storeSqlite,
				sqlitePath: defaultSqlitePath,
				fileDir:    ".",
				requests:   [][]string{{"cert.example.com"}},
			},
		},
		"two sets with extra newline": {
			env: map[string]string{envDomains: `cert.example.com,cert2.example.com

test.example.com,test2.example.com
`},
			want: &config{
				store:      storeSqlite,
				sqlitePath: defaultSqlitePath,
				fileDir:    ".",
				requests: [][]string{
					{"cert.example.com", "cert2.example.com"},
					{"test.example.com", "test2.example.com"},
				},
			},
		},
		"trailing and leading spaces": {
			env: map[string]string{envDomains: " cert.example.com ,cert2.example.com "},
			want: &config{
				store:      storeSqlite,
				sqlitePath: defaultSqlitePath,
				fileDir:    ".",
				requests:   [][]string{{"cert.example.com", "cert2.example.com"}},
			},
		},
		"file store": {
			env: map[string]string{
				envDomains: "cert.example.com",
				envStore:   storeFile,
				envFileDir: "/tmp/certs",
			},
			want: &config{
				store:      storeFile,
				sqlitePath: defaultSqlitePath,
				fileDir:    "/tmp/certs",
				requests:   [][]string{{"cert.example.com"}},
			},
		},
		"vault store": {
			env: map[string]string{
				envDomains: "cert.example.com",
				envStore:   storeVault,
			},
			want: &config{
				store:      storeVault,
				sqlitePath: defaultSqlitePath,
				fileDir:    ".",
				requests:   [][]string{{"cert.example.com"}},
			},
		},
		"unsupported store": {
			env: map[string]string{
				envDomains: "cert.example.com",
				envStore:   "etcd",
			},
			wantError: true,
		},
		"exit on error and output dir": {
			env: map[string]string{
				envDomains:   "cert.example.com",
				envExitError: "true",
				envOutputDir: "/tmp/out",
			},
			want: &config{
				store:       storeSqlite,
				sqlitePath:  defaultSqlitePath,
				fileDir:     ".",
				requests:    [][]string{{"cert.example.com"}},
				outputDir:   "/tmp/out",
				exitOnError: true,
			},
		},
		"poll options": {
			env: map[string]string{
				envDomains:          "cert.example.com",
				envPollInterval:     "5s",
				envPollTimeout:      "1m",
				envPollMinRounds:    "6",
				envFinalizeAttempts: "3",
			},
			want: &config{
				store:      storeSqlite,
				sqlitePath: defaultSqlitePath,
				fileDir:    ".",
				requests:   [][]string{{"cert.example.com"}},
				poll: cert.PollOptions{
					Interval:         5 * time.Second,
					Timeout:          time.Minute,
					MinRounds:        6,
					FinalizeAttempts: 3,
				},
			},
		},
		"bad poll interval": {
			env: map[string]string{
				envDomains:      "cert.example.com",
				envPollInterval: "3 seconds",
			},
			wantError: true,
		},
		"bad min rounds": {
			env: map[string]string{
				envDomains:       "cert.example.com",
				envPollMinRounds: "four",
			},
			wantError: true,
		},
		"negative finalize attempts": {
			env: map[string]string{
				envDomains:          "cert.example.com",
				envFinalizeAttempts: "-1",
			},
			wantError: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			setEnvs(t, tc.env)

			have, err := configFromEnv()
			if err == nil && tc.wantError {
				t.Error("expected an error")
			} else if err != nil && !tc.wantError {
				t.Errorf("expected no error but got: %v", err)
			}
			if !reflect.DeepEqual(have, tc.want) {
				t.Errorf("got %#v, want %#v", have, tc.want)
			}
		})
	}
}

// setEnvs clears every config env var, then applies kv.
func setEnvs(t *testing.T, kv map[string]string) {
	all := []string{
		envStore, envSqlite, envFileDir, envDomains, envOutputDir, envExitError,
		envPollInterval, envPollTimeout, envPollMinRounds, envFinalizeAttempts,
	}
	for _, k := range all {
		if err := os.Unsetenv(k); err != nil {
			log.Fatalf("error unsetting env: %v", err)
		}
	}
	for k, v := range kv {
		if err := os.Setenv(k, v); err != nil {
			log.Fatalf("error setting env: %v", err)
		}
	}
}
