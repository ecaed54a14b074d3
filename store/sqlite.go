package store

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteAccountKeyName = "ACME Account Key"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS private_keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name VARCHAR(50) NULL,
	content BLOB
);
CREATE TABLE IF NOT EXISTS certificates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name VARCHAR(50) NULL,
	priv_id INTEGER REFERENCES private_keys NOT NULL,
	content BLOB,
	sign_id INTEGER REFERENCES private_keys NULL
);
CREATE TABLE IF NOT EXISTS ssl_domains (
	domain VARCHAR(255),
	certificate_id INTEGER REFERENCES certificates
);
CREATE TABLE IF NOT EXISTS ssl_wildcards (
	domain VARCHAR(255),
	certificate_id INTEGER REFERENCES certificates
);
`

// SqliteStore is the relational KeyStore backend. Keys and certificates
// are stored DER encoded; domains map to certificates through the
// ssl_domains table. Each write is its own committed statement.
type SqliteStore struct {
	pool       *sqlitex.Pool
	accountKey crypto.PrivateKey
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: creating db dir: %w", err)
		}
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{PoolSize: 1})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %q: %w", path, err)
	}
	s := &SqliteStore{pool: pool}
	if err := s.initSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.initAccountKey(); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *SqliteStore) Close() error {
	return s.pool.Close()
}

func (s *SqliteStore) initSchema() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("sqlite: failed to get connection: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("sqlite: initializing schema: %w", err)
	}
	return nil
}

func (s *SqliteStore) initAccountKey() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("sqlite: failed to get connection: %w", err)
	}

	var der []byte
	err = sqlitex.Execute(conn,
		`SELECT content FROM private_keys WHERE name = ? LIMIT 1;`,
		&sqlitex.ExecOptions{
			Args: []any{sqliteAccountKeyName},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				der = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, der)
				return nil
			},
		})
	s.pool.Put(conn)
	if err != nil {
		return fmt.Errorf("sqlite: looking up account key: %w", err)
	}

	if der == nil {
		key, err := s.GenKey(sqliteAccountKeyName, accountKeyBits)
		if err != nil {
			return fmt.Errorf("sqlite: generating account key: %w", err)
		}
		s.accountKey = key
		return nil
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return fmt.Errorf("sqlite: parsing stored account key: %w", err)
	}
	s.accountKey = key
	return nil
}

// SaveKey implements KeyStore.
func (s *SqliteStore) SaveKey(key crypto.PrivateKey, name string) (ID, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return ID{}, fmt.Errorf("sqlite: encoding key: %w", err)
	}

	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return ID{}, fmt.Errorf("sqlite: failed to get connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO private_keys (name, content) VALUES (?, ?);`,
		&sqlitex.ExecOptions{Args: []any{nullableName(name), der}})
	if err != nil {
		return ID{}, fmt.Errorf("sqlite: inserting key %q: %w", name, err)
	}
	return NumericID(conn.LastInsertRowID()), nil
}

// GenKey implements KeyStore.
func (s *SqliteStore) GenKey(name string, bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	if _, err := s.SaveKey(key, name); err != nil {
		return nil, err
	}
	return key, nil
}

// SaveCert implements KeyStore. The certificate row and the per-domain
// index rows are separate autocommitted statements; they are not atomic
// with each other.
func (s *SqliteStore) SaveCert(keyID ID, cert *x509.Certificate, domains []string, name string) (ID, error) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return ID{}, fmt.Errorf("sqlite: failed to get connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO certificates (name, priv_id, content) VALUES (?, ?, ?);`,
		&sqlitex.ExecOptions{Args: []any{nullableName(name), keyID.num, cert.Raw}})
	if err != nil {
		return ID{}, fmt.Errorf("sqlite: inserting certificate: %w", err)
	}
	certID := conn.LastInsertRowID()

	for _, domain := range domains {
		err = sqlitex.Execute(conn,
			`INSERT INTO ssl_domains (domain, certificate_id) VALUES (?, ?);`,
			&sqlitex.ExecOptions{Args: []any{domain, certID}})
		if err != nil {
			return ID{}, fmt.Errorf("sqlite: indexing domain %q: %w", domain, err)
		}
	}
	return NumericID(certID), nil
}

// GetCert implements KeyStore. The newest certificate indexed for the
// domain wins. Undecodable stored bytes count as absent.
func (s *SqliteStore) GetCert(domain string) (*Record, error) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get connection: %w", err)
	}
	defer s.pool.Put(conn)

	var certID int64
	var keyDER, certDER []byte
	err = sqlitex.Execute(conn,
		`SELECT c.id, p.content, c.content
		FROM ssl_domains s
		JOIN certificates c ON s.certificate_id = c.id
		JOIN private_keys p ON c.priv_id = p.id
		WHERE s.domain = ?
		ORDER BY c.id DESC LIMIT 1;`,
		&sqlitex.ExecOptions{
			Args: []any{domain},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				certID = stmt.ColumnInt64(0)
				keyDER = make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, keyDER)
				certDER = make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, certDER)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite: looking up %q: %w", domain, err)
	}
	if certDER == nil {
		return nil, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return nil, nil
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil
	}
	return &Record{ID: NumericID(certID), Key: key, Certificate: cert}, nil
}

// AccountKey implements KeyStore.
func (s *SqliteStore) AccountKey() crypto.PrivateKey {
	return s.accountKey
}

func nullableName(name string) any {
	if name == "" {
		return nil
	}
	return name
}
