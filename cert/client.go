package cert

// Client is the narrow ACME protocol surface the Authority drives.
// Registration, order creation and per-challenge proof exchange all
// happen behind it.
type Client interface {
	// Register creates or retrieves the ACME account for the store's
	// account key. It must be called before any order is created.
	Register() error
	// CreateOrder requests an authorized order for the given domains.
	CreateOrder(domains []string) (Order, error)
}

// Order is one in-progress certificate request.
type Order interface {
	// RemainingChallenges returns the challenges that still need to be
	// satisfied, one per pending authorization.
	RemainingChallenges() ([]Challenge, error)
	// Finalize submits a DER encoded CSR.
	Finalize(csr []byte) error
	// Refresh re-reads the order from the server.
	Refresh() error
	// Status returns the order status as of the last refresh
	// (pending/ready/processing/valid/invalid).
	Status() string
	// Certificate downloads the issued certificate chain, PEM encoded.
	Certificate() ([]byte, error)
	// Err returns the server-reported order error, if any.
	Err() error
}

// Challenge is a single proof obligation on an order.
type Challenge interface {
	Token() string
	// KeyAuthorization is the proof value external validators expect to
	// find published under Token.
	KeyAuthorization() string
	// Verify asks the server to start validating the challenge.
	Verify() error
	// Confirmed reports whether the server has positively confirmed the
	// challenge. Only a strict confirmation counts; anything else leaves
	// the challenge pending.
	Confirmed() (bool, error)
}

// ChallengeStore receives token -> key-authorization pairs. It is write
// only from this side; the protocol's validation servers read it.
type ChallengeStore interface {
	Put(token, keyAuth string) error
}

// Order statuses checked by the Authority.
const (
	statusValid      = "valid"
	statusProcessing = "processing"
)
