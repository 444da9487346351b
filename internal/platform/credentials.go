package platform

import "net/http"

// Credentials is a closed set of authentication schemes. Each scheme owns
// exactly the headers it needs, so a request can never carry both an
// Authorization header and a vendor API key at once.
type Credentials interface {
	apply(req *http.Request)
	credentials()
}

// BasicAuth authenticates with the standard Authorization header built
// from email and API token.
type BasicAuth struct {
	Email    string
	APIToken string
}

func (b BasicAuth) apply(req *http.Request) {
	req.SetBasicAuth(b.Email, b.APIToken)
}

func (BasicAuth) credentials() {}

// APIKey authenticates with a vendor key header and deliberately leaves
// the Authorization header unset.
type APIKey struct {
	Token string
}

func (k APIKey) apply(req *http.Request) {
	req.Header.Set("x-api-key", k.Token)
}

func (APIKey) credentials() {}
