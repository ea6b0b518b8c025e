package auth

import (
	"errors"
	"net/http"
)

// ErrFederatedLogin is returned when an identity provider response cannot
// be verified.
var ErrFederatedLogin = errors.New("federated login failed")

// FederatedIdentity is what an external identity provider asserts about the
// user.
type FederatedIdentity struct {
	Provider  string
	Subject   string
	Email     string
	FirstName string
	LastName  string
}

// FederatedProvider is a redirect-based login strategy such as SAML SSO.
type FederatedProvider interface {
	Name() string
	// LoginURL returns the identity provider URL to redirect to and the
	// request id to correlate with the callback.
	LoginURL(relayState string) (redirectURL string, requestID string, err error)
	// Verify validates the callback request. requestIDs are the ids issued by
	// LoginURL that the response may answer.
	Verify(r *http.Request, requestIDs []string) (*FederatedIdentity, error)
}

// Strategies is the set of login strategies built at startup.
type Strategies struct {
	Passwords PasswordHasher
	federated map[string]FederatedProvider
}

func NewStrategies(passwords PasswordHasher, providers ...FederatedProvider) *Strategies {
	s := &Strategies{Passwords: passwords, federated: make(map[string]FederatedProvider)}
	for _, p := range providers {
		if p != nil {
			s.federated[p.Name()] = p
		}
	}
	return s
}

// Federated returns the named provider if it was configured.
func (s *Strategies) Federated(name string) (FederatedProvider, bool) {
	p, ok := s.federated[name]
	return p, ok
}
