package auth

import (
	"errors"
	"net/http"
	"testing"

	"github.com/crewjam/saml"
)

func TestIdentityFromAssertion(t *testing.T) {
	a := &saml.Assertion{
		Subject: &saml.Subject{NameID: &saml.NameID{Value: "nhs-123"}},
		AttributeStatements: []saml.AttributeStatement{{
			Attributes: []saml.Attribute{
				{Name: "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress", Values: []saml.AttributeValue{{Value: "Dr.Who@nhs.net"}}},
				{Name: "urn:oid:2.5.4.42", FriendlyName: "givenName", Values: []saml.AttributeValue{{Value: "John"}}},
				{Name: "surname", Values: []saml.AttributeValue{{Value: "Smith"}}},
				{Name: "empty"},
			},
		}},
	}

	id, err := identityFromAssertion(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Subject != "nhs-123" || id.Email != "Dr.Who@nhs.net" || id.FirstName != "John" || id.LastName != "Smith" {
		t.Errorf("unexpected identity: %+v", id)
	}
	if id.Provider != NHSProviderName {
		t.Errorf("expected provider %s, got %s", NHSProviderName, id.Provider)
	}
}

func TestIdentityFromAssertion_NoNameID(t *testing.T) {
	_, err := identityFromAssertion(&saml.Assertion{})
	if !errors.Is(err, ErrFederatedLogin) {
		t.Errorf("expected ErrFederatedLogin, got %v", err)
	}
}

func TestNormalizeCertificate(t *testing.T) {
	got, err := normalizeCertificate("  MIIC\n  abcd\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "MIICabcd" {
		t.Errorf("expected MIICabcd, got %q", got)
	}

	if _, err := normalizeCertificate("-----BEGIN CERTIFICATE-----\nnot base64\n-----END CERTIFICATE-----"); err == nil {
		t.Error("expected error for malformed PEM")
	}
}

func TestStaticIDPMetadata(t *testing.T) {
	md, err := staticIDPMetadata(SAMLConfig{EntryPoint: "https://idp.example/sso", Certificate: "MIIC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md.EntityID != "https://idp.example/sso" {
		t.Errorf("expected entity id to default to entry point, got %s", md.EntityID)
	}
	sso := md.IDPSSODescriptors[0].SingleSignOnServices[0]
	if sso.Binding != saml.HTTPRedirectBinding || sso.Location != "https://idp.example/sso" {
		t.Errorf("unexpected SSO endpoint: %+v", sso)
	}

	if _, err := staticIDPMetadata(SAMLConfig{EntryPoint: "https://idp.example/sso"}); err == nil {
		t.Error("expected error without certificate")
	}
}

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) LoginURL(string) (string, string, error) {
	return "https://idp.example", "id-1", nil
}
func (s stubProvider) Verify(*http.Request, []string) (*FederatedIdentity, error) {
	return &FederatedIdentity{Subject: "x"}, nil
}

func TestStrategies(t *testing.T) {
	s := NewStrategies(NewBcryptHasher(4), stubProvider{name: NHSProviderName}, nil)
	if _, ok := s.Federated(NHSProviderName); !ok {
		t.Error("expected nhs provider to be registered")
	}
	if _, ok := s.Federated("google"); ok {
		t.Error("expected unknown provider to be absent")
	}
	if s.Passwords == nil {
		t.Error("expected password strategy")
	}
}
