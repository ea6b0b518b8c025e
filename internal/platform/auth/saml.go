package auth

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crewjam/saml"
	"github.com/crewjam/saml/samlsp"
)

// NHSProviderName identifies the NHS SAML strategy.
const NHSProviderName = "nhs-saml"

// Attribute names NHS identity providers are known to send.
var (
	emailAttributes     = []string{"email", "mail", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"}
	givenNameAttributes = []string{"givenName", "firstName", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname"}
	surnameAttributes   = []string{"surname", "sn", "lastName", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname"}
)

type SAMLConfig struct {
	// EntityID is the service provider issuer.
	EntityID    string
	CallbackURL string
	// MetadataURL takes precedence over EntryPoint + Certificate.
	MetadataURL string
	EntryPoint  string
	// IDPEntityID defaults to EntryPoint when metadata is not used.
	IDPEntityID string
	// Certificate is the IdP signing certificate, PEM or bare base64.
	Certificate string
	// SPCertFile and SPKeyFile are optional; they enable encrypted assertions.
	SPCertFile string
	SPKeyFile  string
}

type samlProvider struct {
	sp *saml.ServiceProvider
}

// NewSAMLProvider builds the NHS SAML service provider, fetching IdP
// metadata when a metadata URL is configured.
func NewSAMLProvider(ctx context.Context, cfg SAMLConfig) (FederatedProvider, error) {
	acs, err := url.Parse(cfg.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("parse callback url: %w", err)
	}

	var idp *saml.EntityDescriptor
	if cfg.MetadataURL != "" {
		metaURL, err := url.Parse(cfg.MetadataURL)
		if err != nil {
			return nil, fmt.Errorf("parse metadata url: %w", err)
		}
		fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		idp, err = samlsp.FetchMetadata(fetchCtx, http.DefaultClient, *metaURL)
		if err != nil {
			return nil, fmt.Errorf("fetch idp metadata: %w", err)
		}
	} else {
		idp, err = staticIDPMetadata(cfg)
		if err != nil {
			return nil, err
		}
	}

	sp := &saml.ServiceProvider{
		EntityID:    cfg.EntityID,
		AcsURL:      *acs,
		MetadataURL: *acs,
		IDPMetadata: idp,
	}

	if cfg.SPCertFile != "" {
		pair, err := tls.LoadX509KeyPair(cfg.SPCertFile, cfg.SPKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load sp key pair: %w", err)
		}
		key, ok := pair.PrivateKey.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("sp key must be RSA")
		}
		cert, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parse sp certificate: %w", err)
		}
		sp.Key = key
		sp.Certificate = cert
	}

	return &samlProvider{sp: sp}, nil
}

func staticIDPMetadata(cfg SAMLConfig) (*saml.EntityDescriptor, error) {
	if cfg.EntryPoint == "" || cfg.Certificate == "" {
		return nil, fmt.Errorf("either a metadata url or an entry point and certificate are required")
	}
	certData, err := normalizeCertificate(cfg.Certificate)
	if err != nil {
		return nil, err
	}
	entityID := cfg.IDPEntityID
	if entityID == "" {
		entityID = cfg.EntryPoint
	}

	return &saml.EntityDescriptor{
		EntityID: entityID,
		IDPSSODescriptors: []saml.IDPSSODescriptor{{
			SSODescriptor: saml.SSODescriptor{
				RoleDescriptor: saml.RoleDescriptor{
					ProtocolSupportEnumeration: "urn:oasis:names:tc:SAML:2.0:protocol",
					KeyDescriptors: []saml.KeyDescriptor{{
						Use: "signing",
						KeyInfo: saml.KeyInfo{
							X509Data: saml.X509Data{
								X509Certificates: []saml.X509Certificate{{Data: certData}},
							},
						},
					}},
				},
			},
			SingleSignOnServices: []saml.Endpoint{
				{Binding: saml.HTTPRedirectBinding, Location: cfg.EntryPoint},
			},
		}},
	}, nil
}

// normalizeCertificate returns the base64 DER body of a certificate given as
// PEM or as the bare base64 body.
func normalizeCertificate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "-----BEGIN") {
		block, _ := pem.Decode([]byte(raw))
		if block == nil {
			return "", fmt.Errorf("invalid PEM certificate")
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return "", fmt.Errorf("parse idp certificate: %w", err)
		}
		lines := strings.Split(raw, "\n")
		var body []string
		for _, l := range lines {
			l = strings.TrimSpace(l)
			if l == "" || strings.HasPrefix(l, "-----") {
				continue
			}
			body = append(body, l)
		}
		return strings.Join(body, ""), nil
	}
	return strings.Join(strings.Fields(raw), ""), nil
}

func (p *samlProvider) Name() string { return NHSProviderName }

func (p *samlProvider) LoginURL(relayState string) (string, string, error) {
	req, err := p.sp.MakeAuthenticationRequest(
		p.sp.GetSSOBindingLocation(saml.HTTPRedirectBinding),
		saml.HTTPRedirectBinding,
		saml.HTTPPostBinding,
	)
	if err != nil {
		return "", "", fmt.Errorf("make authn request: %w", err)
	}
	u, err := req.Redirect(relayState, p.sp)
	if err != nil {
		return "", "", fmt.Errorf("build redirect: %w", err)
	}
	return u.String(), req.ID, nil
}

func (p *samlProvider) Verify(r *http.Request, requestIDs []string) (*FederatedIdentity, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFederatedLogin, err)
	}
	assertion, err := p.sp.ParseResponse(r, requestIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFederatedLogin, err)
	}
	return identityFromAssertion(assertion)
}

func identityFromAssertion(a *saml.Assertion) (*FederatedIdentity, error) {
	if a.Subject == nil || a.Subject.NameID == nil || a.Subject.NameID.Value == "" {
		return nil, fmt.Errorf("%w: assertion has no name id", ErrFederatedLogin)
	}

	attrs := make(map[string]string)
	for _, stmt := range a.AttributeStatements {
		for _, attr := range stmt.Attributes {
			if len(attr.Values) == 0 {
				continue
			}
			attrs[attr.Name] = attr.Values[0].Value
			if attr.FriendlyName != "" {
				attrs[attr.FriendlyName] = attr.Values[0].Value
			}
		}
	}

	return &FederatedIdentity{
		Provider:  NHSProviderName,
		Subject:   a.Subject.NameID.Value,
		Email:     firstAttribute(attrs, emailAttributes),
		FirstName: firstAttribute(attrs, givenNameAttributes),
		LastName:  firstAttribute(attrs, surnameAttributes),
	}, nil
}

func firstAttribute(attrs map[string]string, names []string) string {
	for _, n := range names {
		if v := strings.TrimSpace(attrs[n]); v != "" {
			return v
		}
	}
	return ""
}
