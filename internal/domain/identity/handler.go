package identity

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eproms/proms/internal/platform/auth"
)

// ssoRequestCookie carries the SAML AuthnRequest id between the redirect to
// the identity provider and its POST back to the callback.
const ssoRequestCookie = "proms_sso_request"

// Profile is the patient record attached to a user on /auth/me.
type Profile interface {
	OwnerID() uuid.UUID
}

// ProfileFinder loads the patient profile linked to a user. It returns nil
// and no error when there is none.
type ProfileFinder interface {
	PatientProfile(ctx context.Context, userID uuid.UUID) (Profile, error)
}

type HandlerConfig struct {
	Strategies  *auth.Strategies
	Profiles    ProfileFinder
	FrontendURL string
	// SecureCookies marks the SSO cookie Secure and SameSite=None so it
	// survives the identity provider's cross-site POST.
	SecureCookies bool
	Logger        zerolog.Logger
}

type Handler struct {
	svc *Service
	cfg HandlerConfig
}

func NewHandler(svc *Service, cfg HandlerConfig) *Handler {
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return &Handler{svc: svc, cfg: cfg}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/auth")
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
	g.GET("/nhs-sso", h.BeginSSO)
	g.POST("/nhs-sso/callback", h.SSOCallback)
	g.GET("/me", h.Me)
	g.PUT("/profile", h.UpdateProfile)
	g.POST("/change-password", h.ChangePassword)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrWrongPassword):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountInactive):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return err
}

func principal(c echo.Context) (*auth.Principal, error) {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
	return p, nil
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	sess, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	sess, err := h.svc.Login(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) nhsProvider() (auth.FederatedProvider, error) {
	if h.cfg.Strategies == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "NHS SSO is not configured")
	}
	p, ok := h.cfg.Strategies.Federated(auth.NHSProviderName)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "NHS SSO is not configured")
	}
	return p, nil
}

// BeginSSO redirects the browser to the NHS identity provider.
func (h *Handler) BeginSSO(c echo.Context) error {
	provider, err := h.nhsProvider()
	if err != nil {
		return err
	}
	redirect, requestID, err := provider.LoginURL("")
	if err != nil {
		return err
	}
	c.SetCookie(h.ssoCookie(requestID, 300))
	return c.Redirect(http.StatusFound, redirect)
}

// SSOCallback consumes the identity provider's POSTed assertion and hands the
// browser back to the frontend with a token, or with an error code.
func (h *Handler) SSOCallback(c echo.Context) error {
	provider, err := h.nhsProvider()
	if err != nil {
		return err
	}

	var requestIDs []string
	if ck, err := c.Cookie(ssoRequestCookie); err == nil && ck.Value != "" {
		requestIDs = append(requestIDs, ck.Value)
	}
	c.SetCookie(h.ssoCookie("", -1))

	ident, err := provider.Verify(c.Request(), requestIDs)
	if err != nil {
		h.cfg.Logger.Warn().Err(err).Msg("nhs sso assertion rejected")
		return c.Redirect(http.StatusFound, h.cfg.FrontendURL+"/login?error=sso_failed")
	}

	sess, err := h.svc.LoginFederated(c.Request().Context(), ident)
	switch {
	case errors.Is(err, ErrAccountInactive):
		return c.Redirect(http.StatusFound, h.cfg.FrontendURL+"/login?error=unauthorized")
	case err != nil:
		h.cfg.Logger.Error().Err(err).Str("subject", ident.Subject).Msg("nhs sso login failed")
		return c.Redirect(http.StatusFound, h.cfg.FrontendURL+"/login?error=sso_failed")
	}
	return c.Redirect(http.StatusFound, h.cfg.FrontendURL+"/auth/callback?token="+url.QueryEscape(sess.Token))
}

func (h *Handler) ssoCookie(value string, maxAge int) *http.Cookie {
	ck := &http.Cookie{
		Name:     ssoRequestCookie,
		Value:    value,
		Path:     "/api/auth/nhs-sso",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		ck.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	}
	if h.cfg.SecureCookies {
		ck.Secure = true
		ck.SameSite = http.SameSiteNoneMode
	}
	return ck
}

type meResponse struct {
	*User
	PatientProfile Profile `json:"patient_profile"`
}

func (h *Handler) Me(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), p.UserID)
	if err != nil {
		return httpError(err)
	}
	resp := meResponse{User: u}
	if h.cfg.Profiles != nil {
		profile, err := h.cfg.Profiles.PatientProfile(c.Request().Context(), u.ID)
		if err != nil {
			return err
		}
		if profile != nil && profile.OwnerID() == u.ID {
			resp.PatientProfile = profile
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"user": resp})
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var upd ProfileUpdate
	if err := c.Bind(&upd); err != nil {
		return err
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), p.UserID, upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Profile updated successfully",
		"user":    u,
	})
}

func (h *Handler) ChangePassword(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := h.svc.ChangePassword(c.Request().Context(), p.UserID, req); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Password changed successfully"})
}
