package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eproms/proms/internal/platform/auth"
	"github.com/eproms/proms/pkg/validate"
)

var (
	ErrInvalidCredentials = errors.New("Invalid email or password")
	ErrAccountInactive    = errors.New("Account is inactive")
	ErrWrongPassword      = errors.New("Current password is incorrect")
)

// maxPasswordBytes is the longest input bcrypt will hash.
const maxPasswordBytes = 72

type Service struct {
	users     UserRepository
	tokens    *auth.TokenIssuer
	passwords auth.PasswordHasher
	now       func() time.Time
}

func NewService(users UserRepository, tokens *auth.TokenIssuer, passwords auth.PasswordHasher) *Service {
	return &Service{users: users, tokens: tokens, passwords: passwords, now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkNewPassword(errs *validate.Errors, field, password string) {
	switch {
	case len(password) < auth.MinPasswordLength:
		errs.Add(field, fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength))
	case len(password) > maxPasswordBytes:
		errs.Add(field, fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
	}
}

// Register creates an active patient or clinician account and signs a token
// for it. Admins cannot self-register.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	req.Email = normalizeEmail(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.Role == "" {
		req.Role = string(auth.RolePatient)
	}

	var errs validate.Errors
	if !validate.Email(req.Email) {
		errs.Add("email", "must be a valid email")
	}
	checkNewPassword(&errs, "password", req.Password)
	errs.Required("first_name", req.FirstName)
	errs.Required("last_name", req.LastName)
	if !validate.OneOf(req.Role, string(auth.RolePatient), string(auth.RoleClinician)) {
		errs.Add("role", "must be patient or clinician")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Email:        req.Email,
		PasswordHash: &hash,
		Role:         auth.Role(req.Role),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PhoneNumber:  req.PhoneNumber,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return s.session(u, "User registered successfully")
}

// Login checks email and password. Unknown emails and wrong passwords give
// the same error.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(req.Email))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrAccountInactive
	}
	if u.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.passwords.Compare(*u.PasswordHash, req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.touch(ctx, u); err != nil {
		return nil, err
	}
	return s.session(u, "Login successful")
}

// LoginFederated finds the user linked to an identity provider subject, or
// provisions an active clinician for it on first sign-in.
func (s *Service) LoginFederated(ctx context.Context, ident *auth.FederatedIdentity) (*Session, error) {
	if ident == nil || ident.Subject == "" {
		return nil, auth.ErrFederatedLogin
	}

	u, err := s.users.GetByNHSSSOID(ctx, ident.Subject)
	if errors.Is(err, ErrUserNotFound) {
		email := normalizeEmail(ident.Email)
		if email == "" {
			return nil, fmt.Errorf("%w: assertion has no email", auth.ErrFederatedLogin)
		}
		subject := ident.Subject
		u = &User{
			Email:     email,
			NHSSSOID:  &subject,
			Role:      auth.RoleClinician,
			FirstName: strings.TrimSpace(ident.FirstName),
			LastName:  strings.TrimSpace(ident.LastName),
			IsActive:  true,
		}
		err = s.users.Create(ctx, u)
	}
	if err != nil {
		return nil, err
	}

	if !u.IsActive {
		return nil, ErrAccountInactive
	}
	if err := s.touch(ctx, u); err != nil {
		return nil, err
	}
	return s.session(u, "Login successful")
}

func (s *Service) touch(ctx context.Context, u *User) error {
	now := s.now().UTC()
	if err := s.users.SetLastLogin(ctx, u.ID, now); err != nil {
		return err
	}
	u.LastLogin = &now
	return nil
}

func (s *Service) session(u *User, message string) (*Session, error) {
	token, err := s.tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, err
	}
	return &Session{Message: message, Token: token, User: u}, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// UpdateProfile applies the non-empty fields of upd.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(upd.FirstName); v != "" {
		u.FirstName = v
	}
	if v := strings.TrimSpace(upd.LastName); v != "" {
		u.LastName = v
	}
	if v := strings.TrimSpace(upd.PhoneNumber); v != "" {
		u.PhoneNumber = &v
	}
	if err := s.users.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, req ChangePasswordRequest) error {
	var errs validate.Errors
	errs.Required("current_password", req.CurrentPassword)
	checkNewPassword(&errs, "new_password", req.NewPassword)
	if err := errs.Err(); err != nil {
		return err
	}

	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u.PasswordHash == nil {
		return ErrWrongPassword
	}
	if err := s.passwords.Compare(*u.PasswordHash, req.CurrentPassword); err != nil {
		return ErrWrongPassword
	}

	hash, err := s.passwords.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	return s.users.UpdatePasswordHash(ctx, id, hash)
}

// LookupAccount implements auth.AccountLookup for the bearer middleware.
func (s *Service) LookupAccount(ctx context.Context, id uuid.UUID) (*auth.Account, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, auth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return u.Account(), nil
}
