// Package account orchestrates registration, authentication, email
// confirmation and password recovery. It owns the policy decisions; hashing
// lives in the password package and token persistence in the token stores.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"announceit/internal/models"
	"announceit/internal/password"
	"announceit/internal/storage"
	"announceit/internal/token"

	"github.com/google/uuid"
)

// ErrLastAdmin is returned when deleting or demoting the only remaining
// admin is attempted.
var ErrLastAdmin = errors.New("the last admin cannot be removed")

type UserStorage interface {
	SaveUser(ctx context.Context, user models.User) error
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (models.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	SetUserConfirmed(ctx context.Context, id uuid.UUID) error
	UpdateUserPassword(ctx context.Context, id uuid.UUID, hash, salt []byte) error
	UpdateUser(ctx context.Context, id uuid.UUID, name, email string) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	SetUserRole(ctx context.Context, id uuid.UUID, role models.Role) error
	CountAdmins(ctx context.Context) (int, error)
}

type TokenStore interface {
	Generate(ctx context.Context, user models.User) (string, error)
	Validate(ctx context.Context, value string) (*models.User, error)
	Invalidate(ctx context.Context, user models.User) error
}

// MailQueue accepts messages for background delivery and never blocks.
type MailQueue interface {
	Enqueue(msg models.EmailMessage)
}

type Service struct {
	log            *slog.Logger
	users          UserStorage
	confirmTokens  TokenStore
	resetTokens    TokenStore
	mail           MailQueue
	confirmation   bool
	allowedDomains []string
}

func New(
	log *slog.Logger,
	users UserStorage,
	confirmTokens, resetTokens TokenStore,
	mail MailQueue,
	confirmationRequired bool,
	allowedDomains []string,
) *Service {
	return &Service{
		log:            log,
		users:          users,
		confirmTokens:  confirmTokens,
		resetTokens:    resetTokens,
		mail:           mail,
		confirmation:   confirmationRequired,
		allowedDomains: allowedDomains,
	}
}

// ConfirmationRequired reports whether new accounts must confirm their email
// before logging in.
func (s *Service) ConfirmationRequired() bool {
	return s.confirmation
}

// EmailIsAllowed checks the address domain against the allow-list. An empty
// list means open registration. It does not check whether the email is
// already taken; see EmailExists.
func (s *Service) EmailIsAllowed(email string) bool {
	if len(s.allowedDomains) == 0 {
		return true
	}

	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])

	for _, allowed := range s.allowedDomains {
		if strings.EqualFold(allowed, domain) {
			return true
		}
	}

	return false
}

// EmailExists reports whether an account with the email is already
// registered. Used on the registration path only; login and recovery paths
// must not leak existence.
func (s *Service) EmailExists(ctx context.Context, email string) (bool, error) {
	const op = "account.EmailExists"

	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exists, nil
}

// FindByEmail returns the account registered under the email, or nil when
// there is none. Callers on enumeration-sensitive paths must respond the
// same way for both outcomes.
func (s *Service) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "account.FindByEmail"

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

// Register creates a new user. Policy checks (EmailIsAllowed, EmailExists)
// are the caller's job and must run first.
func (s *Service) Register(ctx context.Context, email, name, pass string) (models.User, error) {
	const op = "account.Register"

	log := s.log.With(slog.String("op", op))

	salt, hash, err := password.Create(pass)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user := models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		PasswordSalt: salt,
		Role:         models.RoleUser,
		Confirmed:    !s.confirmation,
	}

	if err := s.users.SaveUser(ctx, user); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered",
		slog.String("email", user.Email), slog.String("user_id", user.ID.String()))

	return user, nil
}

// SendConfirmationEmail generates a confirmation token and queues the email.
// Delivery happens in the background; failures are logged by the dispatcher
// and never reach the user, who already saw registration succeed.
func (s *Service) SendConfirmationEmail(ctx context.Context, user models.User, buildURL func(token string) string) error {
	const op = "account.SendConfirmationEmail"

	value, err := s.confirmTokens.Generate(ctx, user)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mail.Enqueue(models.EmailMessage{
		To:      user.Email,
		Subject: "Confirm your registration",
		Body:    fmt.Sprintf("<p>Welcome! Please <a href='%s'>confirm your registration</a>.</p>", buildURL(value)),
	})

	return nil
}

// ConfirmEmail marks the token's owner as confirmed and consumes the token.
// Returns nil for unknown or expired tokens.
func (s *Service) ConfirmEmail(ctx context.Context, value string) (*models.User, error) {
	const op = "account.ConfirmEmail"

	user, err := s.confirmTokens.Validate(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user == nil {
		return nil, nil
	}

	if err := s.users.SetUserConfirmed(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Confirmation tokens are single use.
	if err := s.confirmTokens.Invalidate(ctx, *user); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user.Confirmed = true

	s.log.Debug("email confirmed",
		slog.String("email", user.Email), slog.String("user_id", user.ID.String()))

	return user, nil
}

// Authenticate looks a user up by email and verifies the password. Unknown
// email and wrong password both return (nil, nil): the outward result must
// not reveal which one failed.
func (s *Service) Authenticate(ctx context.Context, email, pass string) (*models.User, error) {
	const op = "account.Authenticate"

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.log.Debug("login attempt failed, no such email")
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := password.Verify(pass, user.PasswordHash, user.PasswordSalt)
	if err != nil {
		// Malformed stored credentials mean data corruption, not a failed
		// login.
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		s.log.Debug("login attempt failed, wrong password", slog.String("email", email))
		return nil, nil
	}

	return &user, nil
}

// IsConfirmed reports whether the user may log in with respect to email
// confirmation. Always true when confirmation is globally disabled.
func (s *Service) IsConfirmed(ctx context.Context, userID uuid.UUID) (bool, error) {
	const op = "account.IsConfirmed"

	if !s.confirmation {
		return true, nil
	}

	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return user.Confirmed, nil
}

// SendPasswordResetEmail generates a reset token and queues the email. A
// refusal by the token cap is a silent no-op so the HTTP layer can show the
// same "check your email" response either way.
func (s *Service) SendPasswordResetEmail(ctx context.Context, user models.User, buildURL func(token string) string) error {
	const op = "account.SendPasswordResetEmail"

	value, err := s.resetTokens.Generate(ctx, user)
	if err != nil {
		if errors.Is(err, token.ErrLimitExceeded) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mail.Enqueue(models.EmailMessage{
		To:      user.Email,
		Subject: "Password Reset",
		Body:    fmt.Sprintf("<p>Click <a href='%s'>here</a> to reset your password.</p>", buildURL(value)),
	})

	return nil
}

// CheckResetToken returns the user bound to a live reset token, or nil. The
// token stays valid: it is checked at link-visit and again at submit, and
// consumed only by ResetPassword.
func (s *Service) CheckResetToken(ctx context.Context, value string) (*models.User, error) {
	const op = "account.CheckResetToken"

	user, err := s.resetTokens.Validate(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// ResetPassword changes the password and invalidates every outstanding reset
// token for the user, so one redeemed link kills all the others.
func (s *Service) ResetPassword(ctx context.Context, user models.User, newPass string) error {
	const op = "account.ResetPassword"

	if err := s.changePassword(ctx, user, newPass); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.resetTokens.Invalidate(ctx, user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("password was reset",
		slog.String("email", user.Email), slog.String("user_id", user.ID.String()))

	return nil
}

// ChangePassword is the authenticated self-service flow. The caller must
// have re-verified the current password before invoking it.
func (s *Service) ChangePassword(ctx context.Context, user models.User, newPass string) error {
	const op = "account.ChangePassword"

	if err := s.changePassword(ctx, user, newPass); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("password changed",
		slog.String("email", user.Email), slog.String("user_id", user.ID.String()))

	return nil
}

// UpdateProfile replaces the user's name and email.
func (s *Service) UpdateProfile(ctx context.Context, user models.User, name, email string) error {
	const op = "account.UpdateProfile"

	if err := s.users.UpdateUser(ctx, user.ID, name, email); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user account edited", slog.String("user_id", user.ID.String()))

	return nil
}

// DeleteUser removes an account. Deleting the only remaining admin is
// refused with ErrLastAdmin.
func (s *Service) DeleteUser(ctx context.Context, user models.User) error {
	const op = "account.DeleteUser"

	if user.Role == models.RoleAdmin {
		if err := s.ensureNotLastAdmin(ctx); err != nil {
			return err
		}
	}

	if err := s.users.DeleteUser(ctx, user.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user deleted", slog.String("user_id", user.ID.String()))

	return nil
}

// SetRole changes a user's role. Demoting the only remaining admin is
// refused with ErrLastAdmin.
func (s *Service) SetRole(ctx context.Context, user models.User, role models.Role) error {
	const op = "account.SetRole"

	if user.Role == models.RoleAdmin && role != models.RoleAdmin {
		if err := s.ensureNotLastAdmin(ctx); err != nil {
			return err
		}
	}

	if err := s.users.SetUserRole(ctx, user.ID, role); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user role changed",
		slog.String("user_id", user.ID.String()), slog.String("role", string(role)))

	return nil
}

func (s *Service) ensureNotLastAdmin(ctx context.Context) error {
	const op = "account.ensureNotLastAdmin"

	admins, err := s.users.CountAdmins(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if admins <= 1 {
		s.log.Warn("refused to remove the last admin")
		return ErrLastAdmin
	}

	return nil
}

func (s *Service) changePassword(ctx context.Context, user models.User, newPass string) error {
	salt, hash, err := password.Create(newPass)
	if err != nil {
		return err
	}

	if err := s.users.UpdateUserPassword(ctx, user.ID, hash, salt); err != nil {
		return err
	}

	return nil
}
