// Package token implements the single-use token store backing email
// confirmation and password reset. One Store serves both kinds; the Policy
// carries the knobs that differ between them.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"announceit/internal/lib/logger"
	"announceit/internal/models"
	"announceit/internal/storage"

	"github.com/google/uuid"
)

// ErrLimitExceeded is returned by Generate when the user already holds the
// maximum number of active tokens. Callers on enumeration-sensitive paths
// must not surface it to the end user.
var ErrLimitExceeded = errors.New("active token limit exceeded")

// Policy describes one token kind.
//
// MaxActive == 0 means single-active: generating a token first removes any
// existing tokens of the same kind for the user. MaxActive > 0 caps the
// number of concurrently live tokens; generation beyond the cap is refused.
type Policy struct {
	Kind      models.TokenKind
	TTL       time.Duration
	MaxActive int

	// CascadeUnconfirmed makes CleanupExpired also delete the still
	// unconfirmed owners of expired tokens. Set for the confirmation kind:
	// an account that never confirmed is abandoned once its token lapses.
	CascadeUnconfirmed bool
}

type Storage interface {
	SaveToken(ctx context.Context, t models.Token) error
	DeleteTokensForUser(ctx context.Context, kind models.TokenKind, userID uuid.UUID) error
	CountActiveTokens(ctx context.Context, kind models.TokenKind, userID uuid.UUID, now time.Time) (int, error)
	UserByToken(ctx context.Context, kind models.TokenKind, token string, now time.Time) (models.User, error)
	DeleteExpiredTokens(ctx context.Context, kind models.TokenKind, now time.Time) (int64, error)
	DeleteExpiredConfirmationTokensAndUsers(ctx context.Context, now time.Time) (tokens, users int64, err error)
}

type Store struct {
	log     *slog.Logger
	storage Storage
	policy  Policy
}

func NewStore(log *slog.Logger, st Storage, policy Policy) *Store {
	return &Store{
		log:     log,
		storage: st,
		policy:  policy,
	}
}

// Generate creates, persists and returns a new token for the user.
// Under a capped policy it returns ErrLimitExceeded once the user holds
// MaxActive live tokens; the check is best-effort, not transactional.
func (s *Store) Generate(ctx context.Context, user models.User) (string, error) {
	const op = "token.Generate"

	log := s.log.With(slog.String("op", op), slog.String("kind", string(s.policy.Kind)))

	if s.policy.MaxActive == 0 {
		if err := s.storage.DeleteTokensForUser(ctx, s.policy.Kind, user.ID); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	} else {
		count, err := s.storage.CountActiveTokens(ctx, s.policy.Kind, user.ID, time.Now().UTC())
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		if count >= s.policy.MaxActive {
			log.Warn("token generation refused: active token limit",
				slog.String("user_id", user.ID.String()))
			return "", ErrLimitExceeded
		}
	}

	value, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	t := models.Token{
		Token:      value,
		Kind:       s.policy.Kind,
		UserID:     user.ID,
		Expiration: time.Now().UTC().Add(s.policy.TTL),
	}

	if err := s.storage.SaveToken(ctx, t); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Debug("token generated", slog.String("user_id", user.ID.String()))

	return value, nil
}

// Validate returns the user bound to a live token, or nil when the token is
// unknown or expired. It never consumes the token; consumption is flow
// specific and belongs to the caller.
func (s *Store) Validate(ctx context.Context, value string) (*models.User, error) {
	const op = "token.Validate"

	user, err := s.storage.UserByToken(ctx, s.policy.Kind, value, time.Now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.log.Debug("token check failed", slog.String("kind", string(s.policy.Kind)))
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

// Invalidate removes every token of this kind held by the user.
func (s *Store) Invalidate(ctx context.Context, user models.User) error {
	const op = "token.Invalidate"

	if err := s.storage.DeleteTokensForUser(ctx, s.policy.Kind, user.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// CleanupExpired removes tokens whose expiration has passed and returns how
// many were deleted. With CascadeUnconfirmed set, still-unconfirmed owners
// are deleted in the same unit of work.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	const op = "token.CleanupExpired"

	now := time.Now().UTC()

	if s.policy.CascadeUnconfirmed {
		tokens, users, err := s.storage.DeleteExpiredConfirmationTokensAndUsers(ctx, now)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		if tokens > 0 {
			s.log.Info("cleaned up expired confirmation tokens",
				slog.Int64("tokens", tokens), slog.Int64("unconfirmed_users", users))
		}
		return tokens, nil
	}

	deleted, err := s.storage.DeleteExpiredTokens(ctx, s.policy.Kind, now)
	if err != nil {
		s.log.Error("failed to clean up expired tokens", logger.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return deleted, nil
}

// randomToken renders 128 bits of entropy as base64.
func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
