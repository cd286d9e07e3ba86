// Package pins issues and redeems short-lived numeric codes that grant
// unauthenticated one-time read access to a dashboard's public view.
package pins

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"announceit/internal/lib/logger"
	"announceit/internal/models"
	"announceit/internal/storage"

	"github.com/google/uuid"
)

// ErrExhausted is returned when no unused 6-digit code was found within the
// configured attempt budget. Generation fails explicitly rather than looping.
var ErrExhausted = errors.New("could not generate a unique pin")

type Storage interface {
	SavePin(ctx context.Context, pin models.PreviewPin) error
	PinByCode(ctx context.Context, code string, now time.Time) (models.PreviewPin, error)
	DeletePin(ctx context.Context, code string) error
	DeleteExpiredPins(ctx context.Context, now time.Time) (int64, error)
}

type Service struct {
	log         *slog.Logger
	storage     Storage
	ttl         time.Duration
	maxAttempts int
}

func New(log *slog.Logger, st Storage, ttl time.Duration, maxAttempts int) *Service {
	return &Service{
		log:         log,
		storage:     st,
		ttl:         ttl,
		maxAttempts: maxAttempts,
	}
}

// Issue creates a new preview pin for the dashboard. Codes are globally
// unique; the pin column is the primary key and a collision surfaces as a
// unique violation, which counts as one failed attempt.
func (s *Service) Issue(ctx context.Context, dashboardID uuid.UUID) (models.PreviewPin, error) {
	const op = "pins.Issue"

	log := s.log.With(slog.String("op", op), slog.String("dashboard_id", dashboardID.String()))

	if _, err := s.storage.DeleteExpiredPins(ctx, time.Now().UTC()); err != nil {
		return models.PreviewPin{}, fmt.Errorf("%s: %w", op, err)
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return models.PreviewPin{}, fmt.Errorf("%s: %w", op, err)
		}

		pin := models.PreviewPin{
			Pin:         code,
			DashboardID: dashboardID,
			Expiration:  time.Now().UTC().Add(s.ttl),
		}

		err = s.storage.SavePin(ctx, pin)
		if err == nil {
			log.Debug("preview pin issued")
			return pin, nil
		}
		if errors.Is(err, storage.ErrPinExists) {
			continue
		}

		return models.PreviewPin{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Error("pin generation failed", logger.Err(ErrExhausted),
		slog.Int("attempts", s.maxAttempts))

	return models.PreviewPin{}, ErrExhausted
}

// Redeem consumes a live pin and returns the dashboard it unlocks. The pin
// is deleted on first successful use. Unknown or expired codes return
// storage.ErrPinNotFound.
func (s *Service) Redeem(ctx context.Context, code string) (uuid.UUID, error) {
	const op = "pins.Redeem"

	pin, err := s.storage.PinByCode(ctx, code, time.Now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrPinNotFound) {
			s.log.Debug("invalid or expired pin")
			return uuid.Nil, storage.ErrPinNotFound
		}
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.DeletePin(ctx, pin.Pin); err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return pin.DashboardID, nil
}

// CleanupExpired removes pins whose expiration has passed.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	const op = "pins.CleanupExpired"

	deleted, err := s.storage.DeleteExpiredPins(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return deleted, nil
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
