package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"announceit/internal/models"

	"github.com/google/uuid"
)

// defaultCapacity applies when a dashboard carries no explicit limit.
const defaultCapacity = 50

// Cleaner is the shape shared by the token stores and the pin service.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// NewTokenSweep builds the sweep that purges expired confirmation tokens
// (with their unconfirmed owners), expired reset tokens and expired preview
// pins. Each cleaner runs even if an earlier one failed.
func NewTokenSweep(cleaners ...Cleaner) func(context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, c := range cleaners {
			if _, err := c.CleanupExpired(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

type AnnouncementStorage interface {
	DeleteExpiredAnnouncements(ctx context.Context, now time.Time) (int64, error)
	ListDashboards(ctx context.Context) ([]models.Dashboard, error)
	// TrimDashboardAnnouncements deletes the oldest non-important
	// announcements of the dashboard beyond max and returns how many were
	// removed.
	TrimDashboardAnnouncements(ctx context.Context, dashboardID uuid.UUID, max int) (int64, error)
}

// NewAnnouncementSweep builds the nightly sweep: expired non-important
// announcements first, then the per-dashboard capacity trim. Important
// announcements are exempt from both.
func NewAnnouncementSweep(log *slog.Logger, st AnnouncementStorage) func(context.Context) error {
	return func(ctx context.Context) error {
		const op = "janitor.AnnouncementSweep"

		deleted, err := st.DeleteExpiredAnnouncements(ctx, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if deleted > 0 {
			log.Info("deleted expired announcements", slog.Int64("count", deleted))
		}

		dashboards, err := st.ListDashboards(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		for _, d := range dashboards {
			max := d.MaxAnnouncements
			if max <= 0 {
				max = defaultCapacity
			}

			trimmed, err := st.TrimDashboardAnnouncements(ctx, d.ID, max)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			if trimmed > 0 {
				log.Info("trimmed dashboard to capacity",
					slog.String("dashboard_id", d.ID.String()),
					slog.Int64("deleted", trimmed),
					slog.Int("max", max))
			}
		}

		return nil
	}
}
