package pins

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"announceit/internal/models"
	"announceit/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinStorage struct {
	pins     map[string]models.PreviewPin
	saturate bool // reject every insert, simulating full code space
}

func newFakePinStorage() *fakePinStorage {
	return &fakePinStorage{pins: make(map[string]models.PreviewPin)}
}

func (f *fakePinStorage) SavePin(_ context.Context, pin models.PreviewPin) error {
	if f.saturate {
		return storage.ErrPinExists
	}
	if _, ok := f.pins[pin.Pin]; ok {
		return storage.ErrPinExists
	}
	f.pins[pin.Pin] = pin
	return nil
}

func (f *fakePinStorage) PinByCode(_ context.Context, code string, now time.Time) (models.PreviewPin, error) {
	pin, ok := f.pins[code]
	if !ok || !pin.Expiration.After(now) {
		return models.PreviewPin{}, storage.ErrPinNotFound
	}
	return pin, nil
}

func (f *fakePinStorage) DeletePin(_ context.Context, code string) error {
	delete(f.pins, code)
	return nil
}

func (f *fakePinStorage) DeleteExpiredPins(_ context.Context, now time.Time) (int64, error) {
	var deleted int64
	for code, pin := range f.pins {
		if !pin.Expiration.After(now) {
			delete(f.pins, code)
			deleted++
		}
	}
	return deleted, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIssueAndRedeem(t *testing.T) {
	st := newFakePinStorage()
	svc := New(discard(), st, 5*time.Minute, 100)
	dashboardID := uuid.New()

	pin, err := svc.Issue(context.Background(), dashboardID)
	require.NoError(t, err)
	assert.Len(t, pin.Pin, 6)

	got, err := svc.Redeem(context.Background(), pin.Pin)
	require.NoError(t, err)
	assert.Equal(t, dashboardID, got)

	// Single use: the second redemption fails.
	_, err = svc.Redeem(context.Background(), pin.Pin)
	assert.ErrorIs(t, err, storage.ErrPinNotFound)
}

func TestRedeemExpired(t *testing.T) {
	st := newFakePinStorage()
	svc := New(discard(), st, 5*time.Minute, 100)

	st.pins["123456"] = models.PreviewPin{
		Pin:         "123456",
		DashboardID: uuid.New(),
		Expiration:  time.Now().UTC().Add(-time.Second),
	}

	_, err := svc.Redeem(context.Background(), "123456")
	assert.ErrorIs(t, err, storage.ErrPinNotFound)
}

func TestIssuePurgesExpired(t *testing.T) {
	st := newFakePinStorage()
	svc := New(discard(), st, 5*time.Minute, 100)

	st.pins["111111"] = models.PreviewPin{
		Pin:        "111111",
		Expiration: time.Now().UTC().Add(-time.Minute),
	}

	_, err := svc.Issue(context.Background(), uuid.New())
	require.NoError(t, err)

	_, stale := st.pins["111111"]
	assert.False(t, stale)
}

func TestIssueExhausted(t *testing.T) {
	st := newFakePinStorage()
	st.saturate = true
	svc := New(discard(), st, 5*time.Minute, 10)

	_, err := svc.Issue(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrExhausted)
}
