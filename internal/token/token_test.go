package token

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

type fakeStorage struct {
	tokens []models.Token
	users  map[uuid.UUID]models.User
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{users: make(map[uuid.UUID]models.User)}
}

func (f *fakeStorage) addUser(confirmed bool) models.User {
	u := models.User{ID: uuid.New(), Email: "u@example.com", Confirmed: confirmed}
	f.users[u.ID] = u
	return u
}

func (f *fakeStorage) SaveToken(_ context.Context, t models.Token) error {
	f.tokens = append(f.tokens, t)
	return nil
}

func (f *fakeStorage) DeleteTokensForUser(_ context.Context, kind models.TokenKind, userID uuid.UUID) error {
	kept := f.tokens[:0]
	for _, t := range f.tokens {
		if t.Kind != kind || t.UserID != userID {
			kept = append(kept, t)
		}
	}
	f.tokens = kept
	return nil
}

func (f *fakeStorage) CountActiveTokens(_ context.Context, kind models.TokenKind, userID uuid.UUID, now time.Time) (int, error) {
	n := 0
	for _, t := range f.tokens {
		if t.Kind == kind && t.UserID == userID && t.Expiration.After(now) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStorage) UserByToken(_ context.Context, kind models.TokenKind, token string, now time.Time) (models.User, error) {
	for _, t := range f.tokens {
		if t.Kind == kind && t.Token == token && t.Expiration.After(now) {
			return f.users[t.UserID], nil
		}
	}
	return models.User{}, storage.ErrTokenNotFound
}

func (f *fakeStorage) DeleteExpiredTokens(_ context.Context, kind models.TokenKind, now time.Time) (int64, error) {
	var deleted int64
	kept := f.tokens[:0]
	for _, t := range f.tokens {
		if t.Kind == kind && !t.Expiration.After(now) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	f.tokens = kept
	return deleted, nil
}

func (f *fakeStorage) DeleteExpiredConfirmationTokensAndUsers(_ context.Context, now time.Time) (int64, int64, error) {
	var tokens, users int64
	kept := f.tokens[:0]
	for _, t := range f.tokens {
		if t.Kind == models.KindConfirmation && !t.Expiration.After(now) {
			tokens++
			if u, ok := f.users[t.UserID]; ok && !u.Confirmed {
				delete(f.users, t.UserID)
				users++
			}
			continue
		}
		kept = append(kept, t)
	}
	f.tokens = kept
	return tokens, users, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func confirmationPolicy(ttl time.Duration) Policy {
	return Policy{Kind: models.KindConfirmation, TTL: ttl, CascadeUnconfirmed: true}
}

func resetPolicy(ttl time.Duration, max int) Policy {
	return Policy{Kind: models.KindPasswordReset, TTL: ttl, MaxActive: max}
}

func TestGenerateSingleActive(t *testing.T) {
	st := newFakeStorage()
	user := st.addUser(false)
	store := NewStore(discard(), st, confirmationPolicy(time.Hour))

	// No matter how many tokens existed before, exactly one remains after.
	for i := 0; i < 3; i++ {
		_, err := store.Generate(context.Background(), user)
		require.NoError(t, err)
	}

	assert.Len(t, st.tokens, 1)
}

func TestGenerateCapRefusal(t *testing.T) {
	st := newFakeStorage()
	user := st.addUser(true)
	store := NewStore(discard(), st, resetPolicy(time.Hour, 3))

	for i := 0; i < 3; i++ {
		_, err := store.Generate(context.Background(), user)
		require.NoError(t, err)
	}

	value, err := store.Generate(context.Background(), user)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Empty(t, value)
	assert.Len(t, st.tokens, 3, "refusal must not create a row")
}

func TestGenerateCapIgnoresExpired(t *testing.T) {
	st := newFakeStorage()
	user := st.addUser(true)
	store := NewStore(discard(), st, resetPolicy(time.Hour, 1))

	st.tokens = append(st.tokens, models.Token{
		Token:      "stale",
		Kind:       models.KindPasswordReset,
		UserID:     user.ID,
		Expiration: time.Now().UTC().Add(-time.Minute),
	})

	_, err := store.Generate(context.Background(), user)
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	st := newFakeStorage()
	user := st.addUser(true)
	store := NewStore(discard(), st, confirmationPolicy(time.Hour))

	value, err := store.Generate(context.Background(), user)
	require.NoError(t, err)

	got, err := store.Validate(context.Background(), value)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)

	got, err = store.Validate(context.Background(), "no-such-token")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestValidateExpired(t *testing.T) {
	st := newFakeStorage()
	user := st.addUser(true)
	store := NewStore(discard(), st, confirmationPolicy(-time.Minute))

	value, err := store.Generate(context.Background(), user)
	require.NoError(t, err)

	got, err := store.Validate(context.Background(), value)
	require.NoError(t, err)
	assert.Nil(t, got, "expired token must never validate")
}

func TestInvalidate(t *testing.T) {
	st := newFakeStorage()
	user := st.addUser(true)
	store := NewStore(discard(), st, resetPolicy(time.Hour, 3))

	for i := 0; i < 2; i++ {
		_, err := store.Generate(context.Background(), user)
		require.NoError(t, err)
	}

	require.NoError(t, store.Invalidate(context.Background(), user))
	assert.Empty(t, st.tokens)
}

func TestCleanupExpiredCascade(t *testing.T) {
	st := newFakeStorage()
	unconfirmed := st.addUser(false)
	confirmed := st.addUser(true)
	store := NewStore(discard(), st, confirmationPolicy(time.Hour))

	past := time.Now().UTC().Add(-time.Minute)
	st.tokens = append(st.tokens,
		models.Token{Token: "a", Kind: models.KindConfirmation, UserID: unconfirmed.ID, Expiration: past},
		models.Token{Token: "b", Kind: models.KindConfirmation, UserID: confirmed.ID, Expiration: past},
	)

	deleted, err := store.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	_, stillThere := st.users[confirmed.ID]
	assert.True(t, stillThere, "confirmed users survive expired-token cleanup")

	_, gone := st.users[unconfirmed.ID]
	assert.False(t, gone)
}

func TestCleanupExpiredPlain(t *testing.T) {
	st := newFakeStorage()
	user := st.addUser(true)
	store := NewStore(discard(), st, resetPolicy(time.Hour, 3))

	st.tokens = append(st.tokens,
		models.Token{Token: "old", Kind: models.KindPasswordReset, UserID: user.ID, Expiration: time.Now().UTC().Add(-time.Minute)},
		models.Token{Token: "live", Kind: models.KindPasswordReset, UserID: user.ID, Expiration: time.Now().UTC().Add(time.Hour)},
	)

	deleted, err := store.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	assert.Len(t, st.tokens, 1)
}
