package account

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"announceit/internal/models"
	"announceit/internal/password"
	"announceit/internal/storage"
	"announceit/internal/token"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	byID    map[uuid.UUID]models.User
	byEmail map[string]uuid.UUID
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byID:    make(map[uuid.UUID]models.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (f *fakeUsers) SaveUser(_ context.Context, user models.User) error {
	if _, ok := f.byEmail[user.Email]; ok {
		return storage.ErrUserExists
	}
	f.byID[user.ID] = user
	f.byEmail[user.Email] = user.ID
	return nil
}

func (f *fakeUsers) UserByEmail(_ context.Context, email string) (models.User, error) {
	id, ok := f.byEmail[email]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}
	return f.byID[id], nil
}

func (f *fakeUsers) UserByID(_ context.Context, id uuid.UUID) (models.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) EmailExists(_ context.Context, email string) (bool, error) {
	_, ok := f.byEmail[email]
	return ok, nil
}

func (f *fakeUsers) SetUserConfirmed(_ context.Context, id uuid.UUID) error {
	u := f.byID[id]
	u.Confirmed = true
	f.byID[id] = u
	return nil
}

func (f *fakeUsers) UpdateUserPassword(_ context.Context, id uuid.UUID, hash, salt []byte) error {
	u := f.byID[id]
	u.PasswordHash = hash
	u.PasswordSalt = salt
	f.byID[id] = u
	return nil
}

func (f *fakeUsers) UpdateUser(_ context.Context, id uuid.UUID, name, email string) error {
	u := f.byID[id]
	delete(f.byEmail, u.Email)
	u.Name = name
	u.Email = email
	f.byID[id] = u
	f.byEmail[email] = id
	return nil
}

func (f *fakeUsers) DeleteUser(_ context.Context, id uuid.UUID) error {
	u := f.byID[id]
	delete(f.byEmail, u.Email)
	delete(f.byID, id)
	return nil
}

func (f *fakeUsers) SetUserRole(_ context.Context, id uuid.UUID, role models.Role) error {
	u := f.byID[id]
	u.Role = role
	f.byID[id] = u
	return nil
}

func (f *fakeUsers) CountAdmins(_ context.Context) (int, error) {
	n := 0
	for _, u := range f.byID {
		if u.Role == models.RoleAdmin {
			n++
		}
	}
	return n, nil
}

type fakeTokens struct {
	byValue map[string]uuid.UUID
	users   *fakeUsers
	next    int
	refuse  bool
}

func newFakeTokens(users *fakeUsers) *fakeTokens {
	return &fakeTokens{byValue: make(map[string]uuid.UUID), users: users}
}

func (f *fakeTokens) Generate(_ context.Context, user models.User) (string, error) {
	if f.refuse {
		return "", token.ErrLimitExceeded
	}
	f.next++
	value := string(rune('a' + f.next))
	f.byValue[value] = user.ID
	return value, nil
}

func (f *fakeTokens) Validate(_ context.Context, value string) (*models.User, error) {
	id, ok := f.byValue[value]
	if !ok {
		return nil, nil
	}
	u := f.users.byID[id]
	return &u, nil
}

func (f *fakeTokens) Invalidate(_ context.Context, user models.User) error {
	for value, id := range f.byValue {
		if id == user.ID {
			delete(f.byValue, value)
		}
	}
	return nil
}

type fakeMail struct {
	sent []models.EmailMessage
}

func (f *fakeMail) Enqueue(msg models.EmailMessage) {
	f.sent = append(f.sent, msg)
}

type env struct {
	users   *fakeUsers
	confirm *fakeTokens
	reset   *fakeTokens
	mail    *fakeMail
	svc     *Service
}

func newEnv(t *testing.T, confirmationRequired bool, domains []string) *env {
	t.Helper()

	users := newFakeUsers()
	confirm := newFakeTokens(users)
	reset := newFakeTokens(users)
	mail := &fakeMail{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &env{
		users:   users,
		confirm: confirm,
		reset:   reset,
		mail:    mail,
		svc:     New(log, users, confirm, reset, mail, confirmationRequired, domains),
	}
}

func identityURL(token string) string { return "https://example.com/t/" + token }

func TestEmailIsAllowed(t *testing.T) {
	tests := []struct {
		name    string
		domains []string
		email   string
		want    bool
	}{
		{"empty list allows all", nil, "who@anywhere.org", true},
		{"listed domain", []string{"example.com"}, "a@example.com", true},
		{"case insensitive", []string{"Example.COM"}, "a@EXAMPLE.com", true},
		{"unlisted domain", []string{"example.com"}, "a@other.com", false},
		{"no at sign", []string{"example.com"}, "nonsense", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, true, tt.domains)
			assert.Equal(t, tt.want, e.svc.EmailIsAllowed(tt.email))
		})
	}
}

func TestRegisterConfirmationFlag(t *testing.T) {
	e := newEnv(t, true, nil)
	user, err := e.svc.Register(context.Background(), "a@example.com", "Alice", "pw")
	require.NoError(t, err)
	assert.False(t, user.Confirmed)

	e = newEnv(t, false, nil)
	user, err = e.svc.Register(context.Background(), "a@example.com", "Alice", "pw")
	require.NoError(t, err)
	assert.True(t, user.Confirmed)
}

func TestAuthenticateShapeEquality(t *testing.T) {
	e := newEnv(t, false, nil)
	_, err := e.svc.Register(context.Background(), "a@example.com", "Alice", "correct")
	require.NoError(t, err)

	// Unknown email and wrong password are indistinguishable: both nil, nil.
	user, err := e.svc.Authenticate(context.Background(), "missing@example.com", "whatever")
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = e.svc.Authenticate(context.Background(), "a@example.com", "wrong")
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = e.svc.Authenticate(context.Background(), "a@example.com", "correct")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "a@example.com", user.Email)
}

func TestAuthenticateCorruptCredentials(t *testing.T) {
	e := newEnv(t, false, nil)
	user, err := e.svc.Register(context.Background(), "a@example.com", "Alice", "pw")
	require.NoError(t, err)

	broken := e.users.byID[user.ID]
	broken.PasswordHash = []byte("too short")
	e.users.byID[user.ID] = broken

	_, err = e.svc.Authenticate(context.Background(), "a@example.com", "pw")
	assert.ErrorIs(t, err, password.ErrInvalidHashLength)
}

func TestConfirmEmail(t *testing.T) {
	e := newEnv(t, true, nil)
	user, err := e.svc.Register(context.Background(), "a@example.com", "Alice", "pw")
	require.NoError(t, err)

	require.NoError(t, e.svc.SendConfirmationEmail(context.Background(), user, identityURL))
	require.Len(t, e.mail.sent, 1)
	require.Len(t, e.confirm.byValue, 1)

	var value string
	for v := range e.confirm.byValue {
		value = v
	}

	confirmed, err := e.svc.ConfirmEmail(context.Background(), value)
	require.NoError(t, err)
	require.NotNil(t, confirmed)
	assert.True(t, confirmed.Confirmed)
	assert.True(t, e.users.byID[user.ID].Confirmed)
	assert.Empty(t, e.confirm.byValue, "confirmation token is consumed on success")

	// Replays fail quietly.
	again, err := e.svc.ConfirmEmail(context.Background(), value)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestIsConfirmed(t *testing.T) {
	e := newEnv(t, false, nil)
	user, err := e.svc.Register(context.Background(), "a@example.com", "Alice", "pw")
	require.NoError(t, err)

	ok, err := e.svc.IsConfirmed(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, ok, "always confirmed when confirmation is disabled")

	e = newEnv(t, true, nil)
	user, err = e.svc.Register(context.Background(), "a@example.com", "Alice", "pw")
	require.NoError(t, err)

	ok, err = e.svc.IsConfirmed(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSendPasswordResetEmailCapIsSilent(t *testing.T) {
	e := newEnv(t, false, nil)
	user, err := e.svc.Register(context.Background(), "a@example.com", "Alice", "pw")
	require.NoError(t, err)

	e.reset.refuse = true

	// The cap refusal must look exactly like success to the caller.
	err = e.svc.SendPasswordResetEmail(context.Background(), user, identityURL)
	require.NoError(t, err)
	assert.Empty(t, e.mail.sent)
}

func TestResetPasswordInvalidatesAllTokens(t *testing.T) {
	e := newEnv(t, false, nil)
	user, err := e.svc.Register(context.Background(), "a@example.com", "Alice", "old")
	require.NoError(t, err)

	require.NoError(t, e.svc.SendPasswordResetEmail(context.Background(), user, identityURL))
	require.NoError(t, e.svc.SendPasswordResetEmail(context.Background(), user, identityURL))
	require.Len(t, e.reset.byValue, 2)

	require.NoError(t, e.svc.ResetPassword(context.Background(), user, "new"))

	assert.Empty(t, e.reset.byValue, "every outstanding reset link dies with the reset")

	got, err := e.svc.Authenticate(context.Background(), "a@example.com", "new")
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = e.svc.Authenticate(context.Background(), "a@example.com", "old")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t, false, nil)
	user, err := e.svc.Register(context.Background(), "a@example.com", "Alice", "old")
	require.NoError(t, err)

	require.NoError(t, e.svc.ChangePassword(context.Background(), user, "new"))

	got, err := e.svc.Authenticate(context.Background(), "a@example.com", "new")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestLastAdminGuard(t *testing.T) {
	e := newEnv(t, false, nil)
	admin, err := e.svc.Register(context.Background(), "admin@example.com", "Root", "pw")
	require.NoError(t, err)
	require.NoError(t, e.users.SetUserRole(context.Background(), admin.ID, models.RoleAdmin))
	admin = e.users.byID[admin.ID]

	assert.ErrorIs(t, e.svc.DeleteUser(context.Background(), admin), ErrLastAdmin)
	assert.ErrorIs(t, e.svc.SetRole(context.Background(), admin, models.RoleUser), ErrLastAdmin)

	// A second admin unblocks both operations.
	other, err := e.svc.Register(context.Background(), "second@example.com", "Backup", "pw")
	require.NoError(t, err)
	require.NoError(t, e.users.SetUserRole(context.Background(), other.ID, models.RoleAdmin))

	assert.NoError(t, e.svc.SetRole(context.Background(), admin, models.RoleManager))

	// Promoting to admin never trips the guard.
	regular, err := e.svc.Register(context.Background(), "user@example.com", "U", "pw")
	require.NoError(t, err)
	assert.NoError(t, e.svc.SetRole(context.Background(), regular, models.RoleAdmin))
}
