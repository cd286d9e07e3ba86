package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"announceit/internal/config"
	"announceit/internal/models"
	"announceit/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Repo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*Repo, error) {
	const op = "storage.postgres.New"

	poolConfig, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() {
	r.pool.Close()
}

// ---- users ----

func (r *Repo) SaveUser(ctx context.Context, u models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (id, email, name, password_hash, password_salt, confirmed, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`

	_, err := r.pool.Exec(ctx, query,
		u.ID, u.Email, u.Name, u.PasswordHash, u.PasswordSalt, u.Confirmed, u.Role)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrUserExists
		}

		return fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return nil
}

func (r *Repo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	query := `
		SELECT id, email, name, password_hash, password_salt, confirmed, role
		FROM users
		WHERE email = $1;
	`

	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *Repo) UserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	query := `
		SELECT id, email, name, password_hash, password_salt, confirmed, role
		FROM users
		WHERE id = $1;
	`

	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *Repo) scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.PasswordSalt,
		&u.Confirmed,
		&u.Role,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, err
	}

	return u, nil
}

func (r *Repo) EmailExists(ctx context.Context, email string) (bool, error) {
	const op = "storage.postgres.EmailExists"

	query := `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1);`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exists, nil
}

func (r *Repo) SetUserConfirmed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE users SET confirmed = TRUE WHERE id = $1;`

	_, err := r.pool.Exec(ctx, query, id)

	return err
}

func (r *Repo) UpdateUserPassword(ctx context.Context, id uuid.UUID, hash, salt []byte) error {
	query := `UPDATE users SET password_hash = $1, password_salt = $2 WHERE id = $3;`

	_, err := r.pool.Exec(ctx, query, hash, salt, id)

	return err
}

func (r *Repo) UpdateUser(ctx context.Context, id uuid.UUID, name, email string) error {
	query := `UPDATE users SET name = $1, email = $2 WHERE id = $3;`

	_, err := r.pool.Exec(ctx, query, name, email, id)

	return err
}

func (r *Repo) DeleteUser(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM users WHERE id = $1;`

	_, err := r.pool.Exec(ctx, query, id)

	return err
}

func (r *Repo) SetUserRole(ctx context.Context, id uuid.UUID, role models.Role) error {
	query := `UPDATE users SET role = $1 WHERE id = $2;`

	_, err := r.pool.Exec(ctx, query, role, id)

	return err
}

func (r *Repo) CountAdmins(ctx context.Context) (int, error) {
	const op = "storage.postgres.CountAdmins"

	query := `SELECT COUNT(*) FROM users WHERE role = $1;`

	var count int
	if err := r.pool.QueryRow(ctx, query, models.RoleAdmin).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return count, nil
}

// ---- tokens ----

func (r *Repo) SaveToken(ctx context.Context, t models.Token) error {
	const op = "storage.postgres.SaveToken"

	query := `
		INSERT INTO tokens (token, kind, user_id, expiration)
		VALUES ($1, $2, $3, $4);
	`

	_, err := r.pool.Exec(ctx, query, t.Token, t.Kind, t.UserID, t.Expiration)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *Repo) DeleteTokensForUser(ctx context.Context, kind models.TokenKind, userID uuid.UUID) error {
	query := `DELETE FROM tokens WHERE kind = $1 AND user_id = $2;`

	_, err := r.pool.Exec(ctx, query, kind, userID)

	return err
}

func (r *Repo) CountActiveTokens(ctx context.Context, kind models.TokenKind, userID uuid.UUID, now time.Time) (int, error) {
	const op = "storage.postgres.CountActiveTokens"

	query := `
		SELECT COUNT(*) FROM tokens
		WHERE kind = $1 AND user_id = $2 AND expiration > $3;
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, kind, userID, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return count, nil
}

func (r *Repo) UserByToken(ctx context.Context, kind models.TokenKind, token string, now time.Time) (models.User, error) {
	query := `
		SELECT u.id, u.email, u.name, u.password_hash, u.password_salt, u.confirmed, u.role
		FROM tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.kind = $1 AND t.token = $2 AND t.expiration > $3;
	`

	u, err := r.scanUser(r.pool.QueryRow(ctx, query, kind, token, now))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, storage.ErrTokenNotFound
		}
		return models.User{}, err
	}

	return u, nil
}

func (r *Repo) DeleteExpiredTokens(ctx context.Context, kind models.TokenKind, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredTokens"

	query := `DELETE FROM tokens WHERE kind = $1 AND expiration <= $2;`

	tag, err := r.pool.Exec(ctx, query, kind, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// DeleteExpiredConfirmationTokensAndUsers removes expired confirmation
// tokens and, in the same transaction, the still-unconfirmed users that
// owned them. Confirmed users keep their account even if a stray token
// expired.
func (r *Repo) DeleteExpiredConfirmationTokensAndUsers(ctx context.Context, now time.Time) (int64, int64, error) {
	const op = "storage.postgres.DeleteExpiredConfirmationTokensAndUsers"

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	usersTag, err := tx.Exec(ctx, `
		DELETE FROM users u
		USING tokens t
		WHERE t.user_id = u.id
		  AND t.kind = $1
		  AND t.expiration <= $2
		  AND u.confirmed = FALSE;
	`, models.KindConfirmation, now)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	tokensTag, err := tx.Exec(ctx,
		`DELETE FROM tokens WHERE kind = $1 AND expiration <= $2;`,
		models.KindConfirmation, now)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	return tokensTag.RowsAffected(), usersTag.RowsAffected(), nil
}

// ---- preview pins ----

func (r *Repo) SavePin(ctx context.Context, pin models.PreviewPin) error {
	const op = "storage.postgres.SavePin"

	query := `
		INSERT INTO preview_pins (pin, dashboard_id, expiration)
		VALUES ($1, $2, $3);
	`

	_, err := r.pool.Exec(ctx, query, pin.Pin, pin.DashboardID, pin.Expiration)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrPinExists
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *Repo) PinByCode(ctx context.Context, code string, now time.Time) (models.PreviewPin, error) {
	query := `
		SELECT pin, dashboard_id, expiration
		FROM preview_pins
		WHERE pin = $1 AND expiration > $2;
	`

	var pin models.PreviewPin
	err := r.pool.QueryRow(ctx, query, code, now).Scan(&pin.Pin, &pin.DashboardID, &pin.Expiration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PreviewPin{}, storage.ErrPinNotFound
		}

		return models.PreviewPin{}, err
	}

	return pin, nil
}

func (r *Repo) DeletePin(ctx context.Context, code string) error {
	query := `DELETE FROM preview_pins WHERE pin = $1;`

	_, err := r.pool.Exec(ctx, query, code)

	return err
}

func (r *Repo) DeleteExpiredPins(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredPins"

	query := `DELETE FROM preview_pins WHERE expiration <= $1;`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// ---- announcements ----

func (r *Repo) DeleteExpiredAnnouncements(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredAnnouncements"

	query := `
		DELETE FROM announcements
		WHERE is_important = FALSE AND expiration_date < $1;
	`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func (r *Repo) ListDashboards(ctx context.Context) ([]models.Dashboard, error) {
	const op = "storage.postgres.ListDashboards"

	query := `SELECT id, name, author_id, created_at, max_announcements FROM dashboards;`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var dashboards []models.Dashboard
	for rows.Next() {
		var d models.Dashboard
		if err := rows.Scan(&d.ID, &d.Name, &d.AuthorID, &d.CreatedAt, &d.MaxAnnouncements); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		dashboards = append(dashboards, d)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: %w", op, rows.Err())
	}

	return dashboards, nil
}

// TrimDashboardAnnouncements deletes the oldest non-important announcements
// beyond max, oldest first. Important announcements never count against the
// limit and are never evicted.
func (r *Repo) TrimDashboardAnnouncements(ctx context.Context, dashboardID uuid.UUID, max int) (int64, error) {
	const op = "storage.postgres.TrimDashboardAnnouncements"

	query := `
		DELETE FROM announcements
		WHERE id IN (
			SELECT id FROM announcements
			WHERE dashboard_id = $1 AND is_important = FALSE
			ORDER BY created_at DESC
			OFFSET $2
		);
	`

	tag, err := r.pool.Exec(ctx, query, dashboardID, max)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// dsn assembles the database connection string.
func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
