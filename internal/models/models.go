package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash []byte
	PasswordSalt []byte
	Confirmed    bool
	Role         Role
}

// TokenKind distinguishes the two single-use token tables sharing one schema.
type TokenKind string

const (
	KindConfirmation  TokenKind = "confirmation"
	KindPasswordReset TokenKind = "password_reset"
)

type Token struct {
	Token      string
	Kind       TokenKind
	UserID     uuid.UUID
	Expiration time.Time
}

// PreviewPin grants unauthenticated one-time read access to a dashboard.
// The pin itself is the primary key: codes are globally unique, not
// per-dashboard.
type PreviewPin struct {
	Pin         string
	DashboardID uuid.UUID
	Expiration  time.Time
}

type Dashboard struct {
	ID               uuid.UUID
	Name             string
	AuthorID         uuid.UUID
	CreatedAt        time.Time
	MaxAnnouncements int
}

type Announcement struct {
	ID             uuid.UUID
	DashboardID    uuid.UUID
	UserID         uuid.UUID
	Title          string
	CreatedAt      time.Time
	ExpirationDate time.Time
	IsImportant    bool
}

// EmailMessage is the payload handed to the mail dispatcher and, in queue
// mode, published to the broker for an external sender.
type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
