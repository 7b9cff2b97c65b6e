package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("user not found")

// User mirrors an identity owned by the external provider. The id is the
// externally issued one, so the row can participate in local joins
// (carts, orders) without a mapping table.
type User struct {
	ID            string     `json:"id" db:"user_id"`
	Email         string     `json:"email" db:"email"`
	Phone         string     `json:"phone" db:"phone"`
	Role          string     `json:"role" db:"role"`
	FirstName     string     `json:"firstName" db:"first_name"`
	LastName      string     `json:"lastName" db:"last_name"`
	Verified      bool       `json:"verified" db:"verified"`
	Active        bool       `json:"active" db:"active"`
	EmailVerified bool       `json:"emailVerified" db:"email_verified"`
	PhoneVerified bool       `json:"phoneVerified" db:"phone_verified"`
	LastLoginAt   *time.Time `json:"lastLoginAt" db:"last_login_at"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`
}

type UserUp struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Phone     *string `json:"phone"`
}

// Profile is what the identity provider knows about an authenticated id.
type Profile struct {
	ID            string
	Email         string
	Phone         string
	Role          string
	FirstName     string
	LastName      string
	EmailVerified bool
}

// Provider is the external identity provider, source of truth for
// credentials and profile attributes.
type Provider interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
}

// ErrProfileNotFound is returned by a Provider when the id is unknown
// upstream.
var ErrProfileNotFound = errors.New("profile not found")

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (User, error) {
	const q = `SELECT * FROM users WHERE user_id = $1`

	var u User
	if err := sqlx.GetContext(ctx, db, &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("fetching user[%s]: %w", id, err)
	}
	return u, nil
}

func Create(ctx context.Context, db sqlx.ExtContext, u User) error {
	const q = `
	INSERT INTO users
		(user_id, email, phone, role, first_name, last_name, verified,
		active, email_verified, phone_verified, last_login_at, created_at, updated_at)
	VALUES
		(:user_id, :email, :phone, :role, :first_name, :last_name, :verified,
		:active, :email_verified, :phone_verified, :last_login_at, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, u); err != nil {
		return fmt.Errorf("creating user[%s]: %w", u.ID, err)
	}
	return nil
}

func Update(ctx context.Context, db sqlx.ExtContext, u User) error {
	const q = `
	UPDATE users SET
		phone = :phone,
		first_name = :first_name,
		last_name = :last_name,
		updated_at = :updated_at
	WHERE user_id = :user_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, u); err != nil {
		return fmt.Errorf("updating user[%s]: %w", u.ID, err)
	}
	return nil
}

func UpdateLastLogin(ctx context.Context, db sqlx.ExtContext, id string, at time.Time) error {
	const q = `UPDATE users SET last_login_at = $2 WHERE user_id = $1`

	if _, err := db.ExecContext(ctx, q, id, at); err != nil {
		return fmt.Errorf("updating last login of user[%s]: %w", id, err)
	}
	return nil
}
