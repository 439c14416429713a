package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role enumerates user roles (spec §3).
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents an application account.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	Role         Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUser inserts a new user row.
func CreateUser(ctx context.Context, ex Execer, u User) error {
	now := time.Now().UTC()
	createdAt, updatedAt := u.CreatedAt, u.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO users (id, email, username, password_hash, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, strings.ToLower(u.Email), u.Username, u.PasswordHash, string(u.Role), u.Active, createdAt, updatedAt)
	if err != nil && isUniqueConstraint(err) {
		return ErrConflict
	}
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &role, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

// GetUserByEmail returns a user by email, or nil if not found.
func GetUserByEmail(ctx context.Context, ex Execer, email string) (*User, error) {
	row := ex.QueryRowContext(ctx, `
		SELECT id, email, username, password_hash, role, active, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	return scanUser(row)
}

// GetUserByID returns a user by id, or nil if not found.
func GetUserByID(ctx context.Context, ex Execer, id string) (*User, error) {
	row := ex.QueryRowContext(ctx, `
		SELECT id, email, username, password_hash, role, active, created_at, updated_at
		FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

// ListUsers returns users ordered newest-first, paginated.
func ListUsers(ctx context.Context, ex Execer, limit, offset int) ([]User, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT id, email, username, password_hash, role, active, created_at, updated_at
		FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var role string
		if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &role, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = Role(role)
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetUserRole updates a user's role (admin action).
func SetUserRole(ctx context.Context, ex Execer, id string, role Role) error {
	_, err := ex.ExecContext(ctx, `UPDATE users SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(role), id)
	return err
}

// SetUserActive updates a user's active flag (admin action).
func SetUserActive(ctx context.Context, ex Execer, id string, active bool) error {
	_, err := ex.ExecContext(ctx, `UPDATE users SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, active, id)
	return err
}

// DeleteUser removes a user row. Callers are responsible for cascading to
// the owned wallet and positions (spec §3 ownership / §9 Open Question 5);
// wallet_transactions and trades are left in place, referencing the now-gone
// user id, since they are the append-only audit trail.
func DeleteUser(ctx context.Context, ex Execer, id string) error {
	_, err := ex.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
