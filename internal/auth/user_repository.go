package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// UserRepository persists person accounts.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository is the SQLite-backed implementation of UserRepository.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository wraps db in a SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const selectUser = `SELECT id, username, display_name, email, password_hash,
	is_active, created_at, updated_at FROM users`

// userRow mirrors the users table row before conversion to a User.
// Timestamps are stored as RFC 3339 text and email may be NULL.
type userRow struct {
	id, username, displayName string
	email                     sql.NullString
	passwordHash              string
	isActive                  int
	createdAt, updatedAt      string
}

func (row *userRow) scan(s interface{ Scan(...any) error }) error {
	return s.Scan(&row.id, &row.username, &row.displayName, &row.email,
		&row.passwordHash, &row.isActive, &row.createdAt, &row.updatedAt)
}

func (row *userRow) toUser() *User {
	u := &User{
		ID:           row.id,
		Username:     row.username,
		DisplayName:  row.displayName,
		Email:        row.email.String,
		PasswordHash: row.passwordHash,
		IsActive:     row.isActive != 0,
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, row.createdAt) //nolint:errcheck // stored by us
	u.UpdatedAt, _ = time.Parse(time.RFC3339, row.updatedAt) //nolint:errcheck // stored by us
	return u
}

// Create inserts a new person account, generating an ID when absent.
// A duplicate username maps to ErrUsernameExists.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if !IsValidUsername(user.Username) {
		return ErrInvalidUsername
	}
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Truncate(time.Second)
	user.CreatedAt = now
	user.UpdatedAt = now

	var email any
	if user.Email != "" {
		email = user.Email
	}
	active := 0
	if user.IsActive {
		active = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, email, password_hash, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.DisplayName, email,
		user.PasswordHash, active, now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.queryOne(ctx, selectUser+" WHERE id = ?", id)
}

// GetByUsername retrieves a user by username.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.queryOne(ctx, selectUser+" WHERE username = ?", username)
}

// List returns every user, oldest account first.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, selectUser+" ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var row userRow
		if err := row.scan(rows); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *row.toUser())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// Update rewrites the mutable profile fields: display name, email and
// the active flag. Username and password are managed separately.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	var email any
	if user.Email != "" {
		email = user.Email
	}
	active := 0
	if user.IsActive {
		active = 1
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, email = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		user.DisplayName, email, active, user.UpdatedAt.Format(time.RFC3339), user.ID,
	)
	return touched(res, err, "updating user")
}

// UpdatePassword swaps in a new password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC().Format(time.RFC3339), id,
	)
	return touched(res, err, "updating password")
}

// Delete removes a person account.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	return touched(res, err, "deleting user")
}

// Count reports the number of person accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

func (r *SQLiteUserRepository) queryOne(ctx context.Context, query string, args ...any) (*User, error) {
	var row userRow
	if err := row.scan(r.db.QueryRowContext(ctx, query, args...)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return row.toUser(), nil
}

// touched converts an exec result into ErrUserNotFound when no row matched.
func touched(res sql.Result, err error, verb string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", verb, err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
