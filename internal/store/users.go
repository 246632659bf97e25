package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// User is one account row. The password hash is the server-side bcrypt
// wrap of the client-supplied credential; rows created before the KDF was
// introduced hold the credential verbatim until the next login migrates
// them.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Nickname     string
	Email        string
	AvatarFile   string
	Signature    string
	CreatedAt    time.Time
}

const userColumns = `id, username, password_hash, nickname, COALESCE(email, ''), avatar_file, signature, created_at`

func scanUser(row *sql.Row) (User, error) {
	var (
		u         User
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Nickname, &u.Email, &u.AvatarFile, &u.Signature, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return u, nil
}

// CreateUser registers a new account. Nickname defaults to the username;
// an empty email is stored as NULL so the unique index only binds real
// addresses.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, email string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, fmt.Errorf("username is required")
	}
	if passwordHash == "" {
		return User{}, fmt.Errorf("password is required")
	}

	var emailVal any
	if e := strings.TrimSpace(email); e != "" {
		emailVal = e
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, password_hash, nickname, email) VALUES(?, ?, ?, ?)`,
		username, passwordHash, username, emailVal,
	)
	if isUniqueViolation(err, "users.username") {
		return User{}, ErrUsernameTaken
	}
	if isUniqueViolation(err, "users.email") {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.UserByID(ctx, id)
}

// UserByID returns the user with the given id, or ErrNotFound.
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// UserByUsername returns the user with the given login handle, or ErrNotFound.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// SearchUser returns the unique user whose numeric id, username, or
// nickname exactly equals query.
func (s *Store) SearchUser(ctx context.Context, query string) (User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return User{}, ErrNotFound
	}

	if id, err := strconv.ParseInt(query, 10, 64); err == nil {
		if u, err := s.UserByID(ctx, id); err == nil {
			return u, nil
		}
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? OR nickname = ? LIMIT 1`,
		query, query,
	)
	return scanUser(row)
}

// UpdateCredential rewrites the stored password hash.
func (s *Store) UpdateCredential(ctx context.Context, userID int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID,
	)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ProfileUpdate carries the optional fields of update_profile. Nil means
// leave unchanged.
type ProfileUpdate struct {
	Nickname  *string
	Email     *string
	Signature *string
}

// UpdateProfile applies a partial profile update.
func (s *Store) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) error {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if upd.Nickname != nil {
		sets = append(sets, "nickname = ?")
		args = append(args, strings.TrimSpace(*upd.Nickname))
	}
	if upd.Email != nil {
		sets = append(sets, "email = ?")
		if e := strings.TrimSpace(*upd.Email); e != "" {
			args = append(args, e)
		} else {
			args = append(args, nil)
		}
	}
	if upd.Signature != nil {
		sets = append(sets, "signature = ?")
		args = append(args, *upd.Signature)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, userID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
	)
	if isUniqueViolation(err, "users.email") {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAvatarFile records the on-disk avatar filename for a user.
func (s *Store) SetAvatarFile(ctx context.Context, userID int64, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET avatar_file = ? WHERE id = ?`, name, userID,
	)
	if err != nil {
		return fmt.Errorf("set avatar file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
