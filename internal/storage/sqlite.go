package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/meteorlabs/kookbridge/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string.
// The Z suffix ensures the Go sqlite driver parses it back as UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Link record methods ---

const linkColumns = "player_uuid, kook_id, player_name, user_name, avatar, mobile_verified, joined_at, nick_name"

// GetLinkByUUID returns the link record for a stable player identifier.
func (s *Store) GetLinkByUUID(ctx context.Context, playerUUID string) (*domain.LinkRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM kook_links WHERE player_uuid = ? LIMIT 1
	`, playerUUID)
	return scanLink(row)
}

// GetLinkByKookID returns the link record for a KOOK account identifier.
func (s *Store) GetLinkByKookID(ctx context.Context, kookID string) (*domain.LinkRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM kook_links WHERE kook_id = ? LIMIT 1
	`, kookID)
	return scanLink(row)
}

// InsertLink creates a new link record
func (s *Store) InsertLink(ctx context.Context, rec *domain.LinkRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kook_links (`+linkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.PlayerUUID, rec.KookID, rec.PlayerName,
		nullString(rec.UserName), nullString(rec.Avatar), rec.MobileVerified,
		formatTimestamp(rec.JoinedAt), nullString(rec.NickName))
	if err != nil {
		return fmt.Errorf("inserting link: %w", err)
	}
	return nil
}

// DeleteLinkByUUID removes a link record by stable player identifier.
// Returns ErrNotFound if no row was deleted.
func (s *Store) DeleteLinkByUUID(ctx context.Context, playerUUID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kook_links WHERE player_uuid = ?`, playerUUID)
	if err != nil {
		return fmt.Errorf("deleting link: %w", err)
	}
	return checkAffected(res)
}

// DeleteLinkByKookID removes a link record by KOOK account identifier.
func (s *Store) DeleteLinkByKookID(ctx context.Context, kookID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kook_links WHERE kook_id = ?`, kookID)
	if err != nil {
		return fmt.Errorf("deleting link: %w", err)
	}
	return checkAffected(res)
}

// UpdatePlayerName corrects the stored display name after a detected rename
func (s *Store) UpdatePlayerName(ctx context.Context, playerUUID, playerName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE kook_links SET player_name = ? WHERE player_uuid = ?
	`, playerName, playerUUID)
	if err != nil {
		return fmt.Errorf("updating player name: %w", err)
	}
	return checkAffected(res)
}

// ListLinks returns all link records ordered by player name
func (s *Store) ListLinks(ctx context.Context) ([]domain.LinkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM kook_links ORDER BY player_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.LinkRecord
	for rows.Next() {
		rec, err := scanLinkRows(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *rec)
	}
	return links, rows.Err()
}

// CountLinks returns the number of link records
func (s *Store) CountLinks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kook_links`).Scan(&n)
	return n, err
}

// --- User methods ---

const userColumns = "id, username, password_hash, is_admin, password_change_required, created_at"

// CreateUser inserts a new admin account
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, is_admin, password_change_required)
		VALUES (?, ?, ?, ?)
	`, u.Username, u.PasswordHash, u.IsAdmin, u.PasswordChangeRequired)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

// GetUserByUsername returns a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE username = ? LIMIT 1
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.PasswordChangeRequired, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users ordered by username
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.PasswordChangeRequired, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user by username
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return checkAffected(res)
}

// UpdateUserPassword sets a new password hash and the change-required flag
func (s *Store) UpdateUserPassword(ctx context.Context, username, passwordHash string, changeRequired bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, password_change_required = ? WHERE username = ?
	`, passwordHash, changeRequired, username)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return checkAffected(res)
}

// SetUserAdmin toggles the admin flag for a user
func (s *Store) SetUserAdmin(ctx context.Context, username string, isAdmin bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin = ? WHERE username = ?`, isAdmin, username)
	if err != nil {
		return fmt.Errorf("updating admin flag: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
