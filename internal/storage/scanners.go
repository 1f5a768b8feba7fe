package storage

import (
	"database/sql"
	"time"

	"github.com/meteorlabs/kookbridge/internal/domain"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row *sql.Row) (*domain.LinkRecord, error) {
	rec, err := scanLinkRows(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

func scanLinkRows(row rowScanner) (*domain.LinkRecord, error) {
	var rec domain.LinkRecord
	var userName, avatar, nickName sql.NullString
	var joinedAt sql.NullTime
	if err := row.Scan(&rec.PlayerUUID, &rec.KookID, &rec.PlayerName,
		&userName, &avatar, &rec.MobileVerified, &joinedAt, &nickName); err != nil {
		return nil, err
	}
	rec.UserName = userName.String
	rec.Avatar = avatar.String
	rec.NickName = nickName.String
	if joinedAt.Valid {
		rec.JoinedAt = joinedAt.Time.UTC()
	} else {
		rec.JoinedAt = time.Time{}
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
