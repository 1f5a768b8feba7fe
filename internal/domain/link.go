package domain

import "time"

// LinkRecord is the persisted pairing of a game identity with a KOOK account.
// PlayerUUID is the rename-independent key; PlayerName is the display name
// current at the last time the record was read or written.
type LinkRecord struct {
	PlayerUUID     string    `json:"player_uuid"`
	KookID         string    `json:"kook_id"`
	PlayerName     string    `json:"player_name"`
	UserName       string    `json:"user_name,omitempty"`
	Avatar         string    `json:"avatar,omitempty"`
	MobileVerified bool      `json:"mobile_verified"`
	JoinedAt       time.Time `json:"joined_at"`
	NickName       string    `json:"nick_name,omitempty"`
}

// KookUser carries the profile fields of the chat-side account at bind time.
// Descriptive only; the authoritative keys are PlayerUUID and KookID.
type KookUser struct {
	ID             string
	Name           string
	Avatar         string
	MobileVerified bool
	Nickname       string
}

// User is an admin account for the bridge's HTTP API and CLI.
type User struct {
	ID                     int64     `json:"id"`
	Username               string    `json:"username"`
	PasswordHash           string    `json:"-"`
	IsAdmin                bool      `json:"is_admin"`
	PasswordChangeRequired bool      `json:"password_change_required"`
	CreatedAt              time.Time `json:"created_at"`
}
