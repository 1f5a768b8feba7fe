package domain

import "time"

// Event types reported by the game-server plugin
const (
	EventPlayerJoin = "player_join"
	EventPlayerQuit = "player_quit"
	EventPlayerMove = "player_move"
	EventPlayerChat = "player_chat"
)

// SessionEvent is one event received over the plugin connection
type SessionEvent struct {
	Type       string    `json:"event"`
	PlayerName string    `json:"player"`
	PlayerUUID string    `json:"uuid,omitempty"` // join events, as reported by the server
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message,omitempty"` // chat events
	World      string    `json:"world,omitempty"`   // chat events
	From       *Position `json:"from,omitempty"`    // move events
	To         *Position `json:"to,omitempty"`      // move events
}

// Position is a block-granularity location. Orientation changes that stay
// within the same block do not count as movement.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// SameBlock reports whether two positions occupy the same block.
func (p Position) SameBlock(o Position) bool {
	return p.X == o.X && p.Y == o.Y && p.Z == o.Z
}
