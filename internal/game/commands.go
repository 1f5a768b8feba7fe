package game

import (
	"github.com/meteorlabs/kookbridge/internal/config"
	"github.com/meteorlabs/kookbridge/internal/domain"
)

// Command types understood by the plugin
const (
	CommandKick       = "kick"
	CommandTell       = "tell"
	CommandTitle      = "title"
	CommandBroadcast  = "broadcast"
	CommandCancelMove = "cancel_move"
)

// Command is one instruction sent to the game-server plugin
type Command struct {
	Type   string   `json:"type"`
	Player string   `json:"player,omitempty"`
	Reason string   `json:"reason,omitempty"`
	Lines  []string `json:"lines,omitempty"`

	// title fields
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	FadeIn   int    `json:"fade_in,omitempty"`
	Stay     int    `json:"stay,omitempty"`
	FadeOut  int    `json:"fade_out,omitempty"`

	// broadcast message
	Message string `json:"message,omitempty"`

	// position the plugin snaps the player back to on cancel_move
	Pos *domain.Position `json:"pos,omitempty"`
}

// Kick evicts a player with the given reason
func (h *Hub) Kick(playerName, reason string) {
	h.sendCommand(Command{Type: CommandKick, Player: playerName, Reason: reason})
}

// Tell sends chat lines to one player
func (h *Hub) Tell(playerName string, lines []string) {
	h.sendCommand(Command{Type: CommandTell, Player: playerName, Lines: lines})
}

// Title shows an on-screen banner to one player
func (h *Hub) Title(playerName string, t config.TitleConfig) {
	h.sendCommand(Command{
		Type:     CommandTitle,
		Player:   playerName,
		Title:    t.Title,
		Subtitle: t.Subtitle,
		FadeIn:   t.FadeIn,
		Stay:     t.Stay,
		FadeOut:  t.FadeOut,
	})
}

// Broadcast sends a chat line to every online player
func (h *Hub) Broadcast(message string) {
	h.sendCommand(Command{Type: CommandBroadcast, Message: message})
}

// CancelMove snaps a player back to the position they moved from
func (h *Hub) CancelMove(playerName string, from domain.Position) {
	h.sendCommand(Command{Type: CommandCancelMove, Player: playerName, Pos: &from})
}
