// Package relay moves traffic between the game server and KOOK: join and
// quit announcements, the two-way chat bridge, and verification code
// redemption in the whitelist channel.
package relay

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/meteorlabs/kookbridge/internal/config"
	"github.com/meteorlabs/kookbridge/internal/domain"
	"github.com/meteorlabs/kookbridge/internal/kook"
)

// Admission is the slice of the admission guard the bridge drives
type Admission interface {
	HandleJoin(ctx context.Context, playerName string)
	HandleQuit(playerName string)
	HandleMove(playerName string, from, to domain.Position) bool
}

// Sender posts messages to KOOK channels
type Sender interface {
	SendTextToAll(channelIDs []string, content string)
	ResolveChannel(name string) (string, bool)
}

// Broadcaster sends a chat line to every online game player
type Broadcaster interface {
	Broadcast(message string)
}

// Tracker records the identities the game server reports, so lookups for
// online players skip the resolver round trip.
type Tracker interface {
	Track(playerName string, id uuid.UUID)
	Forget(playerName string)
}

// Bridge receives session events from the game plugin, feeds the admission
// guard, and relays chat and presence both ways. It implements game.Events.
type Bridge struct {
	cfg  config.BridgeConfig
	msgs config.MessagesConfig

	admission Admission
	sender    Sender
	console   Broadcaster
	tracker   Tracker // optional

	chatChannels  []string
	eventChannels []string
	blackWorlds   map[string]bool
}

// NewBridge creates a Bridge. Logical channel names from config resolve to
// channel IDs once, up front; unknown names are logged and skipped.
func NewBridge(cfg config.BridgeConfig, msgs config.MessagesConfig, admission Admission, sender Sender, console Broadcaster, tracker Tracker) *Bridge {
	b := &Bridge{
		cfg:         cfg,
		msgs:        msgs,
		admission:   admission,
		sender:      sender,
		console:     console,
		tracker:     tracker,
		blackWorlds: make(map[string]bool),
	}
	for _, w := range cfg.BlackWorlds {
		b.blackWorlds[w] = true
	}
	b.chatChannels = b.resolveAll(cfg.ChatChannels)
	b.eventChannels = b.resolveAll(cfg.EventChannels)
	return b
}

func (b *Bridge) resolveAll(names []string) []string {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := b.sender.ResolveChannel(name)
		if !ok {
			log.WithField("channel", name).Warn("unknown logical channel in bridge config")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// PlayerJoined starts admission tracking and announces the join
func (b *Bridge) PlayerJoined(ctx context.Context, playerName, playerUUID string) {
	if b.tracker != nil && playerUUID != "" {
		if id, err := uuid.Parse(playerUUID); err == nil {
			b.tracker.Track(playerName, id)
		}
	}
	b.admission.HandleJoin(ctx, playerName)
	if b.cfg.JoinAnnounce && b.msgs.JoinAnnounce != "" && len(b.eventChannels) > 0 {
		b.sender.SendTextToAll(b.eventChannels, Render(b.msgs.JoinAnnounce, map[string]string{
			"player": playerName,
		}))
	}
}

// PlayerQuit releases admission state and announces the quit
func (b *Bridge) PlayerQuit(playerName string) {
	if b.tracker != nil {
		b.tracker.Forget(playerName)
	}
	b.admission.HandleQuit(playerName)
	if b.cfg.QuitAnnounce && b.msgs.QuitAnnounce != "" && len(b.eventChannels) > 0 {
		b.sender.SendTextToAll(b.eventChannels, Render(b.msgs.QuitAnnounce, map[string]string{
			"player": playerName,
		}))
	}
}

// PlayerChat relays a game chat line to the KOOK chat channels. Worlds on
// the blacklist stay off the record.
func (b *Bridge) PlayerChat(playerName, world, message string) {
	if !b.cfg.ChatToKook || len(b.chatChannels) == 0 {
		return
	}
	if b.blackWorlds[world] {
		return
	}
	tmpl := b.msgs.ChatToKook
	if tmpl == "" {
		tmpl = "[{player}] {message}"
	}
	b.sender.SendTextToAll(b.chatChannels, Render(tmpl, map[string]string{
		"player":  playerName,
		"world":   world,
		"message": message,
	}))
}

// PlayerMoved defers to the admission guard's movement restriction
func (b *Bridge) PlayerMoved(playerName string, from, to domain.Position) bool {
	return b.admission.HandleMove(playerName, from, to)
}

// HandleKookMessage relays chat from the bridged KOOK channels into the
// game. Register it as a bot listener.
func (b *Bridge) HandleKookMessage(_ context.Context, msg *kook.Message) {
	if !b.cfg.KookToChat || !msg.IsChannel() {
		return
	}
	bridged := false
	for _, id := range b.chatChannels {
		if id == msg.TargetID {
			bridged = true
			break
		}
	}
	if !bridged {
		return
	}

	user := msg.Author.Nickname
	if user == "" {
		user = msg.Author.Name
	}
	tmpl := b.msgs.KookToChat
	if tmpl == "" {
		tmpl = "[KOOK] {user}: {message}"
	}
	b.console.Broadcast(Render(tmpl, map[string]string{
		"user":    user,
		"message": msg.Content,
	}))
}
