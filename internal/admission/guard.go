// Package admission enforces link-before-play on the game server: unlinked
// players get a verification code, periodic reminders, restricted movement,
// and eventually a kick if they never redeem the code.
package admission

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/meteorlabs/kookbridge/internal/config"
	"github.com/meteorlabs/kookbridge/internal/domain"
	"github.com/meteorlabs/kookbridge/internal/relay"
)

// Links is the admission-facing slice of the link service
type Links interface {
	IsLinked(ctx context.Context, playerName string) bool
	BuildVerifyCode(playerName string) (string, error)
	PendingFor(code string) (string, bool)
}

// Console sends commands back to the connected game server
type Console interface {
	Kick(playerName, reason string)
	Tell(playerName string, lines []string)
	Title(playerName string, t config.TitleConfig)
}

// entry tracks one unlinked online player
type entry struct {
	code         string
	restricted   bool
	kickTimer    *time.Timer
	stopReminder chan struct{}
}

// Guard watches player sessions and applies the admission policy. One Guard
// serves the whole server; all methods are safe for concurrent use.
type Guard struct {
	cfg     config.WhitelistConfig
	msgs    config.MessagesConfig
	channel string // display name of the redemption channel

	links   Links
	console Console

	mu      sync.Mutex
	online  map[string]bool
	entries map[string]*entry

	// reuse remembers the code last issued to a player so a quick
	// rejoin does not invalidate the code they are about to redeem
	reuse *expirable.LRU[string, string]
}

// NewGuard creates a Guard. channelName is the human-readable name of the
// KOOK channel where verification codes are redeemed.
func NewGuard(cfg config.WhitelistConfig, msgs config.MessagesConfig, channelName string, links Links, console Console) *Guard {
	return &Guard{
		cfg:     cfg,
		msgs:    msgs,
		channel: channelName,
		links:   links,
		console: console,
		online:  make(map[string]bool),
		entries: make(map[string]*entry),
		reuse:   expirable.NewLRU[string, string](500, nil, 10*time.Minute),
	}
}

// HandleJoin starts admission tracking for a joining player. The link
// lookup may hit the network, so the check runs off the session goroutine.
func (g *Guard) HandleJoin(ctx context.Context, playerName string) {
	if !g.cfg.Enabled {
		return
	}
	g.mu.Lock()
	g.online[playerName] = true
	g.mu.Unlock()
	go g.admit(ctx, playerName)
}

func (g *Guard) admit(ctx context.Context, playerName string) {
	if g.links.IsLinked(ctx, playerName) {
		// A linked player may still carry state from an earlier visit
		g.clear(playerName)
		return
	}

	code := g.codeFor(playerName)
	if code == "" {
		log.WithField("player", playerName).Error("could not issue verification code")
		return
	}

	g.mu.Lock()
	if !g.online[playerName] {
		// quit arrived while the link check was in flight
		g.mu.Unlock()
		return
	}
	if old, ok := g.entries[playerName]; ok {
		old.cancelLocked()
	}
	e := &entry{code: code, restricted: g.cfg.RestrictMovement}
	if g.cfg.KickEnabled {
		e.kickTimer = time.AfterFunc(g.cfg.KickDelay, func() {
			g.deadline(playerName, code)
		})
	}
	if g.cfg.ReminderEnabled && g.cfg.ReminderInterval > 0 {
		e.stopReminder = make(chan struct{})
		go g.remind(ctx, playerName, code, e.stopReminder)
	}
	g.entries[playerName] = e
	g.mu.Unlock()

	g.prompt(playerName, code)
	log.WithFields(log.Fields{
		"player":     playerName,
		"kick_in":    g.cfg.KickDelay,
		"restricted": g.cfg.RestrictMovement,
	}).Info("unlinked player joined, admission tracking started")
}

// codeFor returns the player's still-live previous code, or issues a new one
func (g *Guard) codeFor(playerName string) string {
	if code, ok := g.reuse.Get(playerName); ok {
		if owner, live := g.links.PendingFor(code); live && owner == playerName {
			return code
		}
		g.reuse.Remove(playerName)
	}
	code, err := g.links.BuildVerifyCode(playerName)
	if err != nil {
		log.WithError(err).WithField("player", playerName).Error("verification code issue failed")
		return ""
	}
	g.reuse.Add(playerName, code)
	return code
}

func (g *Guard) vars(playerName, code string) map[string]string {
	return map[string]string{
		"player":             playerName,
		"verifyCode":         code,
		"channel_name":       g.channel,
		"kick_delay_seconds": strconv.Itoa(int(g.cfg.KickDelay / time.Second)),
	}
}

func (g *Guard) prompt(playerName, code string) {
	vars := g.vars(playerName, code)
	if len(g.msgs.PromptLink) > 0 {
		g.console.Tell(playerName, relay.RenderAll(g.msgs.PromptLink, vars))
	}
	t := g.msgs.PromptTitle
	if t.Title != "" || t.Subtitle != "" {
		t.Title = relay.Render(t.Title, vars)
		t.Subtitle = relay.Render(t.Subtitle, vars)
		g.console.Title(playerName, t)
	}
}

// remind re-sends the prompt until the player links or leaves
func (g *Guard) remind(ctx context.Context, playerName, code string, stop chan struct{}) {
	ticker := time.NewTicker(g.cfg.ReminderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if g.links.IsLinked(ctx, playerName) {
				g.clear(playerName)
				return
			}
			g.prompt(playerName, code)
		}
	}
}

// deadline fires when the kick delay elapses. The link state is verified
// once more before kicking: a redemption that raced the timer must win.
func (g *Guard) deadline(playerName, code string) {
	if g.links.IsLinked(context.Background(), playerName) {
		g.clear(playerName)
		return
	}
	g.clear(playerName)
	reason := relay.Render(g.msgs.KickUnlinked, g.vars(playerName, code))
	g.console.Kick(playerName, reason)
	log.WithField("player", playerName).Info("kicked unlinked player at deadline")
}

// HandleQuit releases all admission state for a leaving player
func (g *Guard) HandleQuit(playerName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.online, playerName)
	if e, ok := g.entries[playerName]; ok {
		e.cancelLocked()
		delete(g.entries, playerName)
	}
}

// HandleMove reports whether the movement should be cancelled. Rotating in
// place is allowed; leaving the block is not while restricted.
func (g *Guard) HandleMove(playerName string, from, to domain.Position) bool {
	if from.SameBlock(to) {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[playerName]
	return ok && e.restricted
}

// NotifyLinked clears tracking as soon as a player's code is redeemed
func (g *Guard) NotifyLinked(playerName string) {
	g.reuse.Remove(playerName)
	g.clear(playerName)
}

func (g *Guard) clear(playerName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[playerName]; ok {
		e.cancelLocked()
		delete(g.entries, playerName)
	}
}

// Close cancels tracking for every player, for shutdown
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, e := range g.entries {
		e.cancelLocked()
		delete(g.entries, name)
	}
	g.online = make(map[string]bool)
}

func (e *entry) cancelLocked() {
	if e.kickTimer != nil {
		e.kickTimer.Stop()
		e.kickTimer = nil
	}
	if e.stopReminder != nil {
		close(e.stopReminder)
		e.stopReminder = nil
	}
}
