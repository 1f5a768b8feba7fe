package relay

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/meteorlabs/kookbridge/internal/domain"
	"github.com/meteorlabs/kookbridge/internal/identity"
	"github.com/meteorlabs/kookbridge/internal/kook"
	"github.com/meteorlabs/kookbridge/internal/link"
)

// Links is the redemption-facing slice of the link service
type Links interface {
	IsLinked(ctx context.Context, playerName string) bool
	KookUserIsLinked(ctx context.Context, kookID string) bool
	Link(ctx context.Context, playerName string, user domain.KookUser) (*domain.LinkRecord, error)
	Unlink(ctx context.Context, playerName string) error
	PendingFor(code string) (string, bool)
}

// Replier answers messages in the redemption channel
type Replier interface {
	SendText(ctx context.Context, channelID, content, quote string) error
	UserView(ctx context.Context, userID string) (*domain.KookUser, error)
	HasAdminRole(ctx context.Context, userID string) bool
}

// Teller sends chat lines to one game player
type Teller interface {
	Tell(playerName string, lines []string)
}

// Notifier learns that a player's code was redeemed
type Notifier interface {
	NotifyLinked(playerName string)
}

// LinkListener redeems verification codes posted in the whitelist channel
// and handles the admin unbind command there. Messages in other channels
// and direct messages are ignored; redemption is channel-only so the
// guild's moderators can see who linked what.
type LinkListener struct {
	links     Links
	replier   Replier
	teller    Teller
	notifier  Notifier
	channelID string
	channel   string // display name
	msgs      messages
}

type messages struct {
	linkSuccess   string
	linkSuccessMC []string
	codeInvalid   string
	alreadyBound  string
}

// NewLinkListener creates a LinkListener bound to one redemption channel
func NewLinkListener(links Links, replier Replier, teller Teller, notifier Notifier,
	channelID, channelName, linkSuccess string, linkSuccessMC []string, codeInvalid, alreadyBound string) *LinkListener {
	return &LinkListener{
		links:     links,
		replier:   replier,
		teller:    teller,
		notifier:  notifier,
		channelID: channelID,
		channel:   channelName,
		msgs: messages{
			linkSuccess:   linkSuccess,
			linkSuccessMC: linkSuccessMC,
			codeInvalid:   codeInvalid,
			alreadyBound:  alreadyBound,
		},
	}
}

// HandleMessage is registered as a bot listener. Redemption can involve
// REST calls, so the work leaves the gateway read goroutine immediately.
func (l *LinkListener) HandleMessage(ctx context.Context, msg *kook.Message) {
	if !msg.IsChannel() || msg.TargetID != l.channelID {
		return
	}
	if msg.Type != kook.MessageTypeText && msg.Type != kook.MessageTypeKMarkdown {
		return
	}
	go l.process(ctx, msg)
}

func (l *LinkListener) process(ctx context.Context, msg *kook.Message) {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}

	if rest, ok := strings.CutPrefix(content, "/unbind "); ok {
		l.adminUnbind(ctx, msg, strings.TrimSpace(rest))
		return
	}

	l.redeem(ctx, msg, strings.ToUpper(content))
}

func (l *LinkListener) redeem(ctx context.Context, msg *kook.Message, code string) {
	playerName, ok := l.links.PendingFor(code)
	if !ok {
		l.reply(ctx, msg, Render(l.msgs.codeInvalid, map[string]string{"user": msg.Author.Name}))
		return
	}

	if l.links.IsLinked(ctx, playerName) || l.links.KookUserIsLinked(ctx, msg.AuthorID) {
		l.reply(ctx, msg, Render(l.msgs.alreadyBound, map[string]string{
			"player": playerName,
			"user":   msg.Author.Name,
		}))
		return
	}

	user := msg.Author
	if user.ID == "" {
		user.ID = msg.AuthorID
	}
	if user.Name == "" {
		// gateway payload was thin, fall back to the profile endpoint
		if full, err := l.replier.UserView(ctx, msg.AuthorID); err == nil {
			user = *full
		}
	}

	rec, err := l.links.Link(ctx, playerName, user)
	if err != nil {
		switch {
		case errors.Is(err, link.ErrPlayerLinked), errors.Is(err, link.ErrKookUserLinked):
			l.reply(ctx, msg, Render(l.msgs.alreadyBound, map[string]string{
				"player": playerName,
				"user":   user.Name,
			}))
		case errors.Is(err, identity.ErrUnresolved):
			l.reply(ctx, msg, Render(l.msgs.codeInvalid, map[string]string{"user": user.Name}))
		default:
			log.WithError(err).WithField("player", playerName).Error("code redemption failed")
		}
		return
	}

	vars := map[string]string{
		"player":       rec.PlayerName,
		"user":         user.Name,
		"channel_name": l.channel,
	}
	l.reply(ctx, msg, Render(l.msgs.linkSuccess, vars))
	if len(l.msgs.linkSuccessMC) > 0 {
		l.teller.Tell(rec.PlayerName, RenderAll(l.msgs.linkSuccessMC, vars))
	}
	l.notifier.NotifyLinked(rec.PlayerName)
	log.WithFields(log.Fields{"player": rec.PlayerName, "kook_id": rec.KookID}).Info("verification code redeemed")
}

func (l *LinkListener) adminUnbind(ctx context.Context, msg *kook.Message, playerName string) {
	if playerName == "" {
		return
	}
	if !l.replier.HasAdminRole(ctx, msg.AuthorID) {
		l.reply(ctx, msg, "You are not allowed to do that.")
		return
	}
	if err := l.links.Unlink(ctx, playerName); err != nil {
		if errors.Is(err, link.ErrNotLinked) || errors.Is(err, identity.ErrUnresolved) {
			l.reply(ctx, msg, playerName+" is not linked.")
		} else {
			log.WithError(err).WithField("player", playerName).Error("admin unbind failed")
		}
		return
	}
	l.reply(ctx, msg, "Unlinked "+playerName+".")
	log.WithFields(log.Fields{"player": playerName, "by": msg.AuthorID}).Info("admin unbound player")
}

func (l *LinkListener) reply(ctx context.Context, msg *kook.Message, content string) {
	if content == "" {
		return
	}
	if err := l.replier.SendText(ctx, l.channelID, content, msg.MsgID); err != nil {
		log.WithError(err).WithField("channel", l.channelID).Error("reply send failed")
	}
}
