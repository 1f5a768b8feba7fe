// Package kook is a minimal KOOK (kaiheila) bot client: the REST calls
// the bridge needs plus a compressed websocket gateway for inbound
// channel and person messages.
package kook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/meteorlabs/kookbridge/internal/config"
	"github.com/meteorlabs/kookbridge/internal/domain"
)

const defaultBaseURL = "https://www.kookapp.cn/api/v3"

// Message content types on the KOOK wire
const (
	MessageTypeText      = 1
	MessageTypeKMarkdown = 9
	MessageTypeCard      = 10
)

// Message is an inbound channel or person message
type Message struct {
	ChannelType string // "GROUP" for channels, "PERSON" for direct messages
	Type        int
	TargetID    string // channel id, or the counterpart for person messages
	AuthorID    string
	Content     string
	MsgID       string
	Author      domain.KookUser
}

// IsChannel reports whether the message was posted in a guild channel
func (m *Message) IsChannel() bool { return m.ChannelType == "GROUP" }

// Listener receives inbound messages. Listeners run on the gateway read
// goroutine and must not block.
type Listener func(ctx context.Context, msg *Message)

// Bot is a KOOK bot session. Connect starts the gateway in the background;
// REST methods work independently of gateway state.
type Bot struct {
	token    string
	guildID  string
	channels map[string]string
	baseURL  string
	http     *http.Client

	invalid atomic.Bool

	mu        sync.RWMutex
	listeners []Listener

	adminRole  string
	roleMu     sync.Mutex
	adminRoles map[int64]bool // nil until the guild role list loads

	gw *gateway
}

// NewBot creates a Bot from configuration. It does not connect.
func NewBot(cfg config.KookConfig) *Bot {
	b := &Bot{
		token:     cfg.BotToken,
		guildID:   cfg.GuildID,
		channels:  cfg.Channels,
		baseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 10 * time.Second},
		adminRole: cfg.AdminRole,
	}
	b.gw = newGateway(b, cfg.Compress)
	return b
}

// Connect starts the gateway session. It returns immediately; connection
// failures mark the bot invalid and are logged, they never stop the bridge.
func (b *Bot) Connect(ctx context.Context) {
	go b.gw.run(ctx)
}

// IsInvalid reports whether the bot gave up on its gateway session
func (b *Bot) IsInvalid() bool { return b.invalid.Load() }

// Close unsubscribes all listeners and tears down the gateway connection
func (b *Bot) Close() {
	b.UnregisterAllListeners()
	b.gw.close()
}

// RegisterListener subscribes to inbound messages
func (b *Bot) RegisterListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// UnregisterAllListeners drops every subscription. Messages already being
// dispatched still reach the listeners they were snapshotted with.
func (b *Bot) UnregisterAllListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = nil
}

func (b *Bot) dispatch(ctx context.Context, msg *Message) {
	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, msg)
	}
}

// ResolveChannel maps a logical channel name from config to a channel ID
func (b *Bot) ResolveChannel(name string) (string, bool) {
	id, ok := b.channels[name]
	return id, ok
}

// apiResponse is the envelope every REST endpoint returns
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (b *Bot) get(ctx context.Context, path string, query url.Values, out any) error {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return b.do(req, out)
}

func (b *Bot) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, out)
}

func (b *Bot) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bot "+b.token)

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("kook api request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("kook api response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kook api %s: status %d", req.URL.Path, resp.StatusCode)
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("kook api %s: decoding envelope: %w", req.URL.Path, err)
	}
	if env.Code != 0 {
		return fmt.Errorf("kook api %s: code %d: %s", req.URL.Path, env.Code, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("kook api %s: decoding data: %w", req.URL.Path, err)
		}
	}
	return nil
}

// SendText posts a plain text message to a channel. quote optionally
// references the message being replied to.
func (b *Bot) SendText(ctx context.Context, channelID, content, quote string) error {
	body := map[string]any{
		"target_id": channelID,
		"content":   content,
		"type":      MessageTypeText,
	}
	if quote != "" {
		body["quote"] = quote
	}
	return b.post(ctx, "/message/create", body, nil)
}

// SendCard posts a card message. content is the serialized card JSON the
// KOOK API expects.
func (b *Bot) SendCard(ctx context.Context, channelID, content string) error {
	body := map[string]any{
		"target_id": channelID,
		"content":   content,
		"type":      MessageTypeCard,
	}
	return b.post(ctx, "/message/create", body, nil)
}

// SendTextToAll posts content to every channel, each in its own goroutine.
// Delivery is best effort; failures are logged per channel.
func (b *Bot) SendTextToAll(channelIDs []string, content string) {
	if b.IsInvalid() {
		return
	}
	for _, id := range channelIDs {
		go func(channelID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := b.SendText(ctx, channelID, content, ""); err != nil {
				log.WithError(err).WithField("channel", channelID).Error("kook message send failed")
			}
		}(id)
	}
}

// UserView fetches a user's guild profile
func (b *Bot) UserView(ctx context.Context, userID string) (*domain.KookUser, error) {
	q := url.Values{"user_id": {userID}}
	if b.guildID != "" {
		q.Set("guild_id", b.guildID)
	}
	var u struct {
		ID             string  `json:"id"`
		Username       string  `json:"username"`
		Avatar         string  `json:"avatar"`
		MobileVerified bool    `json:"mobile_verified"`
		Nickname       string  `json:"nickname"`
		Roles          []int64 `json:"roles"`
	}
	if err := b.get(ctx, "/user/view", q, &u); err != nil {
		return nil, err
	}
	return &domain.KookUser{
		ID:             u.ID,
		Name:           u.Username,
		Avatar:         u.Avatar,
		MobileVerified: u.MobileVerified,
		Nickname:       u.Nickname,
	}, nil
}

// adminRoleIDs returns the guild role IDs that carry the admin role name.
// The mapping is cached after the first successful fetch; a failed fetch
// is retried on the next call rather than cached.
func (b *Bot) adminRoleIDs(ctx context.Context) map[int64]bool {
	b.roleMu.Lock()
	defer b.roleMu.Unlock()
	if b.adminRoles != nil {
		return b.adminRoles
	}

	var data struct {
		Items []struct {
			RoleID int64  `json:"role_id"`
			Name   string `json:"name"`
		} `json:"items"`
	}
	q := url.Values{"guild_id": {b.guildID}}
	if err := b.get(ctx, "/guild-role/list", q, &data); err != nil {
		log.WithError(err).Error("loading guild roles")
		return nil
	}

	roles := make(map[int64]bool)
	for _, r := range data.Items {
		if r.Name == b.adminRole {
			roles[r.RoleID] = true
		}
	}
	b.adminRoles = roles
	return roles
}

// HasAdminRole reports whether the user carries the configured admin role
func (b *Bot) HasAdminRole(ctx context.Context, userID string) bool {
	if b.adminRole == "" || b.guildID == "" {
		return false
	}

	adminRoles := b.adminRoleIDs(ctx)
	if len(adminRoles) == 0 {
		return false
	}

	roles, err := b.RolesOf(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user", userID).Warn("role lookup failed")
		return false
	}
	for _, r := range roles {
		if adminRoles[r] {
			return true
		}
	}
	return false
}

// RolesOf returns the guild role IDs assigned to a user
func (b *Bot) RolesOf(ctx context.Context, userID string) ([]int64, error) {
	q := url.Values{"user_id": {userID}}
	if b.guildID != "" {
		q.Set("guild_id", b.guildID)
	}
	var u struct {
		Roles []int64 `json:"roles"`
	}
	if err := b.get(ctx, "/user/view", q, &u); err != nil {
		return nil, err
	}
	return u.Roles, nil
}

// gatewayURL asks the REST API where to open the websocket
func (b *Bot) gatewayURL(ctx context.Context, compress bool) (string, error) {
	q := url.Values{}
	if compress {
		q.Set("compress", "1")
	} else {
		q.Set("compress", "0")
	}
	var data struct {
		URL string `json:"url"`
	}
	if err := b.get(ctx, "/gateway/index", q, &data); err != nil {
		return "", err
	}
	if data.URL == "" {
		return "", fmt.Errorf("kook gateway: empty url")
	}
	return data.URL, nil
}
