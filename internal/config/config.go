package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Kook      KookConfig      `yaml:"kook"`
	Whitelist WhitelistConfig `yaml:"whitelist"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Messages  MessagesConfig  `yaml:"messages"`
	Identity  IdentityConfig  `yaml:"identity"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig holds HTTP/websocket listener settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
	// PluginToken authenticates the game-server plugin's websocket connection
	PluginToken string `yaml:"plugin_token"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds admin API authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// KookConfig holds the KOOK bot connection and channel routing
type KookConfig struct {
	BotToken string `yaml:"bot_token"`
	GuildID  string `yaml:"guild_id"`
	// Channels maps logical channel names to KOOK channel IDs
	Channels map[string]string `yaml:"channels"`
	// AdminRole is the guild role name granted bind-management KOOK commands
	AdminRole string `yaml:"admin_role"`
	// Compress enables zlib compression on the gateway connection
	Compress bool `yaml:"compress"`
}

// WhitelistConfig controls join-time admission enforcement
type WhitelistConfig struct {
	Enabled bool `yaml:"enabled"`
	// KickEnabled schedules eviction of players still unlinked after KickDelay
	KickEnabled bool          `yaml:"kick_enabled"`
	KickDelay   time.Duration `yaml:"kick_delay"`
	// RestrictMovement cancels block-to-block movement for unlinked players
	RestrictMovement bool          `yaml:"restrict_movement"`
	ReminderEnabled  bool          `yaml:"reminder_enabled"`
	ReminderInterval time.Duration `yaml:"reminder_interval"`
	// Channel is the logical name of the KOOK channel where codes are redeemed
	Channel string `yaml:"channel"`
}

// BridgeConfig controls message relay between the game server and KOOK
type BridgeConfig struct {
	ChatToKook    bool     `yaml:"chat_to_kook"`
	KookToChat    bool     `yaml:"kook_to_chat"`
	JoinAnnounce  bool     `yaml:"join_announce"`
	QuitAnnounce  bool     `yaml:"quit_announce"`
	ChatChannels  []string `yaml:"chat_channels"`
	EventChannels []string `yaml:"event_channels"`
	BlackWorlds   []string `yaml:"black_worlds"`
}

// MessagesConfig holds user-facing message templates. Placeholders:
// {player}, {verifyCode}, {channel_name}, {kick_delay_seconds}, {user}.
type MessagesConfig struct {
	PromptLink    []string    `yaml:"prompt_link"`
	KickUnlinked  string      `yaml:"kick_unlinked"`
	LinkSuccessMC []string    `yaml:"link_success_minecraft"`
	LinkSuccess   string      `yaml:"link_success_kook"`
	CodeInvalid   string      `yaml:"code_invalid"`
	AlreadyBound  string      `yaml:"already_bound"`
	ChatToKook    string      `yaml:"chat_to_kook"`
	KookToChat    string      `yaml:"kook_to_chat"`
	JoinAnnounce  string      `yaml:"join_announce"`
	QuitAnnounce  string      `yaml:"quit_announce"`
	PromptTitle   TitleConfig `yaml:"prompt_title"`
}

// TitleConfig is a transient on-screen banner. Durations are in game ticks.
type TitleConfig struct {
	Title    string `yaml:"title"`
	Subtitle string `yaml:"subtitle"`
	FadeIn   int    `yaml:"fade_in"`
	Stay     int    `yaml:"stay"`
	FadeOut  int    `yaml:"fade_out"`
}

// IdentityConfig selects how player names resolve to stable UUIDs
type IdentityConfig struct {
	// Mode is "mojang" (online-mode servers) or "offline"
	Mode string `yaml:"mode"`
	// LookupTimeout bounds a single Mojang profile lookup
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if cfg.Kook.BotToken == "" {
		return nil, fmt.Errorf("kook.bot_token is required")
	}

	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8320
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/kookbridge/kookbridge.db"
	}
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}
	if cfg.Whitelist.KickDelay == 0 {
		cfg.Whitelist.KickDelay = 10 * time.Second
	}
	if cfg.Whitelist.ReminderInterval == 0 {
		cfg.Whitelist.ReminderInterval = 30 * time.Second
	}
	if cfg.Whitelist.Channel == "" {
		cfg.Whitelist.Channel = "whitelist"
	}
	if cfg.Identity.Mode == "" {
		cfg.Identity.Mode = "offline"
	}
	if cfg.Identity.LookupTimeout == 0 {
		cfg.Identity.LookupTimeout = 5 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Messages.KickUnlinked == "" {
		cfg.Messages.KickUnlinked = "Your account is not linked. Code: {verifyCode}. Redeem it in KOOK channel: {channel_name}."
	}
	if cfg.Messages.PromptTitle.Title == "" {
		cfg.Messages.PromptTitle.Title = "Link your KOOK account"
	}
	if cfg.Messages.PromptTitle.Subtitle == "" {
		cfg.Messages.PromptTitle.Subtitle = "Your code: {verifyCode}"
	}
	if cfg.Messages.PromptTitle.FadeIn == 0 {
		cfg.Messages.PromptTitle.FadeIn = 20
	}
	if cfg.Messages.PromptTitle.Stay == 0 {
		cfg.Messages.PromptTitle.Stay = 100
	}
	if cfg.Messages.PromptTitle.FadeOut == 0 {
		cfg.Messages.PromptTitle.FadeOut = 20
	}
}
