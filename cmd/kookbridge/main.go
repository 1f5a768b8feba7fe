// kookbridge - KOOK account linking and admission control for game servers
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/meteorlabs/kookbridge/internal/admission"
	"github.com/meteorlabs/kookbridge/internal/api"
	"github.com/meteorlabs/kookbridge/internal/auth"
	"github.com/meteorlabs/kookbridge/internal/config"
	"github.com/meteorlabs/kookbridge/internal/domain"
	"github.com/meteorlabs/kookbridge/internal/game"
	"github.com/meteorlabs/kookbridge/internal/identity"
	"github.com/meteorlabs/kookbridge/internal/kook"
	"github.com/meteorlabs/kookbridge/internal/link"
	"github.com/meteorlabs/kookbridge/internal/relay"
	"github.com/meteorlabs/kookbridge/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/kookbridge/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "link":
		cmdLink(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "version":
		fmt.Printf("kookbridge %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: kookbridge <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the bridge server")
	fmt.Println("  link list                           Show all account links")
	fmt.Println("  link player <name>                  Show the link for a player")
	fmt.Println("  link kook <id>                      Show the link for a KOOK user")
	fmt.Println("  link bind <player> <kook-id> [--name NAME]")
	fmt.Println("                                      Link a player to a KOOK user")
	fmt.Println("  link unbind <player>                Remove a player's link")
	fmt.Println("  user add [--admin] <username>       Add a web user (prompts for password)")
	fmt.Println("  user remove <username>              Remove a web user")
	fmt.Println("  user list                           List all web users")
	fmt.Println("  user reset <username>               Reset a web user's password")
	fmt.Println("  user admin <username>               Toggle admin status for a web user")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global options:")
	fmt.Printf("  --config PATH                       Config file (default: %s)\n", defaultConfigPath)
}

// gameConsole forwards player-facing commands to the plugin hub. It exists
// so the admission guard and the relay bridge can be built before the hub,
// which itself needs the bridge as its event handler.
type gameConsole struct {
	hub *game.Hub
}

func (c *gameConsole) Kick(playerName, reason string) { c.hub.Kick(playerName, reason) }

func (c *gameConsole) Tell(playerName string, lines []string) { c.hub.Tell(playerName, lines) }

func (c *gameConsole) Title(playerName string, t config.TitleConfig) { c.hub.Title(playerName, t) }

func (c *gameConsole) Broadcast(message string) { c.hub.Broadcast(message) }

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatalf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level %q: %v", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	log.Infof("kookbridge %s starting", version)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Infof("Database initialized at %s", cfg.Database.Path)

	resolver, err := identity.FromConfig(cfg.Identity.Mode, cfg.Identity.LookupTimeout)
	if err != nil {
		log.Fatalf("Invalid identity config: %v", err)
	}
	sessions := identity.NewSessionResolver(resolver)

	repo := link.NewRepository(store, sessions)
	issuer := link.NewIssuer(link.DefaultCodeTTL)
	links := link.NewService(repo, issuer)

	bot := kook.NewBot(cfg.Kook)

	console := &gameConsole{}
	guard := admission.NewGuard(cfg.Whitelist, cfg.Messages, cfg.Whitelist.Channel, links, console)
	bridge := relay.NewBridge(cfg.Bridge, cfg.Messages, guard, bot, console, sessions)
	hub := game.NewHub(cfg.Server.PluginToken, bridge)
	console.hub = hub

	if cfg.Server.PluginToken == "" {
		log.Warn("No plugin_token configured, plugin connections will be rejected")
	}

	channelID, ok := bot.ResolveChannel(cfg.Whitelist.Channel)
	if ok {
		listener := relay.NewLinkListener(links, bot, hub, guard,
			channelID, cfg.Whitelist.Channel,
			cfg.Messages.LinkSuccess, cfg.Messages.LinkSuccessMC,
			cfg.Messages.CodeInvalid, cfg.Messages.AlreadyBound)
		bot.RegisterListener(listener.HandleMessage)
	} else {
		log.Warnf("Whitelist channel %q not found in kook.channels, code redemption disabled", cfg.Whitelist.Channel)
	}
	bot.RegisterListener(bridge.HandleKookMessage)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bot.Connect(ctx)

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		log.Warn("No JWT secret configured. Auth tokens will use an empty secret.")
	}

	router := api.NewRouter(store, links, authService, hub, hub.Connected, bot.IsInvalid)

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Infof("Received signal %v, shutting down", sig)
	case err := <-serverErr:
		log.Fatalf("HTTP server error: %v", err)
	}

	log.Info("Shutting down HTTP server")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Errorf("HTTP server shutdown error: %v", err)
	}

	log.Info("Stopping KOOK bot")
	bot.Close()
	guard.Close()
	repo.Purge()

	cancel()
	log.Info("Shutdown complete")
}

// CLI helper state shared by the offline commands
var dbPath string

func loadCLIConfig(args []string) (*config.Config, []string) {
	fs := flag.NewFlagSet("cli", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		dbPath = "/var/lib/kookbridge/kookbridge.db"
		return nil, fs.Args()
	}

	dbPath = cfg.Database.Path
	return cfg, fs.Args()
}

// cliLinkService builds a link service over the local database, using the
// configured identity mode (offline when no config is available).
func cliLinkService(cfg *config.Config, store *storage.Store) (*link.Service, error) {
	var resolver identity.Resolver = &identity.OfflineResolver{}
	if cfg != nil {
		r, err := identity.FromConfig(cfg.Identity.Mode, cfg.Identity.LookupTimeout)
		if err != nil {
			return nil, err
		}
		resolver = r
	}
	repo := link.NewRepository(store, resolver)
	return link.NewService(repo, link.NewIssuer(link.DefaultCodeTTL)), nil
}

func cmdLink(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: link subcommand required: list, player, kook, bind, unbind\n")
		os.Exit(1)
	}

	subCmd := args[0]
	cfg, remaining := loadCLIConfig(args[1:])

	store, err := storage.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	links, err := cliLinkService(cfg, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var cmdErr error
	switch subCmd {
	case "list":
		cmdErr = cmdLinkList(ctx, store)
	case "player":
		cmdErr = cmdLinkPlayer(ctx, links, remaining)
	case "kook":
		cmdErr = cmdLinkKook(ctx, store, remaining)
	case "bind":
		cmdErr = cmdLinkBind(ctx, links, remaining)
	case "unbind":
		cmdErr = cmdLinkUnbind(ctx, links, remaining)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown link command: %s (use: list, player, kook, bind, unbind)\n", subCmd)
		os.Exit(1)
	}
	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(1)
	}
}

func printLinkRows(recs []domain.LinkRecord) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tUUID\tKOOK_ID\tKOOK_NAME\tLINKED_AT")
	fmt.Fprintln(w, "------\t----\t-------\t---------\t---------")
	for _, rec := range recs {
		name := rec.UserName
		if rec.NickName != "" {
			name = rec.NickName
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.PlayerName, rec.PlayerUUID, rec.KookID, name,
			rec.JoinedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cmdLinkList(ctx context.Context, store *storage.Store) error {
	recs, err := store.ListLinks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}
	if len(recs) == 0 {
		fmt.Println("No account links")
		return nil
	}
	return printLinkRows(recs)
}

func cmdLinkPlayer(ctx context.Context, links *link.Service, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kookbridge link player <name>")
	}
	rec, err := links.Record(ctx, args[0])
	if err != nil {
		if errors.Is(err, link.ErrNotLinked) {
			return fmt.Errorf("player '%s' is not linked", args[0])
		}
		return err
	}
	return printLinkRows([]domain.LinkRecord{*rec})
}

func cmdLinkKook(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kookbridge link kook <id>")
	}
	rec, err := store.GetLinkByKookID(ctx, args[0])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("KOOK user '%s' is not linked", args[0])
		}
		return err
	}
	return printLinkRows([]domain.LinkRecord{*rec})
}

func cmdLinkBind(ctx context.Context, links *link.Service, args []string) error {
	fs := flag.NewFlagSet("link bind", flag.ExitOnError)
	kookName := fs.String("name", "", "KOOK display name to store")
	fs.Parse(args)

	remaining := fs.Args()
	if len(remaining) < 2 {
		return fmt.Errorf("usage: kookbridge link bind <player> <kook-id> [--name NAME]")
	}
	playerName, kookID := remaining[0], remaining[1]

	rec, err := links.Link(ctx, playerName, domain.KookUser{ID: kookID, Name: *kookName})
	if err != nil {
		switch {
		case errors.Is(err, link.ErrPlayerLinked):
			return fmt.Errorf("player '%s' is already linked", playerName)
		case errors.Is(err, link.ErrKookUserLinked):
			return fmt.Errorf("KOOK user '%s' is already linked", kookID)
		case errors.Is(err, identity.ErrUnresolved):
			return fmt.Errorf("player '%s' has no resolvable profile", playerName)
		}
		return err
	}
	fmt.Printf("Linked '%s' (%s) to KOOK user %s\n", rec.PlayerName, rec.PlayerUUID, rec.KookID)
	return nil
}

func cmdLinkUnbind(ctx context.Context, links *link.Service, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kookbridge link unbind <player>")
	}
	playerName := args[0]

	if err := links.Unlink(ctx, playerName); err != nil {
		if errors.Is(err, link.ErrNotLinked) {
			return fmt.Errorf("player '%s' is not linked", playerName)
		}
		return err
	}
	fmt.Printf("Unlinked '%s'\n", playerName)
	return nil
}

func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: user subcommand required: add, remove, list, reset, admin\n")
		os.Exit(1)
	}

	subCmd := args[0]
	_, remaining := loadCLIConfig(args[1:])

	store, err := storage.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	var cmdErr error
	switch subCmd {
	case "add":
		cmdErr = cmdUserAdd(ctx, store, remaining)
	case "remove":
		cmdErr = cmdUserRemove(ctx, store, remaining)
	case "list":
		cmdErr = cmdUserList(ctx, store)
	case "reset":
		cmdErr = cmdUserReset(ctx, store, remaining)
	case "admin":
		cmdErr = cmdUserAdmin(ctx, store, remaining)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown user command: %s (use: add, remove, list, reset, admin)\n", subCmd)
		os.Exit(1)
	}
	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(1)
	}
}

// promptNewPassword reads a password twice from the terminal, without echo
func promptNewPassword() (string, error) {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(password), nil
}

func cmdUserAdd(ctx context.Context, store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("user add", flag.ExitOnError)
	isAdmin := fs.Bool("admin", false, "create as admin user")
	fs.Parse(args)

	remaining := fs.Args()
	if len(remaining) < 1 {
		return fmt.Errorf("usage: kookbridge user add [--admin] <username>")
	}
	username := remaining[0]

	if _, err := store.GetUserByUsername(ctx, username); err == nil {
		return fmt.Errorf("user '%s' already exists", username)
	}

	password, err := promptNewPassword()
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		Username:     username,
		PasswordHash: hash,
		IsAdmin:      *isAdmin,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	roleStr := "user"
	if *isAdmin {
		roleStr = "admin"
	}
	fmt.Printf("User '%s' created successfully (role: %s)\n", username, roleStr)
	return nil
}

func cmdUserRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kookbridge user remove <username>")
	}
	username := args[0]

	if err := store.DeleteUser(ctx, username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("user not found: %s", username)
		}
		return fmt.Errorf("failed to remove user: %w", err)
	}

	fmt.Printf("User '%s' removed\n", username)
	return nil
}

func cmdUserList(ctx context.Context, store *storage.Store) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLE\tPWD_CHANGE\tCREATED")
	fmt.Fprintln(w, "--------\t----\t----------\t-------")

	for _, user := range users {
		role := "user"
		if user.IsAdmin {
			role = "admin"
		}
		pwdChange := "no"
		if user.PasswordChangeRequired {
			pwdChange = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", user.Username, role, pwdChange,
			user.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cmdUserReset(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kookbridge user reset <username>")
	}
	username := args[0]

	if _, err := store.GetUserByUsername(ctx, username); err != nil {
		return fmt.Errorf("user not found: %s", username)
	}

	password, err := promptNewPassword()
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := store.UpdateUserPassword(ctx, username, hash, true); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}

	fmt.Printf("Password reset for '%s' (user will be required to change it on next login)\n", username)
	return nil
}

func cmdUserAdmin(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kookbridge user admin <username>")
	}
	username := args[0]

	user, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user not found: %s", username)
	}

	newAdminStatus := !user.IsAdmin
	if err := store.SetUserAdmin(ctx, username, newAdminStatus); err != nil {
		return fmt.Errorf("failed to update admin status: %w", err)
	}

	if newAdminStatus {
		fmt.Printf("User '%s' is now an admin\n", username)
	} else {
		fmt.Printf("User '%s' is no longer an admin\n", username)
	}
	return nil
}
