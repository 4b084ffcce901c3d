package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nocdesk/helpdeskbot/internal/auth"
	"github.com/nocdesk/helpdeskbot/internal/bot"
	"github.com/nocdesk/helpdeskbot/internal/claim"
	"github.com/nocdesk/helpdeskbot/internal/flow"
	"github.com/nocdesk/helpdeskbot/internal/messaging"
	"github.com/nocdesk/helpdeskbot/internal/relay"
	"github.com/nocdesk/helpdeskbot/internal/scheduler"
	"github.com/nocdesk/helpdeskbot/internal/store"
	"github.com/nocdesk/helpdeskbot/internal/ticket"
	"github.com/nocdesk/helpdeskbot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for helpdesk bot state data
	DefaultStateDir = "/var/lib/helpdeskbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "helpdeskbot.db"
	// RelayOperator is the service identity the notification relay polls as
	RelayOperator = "relay"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	slog.Info("Bootstrapping helpdesk bot with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"api_url", *flags.apiURL,
		"group_chat", *flags.groupChatID,
		"admins", len(config.AdminChatIDs))
	if err := run(config, flags); err != nil {
		slog.Error("Helpdesk bot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Helpdesk bot exited successfully")
}

// Config holds environment configuration
type Config struct {
	BotToken     string
	APIURL       string
	APIUsername  string
	APIPassword  string
	GroupChatID  string
	AdminChatIDs []string
	DatabaseURL  string
	StateDir     string
	PollInterval string
	Debug        bool
}

// Flags holds command line flag values
type Flags struct {
	botToken    *string
	apiURL      *string
	groupChatID *string
	stateDir    *string
	dbDSN       *string
	debug       *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		BotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		APIURL:       os.Getenv("TICKET_API_URL"),
		APIUsername:  os.Getenv("API_USERNAME"),
		APIPassword:  os.Getenv("API_PASSWORD"),
		GroupChatID:  os.Getenv("GROUP_CHAT_ID"),
		AdminChatIDs: util.ParseListEnv("ADMIN_CHAT_IDS"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("STATE_DIR"),
		Debug:        util.ParseBoolEnv("TELEGRAM_DEBUG", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"TELEGRAM_BOT_TOKEN_SET", config.BotToken != "",
		"TICKET_API_URL", config.APIURL,
		"API_USERNAME_SET", config.APIUsername != "",
		"GROUP_CHAT_ID", config.GroupChatID,
		"ADMIN_CHAT_IDS", len(config.AdminChatIDs),
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"STATE_DIR", config.StateDir)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		botToken:    flag.String("bot-token", config.BotToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)"),
		apiURL:      flag.String("api-url", config.APIURL, "ticket API base URL (overrides $TICKET_API_URL)"),
		groupChatID: flag.String("group-chat", config.GroupChatID, "shared group chat ID for announcements (overrides $GROUP_CHAT_ID)"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for helpdesk bot data (overrides $STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for conversation state (overrides $DATABASE_URL)"),
		debug:       flag.Bool("debug", config.Debug, "enable Telegram API debug logging (overrides $TELEGRAM_DEBUG)"),
	}
	flag.Parse()
	return flags
}

// buildStore opens the storage backend selected by the DSN.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Info("Using PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	if err := os.MkdirAll(*flags.stateDir, 0o755); err != nil {
		return nil, err
	}
	slog.Info("Using SQLite store", "path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

func run(config Config, flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	msgOpts := []messaging.Option{messaging.WithToken(*flags.botToken)}
	if *flags.debug {
		msgOpts = append(msgOpts, messaging.WithDebug())
	}
	msg, err := messaging.NewTelegramService(msgOpts...)
	if err != nil {
		return err
	}
	if err := msg.Start(ctx); err != nil {
		return err
	}
	defer msg.Stop()

	gateway := ticket.NewGateway(
		ticket.WithBaseURL(*flags.apiURL),
		ticket.WithCredentials(config.APIUsername, config.APIPassword),
	)
	tokens := auth.NewCredentialCache(st, gateway.Login, util.ParseDurationEnv("TOKEN_TTL", auth.DefaultTokenTTL))
	gateway.SetTokenSource(tokens)

	states := flow.NewStateManager(st, util.ParseDurationEnv("CONVERSATION_TTL", flow.DefaultConversationTTL))
	engine := flow.NewEngine(states, gateway, msg, *flags.groupChatID, RelayOperator)
	coordinator := claim.NewCoordinator(states, gateway, msg, *flags.groupChatID)
	dispatcher := bot.NewDispatcher(states, engine, coordinator, msg, config.AdminChatIDs)

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	pollInterval := util.ParseDurationEnv("RELAY_POLL_INTERVAL", relay.DefaultPollInterval)
	notifier := relay.NewNotificationRelay(gateway, msg, *flags.groupChatID, RelayOperator, pollInterval)
	notifier.Start(ctx, sched)

	dispatcher.Run(ctx)
	return nil
}
