// Command ventabot runs the VentaBot WhatsApp commerce assistant.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nrojasv/ventabot/internal/api"
	"github.com/nrojasv/ventabot/internal/dispatch"
	"github.com/nrojasv/ventabot/internal/extract"
	"github.com/nrojasv/ventabot/internal/flow"
	"github.com/nrojasv/ventabot/internal/genai"
	"github.com/nrojasv/ventabot/internal/intent"
	"github.com/nrojasv/ventabot/internal/lockfile"
	"github.com/nrojasv/ventabot/internal/messaging"
	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/orders"
	"github.com/nrojasv/ventabot/internal/session"
	"github.com/nrojasv/ventabot/internal/store"
	"github.com/nrojasv/ventabot/internal/twiliowhatsapp"
	"github.com/nrojasv/ventabot/internal/util"
	"github.com/nrojasv/ventabot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for VentaBot state data
	DefaultStateDir = "/var/lib/ventabot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "ventabot.db"
	// DefaultBusinessID identifies the business this instance serves when none is configured
	DefaultBusinessID = "default"
	// ShutdownTimeout bounds graceful API server shutdown
	ShutdownTimeout = 10 * time.Second
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("VentaBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("VentaBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	OpenAIKey    string
	APIAddr      string
	BusinessID   string
	BusinessName string
	Channel      string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	openaiKey    *string
	apiAddr      *string
	businessID   *string
	businessName *string
	channel      *string
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("VENTABOT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("VENTABOT_STATE_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		APIAddr:      os.Getenv("API_ADDR"),
		BusinessID:   os.Getenv("VENTABOT_BUSINESS_ID"),
		BusinessName: os.Getenv("VENTABOT_BUSINESS_NAME"),
		Channel:      os.Getenv("VENTABOT_CHANNEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.BusinessID == "" {
		config.BusinessID = DefaultBusinessID
	}
	if config.Channel == "" {
		config.Channel = "whatsapp"
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"VENTABOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"VENTABOT_BUSINESS_ID", config.BusinessID,
		"VENTABOT_CHANNEL", config.Channel)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for VentaBot data (overrides $VENTABOT_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		businessID:   flag.String("business-id", config.BusinessID, "business this instance serves (overrides $VENTABOT_BUSINESS_ID)"),
		businessName: flag.String("business-name", config.BusinessName, "business display name used when creating the record (overrides $VENTABOT_BUSINESS_NAME)"),
		channel:      flag.String("channel", config.Channel, "messaging channel: whatsapp or twilio (overrides $VENTABOT_CHANNEL)"),
	}

	flag.Parse()

	// Follow a moved state directory when the DSN was derived from the default
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}

	return flags
}

func run(flags Flags) error {
	// Single-instance guard on the state directory
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := ensureBusiness(st, *flags.businessID, *flags.businessName); err != nil {
		return err
	}

	// The completion service is optional: without a key the bot still answers
	// flows and canned replies, while intent classification fails closed and
	// the fallback branch stays silent.
	var ai genai.ClientInterface
	if client, err := genai.NewClient(genaiOptions(flags)...); err != nil {
		slog.Warn("GenAI client unavailable, running without completions", "error", err)
	} else {
		ai = client
	}

	classifier := intent.NewClassifier(ai)
	extractor := extract.NewExtractor(ai)

	msgService, twilioSvc, err := buildMessagingService(flags)
	if err != nil {
		return err
	}

	orderSvc := orders.NewService(st, classifier, extractor, msgService)
	actionRunner := flow.NewActionRunner(st, orderSvc, extractor, msgService)
	engine := flow.NewEngine(st, classifier, actionRunner)
	dispatcher := dispatch.NewDispatcher(st, engine, orderSvc, ai, msgService,
		dispatch.WithHistoryLimit(util.ParseIntEnv("VENTABOT_HISTORY_LIMIT", dispatch.DefaultHistoryLimit)))

	registry := session.NewRegistry()
	if _, err := registry.Register(*flags.businessID, msgService); err != nil {
		return err
	}
	defer registry.StopAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	if err := dispatcher.Start(ctx, msgService.Messages()); err != nil {
		return err
	}
	defer dispatcher.Stop()

	apiServer := api.NewServer(st, orderSvc, registry, apiOptions(flags)...)
	if twilioSvc != nil {
		apiServer.RegisterHandler("/webhook/twilio", twilioSvc.WebhookHandler)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- apiServer.Run() }()

	slog.Info("VentaBot running", "business_id", *flags.businessID, "channel", *flags.channel)

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

// openStore opens the storage backend matching the DSN type.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Info("Opening PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Info("Opening SQLite store", "path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// ensureBusiness creates the business record this instance serves when it
// does not exist yet.
func ensureBusiness(st store.Store, businessID, name string) error {
	b, err := st.GetBusiness(businessID)
	if err != nil {
		return err
	}
	if b != nil {
		return nil
	}
	if name == "" {
		name = businessID
	}
	now := time.Now()
	slog.Info("Creating business record", "business_id", businessID, "name", name)
	return st.SaveBusiness(models.Business{
		ID:        businessID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// buildMessagingService constructs the configured transport. The Twilio
// service is returned separately so its webhook can be mounted on the API.
func buildMessagingService(flags Flags) (messaging.Service, *messaging.TwilioService, error) {
	if *flags.channel == "twilio" {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(*flags.businessID, client)
		return svc, svc, nil
	}

	waClient, err := whatsapp.NewClient(whatsAppOptions(flags)...)
	if err != nil {
		return nil, nil, err
	}
	return messaging.NewWhatsAppService(*flags.businessID, waClient), nil, nil
}

// whatsAppOptions constructs WhatsApp client options
func whatsAppOptions(flags Flags) []whatsapp.Option {
	var opts []whatsapp.Option
	if *flags.qrOutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return opts
}

// genaiOptions constructs GenAI configuration options
func genaiOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	return opts
}

// apiOptions constructs API server configuration options
func apiOptions(flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	return opts
}
