package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lokv010/voiceagent-sub000/internal/api"
	"github.com/lokv010/voiceagent-sub000/internal/engines"
	"github.com/lokv010/voiceagent-sub000/internal/genai"
	"github.com/lokv010/voiceagent-sub000/internal/models"
	"github.com/lokv010/voiceagent-sub000/internal/orchestration"
	"github.com/lokv010/voiceagent-sub000/internal/store"
	"github.com/lokv010/voiceagent-sub000/internal/telephony"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for voice agent state data
	DefaultStateDir = "/var/lib/voiceagent"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "voiceagent.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build the call record store
	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize call record store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Wire the orchestration engine with its collaborators
	orchestrator, err := buildOrchestrator(flags, st)
	if err != nil {
		slog.Error("Failed to wire orchestration engine", "error", err)
		os.Exit(1)
	}

	// Build the API server, optionally with the Twilio status webhook
	apiOpts := buildAPIOptions(flags, orchestrator)
	server := api.NewServer(orchestrator, st, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping voice agent with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := server.Run(ctx); err != nil {
		slog.Error("Voice agent failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Voice agent exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	OpenAIKey     string
	APIAddr       string
	TwilioToken   string
	TwilioWebhook string
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	apiAddr       *string
	twilioToken   *string
	twilioWebhook *string
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
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("VOICEAGENT_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWebhook: os.Getenv("TWILIO_STATUS_CALLBACK_URL"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VOICEAGENT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"VOICEAGENT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TWILIO_AUTH_TOKEN_SET", config.TwilioToken != "",
		"TWILIO_STATUS_CALLBACK_URL", config.TwilioWebhook)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for voice agent data (overrides $VOICEAGENT_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for the call record store (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		twilioToken:   flag.String("twilio-auth-token", config.TwilioToken, "Twilio auth token for webhook validation (overrides $TWILIO_AUTH_TOKEN)"),
		twilioWebhook: flag.String("twilio-callback-url", config.TwilioWebhook, "externally visible Twilio status callback URL (overrides $TWILIO_STATUS_CALLBACK_URL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"twilioTokenSet", *flags.twilioToken != "")

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildOrchestrator wires the conversation orchestration engine: state
// manager, transition controller, engine registry with the six flow
// engines, event bus, feedback collector and classifier. When an OpenAI key
// is available the classifier is model-backed and the scripted engines are
// wrapped with generative rephrasing; otherwise the keyword fallback runs
// alone.
func buildOrchestrator(flags Flags, st store.CallRecordStore) (*orchestration.Orchestrator, error) {
	states := orchestration.NewStateManager()
	controller := orchestration.NewTransitionController(states)
	registry := orchestration.NewEngineRegistry()
	bus := orchestration.NewEventBus()
	feedback := orchestration.NewFeedbackCollector()

	var client genai.ClientInterface
	if *flags.openaiKey != "" {
		c, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return nil, err
		}
		client = c
		slog.Info("buildOrchestrator: generative features enabled")
	} else {
		slog.Info("buildOrchestrator: no OpenAI key, running scripted engines with keyword classification")
	}

	flowEngines := map[models.FlowType]orchestration.FlowEngine{
		models.FlowTypeDiscovery:    engines.NewDiscoveryEngine(),
		models.FlowTypePitch:        engines.NewPitchEngine(),
		models.FlowTypeKnowledge:    engines.NewKnowledgeEngine(),
		models.FlowTypeObjection:    engines.NewObjectionEngine(),
		models.FlowTypeClosing:      engines.NewClosingEngine(),
		models.FlowTypeRelationship: engines.NewRelationshipEngine(),
	}
	for flowType, engine := range flowEngines {
		if client != nil {
			engine = engines.NewGenAIEngine(engine, client, flowType)
		}
		if err := registry.Register(flowType, engine); err != nil {
			return nil, err
		}
	}

	var classifier orchestration.Classifier
	if client != nil {
		classifier = orchestration.NewGenAIClassifier(client)
	} else {
		classifier = orchestration.NewFallbackClassifier()
	}

	return orchestration.NewOrchestrator(orchestration.OrchestratorDeps{
		States:     states,
		Controller: controller,
		Registry:   registry,
		Bus:        bus,
		Feedback:   feedback,
		Classifier: classifier,
		Sink:       st,
	}), nil
}

// buildAPIOptions constructs API server configuration options, wiring the
// Twilio status webhook when an auth token is configured.
func buildAPIOptions(flags Flags, orchestrator *orchestration.Orchestrator) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}

	if *flags.twilioToken != "" {
		adapterOpts := []telephony.Option{telephony.WithAuthToken(*flags.twilioToken)}
		if *flags.twilioWebhook != "" {
			adapterOpts = append(adapterOpts, telephony.WithCallbackURL(*flags.twilioWebhook))
		}
		adapter, err := telephony.NewAdapter(orchestrator, adapterOpts...)
		if err != nil {
			slog.Error("buildAPIOptions: Twilio adapter disabled", "error", err)
			return apiOpts
		}
		apiOpts = append(apiOpts,
			api.WithTwilioCallback(adapter.StatusCallbackHandler),
			api.WithCallBinder(adapter.RegisterCall))
		slog.Info("buildAPIOptions: Twilio status webhook enabled")
	}
	return apiOpts
}
