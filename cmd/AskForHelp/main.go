// Command AskForHelp runs the ask-for-help chatbot: the chat transport, the
// conversation engine, the durable job runner and the hub-facing HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/AskForHelp/internal/api"
	"github.com/BTreeMap/AskForHelp/internal/cache"
	"github.com/BTreeMap/AskForHelp/internal/dynamo"
	"github.com/BTreeMap/AskForHelp/internal/flow"
	"github.com/BTreeMap/AskForHelp/internal/lockfile"
	"github.com/BTreeMap/AskForHelp/internal/messaging"
	"github.com/BTreeMap/AskForHelp/internal/secrets"
	"github.com/BTreeMap/AskForHelp/internal/store"
	"github.com/BTreeMap/AskForHelp/internal/taskservice"
	"github.com/BTreeMap/AskForHelp/internal/translator"
	"github.com/BTreeMap/AskForHelp/internal/twiliowhatsapp"
	"github.com/BTreeMap/AskForHelp/internal/util"
	"github.com/BTreeMap/AskForHelp/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for AskForHelp state data
	DefaultStateDir = "/var/lib/askforhelp"
	// DefaultAppDBFileName is the default SQLite database for contexts, jobs and the cache
	DefaultAppDBFileName = "askforhelp.db"
	// DefaultWhatsAppDBFileName is the default SQLite database for the whatsmeow device
	DefaultWhatsAppDBFileName = "whatsmeow.db"

	DefaultTransport       = "whatsapp"
	DefaultCacheBackend    = "sql"
	DefaultJobPollInterval = 5 * time.Second
	DefaultJanitorInterval = time.Hour

	// appKeyParameter is the SSM parameter name of the hub API key under PARAM_PREFIX.
	appKeyParameter = "app-key"
)

// Config holds the process configuration.
type Config struct {
	LogLevel string
	StateDir string

	DatabaseDSN   string
	WhatsAppDBDSN string
	CacheBackend  string
	DynamoTable   string

	APIAddr   string
	Transport string

	QROutput    string
	NumericCode bool

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string

	ServiceURL string
	HubURL     string
	AuthURL    string
	AppID      string
	AppKey     string
	TaskTypeID string

	LocaleTTL          time.Duration
	ButtonTTL          time.Duration
	ReminderDelay      time.Duration
	ConductProbability float64

	TranslationsFile string
	ParamPrefix      string
}

func main() {
	initializeLogger("info")

	config := loadEnvironmentConfig()
	config, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}
	config = applyDefaults(config)
	initializeLogger(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping AskForHelp", "state_dir", config.StateDir, "transport", config.Transport, "cache", config.CacheBackend, "api_addr", config.APIAddr)
	if err := run(ctx, config); err != nil {
		slog.Error("AskForHelp failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("AskForHelp exited successfully")
}

// initializeLogger installs a text slog handler at the given level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LogLevel:           os.Getenv("LOG_LEVEL"),
		StateDir:           os.Getenv("STATE_DIR"),
		DatabaseDSN:        os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		CacheBackend:       os.Getenv("CACHE_BACKEND"),
		DynamoTable:        os.Getenv("DYNAMODB_TABLE"),
		APIAddr:            os.Getenv("API_ADDR"),
		Transport:          os.Getenv("TRANSPORT"),
		NumericCode:        util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:         os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:   os.Getenv("TWILIO_WEBHOOK_URL"),
		ServiceURL:         os.Getenv("WENET_SERVICE_URL"),
		HubURL:             os.Getenv("WENET_HUB_URL"),
		AuthURL:            os.Getenv("WENET_AUTH_URL"),
		AppID:              os.Getenv("APP_ID"),
		AppKey:             os.Getenv("APP_KEY"),
		TaskTypeID:         os.Getenv("TASK_TYPE_ID"),
		LocaleTTL:          util.ParseDurationEnv("LOCALE_TTL", flow.DefaultLocaleTTL),
		ButtonTTL:          util.ParseDurationEnv("BUTTON_TTL", cache.DefaultTTL),
		ReminderDelay:      util.ParseDurationEnv("REMINDER_DELAY", flow.DefaultReminderDelay),
		ConductProbability: util.ParseProbabilityEnv("CONDUCT_REMINDER_PROBABILITY", flow.DefaultConductProbability),
		TranslationsFile:   os.Getenv("TRANSLATIONS_FILE"),
		ParamPrefix:        os.Getenv("PARAM_PREFIX"),
	}

	slog.Debug("environment variables loaded",
		"STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseDSN != "",
		"CACHE_BACKEND", config.CacheBackend,
		"TRANSPORT", config.Transport,
		"APP_ID", config.AppID,
		"APP_KEY_SET", config.AppKey != "",
		"PARAM_PREFIX", config.ParamPrefix)
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Config, error) {
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for AskForHelp data (overrides $STATE_DIR)")
	fs.StringVar(&config.DatabaseDSN, "db-dsn", config.DatabaseDSN, "application database DSN (overrides $DATABASE_URL)")
	fs.StringVar(&config.WhatsAppDBDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.CacheBackend, "cache", config.CacheBackend, "payload cache backend: memory, sql or dynamodb (overrides $CACHE_BACKEND)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.Transport, "transport", config.Transport, "chat transport: whatsapp or twilio (overrides $TRANSPORT)")
	fs.StringVar(&config.QROutput, "qr-output", config.QROutput, "path to write login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "use numeric login code instead of QR code")
	fs.StringVar(&config.TranslationsFile, "translations", config.TranslationsFile, "extra translation catalog, JSON or YAML (overrides $TRANSLATIONS_FILE)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		return config, err
	}
	slog.Debug("flags parsed", "stateDir", config.StateDir, "transport", config.Transport, "cache", config.CacheBackend, "apiAddr", config.APIAddr)
	return config, nil
}

// applyDefaults fills what neither the environment nor the flags set. The
// database files follow the state directory.
func applyDefaults(config Config) Config {
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if config.CacheBackend == "" {
		config.CacheBackend = DefaultCacheBackend
	}
	if config.Transport == "" {
		config.Transport = DefaultTransport
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	config.CacheBackend = strings.ToLower(config.CacheBackend)
	config.Transport = strings.ToLower(config.Transport)
	return config
}

// run wires the components and blocks until ctx is cancelled or the API server fails.
func run(ctx context.Context, config Config) error {
	lock, err := lockfile.AcquireLock(config.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	loader := &awsLoader{}
	appKey, err := resolveAppKey(ctx, config, loader)
	if err != nil {
		return err
	}

	st, err := store.Open(config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	backend, err := buildCacheBackend(ctx, config, st, loader)
	if err != nil {
		return err
	}
	payloads := cache.New(backend, cache.WithDefaultTTL(config.ButtonTTL))

	var trOpts []translator.Option
	if config.TranslationsFile != "" {
		trOpts = append(trOpts, translator.WithFile(config.TranslationsFile))
	}
	tr, err := translator.New(trOpts...)
	if err != nil {
		return fmt.Errorf("load translations: %w", err)
	}

	tasks, err := taskservice.NewClient(taskservice.WithBaseURL(config.ServiceURL), taskservice.WithAPIKey(appKey))
	if err != nil {
		return fmt.Errorf("task service: %w", err)
	}

	bot := flow.New(tasks, payloads, tr, buildBotOptions(config, st)...)

	svc, webhook, err := buildMessagingService(ctx, config)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}
	defer svc.Stop()

	dispatcher := messaging.NewDispatcher(svc, st, bot, messaging.WithDedup(st))
	dispatcher.Start(ctx)
	defer dispatcher.Wait()

	reconciler := flow.NewReconciler(bot, st, dispatcher)

	runner := store.NewJobRunner(st, DefaultJobPollInterval)
	flow.RegisterJobHandlers(runner, reconciler)
	if err := runner.RecoverStaleJobs(ctx); err != nil {
		slog.Warn("Failed to recover stale jobs", "error", err)
	}
	go runner.Run(ctx)
	go cache.RunJanitor(ctx, backend, DefaultJanitorInterval)

	apiOpts := []api.Option{api.WithAddr(config.APIAddr), api.WithHealthCheck(st)}
	if webhook != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(webhook))
	}
	return api.NewServer(reconciler, apiOpts...).Run(ctx)
}

func buildBotOptions(config Config, jobs flow.JobScheduler) []flow.Option {
	opts := []flow.Option{
		flow.WithAppID(config.AppID),
		flow.WithTaskTypeID(config.TaskTypeID),
		flow.WithHubURL(config.HubURL),
		flow.WithAuthURL(config.AuthURL),
		flow.WithLocaleTTL(config.LocaleTTL),
		flow.WithReminderDelay(config.ReminderDelay),
		flow.WithConductProbability(config.ConductProbability),
	}
	if jobs != nil {
		opts = append(opts, flow.WithJobs(jobs))
	}
	return opts
}

// awsLoader loads the shared AWS configuration once, on first use.
type awsLoader struct {
	cfg    *aws.Config
	loadFn func(ctx context.Context) (aws.Config, error)
}

func (l *awsLoader) load(ctx context.Context) (aws.Config, error) {
	if l.cfg != nil {
		return *l.cfg, nil
	}
	loadFn := l.loadFn
	if loadFn == nil {
		loadFn = func(ctx context.Context) (aws.Config, error) { return awsconfig.LoadDefaultConfig(ctx) }
	}
	cfg, err := loadFn(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	l.cfg = &cfg
	return cfg, nil
}

// resolveAppKey returns APP_KEY, or reads it from SSM under PARAM_PREFIX.
func resolveAppKey(ctx context.Context, config Config, loader *awsLoader) (string, error) {
	if config.AppKey != "" || config.ParamPrefix == "" {
		return secrets.Resolve(ctx, nil, config.ParamPrefix, appKeyParameter, config.AppKey)
	}
	awsCfg, err := loader.load(ctx)
	if err != nil {
		return "", err
	}
	params, err := secrets.NewParamStore(ssm.NewFromConfig(awsCfg))
	if err != nil {
		return "", err
	}
	return secrets.Resolve(ctx, params, config.ParamPrefix, appKeyParameter, "")
}

func buildCacheBackend(ctx context.Context, config Config, st store.Store, loader *awsLoader) (cache.Backend, error) {
	switch config.CacheBackend {
	case "memory":
		return cache.NewMemory(), nil
	case "sql":
		return st.PayloadCache(), nil
	case "dynamodb":
		awsCfg, err := loader.load(ctx)
		if err != nil {
			return nil, err
		}
		return dynamo.New(dynamodb.NewFromConfig(awsCfg), config.DynamoTable)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", config.CacheBackend)
	}
}

// buildMessagingService creates the chat transport. The Twilio transport also
// returns its inbound webhook handler.
func buildMessagingService(ctx context.Context, config Config) (messaging.Service, http.HandlerFunc, error) {
	switch config.Transport {
	case "whatsapp":
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDBDSN)}
		if config.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(config.QROutput))
		}
		if config.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	case "twilio":
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFrom),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if config.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithWebhookValidation(config.TwilioAuthToken, config.TwilioWebhookURL))
		} else {
			slog.Warn("TWILIO_WEBHOOK_URL not set, inbound webhook signatures are not verified")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return svc, svc.TwilioWebhookHandler, nil
	default:
		return nil, nil, errors.New("unknown transport " + config.Transport)
	}
}
