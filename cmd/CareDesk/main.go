package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/CareDesk/internal/api"
	"github.com/BTreeMap/CareDesk/internal/apiclient"
	"github.com/BTreeMap/CareDesk/internal/audit"
	"github.com/BTreeMap/CareDesk/internal/genai"
	"github.com/BTreeMap/CareDesk/internal/integrations"
	"github.com/BTreeMap/CareDesk/internal/lockfile"
	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/querycache"
	"github.com/BTreeMap/CareDesk/internal/reminders"
	"github.com/BTreeMap/CareDesk/internal/store"
	"github.com/BTreeMap/CareDesk/internal/util"
	"github.com/BTreeMap/CareDesk/internal/web"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CareDesk state data
	DefaultStateDir = "/var/lib/caredesk"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "caredesk.db"
	// DefaultPublicOrigin is the default externally visible origin
	DefaultPublicOrigin = "http://localhost:8080"
	// DefaultCalendarSyncSchedule imports calendar events at the top of every hour
	DefaultCalendarSyncSchedule = "0 * * * *"
	// DefaultQueryStale is how long console reads are served from cache
	DefaultQueryStale = 30 * time.Second
	// MemoryDSN selects the in-memory store
	MemoryDSN = "memory"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags, err := parseCommandLineFlags(os.Args[1:], config)
	if err != nil {
		os.Exit(2)
	}

	// Initialize structured logger
	initializeLogger(os.Stdout, flags.LogLevel)

	if flags.Audit {
		os.Exit(runAudit(os.Stdout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping CareDesk with configured modules")
	if err := run(ctx, flags); err != nil {
		slog.Error("CareDesk failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CareDesk exited successfully")
}

// Config holds environment configuration
type Config struct {
	Addr               string
	StateDir           string
	DatabaseURL        string
	BackendURL         string
	PublicOrigin       string
	OpenAIKey          string
	OpenAIModel        string
	GenAIDebug         bool
	GoogleClientID     string
	GoogleClientSecret string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string
	ReminderCron       string
	CalendarSyncCron   string
	QueryStale         time.Duration
	LogLevel           string
}

// Flags holds the final configuration after command line overrides
type Flags struct {
	Config
	Audit bool
}

// initializeLogger sets up structured logging at the given level
func initializeLogger(w io.Writer, level string) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// parseLogLevel maps debug/info/warn/error to a slog level; anything else is info
func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Addr:               util.GetEnvDefault("CAREDESK_ADDR", api.DefaultAddr),
		StateDir:           util.GetEnvDefault("CAREDESK_STATE_DIR", DefaultStateDir),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		BackendURL:         os.Getenv("CAREDESK_BACKEND_URL"),
		PublicOrigin:       util.GetEnvDefault("CAREDESK_PUBLIC_ORIGIN", DefaultPublicOrigin),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        util.GetEnvDefault("OPENAI_MODEL", string(genai.DefaultModel)),
		GenAIDebug:         util.ParseBoolEnv("CAREDESK_GENAI_DEBUG", false),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		ReminderCron:       util.GetEnvDefault("REMINDER_SCHEDULE", reminders.DefaultSchedule),
		CalendarSyncCron:   util.GetEnvDefault("CALENDAR_SYNC_SCHEDULE", DefaultCalendarSyncSchedule),
		QueryStale:         util.ParseDurationEnv("CAREDESK_QUERY_STALE", DefaultQueryStale),
		LogLevel:           util.GetEnvDefault("CAREDESK_LOG_LEVEL", "info"),
	}

	slog.Debug("environment variables loaded",
		"CAREDESK_ADDR", config.Addr,
		"CAREDESK_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CAREDESK_BACKEND_URL", config.BackendURL,
		"CAREDESK_PUBLIC_ORIGIN", config.PublicOrigin,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GOOGLE_CLIENT_ID_SET", config.GoogleClientID != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"REMINDER_SCHEDULE", config.ReminderCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(args []string, config Config) (Flags, error) {
	f := Flags{Config: config}
	fs := flag.NewFlagSet("caredesk", flag.ContinueOnError)
	fs.StringVar(&f.Addr, "addr", config.Addr, "listen address (overrides $CAREDESK_ADDR)")
	fs.StringVar(&f.StateDir, "state-dir", config.StateDir, "state directory for CareDesk data (overrides $CAREDESK_STATE_DIR)")
	fs.StringVar(&f.DatabaseURL, "db-dsn", config.DatabaseURL, "database DSN; Postgres URL, SQLite path or \"memory\" (overrides $DATABASE_URL)")
	fs.StringVar(&f.BackendURL, "backend-url", config.BackendURL, "remote backend for the console; empty serves it in process (overrides $CAREDESK_BACKEND_URL)")
	fs.StringVar(&f.PublicOrigin, "public-origin", config.PublicOrigin, "externally visible origin (overrides $CAREDESK_PUBLIC_ORIGIN)")
	fs.StringVar(&f.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.OpenAIModel, "openai-model", config.OpenAIModel, "OpenAI model (overrides $OPENAI_MODEL)")
	fs.BoolVar(&f.GenAIDebug, "genai-debug", config.GenAIDebug, "write model calls to the state directory (overrides $CAREDESK_GENAI_DEBUG)")
	fs.StringVar(&f.GoogleClientID, "google-client-id", config.GoogleClientID, "Google OAuth client id (overrides $GOOGLE_CLIENT_ID)")
	fs.StringVar(&f.GoogleClientSecret, "google-client-secret", config.GoogleClientSecret, "Google OAuth client secret (overrides $GOOGLE_CLIENT_SECRET)")
	fs.StringVar(&f.TwilioAccountSID, "twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)")
	fs.StringVar(&f.TwilioAuthToken, "twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)")
	fs.StringVar(&f.TwilioFromNumber, "twilio-from-number", config.TwilioFromNumber, "Twilio sender number (overrides $TWILIO_FROM_NUMBER)")
	fs.StringVar(&f.ReminderCron, "reminder-cron", config.ReminderCron, "cron schedule for session reminders (overrides $REMINDER_SCHEDULE)")
	fs.StringVar(&f.CalendarSyncCron, "calendar-sync-cron", config.CalendarSyncCron, "cron schedule for calendar auto-sync (overrides $CALENDAR_SYNC_SCHEDULE)")
	fs.DurationVar(&f.QueryStale, "query-stale", config.QueryStale, "how long console reads stay fresh (overrides $CAREDESK_QUERY_STALE)")
	fs.StringVar(&f.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error (overrides $CAREDESK_LOG_LEVEL)")
	fs.BoolVar(&f.Audit, "audit", false, "run the console audit and exit")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if f.QueryStale <= 0 {
		f.QueryStale = DefaultQueryStale
	}

	slog.Debug("flags parsed",
		"addr", f.Addr,
		"stateDir", f.StateDir,
		"dbDSN_set", f.DatabaseURL != "",
		"backendURL", f.BackendURL,
		"openaiKeySet", f.OpenAIKey != "",
		"audit", f.Audit)
	return f, nil
}

// databaseDSN resolves the store DSN. Without one the store is a SQLite file
// in the state directory, which follows -state-dir.
func (f Flags) databaseDSN() string {
	switch {
	case f.DatabaseURL == MemoryDSN:
		return ""
	case f.DatabaseURL != "":
		return f.DatabaseURL
	default:
		return filepath.Join(f.StateDir, DefaultDBFileName)
	}
}

// usesStateDir reports whether the store keeps its data under the state directory.
func (f Flags) usesStateDir() bool {
	dsn := f.databaseDSN()
	return dsn != "" && store.DetectDSNType(dsn) == "sqlite3"
}

// run wires the store, backend and console and serves them until ctx is done
func run(ctx context.Context, f Flags) error {
	if f.usesStateDir() {
		lock, err := lockfile.Acquire(f.StateDir, lockfile.WithAddr(f.Addr))
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(f.databaseDSN())
	if err != nil {
		return err
	}
	defer st.Close()

	calendar := integrations.NewCalendarProvider(st, buildIntegrationOptions(f)...)
	drive := integrations.NewDriveProvider(st, buildIntegrationOptions(f)...)

	apiOpts := buildAPIOptions(f)
	apiOpts = append(apiOpts, api.WithCalendar(calendar), api.WithDrive(drive))
	gaClient, err := buildGenAIClient(f)
	if err != nil {
		return err
	}
	if gaClient != nil {
		apiOpts = append(apiOpts, api.WithGenAI(gaClient))
	}
	backend := api.NewServer(st, apiOpts...)

	sched := reminders.NewScheduler()
	defer sched.Stop()
	if err := scheduleJobs(sched, st, calendar, f); err != nil {
		return err
	}

	client := apiclient.New(buildClientOptions(f, backend.Handler())...)
	console, err := web.NewServer(client, web.WithConsoleOrigin(f.PublicOrigin))
	if err != nil {
		return fmt.Errorf("build console: %w", err)
	}

	slog.Debug("Final configuration", "state_dir", f.StateDir, "dsn_type", store.DetectDSNType(f.databaseDSN()),
		"addr", f.Addr, "genai_set", gaClient != nil, "jobs", sched.Len())
	return backend.ListenAndServe(ctx, newRootHandler(backend.Handler(), console.Handler()))
}

// newRootHandler serves the backend under /api/ and the console everywhere else
func newRootHandler(backend, console http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", backend)
	mux.Handle("/", console)
	return mux
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(f Flags) []api.Option {
	var apiOpts []api.Option
	if f.Addr != "" {
		apiOpts = append(apiOpts, api.WithAddr(f.Addr))
	}
	if f.PublicOrigin != "" {
		apiOpts = append(apiOpts, api.WithConsoleOrigin(f.PublicOrigin))
	}
	return apiOpts
}

// buildIntegrationOptions constructs Google provider options
func buildIntegrationOptions(f Flags) []integrations.Option {
	var opts []integrations.Option
	if f.GoogleClientID != "" && f.GoogleClientSecret != "" {
		opts = append(opts, integrations.WithClientCredentials(f.GoogleClientID, f.GoogleClientSecret))
	} else {
		slog.Debug("No Google OAuth credentials, calendar and drive disabled")
	}
	if f.PublicOrigin != "" {
		opts = append(opts, integrations.WithPublicOrigin(f.PublicOrigin))
	}
	return opts
}

// buildGenAIClient returns nil without an API key; the AI endpoints then
// report themselves unavailable.
func buildGenAIClient(f Flags) (*genai.Client, error) {
	if f.OpenAIKey == "" {
		slog.Info("No OpenAI API key configured, AI features disabled")
		return nil, nil
	}
	opts := []genai.Option{genai.WithAPIKey(f.OpenAIKey), genai.WithModel(f.OpenAIModel)}
	if f.GenAIDebug {
		opts = append(opts, genai.WithDebugMode(true), genai.WithStateDir(f.StateDir))
	}
	c, err := genai.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return c, nil
}

// buildClientOptions points the console at the in-process backend unless a
// remote backend URL is configured
func buildClientOptions(f Flags, backend http.Handler) []apiclient.Option {
	opts := []apiclient.Option{apiclient.WithCache(querycache.New(querycache.WithStaleTime(f.QueryStale)))}
	if f.BackendURL != "" {
		slog.Info("Console using remote backend", "backend_url", f.BackendURL)
		return append(opts, apiclient.WithBaseURL(f.BackendURL))
	}
	return append(opts, apiclient.WithHandler(backend))
}

// twilioConfigured reports whether every Twilio setting is present
func (f Flags) twilioConfigured() bool {
	return f.TwilioAccountSID != "" && f.TwilioAuthToken != "" && f.TwilioFromNumber != ""
}

// scheduleJobs registers session reminders and calendar auto-sync when their
// integrations are configured
func scheduleJobs(sched *reminders.Scheduler, st store.Store, calendar *integrations.CalendarProvider, f Flags) error {
	if f.twilioConfigured() {
		sender, err := reminders.NewTwilioSender(
			reminders.WithAccountSID(f.TwilioAccountSID),
			reminders.WithAuthToken(f.TwilioAuthToken),
			reminders.WithFromNumber(f.TwilioFromNumber),
		)
		if err != nil {
			return fmt.Errorf("create twilio sender: %w", err)
		}
		if err := reminders.NewService(st, sender).Schedule(sched, f.ReminderCron); err != nil {
			return fmt.Errorf("schedule reminders: %w", err)
		}
	} else {
		slog.Info("Twilio not configured, session reminders disabled")
	}

	if !calendar.Configured() {
		return nil
	}
	err := sched.AddJob("calendar-sync", f.CalendarSyncCron, func() {
		syncCalendar(context.Background(), calendar, time.Now())
	})
	if err != nil {
		return fmt.Errorf("schedule calendar sync: %w", err)
	}
	return nil
}

// syncCalendar runs one calendar import; a calendar that is not connected yet is skipped quietly
func syncCalendar(ctx context.Context, calendar *integrations.CalendarProvider, now time.Time) (models.SyncResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	res, err := calendar.Sync(ctx, now)
	switch {
	case errors.Is(err, integrations.ErrNotConnected):
		slog.Debug("syncCalendar: calendar not connected, skipping")
	case err != nil:
		slog.Error("syncCalendar: calendar sync failed", "error", err)
	}
	return res, err
}

// runAudit checks the console against the backend routes and the brand
// palette, prints the report and returns the process exit code
func runAudit(w io.Writer) int {
	st := store.NewInMemoryStore()
	defer st.Close()

	r := audit.Run(audit.Inputs{
		QueryKeys: apiclient.QueryKeys,
		Routes:    api.NewServer(st).Routes(),
		MatchPath: api.MatchPath,
		Assets:    web.Assets(),
		Palette:   models.BrandPalette,
	})
	if err := audit.WriteReport(w, r); err != nil {
		slog.Error("runAudit: failed to write report", "error", err)
		return 1
	}
	if !r.Passed() {
		return 1
	}
	return 0
}
