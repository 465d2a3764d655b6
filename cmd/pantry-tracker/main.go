package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/pantry-tracker/internal/inventory"
	"github.com/zombor/pantry-tracker/internal/scanning"
	"github.com/zombor/pantry-tracker/internal/storage"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	hostname, _ := os.Hostname()

	fs := ff.NewFlagSet("pantry-tracker")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "pantry-tracker.db", "Local database file path")
		exportDir    = fs.StringLong("export-dir", "./exports", "Directory for archived inventory exports")
		scannerType  = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		remoteConfig = fs.StringLong("remote-config", "", "Remote store configuration as JSON (empty runs locally)")
		remoteDSN    = fs.StringLong("remote-dsn", "", "Postgres DSN for the remote store, overrides --remote-config")
		tokenSecret  = fs.StringLong("remote-token-secret", "", "Secret that signs custom sign-in tokens")
		appID        = fs.StringLong("app-id", storage.DefaultAppID, "Application id that namespaces remote documents")
		authToken    = fs.StringLong("auth-token", "", "Custom sign-in token (empty signs in anonymously)")
		deviceID     = fs.StringLong("device-id", hostname, "Stable device id for anonymous remote sign-in")
		sentryDSN    = fs.StringLong("sentry-dsn", "", "Sentry DSN for error reporting (optional)")
		logFormat    = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		mintToken    = fs.StringLong("mint-token", "", "Print a custom sign-in token for this user id and exit")
		_            = fs.StringLong("config", "", "Config file (optional)")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PANTRY_TRACKER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	switch *logFormat {
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	default:
		slog.Error("Invalid log format", "format", *logFormat, "valid", "text or json")
		os.Exit(1)
	}

	// Resolve remote configuration. A malformed blob is left for the store,
	// which reports it and runs locally.
	remote, err := storage.ParseRemoteConfig(*remoteConfig)
	if err != nil {
		slog.Warn("Ignoring malformed remote config", "error", err)
	}
	if *remoteDSN != "" {
		if remote == nil {
			remote = &storage.RemoteConfig{}
		}
		remote.DSN = *remoteDSN
	}
	if *tokenSecret != "" {
		if remote == nil {
			remote = &storage.RemoteConfig{}
		}
		remote.TokenSecret = *tokenSecret
	}

	if *mintToken != "" {
		if remote == nil || remote.TokenSecret == "" {
			slog.Error("A token secret is required to mint tokens. Set --remote-token-secret")
			os.Exit(1)
		}
		token, err := storage.IssueCustomToken(remote.TokenSecret, *appID, *mintToken, "", 30*24*time.Hour)
		if err != nil {
			slog.Error("Failed to mint token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	if *sentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              *sentryDSN,
			Release:          version,
			AttachStacktrace: true,
		}); err != nil {
			slog.Error("Sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize local database
	slog.Info("Initializing database...", "path", *dbPath)
	local, err := storage.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer local.Close()

	store := storage.NewStore(ctx, storage.Config{
		Remote:      remote,
		RemoteJSON:  *remoteConfig,
		AppID:       *appID,
		CustomToken: *authToken,
		DeviceID:    *deviceID,
		Retry:       storage.DefaultRetryPolicy(),
		OnFallback: func(reason error) {
			sentry.CaptureException(reason)
		},
	}, local, storage.DialPostgres)
	defer store.Close()

	slog.Info("Storage ready", "mode", store.Mode().String(), "app_id", store.AppID())
	if err := store.SignIn(ctx); err != nil {
		slog.Warn("Sign-in failed", "error", err)
	}

	session := inventory.NewSession(ctx, store)
	defer session.Close()

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize export archive
	archive, err := inventory.NewDirArchive(*exportDir)
	if err != nil {
		slog.Error("Failed to initialize export archive", "error", err)
		os.Exit(1)
	}

	service := inventory.NewService(store, scanner, archive)

	queue := inventory.NewScanQueue(scanner, 32)
	queue.Start(ctx)
	defer queue.Stop()

	server := inventory.NewServer(service, session, queue, inventory.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	handler := server.Handler()
	if *sentryDSN != "" {
		handler = sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(handler)
	}

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := inventory.Run(ctx, addr, handler); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down...")
}
