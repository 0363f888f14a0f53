package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"go.etcd.io/bbolt"

	"github.com/zombor/expense-tracker/internal/account"
	"github.com/zombor/expense-tracker/internal/receipt"
	"github.com/zombor/expense-tracker/internal/report"
	"github.com/zombor/expense-tracker/internal/scanning"
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

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	fs := ff.NewFlagSet("expense-tracker")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "expense-tracker.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./uploads", "Upload and report storage directory")
		scannerType   = fs.StringLong("scanner", "gemini", "Model provider: 'gemini', 'ollama' or 'none'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llama3.1", "Ollama model for parsing and chat")
		ollamaVision  = fs.StringLong("ollama-vision-model", "llava", "Ollama vision model for OCR")
		sessionSecret = fs.StringLong("session-secret", "", "Secret used to sign session tokens (required)")
		sessionTTL    = fs.DurationLong("session-ttl", 24*time.Hour, "Session lifetime")
		usersFile     = fs.StringLong("users-file", "", "YAML file of users to create at startup")
		llmTimeout    = fs.DurationLong("llm-timeout", 2*time.Minute, "Timeout for each OCR or model call")
		maxUploadMB   = fs.IntLong("max-upload-mb", 16, "Maximum upload size in megabytes")
		corsOrigin    = fs.StringLong("cors-origin", "*", "Access-Control-Allow-Origin value")
		secureCookies = fs.BoolLong("secure-cookies", "Mark the session cookie Secure (serve over HTTPS)")
		logFormat     = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		_             = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := setupLogging(*logFormat, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	sessions, err := account.NewSessions(*sessionSecret, *sessionTTL)
	if err != nil {
		slog.Error("Invalid session configuration. Set --session-secret or EXPENSE_TRACKER_SESSION_SECRET", "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := bbolt.Open(*dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	userDB, err := account.NewBoltDB(db)
	if err != nil {
		slog.Error("Failed to initialize user store", "error", err)
		os.Exit(1)
	}
	receiptDB, err := receipt.NewBoltDB(db)
	if err != nil {
		slog.Error("Failed to initialize receipt store", "error", err)
		os.Exit(1)
	}

	accounts := account.NewService(userDB)
	if *usersFile != "" {
		slog.Info("Seeding users...", "file", *usersFile)
		if err := accounts.SeedFromFile(*usersFile); err != nil {
			slog.Error("Failed to seed users", "error", err)
			os.Exit(1)
		}
	}

	scanner, err := newScanner(*scannerType, *geminiKey, *geminiModel, *ollamaURL, *ollamaModel, *ollamaVision)
	if err != nil {
		slog.Error("Failed to initialize scanner", "type", *scannerType, "error", err)
		os.Exit(1)
	}
	if scanner != nil {
		defer scanner.Close()
	}

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	receiptService := receipt.NewService(receiptDB, store, scanner, report.NewPDF(), *llmTimeout)

	server := receipt.NewServer(receiptService, accounts, sessions, receipt.ServerConfig{
		CORSOrigin:     *corsOrigin,
		MaxUploadBytes: int64(*maxUploadMB) << 20,
		SecureCookies:  *secureCookies,
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

// newScanner builds the configured model provider. A nil scanner with a nil
// error means the server runs without extraction and chat.
func newScanner(kind, geminiKey, geminiModel, ollamaURL, ollamaModel, ollamaVision string) (scanning.Scanner, error) {
	switch kind {
	case "gemini":
		apiKey := geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Warn("Gemini API key not set. Set --gemini-key or GEMINI_API_KEY; extraction and chat are disabled")
			return nil, nil
		}
		slog.Info("Initializing Gemini scanner...", "model", geminiModel)
		return scanning.NewGemini(apiKey, geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", ollamaURL, "model", ollamaModel, "vision_model", ollamaVision)
		return scanning.NewOllama(ollamaURL, ollamaModel, ollamaVision)
	case "none":
		slog.Warn("No model provider configured; extraction and chat are disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid scanner type %q, want gemini, ollama or none", kind)
	}
}

func setupLogging(format, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q, want text or json", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
