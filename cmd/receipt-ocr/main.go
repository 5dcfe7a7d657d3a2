package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-ocr/internal/nts"
	"github.com/zombor/receipt-ocr/internal/receipt"
	"github.com/zombor/receipt-ocr/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// PaddleX serving listens on 8080, so the API takes 8000 to avoid posting
// OCR requests to itself.
const (
	defaultPort      = 8000
	defaultPaddleURL = "http://localhost:8080"
)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receipt-ocr")
	var (
		port           = fs.IntLong("port", defaultPort, "HTTP server port")
		dbPath         = fs.StringLong("db", "receipt-ocr.db", "Database file path")
		storagePath    = fs.StringLong("storage", "./results", "Storage directory path")
		engineKind     = fs.StringLong("engine", scanning.EnginePaddle, "OCR engine: 'paddle', 'gemini' or 'tesseract'")
		paddleURL      = fs.StringLong("paddle-url", defaultPaddleURL, "PaddleOCR serving base URL")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		tesseractLang  = fs.StringLong("tesseract-lang", "kor+eng", "Tesseract languages")
		workers        = fs.IntLong("workers", scanning.DefaultWorkers(), "OCR worker count")
		maxWidth       = fs.IntLong("max-width", scanning.DefaultMaxWidth, "Downscale images wider than this (0 disables)")
		pdfDPI         = fs.Float64Long("pdf-dpi", scanning.DefaultPDFDPI, "PDF rendering resolution")
		serviceKey     = fs.StringLong("service-key", "", "Default NTS business status API service key")
		ntsURL         = fs.StringLong("nts-url", nts.DefaultBaseURL, "NTS business status API base URL")
		lookupAttempts = fs.IntLong("lookup-attempts", 3, "Tax lookup attempts per receipt")
		lookupTimeout  = fs.DurationLong("lookup-timeout", 10*time.Second, "Timeout of one tax lookup attempt")
		lookupRPS      = fs.Float64Long("lookup-rps", 0, "Max tax lookups per second (0 is unlimited)")
		trustProxy     = fs.BoolLong("trust-proxy", "Identify clients by X-Forwarded-For (only behind a reverse proxy)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		logFormat      = fs.StringLong("log-format", "text", "Log format: text or json")
		_              = fs.StringLong("config", "", "Config file (one 'flag value' per line)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_OCR"),
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

	if err := setupLogging(*logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	factory, err := scanning.NewEngineFactory(scanning.EngineConfig{
		Kind:          *engineKind,
		PaddleURL:     *paddleURL,
		GeminiKey:     apiKey,
		GeminiModel:   *geminiModel,
		TesseractLang: *tesseractLang,
	})
	if err != nil {
		slog.Error("Failed to configure OCR engine", "engine", *engineKind, "error", err)
		os.Exit(1)
	}

	slog.Info("Starting OCR workers...", "engine", *engineKind, "workers", *workers)
	pool := scanning.NewPool(*workers, factory)
	defer pool.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	lookup := nts.New(nts.Config{
		BaseURL:       *ntsURL,
		Attempts:      *lookupAttempts,
		Timeout:       *lookupTimeout,
		RatePerSecond: *lookupRPS,
	})
	if *serviceKey == "" {
		slog.Warn("No default service key; tax lookups only run for uploads that bring a key")
	}

	receiptService := receipt.NewService(db, store, pool, lookup, receipt.Config{
		ServiceKey: *serviceKey,
		Raster:     scanning.RasterOptions{MaxWidth: *maxWidth, PDFDPI: *pdfDPI},
	})

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth)
	server.TrustProxy(*trustProxy)

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting server", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
