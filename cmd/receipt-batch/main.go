// Command receipt-batch runs every receipt in a directory through the OCR
// pipeline once and writes the renamed images plus a report next to them.
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
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

// localClient scopes the output directory of batch runs.
const localClient = "local"

func main() {
	fs := ff.NewFlagSet("receipt-batch")
	var (
		inputDir      = fs.StringLong("input", "./receipts", "Directory with receipt images and PDFs")
		outputDir     = fs.StringLong("output", "./results", "Directory for renamed images and the report")
		format        = fs.StringLong("format", string(receipt.FormatXLSX), "Report format: csv or xlsx")
		engineKind    = fs.StringLong("engine", scanning.EnginePaddle, "OCR engine: 'paddle', 'gemini' or 'tesseract'")
		paddleURL     = fs.StringLong("paddle-url", "http://localhost:8080", "PaddleOCR serving base URL")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		tesseractLang = fs.StringLong("tesseract-lang", "kor+eng", "Tesseract languages")
		workers       = fs.IntLong("workers", scanning.DefaultWorkers(), "OCR worker count")
		maxWidth      = fs.IntLong("max-width", scanning.DefaultMaxWidth, "Downscale images wider than this (0 disables)")
		serviceKey    = fs.StringLong("service-key", "", "NTS business status API service key")
		ntsURL        = fs.StringLong("nts-url", nts.DefaultBaseURL, "NTS business status API base URL")
		verbose       = fs.BoolLong("verbose", "Log every processed file")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("RECEIPT_OCR")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	reportFormat := receipt.ExportFormat(*format)
	if reportFormat != receipt.FormatCSV && reportFormat != receipt.FormatXLSX {
		slog.Error("Unknown report format", "format", *format)
		os.Exit(1)
	}

	uploads, err := readUploads(*inputDir)
	if err != nil {
		slog.Error("Failed to read input directory", "dir", *inputDir, "error", err)
		os.Exit(1)
	}
	if len(uploads) == 0 {
		slog.Warn("No files to process", "dir", *inputDir)
		return
	}

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
	pool := scanning.NewPool(*workers, factory)
	defer pool.Close()

	store, err := receipt.NewLocalStorage(*outputDir)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	db, err := receipt.NewBoltDB(filepath.Join(*outputDir, "receipt-batch.db"))
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	service := receipt.NewService(db, store, pool, nts.New(nts.Config{BaseURL: *ntsURL}), receipt.Config{
		ServiceKey: *serviceKey,
		Raster:     scanning.RasterOptions{MaxWidth: *maxWidth, PDFDPI: scanning.DefaultPDFDPI},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Processing receipts", "files", len(uploads), "engine", *engineKind, "workers", *workers)
	start := time.Now()
	result, err := service.ProcessBatch(ctx, receipt.Batch{ClientID: localClient, Files: uploads})
	if err != nil {
		slog.Error("Batch failed", "error", err)
		os.Exit(1)
	}

	for _, out := range result.Outcomes {
		if out.Failed() {
			slog.Warn("Receipt failed", "file", out.OriginalFile, "stage", out.FailedAt, "error", out.Error)
			continue
		}
		slog.Debug("Receipt processed", "file", out.OriginalFile, "renamed", out.RenamedFile)
	}

	reportPath := filepath.Join(*outputDir, fmt.Sprintf("report_%s.%s", result.ID, reportFormat))
	if err := writeReport(reportPath, result, reportFormat); err != nil {
		slog.Error("Failed to write report", "error", err)
		os.Exit(1)
	}

	slog.Info("Done",
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"report", reportPath,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if result.Failed > 0 {
		os.Exit(2)
	}
}

// readUploads loads the regular files of dir in name order. Format checks
// happen in the pipeline so unsupported files still show up in the report.
func readUploads(dir string) ([]receipt.Upload, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var uploads []receipt.Upload
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		uploads = append(uploads, receipt.Upload{Filename: e.Name(), Data: data})
	}
	return uploads, nil
}

func writeReport(path string, result *receipt.BatchResult, format receipt.ExportFormat) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := receipt.WriteReport(f, result, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
