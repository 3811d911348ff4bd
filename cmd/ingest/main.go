// Command ingest watches a directory for extracted document JSON files and
// publishes them to the ingestion subject. The API server's consumer picks
// them up and runs the chunk/embed/store pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/StratumAI/stratum-mvp/engine/ingest"
	"github.com/StratumAI/stratum-mvp/pkg/config"
	"github.com/StratumAI/stratum-mvp/pkg/metrics"
	"github.com/StratumAI/stratum-mvp/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

var met = metrics.New()

var (
	mFilesPublished = met.Counter("loader_files_published_total", "Document files published to the ingest subject")
	mFilesSkipped   = met.Counter("loader_files_skipped_total", "Files skipped because they were already published")
	mFileErrors     = func(stage string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("loader_file_errors_total", "stage", stage), "Files that failed a loader stage")
	}
	mLastScan = met.Gauge("loader_last_scan_timestamp", "Epoch of last directory scan")
)

func main() {
	var (
		dataDir     = flag.String("dir", "./data", "directory to watch for document JSON files")
		configPath  = flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
		interval    = flag.Duration("interval", 30*time.Second, "scan interval")
		stateFile   = flag.String("state", "", "processed-files state (default <dir>/.loader-state.json)")
		metricsPort = flag.Int("metrics-port", 9091, "metrics listen port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if *stateFile == "" {
		*stateFile = filepath.Join(*dataDir, ".loader-state.json")
	}

	met.ServeAsync(*metricsPort)

	if err := run(cfg, *dataDir, *stateFile, *interval, logger); err != nil {
		logger.Error("loader exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, dataDir, stateFile string, interval time.Duration, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("stratum-loader"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	state := loadState(stateFile, logger)

	logger.Info("loader starting", "dir", dataDir, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		scan(ctx, nc, dataDir, state, logger)
		saveState(stateFile, state, logger)

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return nil
		case <-ticker.C:
		}
	}
}

func scan(ctx context.Context, nc *nats.Conn, dataDir string, state map[string]bool, logger *slog.Logger) {
	mLastScan.Set(time.Now().Unix())

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		logger.Error("directory scan failed", "dir", dataDir, "err", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if state[entry.Name()] {
			mFilesSkipped.Inc()
			continue
		}
		raw, err := loadDocument(filepath.Join(dataDir, entry.Name()))
		if err != nil {
			mFileErrors("parse").Inc()
			logger.Error("file unreadable", "file", entry.Name(), "err", err)
			continue
		}
		if err := natsutil.Publish(ctx, nc, ingest.IngestSubject, raw); err != nil {
			mFileErrors("publish").Inc()
			logger.Error("file publish failed", "file", entry.Name(), "err", err)
			continue
		}
		state[entry.Name()] = true
		mFilesPublished.Inc()
		logger.Info("document published", "file", entry.Name(), "doc_id", raw.DocID)
	}
}

func loadDocument(path string) (ingest.RawDocument, error) {
	var raw ingest.RawDocument

	data, err := os.ReadFile(path)
	if err != nil {
		return raw, fmt.Errorf("read: %w", err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return raw, fmt.Errorf("parse: %w", err)
	}
	if raw.DocID == "" {
		// Derive a stable ID from the filename when the extractor left it out.
		base := filepath.Base(path)
		raw.DocID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if raw.Filename == "" {
		raw.Filename = filepath.Base(path)
	}
	if len(raw.Pages) == 0 {
		return raw, fmt.Errorf("parse: no pages in %s", filepath.Base(path))
	}
	return raw, nil
}

// --- State ---

func loadState(path string, logger *slog.Logger) map[string]bool {
	state := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn("state file unreadable, starting fresh", "path", path, "err", err)
		return make(map[string]bool)
	}
	return state
}

func saveState(path string, state map[string]bool, logger *slog.Logger) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn("state file write failed", "path", path, "err", err)
	}
}
