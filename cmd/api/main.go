// Package main implements the Stratum retrieval API server.
//
// The process serves the HTTP query surface and runs the NATS ingestion
// consumer in the same address space, so the lexical index built at ingest
// time is directly searchable by the query path.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/StratumAI/stratum-mvp/engine/catalog"
	"github.com/StratumAI/stratum-mvp/engine/chunker"
	"github.com/StratumAI/stratum-mvp/engine/domain"
	"github.com/StratumAI/stratum-mvp/engine/embed"
	"github.com/StratumAI/stratum-mvp/engine/hybrid"
	"github.com/StratumAI/stratum-mvp/engine/ingest"
	"github.com/StratumAI/stratum-mvp/engine/normalize"
	"github.com/StratumAI/stratum-mvp/engine/segment"
	"github.com/StratumAI/stratum-mvp/engine/semantic"
	"github.com/StratumAI/stratum-mvp/engine/sparse"
	"github.com/StratumAI/stratum-mvp/pkg/config"
	"github.com/StratumAI/stratum-mvp/pkg/metrics"
	"github.com/StratumAI/stratum-mvp/pkg/mid"
	"github.com/StratumAI/stratum-mvp/pkg/natsutil"
	"github.com/StratumAI/stratum-mvp/pkg/resilience"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var met = metrics.New()

var (
	mQueries      = met.Counter("query_requests_total", "Hybrid retrieval requests served")
	mQueryErrors  = met.Counter("query_errors_total", "Hybrid retrieval requests that failed")
	mQueryDur     = met.Histogram("query_duration_seconds", "Hybrid retrieval latency", nil)
	mDocsAccepted = met.Counter("documents_accepted_total", "Documents accepted for ingestion")
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("stratum-api"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	// --- Connect to Neo4j ---
	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URI,
		neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)

	registry := catalog.New(neo4jDriver)

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection, cfg.Embedder.Dimension, logger)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	if err := vectorStore.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	// --- Embedding provider ---
	embedClient := embed.NewClient(embed.ClientOpts{
		BaseURL:           cfg.Embedder.BaseURL,
		APIKey:            cfg.EmbedderAPIKey(),
		Model:             cfg.Embedder.Model,
		Dimension:         cfg.Embedder.Dimension,
		Timeout:           cfg.EmbedderTimeout(),
		RequestsPerSecond: cfg.Embedder.RequestsPerSecond,
	})
	embedder := embed.NewResilient(embedClient, 0, logger,
		met.Counter("embed_fallbacks_total", "Embedding calls that fell back to zero vectors"))

	// --- Lexical index (in-process, rebuilt per document at ingest) ---
	sparseIndex := sparse.NewIndex(logger)

	// --- Hybrid retriever ---
	var reranker hybrid.Reranker
	if cfg.Retrieval.RerankBaseURL != "" {
		reranker = hybrid.NewRerankClient(hybrid.RerankOpts{
			BaseURL: cfg.Retrieval.RerankBaseURL,
			APIKey:  os.Getenv("RERANK_API_KEY"),
			Model:   cfg.Retrieval.RerankModel,
		})
	}
	retriever := hybrid.New(embedder, vectorStore, sparseIndex, reranker, hybrid.Opts{
		DenseWeight:  cfg.Retrieval.DenseWeight,
		SparseWeight: cfg.Retrieval.SparseWeight,
	}, logger)

	// --- Ingestion consumer ---
	builder := chunker.New(chunker.Config{
		Strategy:            domain.Strategy(cfg.Chunker.Strategy),
		MinTokens:           cfg.Chunker.MinTokens,
		MaxTokens:           cfg.Chunker.MaxTokens,
		Percentile:          cfg.Chunker.Percentile,
		SimilarityThreshold: cfg.Chunker.SimilarityThreshold,
		SegmentMode:         segment.Mode(cfg.Chunker.SegmentMode),
	}, embedder, logger)

	var artifacts ingest.ArtifactWriter
	if cfg.Ingest.ArtifactDir != "" {
		fa, err := ingest.NewFileArtifacts(cfg.Ingest.ArtifactDir)
		if err != nil {
			return fmt.Errorf("artifact writer: %w", err)
		}
		artifacts = fa
	}

	sub, err := ingest.StartConsumer(nc, ingest.Deps{
		Normalizer: normalize.New(logger),
		Chunker:    builder,
		Embedder:   embedder,
		Vectors:    vectorStore,
		Sparse:     sparseIndex,
		Catalog:    registry,
		Artifacts:  artifacts,
		Metrics:    ingest.NewMetrics(met),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer sub.Unsubscribe()

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/documents", handleSubmit(nc, logger))
	mux.HandleFunc("GET /api/documents/{id}", handleDocument(registry, logger))
	mux.HandleFunc("POST /api/query", handleQuery(retriever, cfg.Retrieval, logger))
	mux.Handle("GET /metrics", met.Handler())

	var limiter *resilience.Limiter
	if cfg.Server.RequestsPerSecond > 0 {
		limiter = resilience.NewLimiter(resilience.LimiterOpts{
			Rate:  cfg.Server.RequestsPerSecond,
			Burst: cfg.Server.Burst,
		})
	}

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.RateLimit(limiter),
		mid.APIKey(mid.NewKeySet(cfg.Server.APIKeys)),
		mid.OTel("stratum-api"),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// SubmitResponse is the JSON response for POST /api/documents.
type SubmitResponse struct {
	Status string `json:"status"`
	DocID  string `json:"doc_id"`
}

func handleSubmit(nc *nats.Conn, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw ingest.RawDocument
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if raw.DocID == "" {
			http.Error(w, `{"error":"doc_id is required"}`, http.StatusBadRequest)
			return
		}
		if len(raw.Pages) == 0 {
			http.Error(w, `{"error":"pages are required"}`, http.StatusBadRequest)
			return
		}

		if err := natsutil.Publish(r.Context(), nc, ingest.IngestSubject, raw); err != nil {
			logger.Error("document publish failed", "doc_id", raw.DocID, "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		mDocsAccepted.Inc()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(SubmitResponse{Status: "queued", DocID: raw.DocID})
	}
}

func handleDocument(registry *catalog.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := registry.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			logger.Error("catalog lookup failed", "doc_id", r.PathValue("id"), "err", err)
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entry)
	}
}

// QueryRequest is the JSON body for POST /api/query.
type QueryRequest struct {
	Query      string   `json:"query"`
	DocIDs     []string `json:"doc_ids,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
	RerankTopN int      `json:"rerank_top_n,omitempty"`
}

// QueryResponse is the JSON response for POST /api/query.
type QueryResponse struct {
	Results []domain.RetrievalCandidate `json:"results"`
	Count   int                         `json:"count"`
}

func handleQuery(retriever *hybrid.Retriever, cfg config.RetrievalConfig, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Query == "" {
			http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
			return
		}
		rerankTopN := req.RerankTopN
		if rerankTopN == 0 {
			rerankTopN = cfg.RerankTopN
		}

		start := time.Now()
		results, err := retriever.Retrieve(r.Context(), hybrid.Query{
			Text:          req.Query,
			DocIDs:        req.DocIDs,
			DenseTopK:     cfg.DenseTopK,
			SparseTopK:    cfg.SparseTopK,
			MaxCandidates: req.TopK,
			RerankTopN:    rerankTopN,
		})
		mQueryDur.Since(start)
		if err != nil {
			mQueryErrors.Inc()
			if domain.IsValidation(err) {
				http.Error(w, `{"error":"invalid query"}`, http.StatusBadRequest)
				return
			}
			logger.Error("retrieval failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		mQueries.Inc()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(QueryResponse{Results: results, Count: len(results)})
	}
}
