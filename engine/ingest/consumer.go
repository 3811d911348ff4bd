package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/StratumAI/stratum-mvp/engine/catalog"
	"github.com/StratumAI/stratum-mvp/engine/domain"
	"github.com/StratumAI/stratum-mvp/pkg/natsutil"
)

const (
	// IngestSubject carries upstream-extraction documents.
	IngestSubject = "engine.ingest"
	// DLQSubject receives documents that exhausted their retries or failed
	// non-retryably.
	DLQSubject = "engine.ingest.dlq"
	// MaxRetries before a retryable failure goes to the DLQ.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
	// messageTimeout bounds one document's trip through the pipeline.
	messageTimeout = 2 * time.Minute
)

// dlqMessage is published to the DLQ on terminal failure.
type dlqMessage struct {
	Doc     RawDocument `json:"doc"`
	Error   string      `json:"error"`
	Retries int         `json:"retries"`
}

// StartConsumer subscribes to the ingest subject and runs every document
// through the pipeline. Retryable failures are re-published with an
// incremented retry header; structural and validation failures go straight
// to the DLQ since retrying cannot fix the input.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		var raw RawDocument
		if err := json.Unmarshal(msg.Data, &raw); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(natsutil.Extract(msg), messageTimeout)
		defer cancel()
		start := time.Now()

		doc := raw.toDomain()
		doc.Meta.IngestionTimestamp = time.Now().UTC().Format(time.RFC3339)

		if skip := checkDuplicate(ctx, deps, log, doc); skip {
			ackIfNeeded(msg)
			return
		}
		supersedePrior(ctx, deps, log, doc.DocID)

		result := pipeline(ctx, doc)
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			if deps.Metrics != nil {
				deps.Metrics.Failures.Inc()
			}
			handleFailure(nc, log, msg, raw, pipeErr)
			ackIfNeeded(msg)
			return
		}

		report, _ := result.Unwrap()
		if deps.Catalog != nil {
			err := deps.Catalog.Register(ctx, catalog.Entry{
				DocID:      report.DocID,
				Name:       doc.DocumentName,
				FileHash:   doc.Meta.FileHash,
				Strategy:   string(deps.Chunker.Strategy()),
				ChunkCount: report.Chunks,
			})
			if err != nil {
				log.Warn("ingest: catalog register failed", "error", err, "doc_id", report.DocID)
			}
		}
		if deps.Metrics != nil {
			deps.Metrics.Documents.Inc()
			deps.Metrics.Chunks.Add(int64(report.Chunks))
			deps.Metrics.Duration.Since(start)
		}
		log.Info("ingest: success",
			"doc_id", report.DocID,
			"chunks", report.Chunks,
			"points", report.PointsUpserted,
			"duration", time.Since(start),
		)
		ackIfNeeded(msg)
	})
}

// checkDuplicate reports whether a live document with the same file hash is
// already registered under another doc id.
func checkDuplicate(ctx context.Context, deps Deps, log *slog.Logger, doc domain.Document) bool {
	if deps.Catalog == nil || doc.Meta.FileHash == "" {
		return false
	}
	owner, exists, err := deps.Catalog.ExistsByHash(ctx, doc.Meta.FileHash)
	if err != nil {
		log.Warn("ingest: dedup check failed", "error", err, "doc_id", doc.DocID)
		return false
	}
	if exists && owner != doc.DocID {
		log.Info("ingest: skipping duplicate upload", "doc_id", doc.DocID, "existing_doc_id", owner)
		return true
	}
	return false
}

// supersedePrior retires a previous run of the same doc id: the old chunks
// leave both indexes and the catalog entry is flagged, never updated in
// place.
func supersedePrior(ctx context.Context, deps Deps, log *slog.Logger, docID string) {
	if deps.Catalog == nil {
		return
	}
	if _, err := deps.Catalog.Get(ctx, docID); err != nil {
		return
	}
	if err := deps.Catalog.MarkSuperseded(ctx, docID); err != nil {
		log.Warn("ingest: supersede failed", "error", err, "doc_id", docID)
		return
	}
	if err := deps.Vectors.DeleteByDocID(ctx, docID); err != nil {
		log.Warn("ingest: stale vector cleanup failed", "error", err, "doc_id", docID)
	}
	deps.Sparse.Delete(docID)
	log.Info("ingest: superseded prior run", "doc_id", docID)
}

func handleFailure(nc *nats.Conn, log *slog.Logger, msg *nats.Msg, raw RawDocument, pipeErr error) {
	retries := retryCount(msg) + 1
	log.Error("ingest: pipeline failed",
		"error", pipeErr,
		"doc_id", raw.DocID,
		"retry", retries,
	)

	if domain.IsRetryable(pipeErr) && retries < MaxRetries {
		retryMsg := nats.NewMsg(IngestSubject)
		retryMsg.Data = msg.Data
		// Carry the incoming headers (trace context included) across the
		// retry hop; only the retry count is rewritten.
		for k, vals := range msg.Header {
			if k == retryHeader {
				continue
			}
			retryMsg.Header[k] = append([]string(nil), vals...)
		}
		retryMsg.Header.Set(retryHeader, strconv.Itoa(retries))
		if err := nc.PublishMsg(retryMsg); err != nil {
			log.Error("ingest: retry publish failed", "error", err, "doc_id", raw.DocID)
		}
		return
	}

	data, _ := json.Marshal(dlqMessage{Doc: raw, Error: pipeErr.Error(), Retries: retries})
	if err := nc.Publish(DLQSubject, data); err != nil {
		log.Error("ingest: DLQ publish failed", "error", err, "doc_id", raw.DocID)
	}
}

func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, _ := strconv.Atoi(msg.Header.Get(retryHeader))
	return n
}

func ackIfNeeded(msg *nats.Msg) {
	if msg.Reply != "" {
		_ = msg.Ack()
	}
}
