// Package catalog is the document registry. One Document node per ingested
// doc id tracks its file hash, chunking strategy, and lifecycle status, so
// the ingest consumer can skip duplicate uploads and mark superseded runs
// instead of mutating chunks in place.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Document statuses.
const (
	StatusIngested   = "ingested"
	StatusSuperseded = "superseded"
)

// Entry is one registered document.
type Entry struct {
	DocID      string
	Name       string
	FileHash   string
	Strategy   string
	Status     string
	ChunkCount int
	IngestedAt time.Time
}

// Registry stores document entries in Neo4j.
type Registry struct {
	driver neo4j.DriverWithContext
}

func New(driver neo4j.DriverWithContext) *Registry {
	return &Registry{driver: driver}
}

// Register creates or updates the Document node for an ingestion run.
func (r *Registry) Register(ctx context.Context, e Entry) error {
	sess := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	if e.Status == "" {
		e.Status = StatusIngested
	}
	if e.IngestedAt.IsZero() {
		e.IngestedAt = time.Now().UTC()
	}
	cypher := `MERGE (d:Document {doc_id: $doc_id}) SET d += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"doc_id": e.DocID,
		"props": map[string]any{
			"name":        e.Name,
			"file_hash":   e.FileHash,
			"strategy":    e.Strategy,
			"status":      e.Status,
			"chunk_count": e.ChunkCount,
			"ingested_at": e.IngestedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("catalog: register %s: %w", e.DocID, err)
	}
	return nil
}

// ExistsByHash looks up a live document with the given file hash. Returns
// the owning doc id when found. Superseded documents do not count.
func (r *Registry) ExistsByHash(ctx context.Context, fileHash string) (string, bool, error) {
	sess := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document {file_hash: $hash, status: $status}) RETURN d.doc_id AS doc_id LIMIT 1`
	result, err := sess.Run(ctx, cypher, map[string]any{"hash": fileHash, "status": StatusIngested})
	if err != nil {
		return "", false, fmt.Errorf("catalog: lookup hash: %w", err)
	}
	if !result.Next(ctx) {
		return "", false, nil
	}
	id, _ := result.Record().Get("doc_id")
	docID, _ := id.(string)
	return docID, docID != "", nil
}

// MarkSuperseded flags a document's previous run as replaced. Its chunks
// are removed from the indexes by the caller; the node stays for history.
func (r *Registry) MarkSuperseded(ctx context.Context, docID string) error {
	sess := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document {doc_id: $doc_id}) SET d.status = $status`
	_, err := sess.Run(ctx, cypher, map[string]any{"doc_id": docID, "status": StatusSuperseded})
	if err != nil {
		return fmt.Errorf("catalog: supersede %s: %w", docID, err)
	}
	return nil
}

// Get fetches one entry by doc id.
func (r *Registry) Get(ctx context.Context, docID string) (Entry, error) {
	sess := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document {doc_id: $doc_id}) RETURN d`
	result, err := sess.Run(ctx, cypher, map[string]any{"doc_id": docID})
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: get %s: %w", docID, err)
	}
	if !result.Next(ctx) {
		return Entry{}, fmt.Errorf("catalog: document %s not found", docID)
	}
	raw, ok := result.Record().Get("d")
	if !ok {
		return Entry{}, fmt.Errorf("catalog: malformed record for %s", docID)
	}
	node, ok := raw.(neo4j.Node)
	if !ok {
		return Entry{}, fmt.Errorf("catalog: unexpected node type for %s", docID)
	}
	return entryFromProps(docID, node.Props), nil
}

func entryFromProps(docID string, props map[string]any) Entry {
	e := Entry{DocID: docID}
	if v, ok := props["name"].(string); ok {
		e.Name = v
	}
	if v, ok := props["file_hash"].(string); ok {
		e.FileHash = v
	}
	if v, ok := props["strategy"].(string); ok {
		e.Strategy = v
	}
	if v, ok := props["status"].(string); ok {
		e.Status = v
	}
	if v, ok := props["chunk_count"].(int64); ok {
		e.ChunkCount = int(v)
	}
	if v, ok := props["ingested_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			e.IngestedAt = t
		}
	}
	return e
}
