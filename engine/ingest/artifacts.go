package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileArtifacts writes the persisted artifact shapes as JSON files under a
// directory, one pair per document: <doc_id>.chunks.json and
// <doc_id>.embeddings.json. Re-ingesting a document overwrites its pair.
type FileArtifacts struct {
	dir string
}

// NewFileArtifacts creates the directory if needed.
func NewFileArtifacts(dir string) (*FileArtifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact dir %s: %w", dir, err)
	}
	return &FileArtifacts{dir: dir}, nil
}

func (f *FileArtifacts) WriteChunkSet(_ context.Context, a ChunkSetArtifact) error {
	return f.write(a.DocID, "chunks", a)
}

func (f *FileArtifacts) WriteEmbeddings(_ context.Context, a EmbeddingsArtifact) error {
	return f.write(a.DocID, "embeddings", a)
}

func (f *FileArtifacts) write(docID, kind string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s artifact for %s: %w", kind, docID, err)
	}
	// doc_id is caller-supplied; keep it from escaping the directory.
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(docID)
	path := filepath.Join(f.dir, name+"."+kind+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s artifact for %s: %w", kind, docID, err)
	}
	return nil
}
