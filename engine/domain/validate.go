package domain

import "strings"

// ValidateDocument checks a document before ingestion. Violations are
// StructuralErrors: the document is rejected, other documents are unaffected.
func ValidateDocument(doc Document) error {
	if doc.DocID == "" {
		return NewStructuralError("", ErrMissingDocID)
	}
	if len(doc.Pages) == 0 {
		return NewStructuralError(doc.DocID, ErrNoPages)
	}
	empty := true
	for _, p := range doc.Pages {
		if strings.TrimSpace(p.Text) != "" {
			empty = false
			break
		}
	}
	if empty {
		return NewStructuralError(doc.DocID, ErrEmptyDocument)
	}
	return nil
}

// ValidateChunk checks invariants every produced chunk must satisfy.
func ValidateChunk(c Chunk) error {
	if len(c.Text) > MaxChunkChars {
		return NewStructuralError(c.DocID, ErrChunkTooLarge)
	}
	if !c.Strategy.Valid() {
		return NewValidationError("strategy", string(c.Strategy), ErrUnknownStrategy)
	}
	if len(c.PageNumbers) == 0 {
		return NewValidationError("page_numbers", "", ErrMissingField)
	}
	return nil
}

// ValidateRecord performs the fail-fast schema check applied to every
// embedding record before upsert. dims is the collection's fixed vector
// dimension.
func ValidateRecord(r EmbeddingRecord, dims int) error {
	if r.ID == "" {
		return NewValidationError("id", "", ErrEmptyRecordID)
	}
	if len(r.Vector) != dims {
		return NewValidationError("vector", r.ID, ErrBadVector)
	}
	for _, field := range []string{"doc_id", "chunk_id", "chunk_index"} {
		if _, ok := r.Payload[field]; !ok {
			return NewValidationError(field, r.ID, ErrMissingField)
		}
	}
	text, _ := r.Payload["text"].(string)
	if text == "" {
		// Missing text is always a hard error, never coerced to empty.
		return NewValidationError("text", r.ID, ErrMissingText)
	}
	return nil
}
