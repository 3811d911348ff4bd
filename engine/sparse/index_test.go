package sparse

import (
	"reflect"
	"testing"

	"github.com/StratumAI/stratum-mvp/engine/domain"
)

func chunksOf(docID string, texts ...string) []domain.Chunk {
	out := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		out[i] = domain.Chunk{
			ChunkID:      domain.ChunkID(docID, domain.StrategySemanticPercentile, domain.CharRange{Start: i * 100, End: i*100 + len(t)}),
			DocID:        docID,
			DocumentName: docID + ".pdf",
			Text:         t,
			ChunkIndex:   i,
		}
	}
	return out
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The pump's O-ring, P/N 42-A, failed!")
	want := []string{"the", "pump", "s", "o", "ring", "p", "n", "42", "a", "failed"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	if Tokenize("  \t\n") != nil && len(Tokenize("  \t\n")) != 0 {
		t.Fatal("whitespace should yield no terms")
	}
}

func TestRetrieve_RareTermOutranksCommon(t *testing.T) {
	ix := NewIndex(nil)
	ix.Build("doc", chunksOf("doc",
		"the engine mounts to the frame with four bolts",
		"the engine requires regular oil changes",
		"the turbocharger wastegate controls boost pressure",
	))

	got := ix.Retrieve("turbocharger boost", []string{"doc"}, 10)
	if len(got) == 0 {
		t.Fatal("expected matches")
	}
	if got[0].Text != "the turbocharger wastegate controls boost pressure" {
		t.Fatalf("top candidate = %q", got[0].Text)
	}
	for _, c := range got {
		if c.RetrievalType != domain.RetrievalSparse {
			t.Errorf("retrieval type = %q", c.RetrievalType)
		}
		if c.Score <= 0 {
			t.Errorf("candidate %q has non-positive score", c.ChunkID)
		}
	}
}

func TestRetrieve_TermFrequencyRaisesScore(t *testing.T) {
	ix := NewIndex(nil)
	ix.Build("doc", chunksOf("doc",
		"valve valve valve timing and lift",
		"valve clearance must be checked cold",
		"spark plugs are replaced every service",
	))

	got := ix.Retrieve("valve", []string{"doc"}, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Text != "valve valve valve timing and lift" {
		t.Fatalf("repeated term should rank first, got %q", got[0].Text)
	}
	if got[0].Score <= got[1].Score {
		t.Fatalf("scores not ordered: %v vs %v", got[0].Score, got[1].Score)
	}
}

func TestRetrieve_LengthNormalization(t *testing.T) {
	ix := NewIndex(nil)
	ix.Build("doc", chunksOf("doc",
		"gasket replacement",
		"gasket replacement is performed after removing the cylinder head cover and cleaning both mating surfaces thoroughly",
	))

	got := ix.Retrieve("gasket", []string{"doc"}, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Text != "gasket replacement" {
		t.Fatal("shorter chunk with equal term frequency should rank first")
	}
}

func TestRetrieve_TopKAndScoping(t *testing.T) {
	ix := NewIndex(nil)
	ix.Build("a", chunksOf("a", "brake fluid dot four", "brake pads wear indicator"))
	ix.Build("b", chunksOf("b", "brake lines are steel braided"))

	if got := ix.Retrieve("brake", []string{"a", "b"}, 2); len(got) != 2 {
		t.Fatalf("topK not applied: got %d", len(got))
	}
	got := ix.Retrieve("brake", []string{"b"}, 10)
	if len(got) != 1 || got[0].Metadata["doc_id"] != "b" {
		t.Fatalf("doc scoping failed: %#v", got)
	}
	if got := ix.Retrieve("brake", nil, 10); len(got) != 3 {
		t.Fatalf("empty scope should search all docs, got %d", len(got))
	}
	if got := ix.Retrieve("brake", []string{"missing"}, 10); len(got) != 0 {
		t.Fatalf("unknown doc id should match nothing, got %d", len(got))
	}
	if got := ix.Retrieve("", []string{"a"}, 10); len(got) != 0 {
		t.Fatal("empty query should match nothing")
	}
}

func TestBuild_ReplacesAndDelete(t *testing.T) {
	ix := NewIndex(nil)
	ix.Build("doc", chunksOf("doc", "old text about carburetors"))
	ix.Build("doc", chunksOf("doc", "new text about fuel injection"))

	if got := ix.Retrieve("carburetors", []string{"doc"}, 10); len(got) != 0 {
		t.Fatal("rebuild should replace the previous index")
	}
	if got := ix.Retrieve("injection", []string{"doc"}, 10); len(got) != 1 {
		t.Fatal("rebuilt index not queryable")
	}

	ix.Delete("doc")
	if got := ix.Retrieve("injection", []string{"doc"}, 10); len(got) != 0 {
		t.Fatal("deleted index still matches")
	}
	ix.Delete("doc") // no-op
}

func TestRetrieve_Deterministic(t *testing.T) {
	ix := NewIndex(nil)
	ix.Build("doc", chunksOf("doc",
		"coolant temperature sensor",
		"coolant temperature gauge",
		"ambient air temperature",
	))
	first := ix.Retrieve("coolant temperature", []string{"doc"}, 10)
	for i := 0; i < 5; i++ {
		again := ix.Retrieve("coolant temperature", []string{"doc"}, 10)
		if !reflect.DeepEqual(first, again) {
			t.Fatal("retrieval ordering is not deterministic")
		}
	}
}
