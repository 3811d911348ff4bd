// Package normalize performs lossless, page-scoped cleanup of extracted
// document text prior to segmentation. Pages are cleaned independently; page
// boundaries are a retrieval-relevant signal and are never erased here.
package normalize

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ImageMarker is the token upstream extraction emits at the start of an
// image-description block. The block runs to the next blank line and is
// protected from newline collapsing.
const ImageMarker = "[IMAGE"

// ColumnDelimiter marks table-like lines. Two or more consecutive lines
// containing it form a protected region.
const ColumnDelimiter = '|'

// degradedDropRatio is the fraction of lost characters above which a page is
// flagged as a degraded-quality cleanup.
const degradedDropRatio = 0.10

var (
	controlChars = strings.NewReplacer(
		"\x00", "", // NUL
		"\x07", "", // BEL
		"\x0b", "", // VT
		"\x0c", "", // FF
	)
	hyphenBreak = regexp.MustCompile(`(\w)-[ \t]*\n[ \t]*(\w)`)
	typography  = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
		"–", "-", "—", "-",
	)
	spaceRuns   = regexp.MustCompile(`[ \t]{2,}`)
	newlineRuns = regexp.MustCompile(`\n{4,}`)
)

// Result reports the outcome of cleaning one page.
type Result struct {
	Text          string
	OriginalChars int
	CleanedChars  int
	// Degraded is set when cleanup dropped more than 10% of the page's
	// characters. Non-fatal, but callers must surface it.
	Degraded bool
}

// Delta returns the number of characters removed by cleanup.
func (r Result) Delta() int { return r.OriginalChars - r.CleanedChars }

// Normalizer cleans page text and logs character-count deltas.
type Normalizer struct {
	log *slog.Logger
}

// New creates a Normalizer. A nil logger falls back to slog.Default.
func New(log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{log: log}
}

// CleanPage cleans a single page's text, applying the fixed operation order:
// control-character strip, hyphenated line-break rejoin, typography
// normalization, intra-line space collapse, and protected newline collapse.
func (n *Normalizer) CleanPage(docID string, pageNumber int, text string) Result {
	cleaned := controlChars.Replace(text)
	cleaned = hyphenBreak.ReplaceAllString(cleaned, "$1$2")
	cleaned = typography.Replace(cleaned)
	cleaned = spaceRuns.ReplaceAllString(cleaned, " ")
	cleaned = collapseNewlines(cleaned)

	res := Result{
		Text:          cleaned,
		OriginalChars: len(text),
		CleanedChars:  len(cleaned),
	}
	if res.OriginalChars > 0 && float64(res.Delta()) > degradedDropRatio*float64(res.OriginalChars) {
		res.Degraded = true
		n.log.Warn("normalize: excessive character drop",
			"doc_id", docID,
			"page", pageNumber,
			"original", res.OriginalChars,
			"cleaned", res.CleanedChars,
		)
	} else {
		n.log.Debug("normalize: page cleaned",
			"doc_id", docID,
			"page", pageNumber,
			"delta", res.Delta(),
		)
	}
	return res
}

// collapseNewlines reduces runs of 4+ newlines to exactly 2, masking image
// blocks and table regions first so their internal structure survives.
func collapseNewlines(text string) string {
	masked, regions := maskProtected(text)
	masked = newlineRuns.ReplaceAllString(masked, "\n\n")
	for i, region := range regions {
		masked = strings.Replace(masked, placeholder(i), region, 1)
	}
	return masked
}

func placeholder(i int) string {
	return fmt.Sprintf("\x1dPROTECT%d\x1d", i)
}

// maskProtected replaces image-marker blocks and table-like regions with
// newline-free placeholder tokens, returning the masked text and the
// original region texts in placeholder order.
func maskProtected(text string) (string, []string) {
	lines := strings.Split(text, "\n")

	type span struct{ start, end int } // [start, end) line indexes
	var spans []span

	for i := 0; i < len(lines); {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, ImageMarker) {
			// Marker plus content up to the next blank line.
			j := i + 1
			for j < len(lines) && strings.TrimSpace(lines[j]) != "" {
				j++
			}
			spans = append(spans, span{i, j})
			i = j
			continue
		}
		if strings.ContainsRune(lines[i], ColumnDelimiter) {
			j := i
			for j < len(lines) && strings.ContainsRune(lines[j], ColumnDelimiter) {
				j++
			}
			if j-i >= 2 {
				spans = append(spans, span{i, j})
				i = j
				continue
			}
		}
		i++
	}

	if len(spans) == 0 {
		return text, nil
	}

	var (
		b       strings.Builder
		regions []string
		next    int
	)
	for i := 0; i < len(lines); {
		if next < len(spans) && spans[next].start == i {
			s := spans[next]
			regions = append(regions, strings.Join(lines[s.start:s.end], "\n"))
			b.WriteString(placeholder(next))
			if s.end < len(lines) {
				b.WriteByte('\n')
			}
			i = s.end
			next++
			continue
		}
		b.WriteString(lines[i])
		if i < len(lines)-1 {
			b.WriteByte('\n')
		}
		i++
	}
	return b.String(), regions
}
