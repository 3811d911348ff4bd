// Package segment splits cleaned page text into paragraph or sentence units
// with exact character offsets. Segments tile their source: concatenating
// segment texts in order reproduces the input exactly, with no gaps and no
// overlaps.
package segment

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/StratumAI/stratum-mvp/engine/domain"
)

// Mode selects the segmentation granularity.
type Mode string

const (
	ModeParagraph Mode = "paragraph"
	ModeSentence  Mode = "sentence"
)

// Split segments text at the requested granularity.
func Split(mode Mode, text string, pageNumber int) ([]domain.Segment, error) {
	switch mode {
	case ModeParagraph:
		return Paragraphs(text, pageNumber), nil
	case ModeSentence:
		return Sentences(text, pageNumber), nil
	default:
		return nil, fmt.Errorf("segment: unknown mode %q", mode)
	}
}

// Paragraphs splits on blank-line boundaries. The blank-line separator is
// attached to the preceding segment so the segments tile the input.
func Paragraphs(text string, pageNumber int) []domain.Segment {
	if text == "" {
		return nil
	}

	var segs []domain.Segment
	start := 0
	i := 0
	for i < len(text) {
		if text[i] != '\n' {
			i++
			continue
		}
		// Measure the blank run: newlines possibly separated by
		// space-only lines.
		j := i
		newlines := 0
		for j < len(text) {
			if text[j] == '\n' {
				newlines++
				j++
				continue
			}
			if text[j] == ' ' || text[j] == '\t' {
				j++
				continue
			}
			break
		}
		if newlines < 2 {
			i = j
			continue
		}
		// Trailing spaces after the last newline belong to the next
		// paragraph, not the separator.
		sepEnd := i
		for k := i; k < j; k++ {
			if text[k] == '\n' {
				sepEnd = k + 1
			}
		}
		if strings.TrimSpace(text[start:sepEnd]) != "" {
			segs = append(segs, domain.Segment{
				Text:       text[start:sepEnd],
				StartChar:  start,
				EndChar:    sepEnd,
				PageNumber: pageNumber,
			})
			start = sepEnd
		}
		i = j
	}
	if start < len(text) {
		segs = append(segs, domain.Segment{
			Text:       text[start:],
			StartChar:  start,
			EndChar:    len(text),
			PageNumber: pageNumber,
		})
	}
	return segs
}

// abbreviations that end in a period without terminating a sentence.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "rev": {},
	"sr": {}, "jr": {}, "st": {}, "no": {}, "vol": {}, "fig": {},
	"vs": {}, "etc": {}, "e.g": {}, "i.e": {}, "al": {}, "cf": {},
	"inc": {}, "ltd": {}, "co": {}, "dept": {}, "approx": {}, "u.s": {},
}

// Sentences splits on sentence-terminal punctuation followed by whitespace
// and a capital letter or digit, with abbreviation-safe heuristics. The
// inter-sentence whitespace is attached to the preceding segment.
func Sentences(text string, pageNumber int) []domain.Segment {
	if text == "" {
		return nil
	}

	var segs []domain.Segment
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		// Consume a terminator run plus trailing closers ("), ').
		end := i + 1
		for end < len(text) && (text[end] == '.' || text[end] == '!' || text[end] == '?') {
			end++
		}
		for end < len(text) && (text[end] == '"' || text[end] == '\'' || text[end] == ')') {
			end++
		}
		// Require whitespace, then a capital or digit.
		ws := end
		for ws < len(text) && (text[ws] == ' ' || text[ws] == '\t' || text[ws] == '\n') {
			ws++
		}
		if ws == end || ws == len(text) {
			i = end - 1
			continue
		}
		r, _ := utf8.DecodeRuneInString(text[ws:])
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			i = end - 1
			continue
		}
		if c == '.' && isAbbreviation(text[start:i]) {
			i = end - 1
			continue
		}
		segs = append(segs, domain.Segment{
			Text:       text[start:ws],
			StartChar:  start,
			EndChar:    ws,
			PageNumber: pageNumber,
		})
		start = ws
		i = ws - 1
	}
	if start < len(text) {
		segs = append(segs, domain.Segment{
			Text:       text[start:],
			StartChar:  start,
			EndChar:    len(text),
			PageNumber: pageNumber,
		})
	}
	return segs
}

// isAbbreviation reports whether the text ends in a known abbreviation or a
// single-letter initial, meaning the period that follows does not terminate
// a sentence.
func isAbbreviation(before string) bool {
	idx := strings.LastIndexFunc(before, func(r rune) bool {
		return unicode.IsSpace(r) || r == '(' || r == '"'
	})
	token := strings.ToLower(before[idx+1:])
	token = strings.TrimSuffix(token, ".")
	if token == "" {
		return false
	}
	if _, ok := abbreviations[token]; ok {
		return true
	}
	// Single-letter initials like "J." in "J. Smith".
	return utf8.RuneCountInString(token) == 1 && !unicode.IsDigit([]rune(token)[0])
}
