// Package semantic implements keyword recall over clinical text and
// co-occurrence relationship extraction for the knowledge graph.
package semantic

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/CareDesk/internal/models"
)

// Recall limits.
const (
	DefaultRecallLimit = 10
	MaxRecallLimit     = 50
	snippetRadius      = 80
	titleBoost         = 3
)

// RelationCoOccurs is the relation emitted by ExtractEdges.
const RelationCoOccurs = "co_occurs"

// Source types for recall documents.
const (
	SourceNote     = "note"
	SourceDocument = "document"
)

// Doc is one searchable text.
type Doc struct {
	SourceType string
	SourceID   string
	ClientID   string
	Title      string
	Text       string
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "he": {}, "her": {}, "his": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "its": {}, "me": {}, "my": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "she": {}, "so": {}, "that": {}, "the": {}, "their": {}, "them": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "we": {}, "were": {}, "with": {}, "you": {},
}

// Tokenize lowercases text, splits on anything that is not a letter or digit
// and drops stop words.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if f == "" {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Recall ranks docs against query by term frequency, boosting title
// matches. Docs without any match are dropped. Ties keep title order.
func Recall(query string, docs []Doc, limit int) []models.RecallHit {
	if limit <= 0 {
		limit = DefaultRecallLimit
	}
	if limit > MaxRecallLimit {
		limit = MaxRecallLimit
	}
	terms := uniqueTerms(Tokenize(query))
	if len(terms) == 0 {
		return []models.RecallHit{}
	}

	hits := make([]models.RecallHit, 0)
	for _, d := range docs {
		body := countTerms(Tokenize(d.Text))
		title := countTerms(Tokenize(d.Title))
		score := 0
		for _, t := range terms {
			score += body[t] + titleBoost*title[t]
		}
		if score == 0 {
			continue
		}
		hits = append(hits, models.RecallHit{
			SourceType: d.SourceType,
			SourceID:   d.SourceID,
			ClientID:   d.ClientID,
			Title:      d.Title,
			Snippet:    Snippet(d.Text, terms),
			Score:      float64(score),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Title < hits[j].Title
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Snippet returns a window of text around the first occurrence of any term.
// Terms are lowercase; offsets are taken in text itself since lowercasing
// may change a rune's byte length.
func Snippet(text string, terms []string) string {
	text = strings.Join(strings.Fields(text), " ")
	pos := -1
	for _, t := range terms {
		if i := indexLower(text, t); i >= 0 && (pos == -1 || i < pos) {
			pos = i
		}
	}
	if pos == -1 {
		pos = 0
	}
	start := min(max(pos-snippetRadius, 0), len(text))
	end := min(max(pos+snippetRadius, start), len(text))
	// Avoid splitting a multi-byte rune.
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	out := text[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}

// indexLower returns the byte offset in text of the first run of runes whose
// lowercase forms spell term, or -1.
func indexLower(text, term string) int {
	if term == "" {
		return -1
	}
	for i := range text {
		j := i
		rest := term
		for rest != "" && j < len(text) {
			r, size := utf8.DecodeRuneInString(text[j:])
			want, wsize := utf8.DecodeRuneInString(rest)
			if unicode.ToLower(r) != want {
				break
			}
			j += size
			rest = rest[wsize:]
		}
		if rest == "" {
			return i
		}
	}
	return -1
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func countTerms(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}
