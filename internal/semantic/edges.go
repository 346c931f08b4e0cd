package semantic

import (
	"sort"
	"strings"

	"github.com/BTreeMap/CareDesk/internal/models"
)

// Vocabulary is the set of clinical terms considered by ExtractEdges.
// Multi-word terms match consecutive tokens.
var Vocabulary = []string{
	"alcohol", "anger", "anxiety", "appetite", "avoidance", "boundaries", "breathing",
	"cbt", "childhood", "concentration", "conflict", "coping", "depression", "divorce",
	"exercise", "family", "fatigue", "grief", "guilt", "insomnia", "irritability",
	"isolation", "journaling", "loneliness", "medication", "mindfulness", "mood",
	"motivation", "nightmares", "panic", "panic attacks", "parenting", "relationship",
	"relapse", "rumination", "school", "self-esteem", "self-harm", "shame", "sleep",
	"social anxiety", "stress", "substance use", "suicidal ideation", "trauma",
	"work", "work stress", "worry",
}

type vocabTerm struct {
	name   string
	tokens []string
}

var vocab = buildVocab(Vocabulary)

func buildVocab(terms []string) []vocabTerm {
	out := make([]vocabTerm, 0, len(terms))
	for _, t := range terms {
		out = append(out, vocabTerm{name: t, tokens: strings.Fields(strings.ToLower(t))})
	}
	// Longer phrases first so "panic attacks" wins over "panic".
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].tokens) > len(out[j].tokens) })
	return out
}

// Sentences splits text on sentence terminators and line breaks.
func Sentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n' || r == ';'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TermsIn returns the vocabulary terms present in one sentence, sorted.
// A token covered by a longer phrase is not counted again on its own.
func TermsIn(sentence string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(sentence), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-'
	})
	used := make([]bool, len(tokens))
	found := make(map[string]struct{})
	for _, v := range vocab {
		n := len(v.tokens)
		for i := 0; i+n <= len(tokens); i++ {
			if anyUsed(used[i : i+n]) || !equalTokens(tokens[i:i+n], v.tokens) {
				continue
			}
			found[v.name] = struct{}{}
			for k := i; k < i+n; k++ {
				used[k] = true
			}
		}
	}
	out := make([]string, 0, len(found))
	for t := range found {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func anyUsed(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}

func equalTokens(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ExtractEdges emits one co-occurrence edge per pair of vocabulary terms that
// appear in the same sentence. Weight is the number of sentences the pair
// shares; From sorts before To. Edges are ordered by weight, then terms.
func ExtractEdges(documentID, text string) []models.SemanticEdge {
	type pair struct{ from, to string }
	counts := make(map[pair]int)
	for _, s := range Sentences(text) {
		terms := TermsIn(s)
		for i := 0; i < len(terms); i++ {
			for j := i + 1; j < len(terms); j++ {
				counts[pair{terms[i], terms[j]}]++
			}
		}
	}

	edges := make([]models.SemanticEdge, 0, len(counts))
	for p, n := range counts {
		w := float64(n)
		edges = append(edges, models.SemanticEdge{
			DocumentID: documentID,
			From:       p.from,
			To:         p.to,
			Relation:   RelationCoOccurs,
			Weight:     &w,
		})
	}
	sort.Slice(edges, func(i, j int) bool {
		if *edges[i].Weight != *edges[j].Weight {
			return *edges[i].Weight > *edges[j].Weight
		}
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}
