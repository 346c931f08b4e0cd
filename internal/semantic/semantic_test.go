package semantic

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("The client reported Sleep problems, and self-harm urges at work.")
	want := []string{"client", "reported", "sleep", "problems", "self-harm", "urges", "work"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func TestRecallRanking(t *testing.T) {
	docs := []Doc{
		{SourceType: SourceNote, SourceID: "n1", Title: "Session 3", Text: "Discussed sleep hygiene. Sleep improved slightly."},
		{SourceType: SourceDocument, SourceID: "d1", Title: "sleep diary.txt", Text: "Bedtime 11pm."},
		{SourceType: SourceNote, SourceID: "n2", Title: "Session 4", Text: "Work stress dominated the session."},
	}
	hits := Recall("sleep", docs, 0)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].SourceID != "d1" || hits[0].Score != 3 {
		t.Errorf("expected title match to rank first with score 3, got %+v", hits[0])
	}
	if hits[1].SourceID != "n1" || hits[1].Score != 2 {
		t.Errorf("expected body match second with score 2, got %+v", hits[1])
	}
}

func TestRecallEmptyQueryAndLimit(t *testing.T) {
	docs := []Doc{{Title: "a", Text: "stress"}, {Title: "b", Text: "stress"}, {Title: "c", Text: "stress"}}
	if hits := Recall("the and of", docs, 5); len(hits) != 0 {
		t.Errorf("stop-word-only query should return nothing, got %d", len(hits))
	}
	if hits := Recall("stress", docs, 2); len(hits) != 2 {
		t.Errorf("expected limit to apply, got %d", len(hits))
	}
	if hits := Recall("stress", docs, 1000); len(hits) != 3 {
		t.Errorf("expected all hits under the max limit, got %d", len(hits))
	}
}

func TestSnippet(t *testing.T) {
	text := strings.Repeat("filler ", 40) + "panic attacks at night " + strings.Repeat("more ", 40)
	s := Snippet(text, []string{"panic"})
	if !strings.Contains(s, "panic attacks") {
		t.Errorf("snippet missing match: %q", s)
	}
	if !strings.HasPrefix(s, "…") || !strings.HasSuffix(s, "…") {
		t.Errorf("expected ellipses on both sides: %q", s)
	}
	if short := Snippet("sleep ok", []string{"sleep"}); short != "sleep ok" {
		t.Errorf("short text should be returned whole, got %q", short)
	}
}

func TestSnippetWithLengthChangingRunes(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		// Ⱥ grows from 2 to 3 bytes when lowercased.
		{"growing", strings.Repeat("Ⱥ", 200) + " Anxiety spiked at night."},
		// İ shrinks from 2 to 1 byte when lowercased.
		{"shrinking", strings.Repeat("İ", 200) + " Anxiety spiked at night."},
		{"match inside", "ȺȺȺ ANXIETY " + strings.Repeat("İ", 120)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := Recall("anxiety", []Doc{{SourceID: "n1", Text: tt.text}}, 5)
			if len(hits) != 1 {
				t.Fatalf("expected one hit, got %d", len(hits))
			}
			snip := hits[0].Snippet
			if !strings.Contains(strings.ToLower(snip), "anxiety") {
				t.Errorf("snippet must show the match, got %q", snip)
			}
			if !utf8.ValidString(snip) {
				t.Errorf("snippet split a rune: %q", snip)
			}
		})
	}
}

func TestIndexLower(t *testing.T) {
	tests := []struct {
		text, term string
		want       int
	}{
		{"Sleep and SLEEP", "sleep", 0},
		{"ȺȺ Mood", "mood", 5},
		{"İİ Mood", "mood", 5},
		{"İstanbul", "istanbul", 0},
		{"calm", "anxiety", -1},
		{"calm", "", -1},
	}
	for _, tt := range tests {
		if got := indexLower(tt.text, tt.term); got != tt.want {
			t.Errorf("indexLower(%q, %q) = %d, want %d", tt.text, tt.term, got, tt.want)
		}
	}
}

func TestTermsInPrefersPhrases(t *testing.T) {
	got := TermsIn("She had panic attacks and poor sleep")
	want := []string{"panic attacks", "sleep"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TermsIn = %v, want %v", got, want)
	}
}

func TestExtractEdges(t *testing.T) {
	text := "Anxiety worsens her sleep. Sleep and anxiety improved with exercise.\nWork is fine."
	edges := ExtractEdges("doc1", text)
	if len(edges) != 3 {
		t.Fatalf("expected 3 edges, got %d: %+v", len(edges), edges)
	}
	first := edges[0]
	if first.From != "anxiety" || first.To != "sleep" || *first.Weight != 2 {
		t.Errorf("expected anxiety-sleep with weight 2 first, got %s-%s %v", first.From, first.To, *first.Weight)
	}
	for _, e := range edges {
		if e.DocumentID != "doc1" || e.Relation != RelationCoOccurs {
			t.Errorf("unexpected edge %+v", e)
		}
		if err := e.Validate(); err != nil {
			t.Errorf("edge failed validation: %v", err)
		}
		if e.From >= e.To {
			t.Errorf("expected From < To, got %s >= %s", e.From, e.To)
		}
	}
}

func TestExtractEdgesNoPairs(t *testing.T) {
	if edges := ExtractEdges("d", "Only sleep here. Nothing else."); len(edges) != 0 {
		t.Errorf("expected no edges, got %+v", edges)
	}
}
