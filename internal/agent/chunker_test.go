package agent

import (
	"fmt"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"
)

var partMarker = regexp.MustCompile(`^\[Part \d+/\d+\]\n`)

func TestChunk_ShortMessageUnchanged(t *testing.T) {
	for _, msg := range []string{"", "hello", strings.Repeat("a", 1600)} {
		chunks := Chunk(msg, 1600)
		if len(chunks) != 1 {
			t.Fatalf("len %d: expected 1 chunk, got %d", len(msg), len(chunks))
		}
		c := chunks[0]
		if c.Text != msg || c.Index != 1 || c.Total != 1 {
			t.Fatalf("unexpected chunk: %+v", c)
		}
	}
}

func TestChunk_DefaultLimit(t *testing.T) {
	if got := Chunk(strings.Repeat("a", 1601), 0); len(got) != 2 {
		t.Fatalf("expected default limit 1600 to split into 2, got %d", len(got))
	}
}

func TestChunk_SplitsAtWhitespace(t *testing.T) {
	msg := "alpha beta gamma delta"
	chunks := Chunk(msg, 11)

	want := []string{"alpha beta", "gamma delta"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %+v", len(want), len(chunks), chunks)
	}
	for i, c := range chunks {
		expected := fmt.Sprintf("[Part %d/%d]\n%s", i+1, len(want), want[i])
		if c.Text != expected {
			t.Errorf("chunk %d = %q, want %q", i, c.Text, expected)
		}
	}
}

func TestChunk_HardCutWithoutWhitespace(t *testing.T) {
	msg := strings.Repeat("x", 25)
	chunks := Chunk(msg, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	body := partMarker.ReplaceAllString(chunks[0].Text, "")
	if body != strings.Repeat("x", 10) {
		t.Fatalf("expected hard cut at 10, got %q", body)
	}
}

func TestChunk_CountsRunesNotBytes(t *testing.T) {
	msg := strings.Repeat("é", 10)
	if chunks := Chunk(msg, 10); len(chunks) != 1 {
		t.Fatalf("10 runes should fit a limit of 10, got %d chunks", len(chunks))
	}
}

func TestChunk_LeadingWhitespaceNeverYieldsBlankPart(t *testing.T) {
	msg := "   " + strings.Repeat("y", 20)
	for _, c := range Chunk(msg, 8) {
		body := partMarker.ReplaceAllString(c.Text, "")
		if strings.TrimSpace(body) == "" {
			t.Fatalf("blank part produced: %q", c.Text)
		}
	}
}

func TestChunk_LeadingWhitespaceRunAtLeastLimit(t *testing.T) {
	cases := []struct {
		msg   string
		limit int
	}{
		{"\t" + strings.Repeat("z", 5), 1},
		{"\n\n\n\n" + "alpha beta gamma", 4},
		{strings.Repeat(" ", 10) + "short", 6},
	}
	for _, tc := range cases {
		chunks := Chunk(tc.msg, tc.limit)
		var joined string
		for _, c := range chunks {
			body := partMarker.ReplaceAllString(c.Text, "")
			if strings.TrimSpace(body) == "" {
				t.Fatalf("Chunk(%q, %d): blank part %d/%d", tc.msg, tc.limit, c.Index, c.Total)
			}
			if n := len([]rune(body)); n > tc.limit {
				t.Fatalf("Chunk(%q, %d): part of %d runes", tc.msg, tc.limit, n)
			}
			joined += body
		}
		if want := strings.Join(strings.Fields(tc.msg), ""); strings.Join(strings.Fields(joined), "") != want {
			t.Fatalf("Chunk(%q, %d) lost content: %q", tc.msg, tc.limit, joined)
		}
	}

	// "\t" + 5 runes at limit 1 is exactly five single-rune parts.
	if got := Chunk("\tzzzzz", 1); len(got) != 5 || got[0].Text != "[Part 1/5]\nz" {
		t.Fatalf("unexpected chunks %+v", got)
	}
	if got := Chunk(strings.Repeat(" ", 10)+"short", 6); len(got) != 1 || got[0].Text != "short" {
		t.Fatalf("trimmed text that fits should be a single part, got %+v", got)
	}
}

// Numbering and coverage over a spread of inputs.
func TestChunk_NumberingAndCoverage(t *testing.T) {
	words := []string{"lorem", "ipsum", "dolor", "sit", "amet,", "consectetur", "adipiscing", "elit", "🙂", "supercalifragilistic"}
	var sb strings.Builder
	for i := 0; i < 400; i++ {
		sb.WriteString(words[i%len(words)])
		if i%7 == 0 {
			sb.WriteString("\n")
		} else {
			sb.WriteString(" ")
		}
	}
	msg := sb.String()

	for _, limit := range []int{5, 13, 50, 160, 1600} {
		chunks := Chunk(msg, limit)
		n := len(chunks)
		if n < 2 {
			t.Fatalf("limit %d: expected split, got %d", limit, n)
		}

		var rebuilt strings.Builder
		for i, c := range chunks {
			if c.Index != i+1 || c.Total != n {
				t.Fatalf("limit %d: chunk %d has index %d total %d", limit, i, c.Index, c.Total)
			}
			prefix := fmt.Sprintf("[Part %d/%d]\n", i+1, n)
			if !strings.HasPrefix(c.Text, prefix) {
				t.Fatalf("limit %d: chunk %d missing marker: %q", limit, i, c.Text)
			}
			body := strings.TrimPrefix(c.Text, prefix)
			if utf8.RuneCountInString(body) > limit {
				t.Fatalf("limit %d: chunk %d body too long (%d)", limit, i, utf8.RuneCountInString(body))
			}
			rebuilt.WriteString(body)
		}

		// Only whitespace may differ.
		if strip(rebuilt.String()) != strip(msg) {
			t.Fatalf("limit %d: content lost or duplicated", limit)
		}
	}
}

func strip(s string) string {
	return strings.Join(strings.Fields(s), "")
}
