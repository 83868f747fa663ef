package ingestion

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestValidateChunkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
		wantErr   bool
	}{
		{"valid", 1000, 100, false},
		{"zero overlap", 10, 0, false},
		{"overlap equals size", 100, 100, true},
		{"overlap exceeds size", 100, 150, true},
		{"zero size", 0, 0, true},
		{"negative overlap", 100, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunkerConfig(tt.chunkSize, tt.overlap)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfiguration) {
					t.Errorf("expected ErrInvalidConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestSplit_EmptyContent(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n\t"} {
		chunks, err := Split(text, 100, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if chunks != nil {
			t.Errorf("expected nil for %q, got %v", text, chunks)
		}
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	chunks, err := Split("Hello world.", 100, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != "Hello world." {
		t.Errorf("expected full text, got %q", chunks[0].Content)
	}
	if chunks[0].Order != 1 {
		t.Errorf("expected order 1, got %d", chunks[0].Order)
	}
}

func TestSplit_ThreeChunksFrom2500Characters(t *testing.T) {
	text := strings.Repeat("abcd ", 500)
	if len(text) != 2500 {
		t.Fatalf("test document should be 2500 characters, got %d", len(text))
	}

	chunks, err := Split(text, 1000, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		if c.Order != i+1 {
			t.Errorf("chunk %d: expected order %d, got %d", i, i+1, c.Order)
		}
		if n := utf8.RuneCountInString(c.Content); n > 1000 {
			t.Errorf("chunk %d: expected <= 1000 characters, got %d", i, n)
		}
		if i > 0 {
			shared := chunks[i-1].End - c.Start
			if shared < 100 {
				t.Errorf("chunk %d: expected >= 100 shared characters, got %d", i, shared)
			}
		}
	}
}

func TestSplit_Reconstructs(t *testing.T) {
	texts := map[string]string{
		"words":      strings.Repeat("lorem ipsum dolor sit amet ", 80),
		"paragraphs": strings.Repeat("First paragraph line.\nSecond line here.\n\n", 40),
		"sentences":  strings.Repeat("Dr. Smith went home. It rained! Why? ", 50),
		"no spaces":  strings.Repeat("x", 777),
		"unicode":    strings.Repeat("日本語の文章です。これはテスト。", 60),
	}

	sizes := []struct{ size, overlap int }{
		{100, 0},
		{100, 20},
		{250, 50},
		{64, 63},
	}

	for name, text := range texts {
		for _, sz := range sizes {
			chunks, err := Split(text, sz.size, sz.overlap)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", name, err)
			}

			var rebuilt strings.Builder
			for i, c := range chunks {
				if c.Order != i+1 {
					t.Errorf("%s: expected order %d, got %d", name, i+1, c.Order)
				}
				if n := utf8.RuneCountInString(c.Content); n > sz.size {
					t.Errorf("%s: chunk %d has %d characters, limit %d", name, i, n, sz.size)
				}
				if i == 0 {
					rebuilt.WriteString(c.Content)
					continue
				}
				shared := chunks[i-1].End - c.Start
				if shared < 0 {
					t.Fatalf("%s: gap between chunk %d and %d", name, i-1, i)
				}
				rebuilt.WriteString(string([]rune(c.Content)[shared:]))
			}
			if rebuilt.String() != text {
				t.Errorf("%s (size=%d overlap=%d): reconstruction mismatch", name, sz.size, sz.overlap)
			}
		}
	}
}

func TestSplit_PrefersParagraphBreaks(t *testing.T) {
	para := strings.Repeat("word ", 14) + "end.\n\n"
	text := para + para + para

	chunks, err := Split(text, len(para)+10, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Content, "\n\n") {
		t.Errorf("expected first chunk to end on a paragraph break, got %q", chunks[0].Content)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 30)
	a, _ := Split(text, 120, 30)
	b, _ := Split(text, 120, 30)
	if len(a) != len(b) {
		t.Fatalf("expected equal chunk counts, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Content != b[i].Content {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplit_OffsetMetadata(t *testing.T) {
	text := strings.Repeat("abcd ", 100)
	chunks, err := Split(text, 100, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range chunks {
		if c.Metadata["offset"] == "" {
			t.Errorf("chunk %d missing offset metadata", c.Order)
		}
	}
}

func TestIsAbbreviation(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"Dr.", true},
		{"Mr.", true},
		{"etc.", true},
		{"e.g.", true},
		{"Hello.", false},
		{"world.", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := isAbbreviation(tt.input)
			if result != tt.expected {
				t.Errorf("isAbbreviation(%q) = %v, expected %v", tt.input, result, tt.expected)
			}
		})
	}
}
