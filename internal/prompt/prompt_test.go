package prompt

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"tpl/ar.yaml": {Data: []byte("rag: \"سؤال: {{.query}} {{.context}}\"\n")},
		"tpl/de.yaml": {Data: []byte("rag: \"Frage: {{.query}} {{.context}}\"\nextra: \"nur deutsch\"\n")},
		"tpl/README": {Data: []byte("ignored")},
	}
}

func TestDefault_LoadsEmbeddedLocales(t *testing.T) {
	e, err := Default("en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	locales := e.Locales()
	if len(locales) < 2 || locales[0] != "en" {
		t.Errorf("expected en first among loaded locales, got %v", locales)
	}

	for _, name := range []string{System, Document, RAG} {
		if _, err := e.Render("en", name, map[string]any{
			"query": "q", "context": "c", "doc_num": 1, "chunk_text": "t",
		}); err != nil {
			t.Errorf("%s: unexpected error: %v", name, err)
		}
	}
}

func TestRender_RAGWithEmptyContext(t *testing.T) {
	e, err := Default("en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := e.Render("en", RAG, map[string]any{"query": "what is go?", "context": ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "what is go?") {
		t.Errorf("expected query in prompt, got %q", out)
	}
	if strings.HasPrefix(out, "\n") {
		t.Errorf("expected empty context to leave no leading blank line, got %q", out)
	}
}

func TestRender_LocaleFallback(t *testing.T) {
	e, err := Load(testFS(), "tpl", "ar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		locale string
		prefix string
	}{
		{"en", "سؤال"},    // not loaded: default
		{"de", "Frage"},   // exact
		{"de-AT", "Frage"}, // regional variant
		{"not a locale!", "سؤال"},
	}
	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			out, err := e.Render(tt.locale, RAG, map[string]any{"query": "x", "context": ""})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.HasPrefix(out, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, out)
			}
		})
	}
}

func TestRender_TemplateMissingFromLocaleUsesDefault(t *testing.T) {
	e, err := Load(testFS(), "tpl", "de")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := e.Render("ar", "extra", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "nur deutsch" {
		t.Errorf("expected default locale template, got %q", out)
	}
}

func TestRender_TemplateNotFound(t *testing.T) {
	e, err := Load(testFS(), "tpl", "ar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = e.Render("ar", "nope", nil)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestRender_MissingVariable(t *testing.T) {
	e, err := Load(testFS(), "tpl", "ar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = e.Render("ar", RAG, map[string]any{"query": "x"})
	if !errors.Is(err, ErrMissingTemplateVariable) {
		t.Fatalf("expected ErrMissingTemplateVariable, got %v", err)
	}
	if !strings.Contains(err.Error(), "context") {
		t.Errorf("expected missing variable name in error, got %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(testFS(), "tpl", "fr"); err == nil {
		t.Error("expected error when default locale has no file")
	}

	broken := fstest.MapFS{"tpl/en.yaml": {Data: []byte("rag: \"{{.query\"\n")}}
	if _, err := Load(broken, "tpl", "en"); err == nil {
		t.Error("expected template parse error")
	}
}
