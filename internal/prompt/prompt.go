// Package prompt renders locale-specific prompt templates.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Template names used by the answer flow.
const (
	System   = "system"
	Document = "document"
	RAG      = "rag"
)

var (
	// ErrTemplateNotFound is returned when no locale defines the requested template.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrMissingTemplateVariable is returned when a template references a variable that was not supplied.
	ErrMissingTemplateVariable = errors.New("missing template variable")
)

//go:embed locales/*.yaml
var embedded embed.FS

// Engine holds parsed templates for every locale. It is immutable after Load
// and safe for concurrent use.
type Engine struct {
	defaultTag language.Tag
	matcher    language.Matcher
	supported  []language.Tag
	templates  map[string]map[string]*template.Template // locale -> name -> template
}

// Default loads the templates shipped with the binary.
func Default(defaultLocale string) (*Engine, error) {
	return Load(embedded, "locales", defaultLocale)
}

// Load parses every <locale>.yaml file in dir. Each file maps template names to template text.
func Load(fsys fs.FS, dir, defaultLocale string) (*Engine, error) {
	defaultTag, err := language.Parse(defaultLocale)
	if err != nil {
		return nil, fmt.Errorf("invalid default locale %q: %w", defaultLocale, err)
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading template dir %s: %w", dir, err)
	}

	e := &Engine{
		defaultTag: defaultTag,
		templates:  make(map[string]map[string]*template.Template),
	}

	var tags []language.Tag
	for _, entry := range entries {
		ext := path.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		locale := strings.TrimSuffix(entry.Name(), ext)
		tag, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("invalid locale file name %s: %w", entry.Name(), err)
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		var raw map[string]string
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}

		parsed := make(map[string]*template.Template, len(raw))
		for name, text := range raw {
			t, err := template.New(name).Option("missingkey=error").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("parsing template %s/%s: %w", locale, name, err)
			}
			parsed[name] = t
		}
		e.templates[tag.String()] = parsed
		tags = append(tags, tag)
	}

	if _, ok := e.templates[defaultTag.String()]; !ok {
		return nil, fmt.Errorf("no templates for default locale %q", defaultLocale)
	}

	// default first so an unmatched locale resolves to it
	sort.Slice(tags, func(i, j int) bool { return tags[i].String() < tags[j].String() })
	e.supported = append([]language.Tag{defaultTag}, without(tags, defaultTag)...)
	e.matcher = language.NewMatcher(e.supported)
	return e, nil
}

func without(tags []language.Tag, drop language.Tag) []language.Tag {
	out := make([]language.Tag, 0, len(tags))
	for _, t := range tags {
		if t.String() != drop.String() {
			out = append(out, t)
		}
	}
	return out
}

// Locales lists the loaded locales, default first.
func (e *Engine) Locales() []string {
	out := make([]string, len(e.supported))
	for i, t := range e.supported {
		out[i] = t.String()
	}
	return out
}

// Resolve returns the loaded locale used for a requested locale.
func (e *Engine) Resolve(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return e.defaultTag.String()
	}
	_, idx, conf := e.matcher.Match(tag)
	if conf == language.No {
		return e.defaultTag.String()
	}
	return e.supported[idx].String()
}

// Render executes template name for locale with vars. An unknown locale falls
// back to the default locale, as does a template missing from the requested locale.
func (e *Engine) Render(locale, name string, vars map[string]any) (string, error) {
	t, ok := e.templates[e.Resolve(locale)][name]
	if !ok {
		t, ok = e.templates[e.defaultTag.String()][name]
	}
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}

	if missing := missingVariables(t, vars); len(missing) > 0 {
		return "", fmt.Errorf("%w: template %q needs %s", ErrMissingTemplateVariable, name, strings.Join(missing, ", "))
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", name, err)
	}
	return buf.String(), nil
}

// missingVariables lists top-level fields referenced by t that vars lacks.
func missingVariables(t *template.Template, vars map[string]any) []string {
	seen := make(map[string]bool)
	var missing []string
	walk(t.Tree.Root, func(field string) {
		if _, ok := vars[field]; ok || seen[field] {
			return
		}
		seen[field] = true
		missing = append(missing, field)
	})
	sort.Strings(missing)
	return missing
}

func walk(node parse.Node, visit func(string)) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			walk(child, visit)
		}
	case *parse.ActionNode:
		walk(n.Pipe, visit)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			for _, arg := range cmd.Args {
				walk(arg, visit)
			}
		}
	case *parse.FieldNode:
		if len(n.Ident) > 0 {
			visit(n.Ident[0])
		}
	case *parse.IfNode:
		walk(n.Pipe, visit)
		walk(n.List, visit)
		walk(n.ElseList, visit)
	case *parse.RangeNode:
		walk(n.Pipe, visit)
	case *parse.WithNode:
		walk(n.Pipe, visit)
	}
}
