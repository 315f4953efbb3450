// Package spell renders a pour step's title template against the
// workflow's resolved variables.
package spell

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// RenderContext contains the data available during template rendering.
type RenderContext map[string]interface{}

// Renderer renders title templates with variable substitution. A
// missing variable is a render error rather than a silently blank
// substitution, since pour resolves every variable (defaults included)
// before a step's title is ever rendered.
type Renderer struct{}

// NewRenderer creates a new title renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderTitle renders a pour step's title template against vars.
func (r *Renderer) RenderTitle(stepID, titleTemplate string, vars RenderContext) (string, error) {
	return r.RenderString("step:"+stepID+":title", titleTemplate, vars)
}

// RenderString renders a template string with the provided context.
// The name is used for error messages and template identification.
func (r *Renderer) RenderString(name, content string, ctx RenderContext) (string, error) {
	if ctx == nil {
		ctx = make(RenderContext)
	}

	tmpl := template.New(name).Option("missingkey=error").Funcs(templateFuncs())

	parsed, err := tmpl.Parse(content)
	if err != nil {
		return "", &TemplateParseError{
			Name:    name,
			Content: content,
			Err:     err,
		}
	}

	var buf bytes.Buffer
	if err := parsed.Execute(&buf, ctx); err != nil {
		return "", &TemplateRenderError{
			Name: name,
			Err:  err,
		}
	}

	return buf.String(), nil
}

// templateFuncs is the helper set title templates may call.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"default": fallbackIfEmpty,
		"join":    joinAny,
		"upper":   strings.ToUpper,
		"lower":   strings.ToLower,
		"trim":    strings.TrimSpace,
		"indent":  indentLines,
		"quote":   func(s string) string { return fmt.Sprintf("%q", s) },
	}
}

// fallbackIfEmpty substitutes fallback for a nil or empty-string value.
func fallbackIfEmpty(fallback, val interface{}) interface{} {
	if val == nil {
		return fallback
	}
	if s, ok := val.(string); ok && s == "" {
		return fallback
	}
	return val
}

// joinAny joins a slice (of strings or of anything printable) with sep;
// a non-slice value is printed as-is.
func joinAny(sep string, items interface{}) string {
	switch v := items.(type) {
	case []string:
		return strings.Join(v, sep)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, sep)
	default:
		return fmt.Sprint(items)
	}
}

// indentLines prefixes every non-blank line of s with the given number
// of spaces.
func indentLines(spaces int, s string) string {
	pad := strings.Repeat(" ", spaces)
	var b strings.Builder
	for i, line := range strings.Split(s, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		if line != "" {
			b.WriteString(pad)
			b.WriteString(line)
		}
	}
	return b.String()
}

// TemplateParseError is returned when a title template fails to parse.
type TemplateParseError struct {
	Name    string
	Content string
	Err     error
}

func (e *TemplateParseError) Error() string {
	return fmt.Sprintf("failed to parse title template %q: %v", e.Name, e.Err)
}

func (e *TemplateParseError) Unwrap() error {
	return e.Err
}

// TemplateRenderError is returned when a title template fails to render.
type TemplateRenderError struct {
	Name string
	Err  error
}

func (e *TemplateRenderError) Error() string {
	return fmt.Sprintf("failed to render title template %q: %v", e.Name, e.Err)
}

func (e *TemplateRenderError) Unwrap() error {
	return e.Err
}

// IsParseError returns true if the error is a TemplateParseError.
func IsParseError(err error) bool {
	_, ok := err.(*TemplateParseError)
	return ok
}

// IsRenderError returns true if the error is a TemplateRenderError.
func IsRenderError(err error) bool {
	_, ok := err.(*TemplateRenderError)
	return ok
}
