package spell

import (
	"strings"
	"testing"
)

func TestNewRenderer(t *testing.T) {
	r := NewRenderer()
	if r == nil {
		t.Fatal("NewRenderer() returned nil")
	}
}

func TestRenderString_SimpleVariable(t *testing.T) {
	r := NewRenderer()
	result, err := r.RenderString("test", "Hello, {{.name}}!", RenderContext{"name": "World"})
	if err != nil {
		t.Fatalf("RenderString() error: %v", err)
	}
	if result != "Hello, World!" {
		t.Errorf("RenderString() = %q, want %q", result, "Hello, World!")
	}
}

func TestRenderString_MultipleVariables(t *testing.T) {
	r := NewRenderer()
	ctx := RenderContext{"title": "Fix Bug", "priority": 1, "assignee": "Alice"}
	result, err := r.RenderString("test", "Task: {{.title}}\nPriority: {{.priority}}\nAssigned to: {{.assignee}}", ctx)
	if err != nil {
		t.Fatalf("RenderString() error: %v", err)
	}
	for _, want := range []string{"Fix Bug", "Priority: 1", "Alice"} {
		if !strings.Contains(result, want) {
			t.Errorf("result %q missing %q", result, want)
		}
	}
}

func TestRenderString_NestedVariables(t *testing.T) {
	r := NewRenderer()
	ctx := RenderContext{"step": map[string]interface{}{"outputs": map[string]interface{}{"value": "42"}}}
	result, err := r.RenderString("test", "Output: {{.step.outputs.value}}", ctx)
	if err != nil {
		t.Fatalf("RenderString() error: %v", err)
	}
	if result != "Output: 42" {
		t.Errorf("RenderString() = %q, want %q", result, "Output: 42")
	}
}

func TestRenderString_MissingVariable_Error(t *testing.T) {
	r := NewRenderer()
	_, err := r.RenderString("test", "Value: {{.missing}}", RenderContext{})
	if err == nil {
		t.Fatal("RenderString() should return error for missing variable")
	}
	if !IsRenderError(err) {
		t.Errorf("Expected TemplateRenderError, got: %T", err)
	}
}

func TestRenderString_NilContext(t *testing.T) {
	r := NewRenderer()
	result, err := r.RenderString("test", "Static content", nil)
	if err != nil {
		t.Fatalf("RenderString() error: %v", err)
	}
	if result != "Static content" {
		t.Errorf("result = %q, want %q", result, "Static content")
	}
}

func TestRenderString_InvalidTemplateSyntax(t *testing.T) {
	r := NewRenderer()
	_, err := r.RenderString("test", "Bad syntax: {{.unclosed", RenderContext{})
	if err == nil {
		t.Fatal("RenderString() should return error for invalid template syntax")
	}
	if !IsParseError(err) {
		t.Errorf("Expected TemplateParseError, got: %T", err)
	}
	if !strings.Contains(err.Error(), "test") {
		t.Error("Error should contain template name")
	}
}

func TestRenderString_TemplateFunctions_Default(t *testing.T) {
	r := NewRenderer()
	tmpl := `Value: {{default "N/A" .value}}`

	tests := []struct {
		name     string
		ctx      RenderContext
		expected string
	}{
		{"with value", RenderContext{"value": "present"}, "Value: present"},
		{"nil value", RenderContext{"value": nil}, "Value: N/A"},
		{"empty string value", RenderContext{"value": ""}, "Value: N/A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.RenderString("test", tmpl, tt.ctx)
			if err != nil {
				t.Fatalf("RenderString() error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("result = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestRenderString_TemplateFunctions_Join(t *testing.T) {
	r := NewRenderer()
	tmpl := `Items: {{join ", " .items}}`

	tests := []struct {
		name     string
		items    interface{}
		expected string
	}{
		{"string slice", []string{"a", "b", "c"}, "Items: a, b, c"},
		{"interface slice", []interface{}{"x", 1, "y"}, "Items: x, 1, y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.RenderString("test", tmpl, RenderContext{"items": tt.items})
			if err != nil {
				t.Fatalf("RenderString() error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("result = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestRenderString_TemplateFunctions_StringOps(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		name     string
		template string
		ctx      RenderContext
		expected string
	}{
		{"upper", `{{upper .text}}`, RenderContext{"text": "hello"}, "HELLO"},
		{"lower", `{{lower .text}}`, RenderContext{"text": "WORLD"}, "world"},
		{"trim", `[{{trim .text}}]`, RenderContext{"text": "  spaced  "}, "[spaced]"},
		{"quote", `{{quote .text}}`, RenderContext{"text": "hello"}, `"hello"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.RenderString("test", tt.template, tt.ctx)
			if err != nil {
				t.Fatalf("RenderString() error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("result = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestRenderString_TemplateFunctions_Indent(t *testing.T) {
	r := NewRenderer()
	ctx := RenderContext{"code": "line1\nline2\nline3"}
	result, err := r.RenderString("test", `{{indent 4 .code}}`, ctx)
	if err != nil {
		t.Fatalf("RenderString() error: %v", err)
	}
	expected := "    line1\n    line2\n    line3"
	if result != expected {
		t.Errorf("result = %q, want %q", result, expected)
	}
}

func TestRenderString_TemplateControlFlow(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		name     string
		template string
		ctx      RenderContext
		expected string
	}{
		{"if true", `{{if .show}}visible{{end}}`, RenderContext{"show": true}, "visible"},
		{"if false", `{{if .show}}visible{{end}}`, RenderContext{"show": false}, ""},
		{"if else", `{{if .show}}yes{{else}}no{{end}}`, RenderContext{"show": false}, "no"},
		{"range", `{{range .items}}[{{.}}]{{end}}`, RenderContext{"items": []string{"a", "b", "c"}}, "[a][b][c]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.RenderString("test", tt.template, tt.ctx)
			if err != nil {
				t.Fatalf("RenderString() error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("result = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestRenderTitle(t *testing.T) {
	r := NewRenderer()
	result, err := r.RenderTitle("fix-step", "fix {{.bugId}}", RenderContext{"bugId": "BUG-42"})
	if err != nil {
		t.Fatalf("RenderTitle() error: %v", err)
	}
	if result != "fix BUG-42" {
		t.Errorf("RenderTitle() = %q, want %q", result, "fix BUG-42")
	}
}

func TestTemplateParseError(t *testing.T) {
	err := &TemplateParseError{Name: "mystep", Content: "{{bad", Err: nil}
	msg := err.Error()
	if !strings.Contains(msg, "mystep") {
		t.Error("Error message should contain template name")
	}
	if !strings.Contains(msg, "failed to parse") {
		t.Error("Error message should indicate parse failure")
	}
}

func TestTemplateRenderError(t *testing.T) {
	err := &TemplateRenderError{Name: "mystep", Err: nil}
	msg := err.Error()
	if !strings.Contains(msg, "mystep") {
		t.Error("Error message should contain template name")
	}
	if !strings.Contains(msg, "failed to render") {
		t.Error("Error message should indicate render failure")
	}
}

func TestIsParseError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"TemplateParseError", &TemplateParseError{Name: "test"}, true},
		{"TemplateRenderError", &TemplateRenderError{Name: "test"}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsParseError(tt.err); got != tt.expected {
				t.Errorf("IsParseError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsRenderError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"TemplateRenderError", &TemplateRenderError{Name: "test"}, true},
		{"TemplateParseError", &TemplateParseError{Name: "test"}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRenderError(tt.err); got != tt.expected {
				t.Errorf("IsRenderError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRenderString_CompleteTemplate(t *testing.T) {
	r := NewRenderer()
	tmpl := `# Implementation Task

## Task: {{.task.title}}

### Priority: {{.task.priority}}

### Description
{{.task.description}}

### Previous Findings
{{if .findings}}
{{range .findings}}
- {{.name}}: {{.summary}}
{{end}}
{{else}}
No previous findings.
{{end}}

### Instructions
1. Review the codebase
2. Implement the changes
3. Write tests
`
	ctx := RenderContext{
		"task": map[string]interface{}{
			"title": "Add user authentication", "priority": 1, "description": "Implement OAuth2 login flow",
		},
		"findings": []map[string]interface{}{
			{"name": "security-review", "summary": "No critical issues"},
			{"name": "code-analysis", "summary": "Good structure"},
		},
	}

	result, err := r.RenderString("implement", tmpl, ctx)
	if err != nil {
		t.Fatalf("RenderString() error: %v", err)
	}

	for _, check := range []string{
		"Add user authentication", "Priority: 1", "Implement OAuth2 login flow",
		"security-review: No critical issues", "code-analysis: Good structure", "Review the codebase",
	} {
		if !strings.Contains(result, check) {
			t.Errorf("result should contain %q", check)
		}
	}
}

func TestRenderString_EmptySliceRange(t *testing.T) {
	r := NewRenderer()
	result, err := r.RenderString("test", `Items:{{range .items}}[{{.}}]{{else}}none{{end}}`, RenderContext{"items": []string{}})
	if err != nil {
		t.Fatalf("RenderString() error: %v", err)
	}
	if result != "Items:none" {
		t.Errorf("result = %q, want %q", result, "Items:none")
	}
}

func TestRenderString_JoinNonSlice(t *testing.T) {
	r := NewRenderer()
	result, err := r.RenderString("test", `Value: {{join ", " .value}}`, RenderContext{"value": 42})
	if err != nil {
		t.Fatalf("RenderString() error: %v", err)
	}
	if result != "Value: 42" {
		t.Errorf("result = %q, want %q", result, "Value: 42")
	}
}

func TestRenderString_IndentEmptyLines(t *testing.T) {
	r := NewRenderer()
	result, err := r.RenderString("test", `{{indent 2 .text}}`, RenderContext{"text": "line1\n\nline3"})
	if err != nil {
		t.Fatalf("RenderString() error: %v", err)
	}
	expected := "  line1\n\n  line3"
	if result != expected {
		t.Errorf("result = %q, want %q", result, expected)
	}
}
