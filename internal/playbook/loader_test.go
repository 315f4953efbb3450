package playbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
name: fix-and-test
description: fix a bug then write a test for it
variables:
  - name: bugId
    type: string
    required: true
steps:
  - id: fix
    title: "fix {{.bugId}}"
    priority: 2
  - id: test
    title: "test the fix"
    dependsOn: [fix]
    condition: "{{.bugId}}"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error: %v", path, err)
	}
	return path
}

func TestParse_Valid(t *testing.T) {
	def, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if def.Name != "fix-and-test" || len(def.Steps) != 2 {
		t.Errorf("Parse() = %+v, want name=fix-and-test with 2 steps", def)
	}
}

func TestParse_MissingName(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - id: a\n    title: a\n"))
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("Parse() error = %v (%T), want *ValidationError", err, err)
	}
}

func TestParse_DuplicateStepID(t *testing.T) {
	yaml := "name: dup\nsteps:\n  - id: a\n    title: a\n  - id: a\n    title: b\n"
	_, err := Parse([]byte(yaml))
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("Parse() error = %v, want *ValidationError for duplicate id", err)
	}
}

func TestParse_UnknownDependsOn(t *testing.T) {
	yaml := "name: bad-dep\nsteps:\n  - id: a\n    title: a\n    dependsOn: [ghost]\n"
	_, err := Parse([]byte(yaml))
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("Parse() error = %v, want *ValidationError for unknown dependsOn", err)
	}
}

func TestParse_ForwardDependsOnRejected(t *testing.T) {
	yaml := "name: fwd\nsteps:\n  - id: b\n    title: b\n    dependsOn: [a]\n  - id: a\n    title: a\n"
	_, err := Parse([]byte(yaml))
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("Parse() error = %v, want *ValidationError for forward dependsOn", err)
	}
}

func TestParse_SelfDependsOnRejected(t *testing.T) {
	yaml := "name: self\nsteps:\n  - id: a\n    title: a\n    dependsOn: [a]\n"
	_, err := Parse([]byte(yaml))
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("Parse() error = %v, want *ValidationError for self dependsOn", err)
	}
}

func TestParse_InvalidVariableType(t *testing.T) {
	yaml := "name: bad-var\nvariables:\n  - name: x\n    type: object\nsteps:\n  - id: a\n    title: a\n"
	_, err := Parse([]byte(yaml))
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("Parse() error = %v, want *ValidationError for invalid variable type", err)
	}
}

func TestLoader_LoadAndLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fix-and-test.yaml", validYAML)
	writeFile(t, dir, "other.yml", "name: other\nsteps:\n  - id: a\n    title: a\n")
	writeFile(t, dir, "README.md", "not a playbook")

	l := NewLoader(dir)

	def, err := l.Load("fix-and-test")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if def.Name != "fix-and-test" {
		t.Errorf("Load().Name = %q, want fix-and-test", def.Name)
	}

	all, err := l.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("LoadAll() returned %d definitions, want 2 (README.md excluded)", len(all))
	}
}

func TestLoader_NotFound(t *testing.T) {
	l := NewLoader(t.TempDir())
	_, err := l.Load("missing")
	if !IsNotFound(err) {
		t.Errorf("Load(missing) error = %v, want NotFoundError", err)
	}
}

func TestLoader_RejectsPathSeparators(t *testing.T) {
	l := NewLoader(t.TempDir())
	if _, err := l.Load("../escape"); err == nil {
		t.Error("Load() with path separator should error")
	}
}

func TestDefinition_ToFields(t *testing.T) {
	def, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	fields := def.ToFields()
	if fields.Name != "fix-and-test" || len(fields.Steps) != 2 || len(fields.Variables) != 1 {
		t.Errorf("ToFields() = %+v, want matching shape", fields)
	}
	if fields.Steps[1].DependsOn[0] != "fix" {
		t.Errorf("ToFields().Steps[1].DependsOn = %v, want [fix]", fields.Steps[1].DependsOn)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fix-and-test.yaml", validYAML)
	l := NewLoader(dir)

	w, err := NewWatcher(l, dir, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	events := make(chan ChangeEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, func(e ChangeEvent) { events <- e })

	time.Sleep(50 * time.Millisecond)
	writeFile(t, dir, "fix-and-test.yaml", validYAML+"\n")

	select {
	case e := <-events:
		if e.Name != "fix-and-test" || e.Err != nil {
			t.Errorf("ChangeEvent = %+v, want clean reload of fix-and-test", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playbook change event")
	}
}
