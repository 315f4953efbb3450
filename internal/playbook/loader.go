package playbook

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads playbook definitions from a directory of YAML files.
type Loader struct {
	dir string
}

// NewLoader constructs a Loader rooted at dir (e.g. `<elementalDir>/playbooks`).
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load loads the named playbook (without extension) from disk.
func (l *Loader) Load(name string) (*Definition, error) {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return nil, &ValidationError{Field: "name", Message: "playbook name must be a bare filename stem"}
	}

	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.dir, name+ext)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		def, err := Parse(data)
		if err != nil {
			return nil, &ParseError{Name: name, Err: err}
		}
		def.Source = path
		return def, nil
	}
	return nil, &NotFoundError{Name: name}
}

// LoadAll loads every playbook file in the directory.
func (l *Loader) LoadAll() ([]*Definition, error) {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".yaml") && !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(strings.TrimSuffix(entry.Name(), ".yaml"), ".yml")
		def, err := Parse(data)
		if err != nil {
			return nil, &ParseError{Name: name, Err: err}
		}
		def.Source = path
		defs = append(defs, def)
	}
	return defs, nil
}

// Parse parses raw YAML into a validated Definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}
