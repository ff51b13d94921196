package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is the YAML form of the capability catalog
type Definition struct {
	Actions []ActionDef `yaml:"actions"`
	Modules []ModuleDef `yaml:"modules"`
}

// ActionDef declares a global action. ID 0 lets the store pick the next free id.
type ActionDef struct {
	ID  int64  `yaml:"id,omitempty"`
	Key string `yaml:"key"`
}

// ModuleDef declares a top-level module and its submodules
type ModuleDef struct {
	Key        string         `yaml:"key"`
	Name       string         `yaml:"name"`
	SortOrder  int            `yaml:"sortOrder,omitempty"`
	Submodules []SubmoduleDef `yaml:"submodules"`
}

// SubmoduleDef declares a submodule and its features
type SubmoduleDef struct {
	Key       string       `yaml:"key"`
	Name      string       `yaml:"name"`
	SortOrder int          `yaml:"sortOrder,omitempty"`
	Features  []FeatureDef `yaml:"features"`
}

// FeatureDef declares a feature. Feature keys are globally unique.
type FeatureDef struct {
	Key       string `yaml:"key"`
	Name      string `yaml:"name"`
	SortOrder int    `yaml:"sortOrder,omitempty"`
}

// ValidationError describes one problem in a catalog definition
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadDefinition reads and parses a catalog definition file
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition parses YAML, rejects unknown fields and validates the result.
// Missing sort orders default to the entry's 1-based position.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("catalog is empty")
		}
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	if errs := ValidateDefinition(&def); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid catalog: %s", strings.Join(msgs, "; "))
	}

	def.applyDefaults()
	return &def, nil
}

// ValidateDefinition reports missing keys and duplicate keys or action ids
func ValidateDefinition(def *Definition) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	actionKeys := make(map[string]bool)
	actionIDs := make(map[int64]bool)
	for i, a := range def.Actions {
		field := fmt.Sprintf("actions[%d]", i)
		switch {
		case a.Key == "":
			add(field, "key is required")
		case actionKeys[a.Key]:
			add(field, "duplicate action key %q", a.Key)
		}
		actionKeys[a.Key] = true

		if a.ID < 0 {
			add(field, "id must not be negative")
		} else if a.ID > 0 {
			if actionIDs[a.ID] {
				add(field, "duplicate action id %d", a.ID)
			}
			actionIDs[a.ID] = true
		}
	}

	moduleKeys := make(map[string]bool)
	submoduleKeys := make(map[string]bool)
	featureKeys := make(map[string]bool)
	for i, m := range def.Modules {
		field := fmt.Sprintf("modules[%d]", i)
		switch {
		case m.Key == "":
			add(field, "key is required")
		case moduleKeys[m.Key]:
			add(field, "duplicate module key %q", m.Key)
		}
		moduleKeys[m.Key] = true

		for j, sm := range m.Submodules {
			field := fmt.Sprintf("modules[%d].submodules[%d]", i, j)
			switch {
			case sm.Key == "":
				add(field, "key is required")
			case submoduleKeys[sm.Key]:
				add(field, "duplicate submodule key %q", sm.Key)
			}
			submoduleKeys[sm.Key] = true

			for k, f := range sm.Features {
				field := fmt.Sprintf("modules[%d].submodules[%d].features[%d]", i, j, k)
				switch {
				case f.Key == "":
					add(field, "key is required")
				case featureKeys[f.Key]:
					add(field, "duplicate feature key %q", f.Key)
				}
				featureKeys[f.Key] = true
			}
		}
	}

	return errs
}

func (d *Definition) applyDefaults() {
	for i := range d.Modules {
		m := &d.Modules[i]
		if m.SortOrder == 0 {
			m.SortOrder = i + 1
		}
		if m.Name == "" {
			m.Name = m.Key
		}
		for j := range m.Submodules {
			sm := &m.Submodules[j]
			if sm.SortOrder == 0 {
				sm.SortOrder = j + 1
			}
			if sm.Name == "" {
				sm.Name = sm.Key
			}
			for k := range sm.Features {
				f := &sm.Features[k]
				if f.SortOrder == 0 {
					f.SortOrder = k + 1
				}
				if f.Name == "" {
					f.Name = f.Key
				}
			}
		}
	}
}

// Counts returns the number of entries of each kind
func (d *Definition) Counts() (modules, submodules, features, actions int) {
	for _, m := range d.Modules {
		modules++
		for _, sm := range m.Submodules {
			submodules++
			features += len(sm.Features)
		}
	}
	return modules, submodules, features, len(d.Actions)
}
