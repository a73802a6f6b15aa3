// Package exprrule loads declarative validation rules from YAML documents
// and compiles them into entity checks. Each rule names its trigger
// properties and a boolean expression over the entity's property values;
// when the expression is false the rule reports one message.
package exprrule

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// Expressions are capped in source length and AST size so a rule document
// cannot stall the assignment pipeline.
const (
	maxExpressionLength = 1000
	maxExpressionNodes  = 100
)

// ErrInvalidRule reports a rule spec that cannot be compiled.
var ErrInvalidRule = errors.New("invalid rule spec")

// Document is the YAML shape of a rule file.
type Document struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec declares one rule. Severity defaults to error and Message to
// "<name> failed"; everything else is required.
type RuleSpec struct {
	Name     string   `yaml:"name"`
	Triggers []string `yaml:"triggers"`
	Priority int      `yaml:"priority,omitempty"`
	Severity string   `yaml:"severity,omitempty"`
	When     string   `yaml:"when"`
	Message  string   `yaml:"message,omitempty"`
}

// Parse decodes and validates a rule document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode rule document: %w", err)
	}
	doc.applyDefaults()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads a rule document from r.
func Load(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rule document: %w", err)
	}
	return Parse(data)
}

// LoadFile reads a rule document from path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule document: %w", err)
	}
	return Parse(data)
}

func (d *Document) applyDefaults() {
	for i := range d.Rules {
		d.Rules[i].applyDefaults()
	}
}

func (r *RuleSpec) applyDefaults() {
	if r.Severity == "" {
		r.Severity = "error"
	}
	if r.Message == "" {
		r.Message = r.Name + " failed"
	}
}

// Validate checks the document against the rule engine's registration
// contract, so compiled rules never panic on registration.
func (d *Document) Validate() error {
	if len(d.Rules) == 0 {
		return fmt.Errorf("rule document declares no rules: %w", ErrInvalidRule)
	}
	seen := make(map[string]struct{}, len(d.Rules))
	for _, r := range d.Rules {
		if err := r.validate(); err != nil {
			return err
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("rule %q declared twice: %w", r.Name, ErrInvalidRule)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

func (r RuleSpec) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule without a name: %w", ErrInvalidRule)
	}
	if len(r.Triggers) == 0 {
		return fmt.Errorf("rule %q has no triggers: %w", r.Name, ErrInvalidRule)
	}
	for _, trigger := range r.Triggers {
		if trigger == "" {
			return fmt.Errorf("rule %q has an empty trigger: %w", r.Name, ErrInvalidRule)
		}
	}
	if r.When == "" {
		return fmt.Errorf("rule %q has no when expression: %w", r.Name, ErrInvalidRule)
	}
	if len(r.When) > maxExpressionLength {
		return fmt.Errorf("rule %q expression exceeds %d characters: %w", r.Name, maxExpressionLength, ErrInvalidRule)
	}
	switch r.Severity {
	case "error", "warn", "info":
	default:
		return fmt.Errorf("rule %q severity %q is not error, warn, or info: %w", r.Name, r.Severity, ErrInvalidRule)
	}
	return nil
}
