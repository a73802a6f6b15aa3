package exprrule

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"entitycore/pkg/entity"
)

// Compiler turns rule specs into entity checks. Compiled programs are cached
// by expression source, so documents sharing expressions compile once.
// A Compiler is safe for concurrent use.
type Compiler struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewCompiler returns an empty compiler. The zero value is also usable.
func NewCompiler() *Compiler {
	return &Compiler{cache: make(map[string]*vm.Program)}
}

// Compile validates spec and returns a synchronous check for it. The check
// evaluates the expression against the entity's scalar property values and
// reports the spec's message when it comes back false.
func (c *Compiler) Compile(spec RuleSpec) (entity.Checker, error) {
	spec.applyDefaults()
	if err := spec.validate(); err != nil {
		return nil, err
	}
	program, err := c.getOrCompile(spec.When)
	if err != nil {
		return nil, fmt.Errorf("rule %q: compile %q: %w", spec.Name, spec.When, err)
	}
	severity := entity.Severity(spec.Severity)
	message := spec.Message
	when := spec.When
	fn := func(ctx context.Context, e entity.Item) ([]entity.Message, error) {
		out, err := expr.Run(program, environment(e))
		if err != nil {
			return nil, fmt.Errorf("evaluate %q: %w", when, err)
		}
		pass, ok := out.(bool)
		if !ok {
			return nil, fmt.Errorf("expression %q returned %T, want bool", when, out)
		}
		if pass {
			return nil, nil
		}
		return []entity.Message{{Severity: severity, Text: message}}, nil
	}
	return entity.NewCheck(spec.Name, spec.Triggers, fn, entity.WithPriority(spec.Priority)), nil
}

// CompileDocument compiles every rule in doc, in document order.
func (c *Compiler) CompileDocument(doc *Document) ([]entity.Checker, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	checks := make([]entity.Checker, 0, len(doc.Rules))
	for _, spec := range doc.Rules {
		check, err := c.Compile(spec)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}
	return checks, nil
}

// getOrCompile retrieves a cached program or compiles and caches a new one.
// Read lock first; compile under the write lock with a re-check, since
// another goroutine may have compiled the same source in between.
func (c *Compiler) getOrCompile(src string) (*vm.Program, error) {
	c.mu.RLock()
	program, found := c.cache[src]
	c.mu.RUnlock()
	if found {
		return program, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if program, found := c.cache[src]; found {
		return program, nil
	}
	program, err := expr.Compile(src,
		expr.AsBool(),
		expr.MaxNodes(maxExpressionNodes),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}
	if c.cache == nil {
		c.cache = make(map[string]*vm.Program)
	}
	c.cache[src] = program
	return program, nil
}

// environment exposes the entity's scalar property values to the expression
// under their property names. Child entities and collections stay out:
// declarative rules validate the entity they are registered on.
func environment(e entity.Item) map[string]any {
	names := e.Properties().Names()
	env := make(map[string]any, len(names))
	for _, name := range names {
		v, err := e.Value(name)
		if err != nil {
			continue
		}
		switch v.(type) {
		case entity.Item, *entity.Collection:
			continue
		}
		env[name] = v
	}
	return env
}
