// Package mangle gives run lists a Datalog view backed by Google Mangle.
package mangle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// Config holds Mangle engine configuration.
type Config struct {
	FactLimit    int `json:"fact_limit"`
	QueryTimeout int `json:"query_timeout"` // seconds
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FactLimit:    100000,
		QueryTimeout: 30,
	}
}

// Engine evaluates one schema over a fact set that is replaced wholesale.
// After Load the store holds base and derived facts, so lookups never need
// to run rules again.
type Engine struct {
	config Config

	mu      sync.RWMutex
	program *analysis.ProgramInfo
	preds   map[string]ast.PredicateSym
	store   factstore.FactStoreWithRemove
}

// Name is a Mangle name constant such as /role.
type Name string

// Fact is one atom with Go-typed arguments: int64, string or Name.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
}

// String returns the Datalog representation of the fact.
func (f Fact) String() string {
	args := make([]string, 0, len(f.Args))
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case Name:
			args = append(args, string(v))
		case string:
			args = append(args, fmt.Sprintf("%q", v))
		default:
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// QueryResult holds one variable binding per matching fact.
type QueryResult struct {
	Bindings []map[string]interface{} `json:"bindings"`
	Duration time.Duration            `json:"duration"`
}

// NewEngine parses and analyzes schema.
func NewEngine(cfg Config, schema string) (*Engine, error) {
	unit, err := parse.Unit(strings.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	program, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze schema: %w", err)
	}

	preds := make(map[string]ast.PredicateSym, len(program.Decls))
	for sym := range program.Decls {
		preds[sym.Symbol] = sym
	}
	return &Engine{
		config:  cfg,
		program: program,
		preds:   preds,
		store:   factstore.NewSimpleInMemoryStore(),
	}, nil
}

// Load replaces the fact set with facts and derives everything the rules imply.
func (e *Engine) Load(facts []Fact) error {
	if e.config.FactLimit > 0 && len(facts) > e.config.FactLimit {
		return fmt.Errorf("fact limit exceeded: %d > %d", len(facts), e.config.FactLimit)
	}

	store := factstore.NewSimpleInMemoryStore()
	e.mu.RLock()
	for _, fact := range facts {
		atom, err := e.toAtomLocked(fact)
		if err != nil {
			e.mu.RUnlock()
			return err
		}
		store.Add(atom)
	}
	program := e.program
	e.mu.RUnlock()

	if _, err := mengine.EvalProgramWithStats(program, store); err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}

	e.mu.Lock()
	e.store = store
	e.mu.Unlock()
	return nil
}

func (e *Engine) toAtomLocked(fact Fact) (ast.Atom, error) {
	sym, ok := e.preds[fact.Predicate]
	if !ok {
		return ast.Atom{}, fmt.Errorf("predicate %s is not declared in schemas", fact.Predicate)
	}
	if len(fact.Args) != sym.Arity {
		return ast.Atom{}, fmt.Errorf("predicate %s expects %d args, got %d", fact.Predicate, sym.Arity, len(fact.Args))
	}

	args := make([]ast.BaseTerm, len(fact.Args))
	for i, raw := range fact.Args {
		switch v := raw.(type) {
		case Name:
			name, err := ast.Name(string(v))
			if err != nil {
				return ast.Atom{}, fmt.Errorf("predicate %s arg %d: %w", fact.Predicate, i, err)
			}
			args[i] = name
		case string:
			args[i] = ast.String(v)
		case int64:
			args[i] = ast.Number(v)
		default:
			return ast.Atom{}, fmt.Errorf("predicate %s arg %d: unsupported type %T", fact.Predicate, i, v)
		}
	}
	return ast.Atom{Predicate: sym, Args: args}, nil
}

// Query matches a single atom such as `chef_run_list(N, Name, /recipe)`
// against the loaded facts. Constant arguments filter, a variable used twice
// must bind the same value, and `_` matches anything without being bound.
func (e *Engine) Query(ctx context.Context, query string) (*QueryResult, error) {
	goal, err := parseGoal(query)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	sym, ok := e.preds[goal.Predicate.Symbol]
	store := e.store
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", goal.Predicate.Symbol)
	}
	if sym.Arity != len(goal.Args) {
		return nil, fmt.Errorf("predicate %s expects %d args, got %d", sym.Symbol, sym.Arity, len(goal.Args))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok && e.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.config.QueryTimeout)*time.Second)
		defer cancel()
	}

	start := time.Now()
	type outcome struct {
		bindings []map[string]interface{}
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		var bindings []map[string]interface{}
		err := store.GetFacts(ast.NewQuery(sym), func(fact ast.Atom) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if b, ok := match(goal.Args, fact.Args); ok {
				bindings = append(bindings, b)
			}
			return nil
		})
		done <- outcome{bindings: bindings, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		return &QueryResult{Bindings: out.bindings, Duration: time.Since(start)}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("query timed out after %v: %w", time.Since(start), ctx.Err())
	}
}

func parseGoal(query string) (ast.Atom, error) {
	clean := strings.TrimSpace(query)
	clean = strings.TrimSpace(strings.TrimPrefix(clean, "?"))
	clean = strings.TrimSpace(strings.TrimSuffix(clean, "."))
	if clean == "" {
		return ast.Atom{}, fmt.Errorf("empty query")
	}
	atom, err := parse.Atom(clean)
	if err != nil {
		return ast.Atom{}, fmt.Errorf("failed to parse query %q: %w", query, err)
	}
	return atom, nil
}

// match unifies goal arguments with a ground fact.
func match(goal, fact []ast.BaseTerm) (map[string]interface{}, bool) {
	bound := make(map[string]ast.BaseTerm)
	for i, arg := range goal {
		switch v := arg.(type) {
		case ast.Variable:
			if v.Symbol == "_" {
				continue
			}
			if prev, seen := bound[v.Symbol]; seen {
				if !prev.Equals(fact[i]) {
					return nil, false
				}
				continue
			}
			bound[v.Symbol] = fact[i]
		default:
			if !arg.Equals(fact[i]) {
				return nil, false
			}
		}
	}

	out := make(map[string]interface{}, len(bound))
	for name, term := range bound {
		out[name] = fromTerm(term)
	}
	return out, true
}

// GetFacts returns every fact of predicate, base or derived.
func (e *Engine) GetFacts(predicate string) ([]Fact, error) {
	e.mu.RLock()
	sym, ok := e.preds[predicate]
	store := e.store
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", predicate)
	}

	var facts []Fact
	err := store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]interface{}, len(atom.Args))
		for i, arg := range atom.Args {
			args[i] = fromTerm(arg)
		}
		facts = append(facts, Fact{Predicate: predicate, Args: args})
		return nil
	})
	return facts, err
}

// Predicates returns the declared predicate names, sorted.
func (e *Engine) Predicates() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.preds))
	for name := range e.preds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fromTerm(term ast.BaseTerm) interface{} {
	c, ok := term.(ast.Constant)
	if !ok {
		return term.String()
	}
	switch c.Type {
	case ast.StringType:
		return c.Symbol
	case ast.NameType:
		return Name(c.Symbol)
	case ast.NumberType:
		return c.NumValue
	default:
		return c.String()
	}
}
