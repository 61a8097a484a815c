package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/emanuelegissi/flowbuttons/rules"
	"github.com/emanuelegissi/flowbuttons/types"
)

// manifest is the document held in a module "js" cell:
//
//	functions:
//	  isCheap:
//	    predicate: "record.Total < 100"
//	  approve:
//	    handler: updateStatus
//	    when: "empty(error)"
type manifest struct {
	Functions map[string]functionDef `yaml:"functions"`
}

type functionDef struct {
	Predicate string                 `yaml:"predicate"`
	Handler   string                 `yaml:"handler"`
	With      map[string]interface{} `yaml:"with"`
	When      string                 `yaml:"when"`
}

// compileModule parses a module manifest and builds every function it declares.
// Expressions are compiled here so a broken module fails at load time.
func compileModule(def types.ModuleDef, ev rules.Evaluator) (map[string]Function, error) {
	var m manifest
	dec := yaml.NewDecoder(bytes.NewReader([]byte(def.Source)))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if len(m.Functions) == 0 {
		return nil, errors.New("module exports no functions")
	}

	names := make([]string, 0, len(m.Functions))
	for name := range m.Functions {
		names = append(names, name)
	}
	sort.Strings(names)

	fns := make(map[string]Function, len(m.Functions))
	for _, name := range names {
		if name == "" || strings.Contains(name, ".") {
			return nil, fmt.Errorf("invalid function name <%s>", name)
		}
		fn, err := compileFunction(name, m.Functions[name], ev)
		if err != nil {
			return nil, fmt.Errorf("function <%s>: %w", name, err)
		}
		fns[name] = fn
	}
	return fns, nil
}

func compileFunction(name string, def functionDef, ev rules.Evaluator) (Function, error) {
	switch {
	case def.Predicate != "" && def.Handler != "":
		return Function{}, errors.New("predicate and handler are exclusive")
	case def.Predicate != "":
		if def.With != nil || def.When != "" {
			return Function{}, errors.New("a predicate takes no with or when")
		}
		if err := ev.Compile(def.Predicate); err != nil {
			return Function{}, err
		}
		return Function{Name: name, Predicate: exprPredicate{expression: def.Predicate, evaluator: ev}}, nil
	case def.Handler != "":
		factory, ok := handlerKinds[def.Handler]
		if !ok {
			return Function{}, fmt.Errorf("unknown handler kind <%s>", def.Handler)
		}
		p := params(def.With)
		h, err := factory(p)
		if err != nil {
			return Function{}, err
		}
		if err := p.unused(); err != nil {
			return Function{}, err
		}
		if def.When != "" {
			if err := ev.Compile(def.When); err != nil {
				return Function{}, fmt.Errorf("when: %w", err)
			}
			h = guardedHandler{when: exprPredicate{expression: def.When, evaluator: ev}, next: h}
		}
		return Function{Name: name, Handler: h}, nil
	default:
		return Function{}, errors.New("neither predicate nor handler given")
	}
}

type exprPredicate struct {
	expression string
	evaluator  rules.Evaluator
}

func (p exprPredicate) Active(_ context.Context, call *Call) (bool, error) {
	return p.evaluator.Evaluate(p.expression, rules.NewEnv(call.Action, call.Record, call.Mapping))
}

// guardedHandler runs next only when the guard holds. A false guard is a no-op.
type guardedHandler struct {
	when Predicate
	next Handler
}

func (g guardedHandler) Run(ctx context.Context, call *Call) error {
	ok, err := g.when.Active(ctx, call)
	if err != nil {
		return fmt.Errorf("when: %w", err)
	}
	if !ok {
		call.Engine.Logger().Debug("guard declined action", "action", call.Action.Label)
		return nil
	}
	return g.next.Run(ctx, call)
}

// params is the "with" block of a handler function. Every getter marks its key
// as consumed; unused reports keys nothing asked for.
type params map[string]interface{}

func (p params) take(key string) (interface{}, bool) {
	v, ok := p[key]
	if ok {
		delete(p, key)
	}
	return v, ok
}

func (p params) str(key, def string) (string, error) {
	v, ok := p.take(key)
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("with.%s: expected a string, got %T", key, v)
	}
	return s, nil
}

func (p params) requiredStr(key string) (string, error) {
	s, err := p.str(key, "")
	if err == nil && s == "" {
		err = fmt.Errorf("with.%s is required", key)
	}
	return s, err
}

func (p params) flag(key string, def bool) (bool, error) {
	v, ok := p.take(key)
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("with.%s: expected a boolean, got %T", key, v)
	}
	return b, nil
}

func (p params) list(key string) ([]string, error) {
	v, ok := p.take(key)
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("with.%s: expected a list, got %T", key, v)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("with.%s: expected strings, got %T", key, item)
		}
		out = append(out, s)
	}
	return out, nil
}

func (p params) mapping(key string) (map[string]interface{}, error) {
	v, ok := p.take(key)
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("with.%s: expected a mapping, got %T", key, v)
	}
	return m, nil
}

func (p params) unused() error {
	if len(p) == 0 {
		return nil
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Errorf("unknown parameters %s", strings.Join(keys, ", "))
}
