package constraint

import (
	"fmt"

	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/syntax"
)

// ActionKind selects which phase a strategy invocation performs.
type ActionKind string

const (
	ActionInitial ActionKind = "initial"
	ActionUnit    ActionKind = "unit"
	ActionFinal   ActionKind = "final"
)

// Action is the input handed to a strategy for one phase.
type Action struct {
	Kind     ActionKind
	Resource string
	AST      *syntax.Node
	Args     any
	Units    []string
}

// Term converts the action into the map given to strategy scripts.
func (a Action) Term() map[string]any {
	t := map[string]any{
		"kind":     string(a.Kind),
		"resource": a.Resource,
	}
	if a.AST != nil {
		t["ast"] = a.AST.Term()
	}
	if a.Args != nil {
		t["args"] = a.Args
	}
	if a.Units != nil {
		units := make([]any, len(a.Units))
		for i, u := range a.Units {
			units[i] = u
		}
		t["units"] = units
	}
	return t
}

// InitialResult is the output of the initial (global) phase.
type InitialResult struct {
	Constraints []Constraint
	Config      Config
	Args        any
}

// UnitResult is the output of the per-unit phase. AST is nil when the
// strategy did not transform the tree.
type UnitResult struct {
	Constraints []Constraint `msgpack:"c"`
	AST         *syntax.Node `msgpack:"t,omitempty"`
}

// FinalResult is the output of the final phase.
type FinalResult struct {
	Value any `msgpack:"v"`
}

// MalformedResultError reports a phase output that does not have the shape
// its action requires.
type MalformedResultError struct {
	Phase  ActionKind
	Reason string
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("constraint: malformed %s result: %s", e.Phase, e.Reason)
}

func malformed(phase ActionKind, format string, args ...any) error {
	return &MalformedResultError{Phase: phase, Reason: fmt.Sprintf(format, args...)}
}

// resultMap checks the tag of a result term.
func resultMap(phase ActionKind, term any) (map[string]any, error) {
	m, ok := term.(map[string]any)
	if !ok {
		return nil, malformed(phase, "expected a map, got %T", term)
	}
	kind, _ := m["kind"].(string)
	if kind != string(phase) {
		return nil, malformed(phase, "expected kind %q, got %q", phase, kind)
	}
	return m, nil
}

// DecodeInitial decodes an initial-phase result term. Constraints without a
// source are attributed to resource.
func DecodeInitial(term any, resource string) (*InitialResult, error) {
	m, err := resultMap(ActionInitial, term)
	if err != nil {
		return nil, err
	}
	cs, err := decodeConstraints(ActionInitial, m["constraints"], resource)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeConfig(m["config"])
	if err != nil {
		return nil, err
	}
	return &InitialResult{Constraints: cs, Config: cfg, Args: m["args"]}, nil
}

// DecodeUnit decodes a unit-phase result term. Constraints without a source
// are attributed to the unit.
func DecodeUnit(term any, source string) (*UnitResult, error) {
	m, err := resultMap(ActionUnit, term)
	if err != nil {
		return nil, err
	}
	cs, err := decodeConstraints(ActionUnit, m["constraints"], source)
	if err != nil {
		return nil, err
	}
	res := &UnitResult{Constraints: cs}
	if raw, ok := m["ast"]; ok && raw != nil {
		ast, err := syntax.FromTerm(raw)
		if err != nil {
			return nil, malformed(ActionUnit, "ast: %v", err)
		}
		res.AST = ast
	}
	return res, nil
}

// DecodeFinal decodes a final-phase result term.
func DecodeFinal(term any) (*FinalResult, error) {
	m, err := resultMap(ActionFinal, term)
	if err != nil {
		return nil, err
	}
	return &FinalResult{Value: m["value"]}, nil
}

func decodeConstraints(phase ActionKind, v any, defaultSource string) ([]Constraint, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, malformed(phase, "constraints must be a list, got %T", v)
	}
	out := make([]Constraint, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, malformed(phase, "constraint %d must be a map, got %T", i, item)
		}
		kind, _ := m["kind"].(string)
		if kind == "" {
			return nil, malformed(phase, "constraint %d has no kind", i)
		}
		c := Constraint{Kind: kind, Source: defaultSource}
		if s, ok := m["source"].(string); ok && s != "" {
			c.Source = s
		}
		region, err := decodeRegion(m)
		if err != nil {
			return nil, malformed(phase, "constraint %d: %v", i, err)
		}
		c.Region = region
		for k, val := range m {
			switch k {
			case "kind", "source", "start", "end":
				continue
			}
			if c.Args == nil {
				c.Args = make(map[string]any)
			}
			c.Args[k] = val
		}
		out = append(out, c)
	}
	return out, nil
}

// decodeRegion reads optional "start"/"end" [line, col] pairs.
func decodeRegion(m map[string]any) (*message.Region, error) {
	start, hasStart := m["start"]
	if !hasStart || start == nil {
		return nil, nil
	}
	region := map[string]any{"kind": "region", "start": start, "end": m["end"]}
	n, err := syntax.FromTerm(region)
	if err != nil {
		return nil, err
	}
	r := n.Region
	if _, hasEnd := m["end"]; !hasEnd {
		r.EndLine, r.EndCol = r.StartLine, r.StartCol
	}
	return &r, nil
}

func decodeConfig(v any) (Config, error) {
	cfg := DefaultConfig()
	if v == nil {
		return cfg, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return cfg, malformed(ActionInitial, "config must be a map, got %T", v)
	}
	for key, dst := range map[string]*message.Severity{
		"unresolved": &cfg.Unresolved,
		"duplicate":  &cfg.Duplicate,
	} {
		raw, ok := m[key]
		if !ok {
			continue
		}
		name, _ := raw.(string)
		sev, ok := message.ParseSeverity(name)
		if !ok {
			return cfg, malformed(ActionInitial, "config %s: unknown severity %v", key, raw)
		}
		*dst = sev
	}
	if raw, ok := m["max_messages"]; ok {
		n, ok := syntax.IntOf(raw)
		if !ok || n < 0 {
			return cfg, malformed(ActionInitial, "config max_messages: %v", raw)
		}
		cfg.MaxMessages = n
	}
	return cfg, nil
}
