package runtime

import (
	"context"
	"log/slog"

	"github.com/risor-io/risor/object"

	"github.com/jward/workbench/internal/syntax"
)

// capture holds the term a script hands back through emit.
type capture struct {
	set   bool
	value any
}

// makeEmitFn creates the "emit" host function. A script emits its phase
// result at most once.
//
// emit(result) → nil
func makeEmitFn(out *capture) *object.Builtin {
	return object.NewBuiltin("emit", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit", 1, len(args))
		}
		if out.set {
			return object.Errorf("emit: result already emitted")
		}
		out.set = true
		out.value = args[0].Interface()
		return object.Nil
	})
}

// makeFailFn creates "fail", which aborts the script with msg. The phase
// fails with the message as its error.
//
// fail(msg)
func makeFailFn() *object.Builtin {
	return object.NewBuiltin("fail", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("fail", 1, len(args))
		}
		msg, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("fail: %s", args[0].Inspect())
		}
		return object.Errorf("%s", msg.Value())
	})
}

// makeConstraintFn creates "constraint", a helper that builds a constraint
// term positioned at a node. node may be nil for unpositioned constraints.
//
// constraint(kind, node, fields?) → map
func makeConstraintFn() *object.Builtin {
	return object.NewBuiltin("constraint", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 || len(args) > 3 {
			return object.NewArgsError("constraint", 2, len(args))
		}
		kind, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("constraint: kind must be a string, got %s", args[0].Type())
		}

		term := map[string]any{}
		if len(args) == 3 && args[2] != object.Nil {
			fields, err := extractMap(args[2])
			if err != nil {
				return object.Errorf("constraint: fields: %v", err)
			}
			for k, v := range fields {
				term[k] = v
			}
		}
		term["kind"] = kind.Value()

		if args[1] != object.Nil {
			node, err := extractMap(args[1])
			if err != nil {
				return object.Errorf("constraint: node: %v", err)
			}
			if _, ok := term["start"]; !ok {
				term["start"] = node["start"]
			}
			if _, ok := term["end"]; !ok {
				term["end"] = node["end"]
			}
		}
		return object.FromGoType(term)
	})
}

// makeParseSrcFn creates "parse_src", which parses source text into a
// node term. Scripts use it for embedded snippets and tests.
//
// parse_src(source, grammar) → node
func makeParseSrcFn(p *syntax.Parser) *object.Builtin {
	return object.NewBuiltin("parse_src", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("parse_src", 2, len(args))
		}

		srcStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("parse_src: source must be a string, got %s", args[0].Type())
		}

		grammar, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("parse_src: grammar must be a string, got %s", args[1].Type())
		}

		unit, err := p.Parse(ctx, "<inline>", grammar.Value(), []byte(srcStr.Value()))
		if err != nil {
			return object.Errorf("parse_src: %v", err)
		}
		return object.FromGoType(unit.Root.Term())
	})
}

// makeFindFn creates "find", which returns every descendant of a node term
// (the node included) whose kind matches, in document order.
//
// find(node, kind) → []node
func makeFindFn() *object.Builtin {
	return object.NewBuiltin("find", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("find", 2, len(args))
		}
		kind, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("find: kind must be a string, got %s", args[1].Type())
		}
		root, err := syntax.FromTerm(args[0].Interface())
		if err != nil {
			return object.Errorf("find: %v", err)
		}

		matches := []any{}
		root.Walk(func(n *syntax.Node) bool {
			if n.Kind == kind.Value() {
				matches = append(matches, n.Term())
			}
			return true
		})
		return object.FromGoType(matches)
	})
}

// logObject provides log.Debug/Info/Warn/Error methods for Risor scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Debug(msg string) {
	l.logger.Debug(msg, "origin", "script")
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg, "origin", "script")
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg, "origin", "script")
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg, "origin", "script")
}
