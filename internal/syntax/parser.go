package syntax

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"fortio.org/safecast"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/workbench/internal/message"
)

// ParseUnit is the result of parsing one source.
type ParseUnit struct {
	Source   string
	Grammar  string
	Text     string
	Hash     string
	Root     *Node
	Messages []message.Message
	Duration time.Duration
}

// Valid reports whether the source parsed without errors.
func (p *ParseUnit) Valid() bool {
	return p != nil && p.Root != nil && !message.HasErrors(p.Messages)
}

// ContentHash computes the hex SHA-256 used for change detection.
func ContentHash(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// Parser parses source text with tree-sitter grammars. A Parser holds no
// state between calls and is safe for concurrent use.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses text with the named grammar. Syntax errors do not fail the
// call: ERROR and MISSING nodes are reported as parse messages on the unit.
func (p *Parser) Parse(ctx context.Context, source, grammar string, text []byte) (*ParseUnit, error) {
	start := time.Now()
	lang, ok := GrammarFor(grammar)
	if !ok {
		return nil, fmt.Errorf("syntax: unsupported grammar %q", grammar)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, text)
	if err != nil {
		return nil, fmt.Errorf("syntax: tree-sitter parse %s: %w", source, err)
	}
	defer tree.Close()

	unit := &ParseUnit{
		Source:  source,
		Grammar: grammar,
		Text:    string(text),
		Hash:    ContentHash(text),
	}
	root := tree.RootNode()
	unit.Root = convert(root, "", text, source, &unit.Messages)
	if root.HasError() && len(unit.Messages) == 0 {
		unit.Messages = append(unit.Messages, message.Message{
			Source: source, Severity: message.Error, Kind: message.Parse, Text: "syntax error",
		})
	}
	unit.Duration = time.Since(start)
	return unit, nil
}

// convert copies a tree-sitter node and its named descendants into a Node.
func convert(n *sitter.Node, field string, src []byte, source string, msgs *[]message.Message) *Node {
	out := &Node{
		Kind:   n.Type(),
		Field:  field,
		Region: regionOf(n),
	}

	switch {
	case n.IsMissing():
		r := out.Region
		*msgs = append(*msgs, message.Message{
			Source: source, Severity: message.Error, Kind: message.Parse,
			Region: &r, Text: fmt.Sprintf("missing %s", n.Type()),
		})
	case n.Type() == "ERROR":
		r := out.Region
		*msgs = append(*msgs, message.Message{
			Source: source, Severity: message.Error, Kind: message.Parse,
			Region: &r, Text: "syntax error",
		})
	}

	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if !child.IsNamed() {
			if child.IsMissing() {
				r := regionOf(child)
				*msgs = append(*msgs, message.Message{
					Source: source, Severity: message.Error, Kind: message.Parse,
					Region: &r, Text: fmt.Sprintf("missing %q", child.Type()),
				})
			}
			continue
		}
		out.Children = append(out.Children, convert(child, n.FieldNameForChild(i), src, source, msgs))
	}
	if len(out.Children) == 0 {
		out.Text = n.Content(src)
	}
	return out
}

func regionOf(n *sitter.Node) message.Region {
	sp, ep := n.StartPoint(), n.EndPoint()
	return message.Region{
		StartLine: pointInt(sp.Row),
		StartCol:  pointInt(sp.Column),
		EndLine:   pointInt(ep.Row),
		EndCol:    pointInt(ep.Column),
	}
}

func pointInt(v uint32) int {
	n, err := safecast.Conv[int](v)
	if err != nil {
		return 0
	}
	return n
}
