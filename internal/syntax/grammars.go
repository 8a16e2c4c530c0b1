package syntax

import (
	"sort"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// grammarTable maps grammar names to tree-sitter Language objects.
// Lazily initialized on first call via sync.Once.
var (
	grammarTable map[string]*sitter.Language
	grammarsOnce sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		grammarTable = map[string]*sitter.Language{
			"go":         golang.GetLanguage(),
			"typescript": ts.GetLanguage(),
			"javascript": javascript.GetLanguage(),
			"python":     python.GetLanguage(),
			"rust":       rust.GetLanguage(),
			"c":          c.GetLanguage(),
			"cpp":        cpp.GetLanguage(),
			"java":       java.GetLanguage(),
			"php":        php.GetLanguage(),
			"ruby":       ruby.GetLanguage(),
		}
	})
}

// GrammarFor returns the tree-sitter Language registered under name.
func GrammarFor(name string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := grammarTable[name]
	return l, ok
}

// Grammars returns the sorted names of all available grammars.
func Grammars() []string {
	initGrammars()
	names := make([]string, 0, len(grammarTable))
	for name := range grammarTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
