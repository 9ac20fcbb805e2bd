package frontend

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// extToGrammar maps file extensions to grammar names.
var extToGrammar = map[string]string{
	".ts":  "typescript",
	".mts": "typescript",
	".cts": "typescript",
	".tsx": "tsx",
}

// Lazily initialized on first call via sync.Once.
var (
	grammars     map[string]*sitter.Language
	grammarsOnce sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		grammars = map[string]*sitter.Language{
			"typescript": ts.GetLanguage(),
			"tsx":        tsx.GetLanguage(),
		}
	})
}

// Extensions lists the file extensions the front end understands.
func Extensions() []string {
	return []string{".cts", ".mts", ".ts", ".tsx"}
}

// Supported reports whether path has a recognized extension. Matching is
// case insensitive.
func Supported(path string) bool {
	_, ok := Grammar(path)
	return ok
}

// Grammar returns the tree-sitter language for path's extension.
func Grammar(path string) (*sitter.Language, bool) {
	name, ok := extToGrammar[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, false
	}
	initGrammars()
	return grammars[name], true
}
