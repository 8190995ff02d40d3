// Package analyzer is the AnalyzerManager boundary: everything above it
// (the indexing engine, cache warming) works with Symbol/Edge/CallableSymbol
// shapes and never touches a parser directly. The default implementation
// wraps tree-sitter behind a cgo build tag, matching the teacher's own
// complexity package split between a real, cgo-gated analyzer and a stub
// that degrades gracefully when cgo is unavailable.
package analyzer

import (
	"context"

	"ckb/internal/database"
)

// Language is a tree-sitter-supported language identifier, scoped to the
// same LSP-relevant set langdetect.Detector classifies workspaces into.
type Language string

const (
	LangGo         Language = "go"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangPython     Language = "python"
	LangRust       Language = "rust"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
)

// LanguageFromExtension returns the Language for a file extension,
// including ".jsx" and the TSX extension, which getFunctionNodeTypes
// handles with the same node types as JavaScript and TypeScript.
func LanguageFromExtension(ext string) (Language, bool) {
	switch ext {
	case ".go":
		return LangGo, true
	case ".js", ".mjs", ".cjs", ".jsx":
		return LangJavaScript, true
	case ".ts", ".mts", ".cts":
		return LangTypeScript, true
	case ".tsx":
		return LangTSX, true
	case ".py", ".pyw":
		return LangPython, true
	case ".rs":
		return LangRust, true
	case ".java":
		return LangJava, true
	case ".kt", ".kts":
		return LangKotlin, true
	default:
		return "", false
	}
}

// CallableSymbol is a function/method/lambda-like unit the indexing engine
// can warm the call-hierarchy cache against. Complexity is the function's
// cyclomatic complexity, carried through from the tree-sitter walk so the
// indexing engine can prioritize warming the symbols most worth caching
// (a complex, heavily-branching function is more likely to be the target
// of an expensive incoming-calls query) ahead of trivial ones.
type CallableSymbol struct {
	Name       string
	Kind       string
	Line       int
	Character  int
	EndLine    int
	Complexity int
}

// AnalysisResult is what AnalyzerManager.Analyze hands back for one file.
type AnalysisResult struct {
	File      string
	Language  Language
	Symbols   []database.Symbol
	Edges     []database.Edge
	Callables []CallableSymbol
}

// AnalyzerManager is the boundary the indexing engine depends on for
// language-aware symbol extraction. Implementations are free to use
// tree-sitter, an LSP server, or anything else that can produce the same
// shapes; the default is tree-sitter-backed (see treesitter.go / stub.go).
type AnalyzerManager interface {
	// Analyze parses source (the contents of file) and extracts its
	// symbols, edges and callable symbols.
	Analyze(ctx context.Context, file string, source []byte, lang Language) (*AnalysisResult, error)
	// SupportsLanguage reports whether lang has a registered grammar.
	SupportsLanguage(lang Language) bool
}
