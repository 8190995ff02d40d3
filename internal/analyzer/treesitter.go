//go:build cgo

package analyzer

import (
	"context"
	"fmt"

	"ckb/internal/database"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// treeSitterManager is the default AnalyzerManager: one tree-sitter parser
// reused across calls, re-targeted per language.
type treeSitterManager struct {
	parser *sitter.Parser
}

// New returns the default, tree-sitter-backed AnalyzerManager.
func New() AnalyzerManager {
	return &treeSitterManager{parser: sitter.NewParser()}
}

func (m *treeSitterManager) SupportsLanguage(lang Language) bool {
	_, err := getLanguage(lang)
	return err == nil
}

func (m *treeSitterManager) Analyze(ctx context.Context, file string, source []byte, lang Language) (*AnalysisResult, error) {
	tsLang, err := getLanguage(lang)
	if err != nil {
		return nil, err
	}

	m.parser.SetLanguage(tsLang)
	tree, err := m.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	root := tree.RootNode()

	result := &AnalysisResult{File: file, Language: lang}

	functionNodes := findNodes(root, getFunctionNodeTypes(lang))
	names := make(map[*sitter.Node]string, len(functionNodes))
	for i, fn := range functionNodes {
		name := functionName(fn, source, lang)
		names[fn] = name

		id := fmt.Sprintf("%s#%d", file, i)
		line := int(fn.StartPoint().Row) + 1
		col := int(fn.StartPoint().Column)

		result.Symbols = append(result.Symbols, database.Symbol{
			ID:        id,
			File:      file,
			Name:      name,
			Kind:      callableKind(fn.Type(), lang),
			Line:      line,
			Character: col,
		})

		result.Callables = append(result.Callables, CallableSymbol{
			Name:       name,
			Kind:       callableKind(fn.Type(), lang),
			Line:       line,
			Character:  col,
			EndLine:    int(fn.EndPoint().Row) + 1,
			Complexity: cyclomaticComplexity(fn, source, lang),
		})
	}

	result.Edges = extractCallEdges(root, source, lang, file, functionNodes, names)

	return result, nil
}

func getLanguage(lang Language) (*sitter.Language, error) {
	switch lang {
	case LangGo:
		return golang.GetLanguage(), nil
	case LangJavaScript:
		return javascript.GetLanguage(), nil
	case LangTypeScript:
		return typescript.GetLanguage(), nil
	case LangTSX:
		return tsx.GetLanguage(), nil
	case LangPython:
		return python.GetLanguage(), nil
	case LangRust:
		return rust.GetLanguage(), nil
	case LangJava:
		return java.GetLanguage(), nil
	case LangKotlin:
		return kotlin.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
}

// getFunctionNodeTypes returns the node types that represent a callable
// unit for lang — the same node types a cache-warming pass treats as
// worth a callHierarchy/incomingCalls probe.
func getFunctionNodeTypes(lang Language) []string {
	switch lang {
	case LangGo:
		return []string{"function_declaration", "method_declaration", "func_literal"}
	case LangJavaScript, LangTypeScript, LangTSX:
		return []string{"function_declaration", "function_expression", "arrow_function", "method_definition", "generator_function_declaration"}
	case LangPython:
		return []string{"function_definition", "lambda"}
	case LangRust:
		return []string{"function_item", "closure_expression"}
	case LangJava:
		return []string{"method_declaration", "constructor_declaration", "lambda_expression"}
	case LangKotlin:
		return []string{"function_declaration", "lambda_literal", "anonymous_function"}
	default:
		return nil
	}
}

// callNodeTypes returns the node type representing a call expression for
// lang, used to extract call edges between callables in the same file.
func callNodeTypes(lang Language) []string {
	switch lang {
	case LangGo, LangJavaScript, LangTypeScript, LangTSX, LangRust, LangKotlin:
		return []string{"call_expression"}
	case LangPython:
		return []string{"call"}
	case LangJava:
		return []string{"method_invocation"}
	default:
		return nil
	}
}

// decisionNodeTypes returns the node types counted as decision points for
// cyclomatic complexity, used only to prioritize cache-warming order.
func decisionNodeTypes(lang Language) []string {
	switch lang {
	case LangGo:
		return []string{"if_statement", "for_statement", "expression_case", "type_case", "communication_case", "binary_expression"}
	case LangJavaScript, LangTypeScript, LangTSX:
		return []string{"if_statement", "for_statement", "for_in_statement", "while_statement", "do_statement", "switch_case", "catch_clause", "ternary_expression", "binary_expression"}
	case LangPython:
		return []string{"if_statement", "elif_clause", "for_statement", "while_statement", "except_clause", "boolean_operator", "conditional_expression"}
	case LangRust:
		return []string{"if_expression", "match_arm", "while_expression", "loop_expression", "for_expression", "binary_expression"}
	case LangJava:
		return []string{"if_statement", "for_statement", "enhanced_for_statement", "while_statement", "do_statement", "switch_block_statement_group", "catch_clause", "ternary_expression", "binary_expression"}
	case LangKotlin:
		return []string{"if_expression", "when_entry", "for_statement", "while_statement", "do_while_statement", "catch_block", "binary_expression"}
	default:
		return nil
	}
}

func isBooleanOperator(node *sitter.Node, source []byte, lang Language) bool {
	if node.Type() != "binary_expression" && node.Type() != "boolean_operator" {
		return false
	}
	for i := uint32(0); i < node.ChildCount(); i++ {
		child := node.Child(int(i))
		if child == nil {
			continue
		}
		if lang == LangPython {
			if child.Type() == "and" || child.Type() == "or" {
				return true
			}
			continue
		}
		content := string(source[child.StartByte():child.EndByte()])
		if content == "&&" || content == "||" {
			return true
		}
	}
	return false
}

func cyclomaticComplexity(node *sitter.Node, source []byte, lang Language) int {
	complexity := 1
	for _, dn := range findNodes(node, decisionNodeTypes(lang)) {
		if dn.Type() == "binary_expression" || dn.Type() == "boolean_operator" {
			if isBooleanOperator(dn, source, lang) {
				complexity++
			}
			continue
		}
		complexity++
	}
	return complexity
}

func functionName(node *sitter.Node, source []byte, lang Language) string {
	var nameNode *sitter.Node

	switch lang {
	case LangKotlin:
		for i := uint32(0); i < node.ChildCount(); i++ {
			child := node.Child(int(i))
			if child != nil && child.Type() == "simple_identifier" {
				nameNode = child
				break
			}
		}
	default:
		nameNode = node.ChildByFieldName("name")
		if nameNode == nil && lang == LangGo {
			for i := uint32(0); i < node.ChildCount(); i++ {
				child := node.Child(int(i))
				if child != nil && child.Type() == "identifier" {
					nameNode = child
					break
				}
			}
		}
	}

	if nameNode != nil {
		return string(source[nameNode.StartByte():nameNode.EndByte()])
	}

	switch node.Type() {
	case "arrow_function", "func_literal", "lambda", "lambda_expression",
		"closure_expression", "lambda_literal", "anonymous_function":
		return "<anonymous>"
	}
	return "<unknown>"
}

func callableKind(nodeType string, lang Language) string {
	switch nodeType {
	case "method_declaration", "method_definition", "method_invocation":
		return "method"
	case "constructor_declaration":
		return "constructor"
	case "arrow_function", "func_literal", "lambda", "lambda_expression", "closure_expression", "lambda_literal", "anonymous_function":
		return "lambda"
	default:
		return "function"
	}
}

// extractCallEdges builds a "calls" Edge from every callable to every
// other callable in functionNodes whose name appears as the callee of a
// call expression inside the caller's body. This is a same-file, name-
// matching heuristic — cross-file call resolution is the language
// server's job (serverpool.Pool.CallHierarchy), not the analyzer's.
func extractCallEdges(root *sitter.Node, source []byte, lang Language, file string, functionNodes []*sitter.Node, names map[*sitter.Node]string) []database.Edge {
	byName := make(map[string]string, len(functionNodes))
	for i, fn := range functionNodes {
		byName[names[fn]] = fmt.Sprintf("%s#%d", file, i)
	}

	var edges []database.Edge
	for i, fn := range functionNodes {
		fromID := fmt.Sprintf("%s#%d", file, i)
		for _, call := range findNodes(fn, callNodeTypes(lang)) {
			callee := calleeName(call, source)
			toID, ok := byName[callee]
			if !ok || toID == fromID {
				continue
			}
			edges = append(edges, database.Edge{
				FromSymbolID: fromID,
				ToSymbolID:   toID,
				Kind:         "calls",
				File:         file,
			})
		}
	}
	return edges
}

// calleeName extracts the identifier text of a call expression's function
// field, stripping any receiver/module qualification down to the final
// segment (e.g. "pkg.Foo" -> "Foo").
func calleeName(call *sitter.Node, source []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		fn = call.Child(0)
	}
	if fn == nil {
		return ""
	}
	if fn.Type() == "selector_expression" || fn.Type() == "member_expression" || fn.Type() == "field_expression" || fn.Type() == "attribute" {
		if last := fn.ChildByFieldName("field"); last != nil {
			return string(source[last.StartByte():last.EndByte()])
		}
		if last := fn.ChildByFieldName("attribute"); last != nil {
			return string(source[last.StartByte():last.EndByte()])
		}
		if last := fn.ChildByFieldName("property"); last != nil {
			return string(source[last.StartByte():last.EndByte()])
		}
	}
	return string(source[fn.StartByte():fn.EndByte()])
}

func findNodes(root *sitter.Node, types []string) []*sitter.Node {
	var result []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		if containsType(types, node.Type()) {
			result = append(result, node)
		}
		for i := uint32(0); i < node.ChildCount(); i++ {
			walk(node.Child(int(i)))
		}
	}
	walk(root)
	return result
}

func containsType(types []string, t string) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}
