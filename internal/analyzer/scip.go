package analyzer

import (
	"fmt"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
)

// ToSCIPDocument converts one file's AnalysisResult into a SCIP Document,
// the wire shape ckbd exports so other SCIP-aware tooling (sourcegraph,
// scip-clang cross-referencing, etc.) can consume the same call-graph data
// the indexing engine caches internally. Grounded on the teacher's SCIP
// backend (internal/backends/scip), which reads *scippb.Document for
// querying; this is its inverse, writing one from our own Symbol/Edge
// shapes instead of loading one from disk.
//
// Symbols are emitted as SCIP "local" symbols (the "local " prefix scip
// reserves for symbols with no stable cross-index identity) keyed by file
// and position, since AnalysisResult carries no package/version metadata
// to build a fully qualified SCIP symbol string.
func ToSCIPDocument(result *AnalysisResult) *scippb.Document {
	occurrences := make([]*scippb.Occurrence, 0, len(result.Symbols))
	symbols := make([]*scippb.SymbolInformation, 0, len(result.Symbols))

	for _, sym := range result.Symbols {
		scipSymbol := localSCIPSymbol(result.File, sym.Name, sym.Line, sym.Character)

		occurrences = append(occurrences, &scippb.Occurrence{
			Range:       []int32{int32(sym.Line), int32(sym.Character), int32(sym.Line), int32(sym.Character + len(sym.Name))},
			Symbol:      scipSymbol,
			SymbolRoles: int32(scippb.SymbolRole_Definition),
		})

		symbols = append(symbols, &scippb.SymbolInformation{
			Symbol:      scipSymbol,
			DisplayName: sym.Name,
			Kind:        scipKindFor(sym.Kind),
		})
	}

	return &scippb.Document{
		RelativePath: result.File,
		Language:     string(result.Language),
		Occurrences:  occurrences,
		Symbols:      symbols,
	}
}

func localSCIPSymbol(file, name string, line, character int) string {
	return fmt.Sprintf("local %s:%d:%d:%s", file, line, character, name)
}

func scipKindFor(kind string) scippb.SymbolInformation_Kind {
	switch kind {
	case "function", "lambda", "closure", "procedure", "subroutine":
		return scippb.SymbolInformation_Function
	case "method":
		return scippb.SymbolInformation_Method
	case "constructor":
		return scippb.SymbolInformation_Constructor
	case "macro":
		return scippb.SymbolInformation_Macro
	case "class":
		return scippb.SymbolInformation_Class
	case "interface":
		return scippb.SymbolInformation_Interface
	case "field":
		return scippb.SymbolInformation_Field
	case "parameter":
		return scippb.SymbolInformation_Parameter
	case "variable":
		return scippb.SymbolInformation_Variable
	default:
		return scippb.SymbolInformation_UnspecifiedKind
	}
}
