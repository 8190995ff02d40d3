//go:build !cgo

package analyzer

import (
	"context"
	"errors"
)

// ErrNoCGO is returned when tree-sitter analysis is unavailable because
// the binary was built without cgo.
var ErrNoCGO = errors.New("symbol analysis requires CGO (tree-sitter)")

type stubManager struct{}

// New returns a stub AnalyzerManager for non-cgo builds: every call fails
// with ErrNoCGO rather than the binary failing to link.
func New() AnalyzerManager {
	return stubManager{}
}

func (stubManager) SupportsLanguage(Language) bool {
	return false
}

func (stubManager) Analyze(ctx context.Context, file string, source []byte, lang Language) (*AnalysisResult, error) {
	return nil, ErrNoCGO
}
