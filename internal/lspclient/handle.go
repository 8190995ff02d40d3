// Package lspclient speaks the LSP JSON-RPC wire protocol to a single
// subprocess and exposes it as a Handle — the seam the rest of the daemon
// (serverpool, indexing) programs against instead of the wire format.
package lspclient

import (
	"context"
)

// Handle is the capability surface serverpool drives a running language
// server through. It intentionally only names the queries the cache router
// and indexing engine need; general LSP wire support lives entirely inside
// the concrete implementation.
type Handle interface {
	// Initialize sends the LSP initialize/initialized handshake and
	// records the server's advertised capabilities.
	Initialize(ctx context.Context) (map[string]interface{}, error)

	Definition(ctx context.Context, uri string, line, character int) (interface{}, error)
	References(ctx context.Context, uri string, line, character int, includeDeclaration bool) (interface{}, error)
	Hover(ctx context.Context, uri string, line, character int) (interface{}, error)
	CallHierarchy(ctx context.Context, uri string, line, character int, direction CallHierarchyDirection) (interface{}, error)
	TypeDefinition(ctx context.Context, uri string, line, character int) (interface{}, error)
	Implementation(ctx context.Context, uri string, line, character int) (interface{}, error)
	DocumentSymbols(ctx context.Context, uri string) (interface{}, error)
	WorkspaceSymbols(ctx context.Context, query string) (interface{}, error)

	NotifyDocumentOpen(uri, languageID, text string, version int) error
	NotifyDocumentClose(uri string) error

	// AddWorkspaceFolder sends workspace/didChangeWorkspaceFolders adding
	// root to the server's multi-root workspace, the mechanism the pool
	// uses to register a workspace onto an already-running server instead
	// of spawning a second process for the same language.
	AddWorkspaceFolder(ctx context.Context, root string) error

	// Shutdown sends the LSP shutdown/exit sequence and kills the process
	// if it hasn't exited within a grace period.
	Shutdown(ctx context.Context) error

	// Pid returns the OS process id, or 0 if the process hasn't started.
	Pid() int

	// SupportsCapability reports whether the server's initialize response
	// advertised the named capability (e.g. "callHierarchyProvider").
	SupportsCapability(name string) bool

	// Alive reports whether the underlying process is still running and
	// the read loop hasn't observed EOF.
	Alive() bool
}

// CallHierarchyDirection selects incoming or outgoing call-hierarchy edges.
type CallHierarchyDirection string

const (
	// CallsIncoming requests callHierarchy/incomingCalls.
	CallsIncoming CallHierarchyDirection = "incoming"
	// CallsOutgoing requests callHierarchy/outgoingCalls.
	CallsOutgoing CallHierarchyDirection = "outgoing"
)

// Spawner starts language server subprocesses. Implementations exist so
// serverpool can be tested against a fake that never shells out.
type Spawner interface {
	Spawn(ctx context.Context, command string, args []string, workspaceRoot string) (Handle, error)
}
