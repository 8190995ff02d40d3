package lspclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const requestTimeout = 60 * time.Second

// process is the default Handle implementation: one subprocess, one
// workspace root, communicating over stdin/stdout-framed JSON-RPC.
type process struct {
	command string
	args    []string
	root    string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu           sync.RWMutex
	capabilities map[string]interface{}
	alive        bool

	nextID   int32
	pendingMu sync.Mutex
	pending   map[int]chan *message

	done chan struct{}
}

// processSpawner is the real Spawner: it execs the given command.
type processSpawner struct{}

// NewProcessSpawner returns the Spawner that shells out to real language
// server binaries.
func NewProcessSpawner() Spawner {
	return processSpawner{}
}

func (processSpawner) Spawn(ctx context.Context, command string, args []string, workspaceRoot string) (Handle, error) {
	p := &process{
		command:      command,
		args:         args,
		root:         workspaceRoot,
		pending:      make(map[int]chan *message),
		done:         make(chan struct{}),
		capabilities: make(map[string]interface{}),
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = workspaceRoot

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdout
	p.stderr = stderr
	p.alive = true

	go p.readLoop()
	go p.drainStderr()

	return p, nil
}

func (p *process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) Alive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.alive
}

func (p *process) SupportsCapability(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.capabilities[name]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	default:
		return v != nil
	}
}

func (p *process) Initialize(ctx context.Context) (map[string]interface{}, error) {
	params := map[string]interface{}{
		"processId": nil,
		"rootUri":   "file://" + p.root,
		"capabilities": map[string]interface{}{
			"textDocument": map[string]interface{}{
				"definition":     map[string]interface{}{"dynamicRegistration": false},
				"references":     map[string]interface{}{"dynamicRegistration": false},
				"documentSymbol": map[string]interface{}{"dynamicRegistration": false},
				"hover":          map[string]interface{}{"dynamicRegistration": false},
				"callHierarchy":  map[string]interface{}{"dynamicRegistration": false},
				"typeDefinition": map[string]interface{}{"dynamicRegistration": false},
				"implementation": map[string]interface{}{"dynamicRegistration": false},
			},
			"workspace": map[string]interface{}{
				"symbol": map[string]interface{}{"dynamicRegistration": false},
			},
		},
	}

	result, err := p.call(ctx, "initialize", params)
	if err != nil {
		return nil, err
	}

	caps := map[string]interface{}{}
	if m, ok := result.(map[string]interface{}); ok {
		if c, ok := m["capabilities"].(map[string]interface{}); ok {
			caps = c
		}
	}

	p.mu.Lock()
	p.capabilities = caps
	p.mu.Unlock()

	if err := p.notify("initialized", map[string]interface{}{}); err != nil {
		return nil, err
	}

	return caps, nil
}

func (p *process) Definition(ctx context.Context, uri string, line, character int) (interface{}, error) {
	return p.call(ctx, "textDocument/definition", positionParams(uri, line, character))
}

func (p *process) References(ctx context.Context, uri string, line, character int, includeDeclaration bool) (interface{}, error) {
	params := positionParams(uri, line, character)
	params["context"] = map[string]interface{}{"includeDeclaration": includeDeclaration}
	return p.call(ctx, "textDocument/references", params)
}

func (p *process) Hover(ctx context.Context, uri string, line, character int) (interface{}, error) {
	return p.call(ctx, "textDocument/hover", positionParams(uri, line, character))
}

func (p *process) TypeDefinition(ctx context.Context, uri string, line, character int) (interface{}, error) {
	return p.call(ctx, "textDocument/typeDefinition", positionParams(uri, line, character))
}

func (p *process) Implementation(ctx context.Context, uri string, line, character int) (interface{}, error) {
	return p.call(ctx, "textDocument/implementation", positionParams(uri, line, character))
}

func (p *process) DocumentSymbols(ctx context.Context, uri string) (interface{}, error) {
	return p.call(ctx, "textDocument/documentSymbol", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
	})
}

func (p *process) WorkspaceSymbols(ctx context.Context, query string) (interface{}, error) {
	return p.call(ctx, "workspace/symbol", map[string]interface{}{"query": query})
}

// CallHierarchy is a two-step operation per the LSP spec: first resolve a
// textDocument/prepareCallHierarchy item at the position, then ask for its
// incoming or outgoing calls.
func (p *process) CallHierarchy(ctx context.Context, uri string, line, character int, direction CallHierarchyDirection) (interface{}, error) {
	prepared, err := p.call(ctx, "textDocument/prepareCallHierarchy", positionParams(uri, line, character))
	if err != nil {
		return nil, err
	}

	items, ok := prepared.([]interface{})
	if !ok || len(items) == 0 {
		return []interface{}{}, nil
	}

	method := "callHierarchy/incomingCalls"
	if direction == CallsOutgoing {
		method = "callHierarchy/outgoingCalls"
	}

	return p.call(ctx, method, map[string]interface{}{"item": items[0]})
}

func (p *process) NotifyDocumentOpen(uri, languageID, text string, version int) error {
	return p.notify("textDocument/didOpen", map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri":        uri,
			"languageId": languageID,
			"version":    version,
			"text":       text,
		},
	})
}

func (p *process) NotifyDocumentClose(uri string) error {
	return p.notify("textDocument/didClose", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
	})
}

// AddWorkspaceFolder notifies the server of a new workspace root via
// workspace/didChangeWorkspaceFolders. Servers that never advertised
// workspaceFolders support still get the notification; most ignore
// additions they don't understand rather than erroring on them.
func (p *process) AddWorkspaceFolder(ctx context.Context, root string) error {
	uri := "file://" + root
	return p.notify("workspace/didChangeWorkspaceFolders", map[string]interface{}{
		"event": map[string]interface{}{
			"added": []map[string]interface{}{
				{"uri": uri, "name": filepath.Base(root)},
			},
			"removed": []interface{}{},
		},
	})
}

func (p *process) Shutdown(ctx context.Context) error {
	_, _ = p.call(ctx, "shutdown", nil)
	_ = p.notify("exit", nil)

	close(p.done)

	if p.stdin != nil {
		_ = p.stdin.Close()
	}

	exited := make(chan struct{})
	go func() {
		if p.cmd != nil {
			_ = p.cmd.Wait()
		}
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	}

	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()

	return nil
}

func (p *process) call(ctx context.Context, method string, params interface{}) (interface{}, error) {
	id := int(atomic.AddInt32(&p.nextID, 1))

	respCh := make(chan *message, 1)
	p.pendingMu.Lock()
	p.pending[id] = respCh
	p.pendingMu.Unlock()

	msg := &message{Jsonrpc: "2.0", Id: &id, Method: method, Params: params}
	if err := writeMessage(p.stdin, msg); err != nil {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-respCh:
		if resp == nil {
			return nil, fmt.Errorf("%s: connection closed", method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: lsp error %d: %s", method, resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-time.After(requestTimeout):
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: timed out after %s", method, requestTimeout)
	case <-ctx.Done():
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-p.done:
		return nil, fmt.Errorf("%s: process shut down", method)
	}
}

func (p *process) notify(method string, params interface{}) error {
	return writeMessage(p.stdin, &message{Jsonrpc: "2.0", Method: method, Params: params})
}

func (p *process) readLoop() {
	defer func() {
		p.mu.Lock()
		p.alive = false
		p.mu.Unlock()

		p.pendingMu.Lock()
		for _, ch := range p.pending {
			close(ch)
		}
		p.pending = make(map[int]chan *message)
		p.pendingMu.Unlock()
	}()

	reader := bufio.NewReader(p.stdout)
	for {
		select {
		case <-p.done:
			return
		default:
		}

		msg, err := readMessage(reader)
		if err != nil {
			return
		}
		p.handleMessage(msg)
	}
}

func (p *process) handleMessage(msg *message) {
	if msg.Id != nil && msg.Method == "" {
		p.pendingMu.Lock()
		ch, ok := p.pending[*msg.Id]
		if ok {
			delete(p.pending, *msg.Id)
		}
		p.pendingMu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
		return
	}

	if msg.Method == "" {
		return
	}

	switch msg.Method {
	case "window/logMessage", "textDocument/publishDiagnostics", "$/progress":
		// Notifications we don't act on.
	default:
		if msg.Id != nil {
			_ = writeMessage(p.stdin, &message{Jsonrpc: "2.0", Id: msg.Id, Result: nil})
		}
	}
}

func (p *process) drainStderr() {
	if p.stderr == nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		select {
		case <-p.done:
			return
		default:
		}
		if _, err := p.stderr.Read(buf); err != nil {
			return
		}
	}
}

func positionParams(uri string, line, character int) map[string]interface{} {
	return map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"position": map[string]interface{}{
			"line":      line,
			"character": character,
		},
	}
}
