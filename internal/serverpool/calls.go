package serverpool

import (
	"context"
	"fmt"

	"ckb/internal/errors"
	"ckb/internal/lspclient"
)

// dispatch acquires the per-language semaphore, checks the circuit
// breaker, and runs fn against the instance's handle, recording
// success/failure on the way out. Every public query method funnels
// through here.
func (p *Pool) dispatch(ctx context.Context, workspaceRoot, language string, fn func(lspclient.Handle) (interface{}, error)) (interface{}, error) {
	if err := p.EnsureWorkspace(ctx, workspaceRoot, language); err != nil {
		return nil, err
	}

	inst := p.get(language)
	if inst == nil {
		return nil, errors.NewNoServerConfiguredError(language)
	}

	if !inst.healthy(p.cfg.MaxConsecutiveFailures) {
		return nil, errors.NewUnhealthyError(language, inst.consecutiveFailures())
	}

	sem := p.semaphoreFor(language)
	if !sem.tryAcquire() {
		if err := sem.acquire(ctx); err != nil {
			return nil, errors.WrapError(errors.Timeout, "waiting for server slot", err)
		}
	}
	defer sem.release()

	callCtx := ctx
	if p.cfg.PerTaskTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.PerTaskTimeout)
		defer cancel()
	}

	result, err := fn(inst.handle)
	if err != nil {
		inst.recordFailure()
		return nil, errors.WrapError(errors.Timeout, "lsp request failed", err)
	}
	_ = callCtx
	inst.recordSuccess()
	return result, nil
}

// dedupedDispatch wraps dispatch in the call-deduplication coordinator for
// operations expensive and idempotent enough that concurrent identical
// calls should share one LSP round trip: CallHierarchy, References, and
// Implementation. key must already identify (language, normalized file,
// line, column, op) — see callKey.
func (p *Pool) dedupedDispatch(ctx context.Context, key, workspaceRoot, language string, fn func(lspclient.Handle) (interface{}, error)) (interface{}, error) {
	v, err, _ := p.callDedup.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return p.dispatch(ctx, workspaceRoot, language, fn)
	})
	return v, err
}

// callKey builds the dedup key for one (language, file, position, op)
// LSP call, matching across concurrent callers asking for the same thing.
func callKey(op, language, uri string, line, character int) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%d", op, language, uri, line, character)
}

// Definition queries textDocument/definition for the given position.
func (p *Pool) Definition(ctx context.Context, workspaceRoot, language, uri string, line, character int) (interface{}, error) {
	return p.dispatch(ctx, workspaceRoot, language, func(h lspclient.Handle) (interface{}, error) {
		return h.Definition(ctx, uri, line, character)
	})
}

// References queries textDocument/references for the given position,
// deduplicating concurrent identical calls to exactly one LSP round trip.
func (p *Pool) References(ctx context.Context, workspaceRoot, language, uri string, line, character int, includeDeclaration bool) (interface{}, error) {
	key := callKey("references", language, uri, line, character)
	return p.dedupedDispatch(ctx, key, workspaceRoot, language, func(h lspclient.Handle) (interface{}, error) {
		return h.References(ctx, uri, line, character, includeDeclaration)
	})
}

// Hover queries textDocument/hover for the given position.
func (p *Pool) Hover(ctx context.Context, workspaceRoot, language, uri string, line, character int) (interface{}, error) {
	return p.dispatch(ctx, workspaceRoot, language, func(h lspclient.Handle) (interface{}, error) {
		return h.Hover(ctx, uri, line, character)
	})
}

// TypeDefinition queries textDocument/typeDefinition for the given position.
func (p *Pool) TypeDefinition(ctx context.Context, workspaceRoot, language, uri string, line, character int) (interface{}, error) {
	return p.dispatch(ctx, workspaceRoot, language, func(h lspclient.Handle) (interface{}, error) {
		return h.TypeDefinition(ctx, uri, line, character)
	})
}

// Implementation queries textDocument/implementation for the given
// position, deduplicating concurrent identical calls to exactly one LSP
// round trip.
func (p *Pool) Implementation(ctx context.Context, workspaceRoot, language, uri string, line, character int) (interface{}, error) {
	key := callKey("implementation", language, uri, line, character)
	return p.dedupedDispatch(ctx, key, workspaceRoot, language, func(h lspclient.Handle) (interface{}, error) {
		return h.Implementation(ctx, uri, line, character)
	})
}

// CallHierarchy resolves incoming or outgoing call-hierarchy edges at the
// given position — the primary side-effect the indexing engine's cache
// warming pass drives — deduplicating concurrent identical calls (same
// language, file, position, and direction) to exactly one LSP round trip.
func (p *Pool) CallHierarchy(ctx context.Context, workspaceRoot, language, uri string, line, character int, direction lspclient.CallHierarchyDirection) (interface{}, error) {
	key := callKey("callHierarchy:"+string(direction), language, uri, line, character)
	return p.dedupedDispatch(ctx, key, workspaceRoot, language, func(h lspclient.Handle) (interface{}, error) {
		if !h.SupportsCapability("callHierarchyProvider") {
			return nil, errors.NewUnsupportedError("callHierarchy", language)
		}
		return h.CallHierarchy(ctx, uri, line, character, direction)
	})
}

// DocumentSymbols queries textDocument/documentSymbol for a file.
func (p *Pool) DocumentSymbols(ctx context.Context, workspaceRoot, language, uri string) (interface{}, error) {
	return p.dispatch(ctx, workspaceRoot, language, func(h lspclient.Handle) (interface{}, error) {
		return h.DocumentSymbols(ctx, uri)
	})
}

// WorkspaceSymbols queries workspace/symbol across a workspace.
func (p *Pool) WorkspaceSymbols(ctx context.Context, workspaceRoot, language, query string) (interface{}, error) {
	return p.dispatch(ctx, workspaceRoot, language, func(h lspclient.Handle) (interface{}, error) {
		return h.WorkspaceSymbols(ctx, query)
	})
}

// SupportsCallHierarchy reports whether the running instance for language
// advertised callHierarchyProvider support.
func (p *Pool) SupportsCallHierarchy(workspaceRoot, language string) bool {
	inst := p.get(language)
	if inst == nil {
		return false
	}
	return inst.handle.SupportsCapability("callHierarchyProvider")
}
