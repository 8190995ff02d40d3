// Package serverpool keeps at most one LSP server process per language,
// multiplexing every registered workspace root onto that single process via
// workspace/didChangeWorkspaceFolders instead of spawning one process per
// (workspace, language) pair. Each instance is gated by a per-language
// concurrency semaphore and a circuit breaker, with LRU eviction once the
// pool hits its total process budget.
package serverpool

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"ckb/internal/errors"
	"ckb/internal/logging"
	"ckb/internal/lspclient"
	"ckb/internal/singleflight"
)

// Defaults, generalized from the teacher's single-workspace supervisor
// constants to the multi-workspace, one-process-per-language pool.
const (
	DefaultMaxTotalProcesses              = 8
	DefaultMaxConcurrentRequestsPerServer = 4
	DefaultMaxConsecutiveFailures         = 3
	DefaultBaseBackoff                    = 1 * time.Second
	DefaultMaxBackoff                     = 30 * time.Second
	DefaultHealthCheckInterval            = 30 * time.Second
	DefaultResponseTimeout                = 60 * time.Second
	DefaultWarmupGrace                    = 180 * time.Second
	DefaultPerTaskTimeout                 = 60 * time.Second
	DefaultMaxServerCPUPercent            = 95.0
	DefaultMaxServerMemoryMB              = 2048
	workspaceRegisterTimeout              = 30 * time.Second
)

// LanguageServer describes how to launch the server binary for a language.
type LanguageServer struct {
	Command string
	Args    []string
}

// Config bundles the pool's tunables. Zero values fall back to the
// Default* constants.
type Config struct {
	Servers                        map[string]LanguageServer
	MaxTotalProcesses              int
	MaxConcurrentRequestsPerServer int
	MaxConsecutiveFailures         int
	BaseBackoff                    time.Duration
	MaxBackoff                     time.Duration
	HealthCheckInterval            time.Duration
	ResponseTimeout                time.Duration
	WarmupGrace                    time.Duration
	PerTaskTimeout                 time.Duration
	MaxServerCPUPercent            float64
	MaxServerMemoryMB              uint64
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.MaxTotalProcesses <= 0 {
		out.MaxTotalProcesses = DefaultMaxTotalProcesses
	}
	if out.MaxConcurrentRequestsPerServer <= 0 {
		out.MaxConcurrentRequestsPerServer = DefaultMaxConcurrentRequestsPerServer
	}
	if out.MaxConsecutiveFailures <= 0 {
		out.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if out.BaseBackoff <= 0 {
		out.BaseBackoff = DefaultBaseBackoff
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = DefaultMaxBackoff
	}
	if out.HealthCheckInterval <= 0 {
		out.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if out.ResponseTimeout <= 0 {
		out.ResponseTimeout = DefaultResponseTimeout
	}
	if out.WarmupGrace <= 0 {
		out.WarmupGrace = DefaultWarmupGrace
	}
	if out.PerTaskTimeout <= 0 {
		out.PerTaskTimeout = DefaultPerTaskTimeout
	}
	if out.MaxServerCPUPercent <= 0 {
		out.MaxServerCPUPercent = DefaultMaxServerCPUPercent
	}
	if out.MaxServerMemoryMB <= 0 {
		out.MaxServerMemoryMB = DefaultMaxServerMemoryMB
	}
	return &out
}

// Pool owns every running server instance, one per language, across every
// registered workspace.
type Pool struct {
	cfg     *Config
	spawner lspclient.Spawner
	logger  *logging.Logger

	mu        sync.RWMutex
	instances map[string]*instance // keyed by language
	sems      map[string]*semaphore

	workspaceInit *singleflight.WorkspaceInitCoordinator
	callDedup     *singleflight.Coordinator

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Pool. spawner is injectable so tests can run it against a
// fake Handle instead of shelling out to real language servers.
func New(cfg *Config, spawner lspclient.Spawner, logger *logging.Logger) *Pool {
	p := &Pool{
		cfg:           cfg.withDefaults(),
		spawner:       spawner,
		logger:        logger,
		instances:     make(map[string]*instance),
		sems:          make(map[string]*semaphore),
		workspaceInit: singleflight.NewWorkspaceInitCoordinator(),
		callDedup:     singleflight.NewCoordinator(),
		done:          make(chan struct{}),
	}

	p.wg.Add(1)
	go p.healthLoop()

	return p
}

func (p *Pool) semaphoreFor(language string) *semaphore {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.sems[language]
	if !ok {
		sem = newSemaphore(p.cfg.MaxConcurrentRequestsPerServer)
		p.sems[language] = sem
	}
	return sem
}

// normalizeWorkspaceRoot absolute-izes root without resolving symlinks, so
// two callers naming the same workspace by a relative and an absolute path
// still land on the same registration key. Unlike wsid.Canonicalize, which
// resolves symlinks when hashing workspace ids, it leaves symlinks as given.
func normalizeWorkspaceRoot(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return root
	}
	return abs
}

// EnsureWorkspace registers workspaceRoot onto the single server instance
// for language, spawning it if none exists yet. Concurrent callers for the
// same (language, normalized workspace root) share one registration via the
// workspace-init coordinator instead of racing to spawn or register twice.
func (p *Pool) EnsureWorkspace(ctx context.Context, workspaceRoot, language string) error {
	root := normalizeWorkspaceRoot(workspaceRoot)
	key := language + "\x00" + root

	_, err := p.workspaceInit.Init(ctx, key, func(ctx context.Context) (interface{}, error) {
		return nil, p.ensureWorkspaceRegisteredInternal(ctx, language, root)
	})
	return err
}

// ensureWorkspaceRegisteredInternal is the deduplicated body of
// EnsureWorkspace: fast path touches an already-registered workspace, an
// already-initialized instance gets the new workspace folder added live,
// and an absent or uninitialized instance gets spawned fresh with root as
// its bootstrap workspace.
func (p *Pool) ensureWorkspaceRegisteredInternal(ctx context.Context, language, root string) error {
	p.mu.RLock()
	inst, ok := p.instances[language]
	p.mu.RUnlock()

	if !ok {
		return p.spawnInstance(ctx, language, root)
	}

	if inst.isWorkspaceRegistered(root) {
		inst.touch()
		return nil
	}

	if !inst.isInitialized() {
		return p.spawnInstance(ctx, language, root)
	}

	if err := p.registerWorkspaceOnInstance(ctx, inst, root); err != nil {
		p.logger.Warn("failed to add workspace folder, restarting server", map[string]interface{}{
			"language": language,
			"root":     root,
			"error":    err.Error(),
		})

		p.mu.Lock()
		if p.instances[language] == inst {
			delete(p.instances, language)
		}
		p.mu.Unlock()
		go inst.shutdown(context.Background())

		return p.spawnInstance(ctx, language, root)
	}

	return nil
}

// registerWorkspaceOnInstance sends workspace/didChangeWorkspaceFolders to
// an already-initialized instance, bounded by a fixed registration timeout
// so a wedged server can't block the caller forever.
func (p *Pool) registerWorkspaceOnInstance(ctx context.Context, inst *instance, root string) error {
	registerCtx, cancel := context.WithTimeout(ctx, workspaceRegisterTimeout)
	defer cancel()

	if err := inst.handle.AddWorkspaceFolder(registerCtx, root); err != nil {
		return err
	}
	inst.addWorkspace(root)
	inst.touch()
	return nil
}

// spawnInstance starts a fresh server process for language, bootstrapped
// against root, evicting the LRU instance first if the pool is at its total
// process budget.
func (p *Pool) spawnInstance(ctx context.Context, language, root string) error {
	srv, ok := p.cfg.Servers[language]
	if !ok {
		return errors.NewNoServerConfiguredError(language)
	}

	p.mu.Lock()
	if _, exists := p.instances[language]; !exists && len(p.instances) >= p.cfg.MaxTotalProcesses {
		if evictLang, ok := p.lruLocked(); ok {
			victim := p.instances[evictLang]
			delete(p.instances, evictLang)
			go victim.shutdown(context.Background())
		}
	}
	p.mu.Unlock()

	handle, err := p.spawner.Spawn(ctx, srv.Command, srv.Args, root)
	if err != nil {
		return errors.WrapError(errors.BackendUnavailable, fmt.Sprintf("spawn %s server", language), err)
	}

	inst := newInstance(language, handle)
	if _, err := handle.Initialize(ctx); err != nil {
		inst.recordFailure()
		_ = handle.Shutdown(context.Background())
		return errors.WrapError(errors.BackendUnavailable, fmt.Sprintf("initialize %s server", language), err)
	}
	inst.recordSuccess()
	inst.setState(stateReady)
	inst.markInitialized(root)

	p.mu.Lock()
	p.instances[language] = inst
	p.mu.Unlock()

	p.logger.Info("started lsp server", map[string]interface{}{
		"language":           language,
		"bootstrapWorkspace": root,
		"command":            srv.Command,
	})

	return nil
}

func (p *Pool) get(language string) *instance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.instances[language]
}

// RestartServer force-restarts the instance for language, bypassing backoff,
// re-registering its bootstrap workspace afterward.
func (p *Pool) RestartServer(ctx context.Context, language string) error {
	p.mu.Lock()
	inst, ok := p.instances[language]
	if ok {
		delete(p.instances, language)
	}
	p.mu.Unlock()

	bootstrap := language
	if ok {
		bootstrap = inst.getBootstrapWorkspace()
		_ = inst.shutdown(ctx)
	}
	return p.EnsureWorkspace(ctx, bootstrap, language)
}

// ShutdownAll stops every running instance and background loops.
func (p *Pool) ShutdownAll(ctx context.Context) error {
	close(p.done)

	p.mu.Lock()
	instances := p.instances
	p.instances = make(map[string]*instance)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(i *instance) {
			defer wg.Done()
			_ = i.shutdown(ctx)
		}(inst)
	}
	wg.Wait()

	p.wg.Wait()
	return nil
}

// Stats reports process counts per language for operational endpoints.
func (p *Pool) Stats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byLanguage := make(map[string]int, len(p.instances))
	for lang, inst := range p.instances {
		byLanguage[lang] = inst.workspaceCount()
	}

	return map[string]interface{}{
		"totalProcesses": len(p.instances),
		"maxProcesses":   p.cfg.MaxTotalProcesses,
		"byLanguage":     byLanguage,
	}
}
