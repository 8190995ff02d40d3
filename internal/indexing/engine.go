package indexing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ckb/internal/analyzer"
	"ckb/internal/cacherouter"
	"ckb/internal/database"
	"ckb/internal/errors"
	"ckb/internal/langdetect"
	"ckb/internal/logging"
	"ckb/internal/lspclient"
	"ckb/internal/serverpool"
	"ckb/internal/singleflight"
	"ckb/internal/wsid"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
)

// callableKinds is the case-insensitive kind substring list spec.md names
// as worth warming: a symbol's Kind must contain one of these to trigger a
// callHierarchy probe.
var callableKinds = []string{"function", "method", "constructor", "lambda", "closure", "macro", "procedure", "subroutine"}

func isCallableKind(kind string) bool {
	lower := strings.ToLower(kind)
	for _, want := range callableKinds {
		if strings.Contains(lower, want) {
			return true
		}
	}
	return false
}

// Readiness gating and per-symbol retry tunables for cache warming, lifted
// from the original indexing worker's probe loop: a server freshly spawned
// to index a large workspace needs time before its responses mean anything.
const (
	readinessProbeTimeout  = 5 * time.Second
	readinessProbeInterval = 1 * time.Second
	readinessMaxAttempts   = 120

	warmCallTimeout      = 10 * time.Second
	warmMaxNullResponses = 3
	warmMaxAttempts      = 300
	warmBackoffBase      = 1 * time.Second
	warmBackoffMax       = 10 * time.Second
)

// isArrayResponse reports whether v is the JSON array shape a valid
// callHierarchy incoming/outgoing response must have (possibly empty, for
// leaf symbols with no callers or callees).
func isArrayResponse(v interface{}) bool {
	if v == nil {
		return false
	}
	_, ok := v.([]interface{})
	return ok
}

// computeWarmBackoff is the 1s/2s/4s/8s/10s-capped backoff the original
// worker uses between call-hierarchy retries.
func computeWarmBackoff(attempt int) time.Duration {
	shift := attempt
	if shift > 5 {
		shift = 5
	}
	if shift < 1 {
		shift = 1
	}
	backoff := warmBackoffBase << uint(shift-1)
	if backoff > warmBackoffMax {
		backoff = warmBackoffMax
	}
	return backoff
}

// workspaceState is the engine's per-workspace bookkeeping: its root (for
// path resolution), dependency graph, known file hashes (the lightweight
// FileVersionManager substitute), and progress counters.
type workspaceState struct {
	root  string
	graph *DependencyGraph

	mu        sync.Mutex
	fileDeps  map[string][]string
	languages map[string]string
	fileHash  map[string]string

	total     int64
	completed int64
	failed    int64
	startedAt time.Time
}

// Engine is the IndexingEngine: it owns the priority queue, the worker
// pool, and per-workspace dependency graphs, and drives cache warming by
// calling into ServerPool after the analyzer extracts symbols.
type Engine struct {
	cfg     Config
	logger  *logging.Logger
	queue   *Queue
	pool    *serverpool.Pool
	router  *cacherouter.Router
	az      analyzer.AnalyzerManager
	detect  langdetect.Detector
	warm    *singleflight.Coordinator

	readyMu sync.Mutex
	ready   map[string]bool // (root, language) pairs that passed readiness gating

	mu         sync.Mutex
	workspaces map[wsid.ID]*workspaceState

	paused int32 // atomic bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewEngine wires an Engine from its collaborators. cfg is normalized with
// withDefaults before use.
func NewEngine(cfg Config, pool *serverpool.Pool, router *cacherouter.Router, az analyzer.AnalyzerManager, detect langdetect.Detector, logger *logging.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		queue:      NewQueue(cfg.MaxQueueDepth),
		pool:       pool,
		router:     router,
		az:         az,
		detect:     detect,
		warm:       singleflight.NewCoordinator(),
		ready:      make(map[string]bool),
		workspaces: make(map[wsid.ID]*workspaceState),
		done:       make(chan struct{}),
	}
}

// RegisterWorkspace registers root with the cache router and the engine's
// own per-workspace bookkeeping, returning its stable workspace id.
func (e *Engine) RegisterWorkspace(root string) wsid.ID {
	id := e.router.RegisterWorkspace(root)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workspaces[id]; !ok {
		e.workspaces[id] = &workspaceState{
			root:      root,
			graph:     NewDependencyGraph(e.cfg.DependencyGraphTTL),
			fileDeps:  make(map[string][]string),
			languages: make(map[string]string),
			fileHash:  make(map[string]string),
			startedAt: time.Now(),
		}
	}
	return id
}

func (e *Engine) state(id wsid.ID) (*workspaceState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ws, ok := e.workspaces[id]
	if !ok {
		return nil, errors.NewWorkspaceResolutionError(string(id))
	}
	return ws, nil
}

// AnalyzeWorkspaceIncremental walks scanPath, diffs each file's
// content hash against the last-seen hash, and enqueues a task per changed
// file — FullAnalysis for files seen for the first time, IncrementalUpdate
// otherwise — plus a High-priority DependencyUpdate task for every file
// the dependency graph says depends on one of the changed files.
func (e *Engine) AnalyzeWorkspaceIncremental(ctx context.Context, id wsid.ID, scanPath string) (*WorkspaceAnalysisResult, error) {
	ws, err := e.state(id)
	if err != nil {
		return nil, err
	}

	result := &WorkspaceAnalysisResult{WorkspaceID: string(id)}
	var changed []string
	scanned := 0

	walkErr := filepath.WalkDir(scanPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		lang, ok := e.detect.DetectFile(path)
		if !ok {
			return nil
		}
		scanned++

		content, err := os.ReadFile(path)
		if err != nil {
			e.logger.Warn("read file during scan", map[string]interface{}{"path": path, "error": err.Error()})
			return nil
		}
		hash := contentHash(content)

		ws.mu.Lock()
		prior, known := ws.fileHash[path]
		ws.fileHash[path] = hash
		ws.languages[path] = lang
		ws.mu.Unlock()

		if known && prior == hash {
			return nil
		}

		taskType := TaskIncrementalUpdate
		if !known {
			taskType = TaskFullAnalysis
		}

		task := &AnalysisTask{
			TaskID:      uuid.NewString(),
			Priority:    AssignPriority(path),
			WorkspaceID: string(id),
			TaskType:    taskType,
			FilePath:    path,
			Language:    lang,
			CreatedAt:   time.Now(),
			MaxRetries:  e.cfg.MaxRetries,
		}
		if err := e.queue.Enqueue(task); err != nil {
			e.logger.Warn("enqueue backpressure", map[string]interface{}{"path": path, "error": err.Error()})
			return nil
		}
		result.TasksEnqueued++
		changed = append(changed, path)

		if scanned%e.cfg.FileDiscoveryBatch == 0 {
			e.logger.Debug("scan progress", map[string]interface{}{"workspace": string(id), "scanned": scanned})
		}
		return nil
	})
	if walkErr != nil {
		return nil, errors.NewIoError("scan workspace", scanPath, walkErr)
	}

	result.FilesScanned = scanned

	if len(changed) > 0 {
		e.rebuildGraphIfStale(ws)
		for _, dependent := range ws.graph.GetDependents(changed) {
			task := &AnalysisTask{
				TaskID:      uuid.NewString(),
				Priority:    PriorityHigh,
				WorkspaceID: string(id),
				TaskType:    TaskDependencyUpdate,
				FilePath:    dependent,
				Language:    ws.languages[dependent],
				CreatedAt:   time.Now(),
				MaxRetries:  e.cfg.MaxRetries,
				TriggeredBy: changed,
			}
			if err := e.queue.Enqueue(task); err != nil {
				continue
			}
			result.DependencyTasks++
		}
	}

	ws.mu.Lock()
	ws.total += int64(result.TasksEnqueued + result.DependencyTasks)
	ws.mu.Unlock()

	return result, nil
}

// ProcessFileChanges applies externally-detected changes (e.g. from an
// fsnotify watch) to the task queue. Create/Update ensure a version and
// enqueue; Delete removes stored symbols/edges and the cached file hash;
// Move is a delete of the old path followed by a create of the new one.
func (e *Engine) ProcessFileChanges(ctx context.Context, id wsid.ID, root string, changes []FileChange) error {
	ws, err := e.state(id)
	if err != nil {
		return err
	}

	backend, err := e.router.CacheForWorkspace(id)
	if err != nil {
		return err
	}

	for _, change := range changes {
		switch change.Kind {
		case ChangeCreate, ChangeUpdate:
			lang, ok := e.detect.DetectFile(change.Path)
			if !ok {
				continue
			}
			ws.mu.Lock()
			_, known := ws.fileHash[change.Path]
			ws.fileHash[change.Path] = change.Hash
			ws.languages[change.Path] = lang
			ws.mu.Unlock()

			taskType := TaskIncrementalUpdate
			if !known {
				taskType = TaskFullAnalysis
			}
			task := &AnalysisTask{
				TaskID:      uuid.NewString(),
				Priority:    AssignPriority(change.Path),
				WorkspaceID: string(id),
				TaskType:    taskType,
				FilePath:    change.Path,
				Language:    lang,
				CreatedAt:   time.Now(),
				MaxRetries:  e.cfg.MaxRetries,
			}
			if err := e.queue.Enqueue(task); err != nil {
				return err
			}

		case ChangeDelete:
			rel := relativeTo(root, change.Path)
			if err := backend.DeleteFile(ctx, rel); err != nil {
				return errors.WrapError(errors.StorageError, "delete file on change", err)
			}
			ws.mu.Lock()
			delete(ws.fileHash, change.Path)
			delete(ws.languages, change.Path)
			ws.mu.Unlock()

		case ChangeMove:
			oldRel := relativeTo(root, change.OldPath)
			if err := backend.DeleteFile(ctx, oldRel); err != nil {
				return errors.WrapError(errors.StorageError, "delete old path on move", err)
			}
			ws.mu.Lock()
			delete(ws.fileHash, change.OldPath)
			delete(ws.languages, change.OldPath)
			ws.mu.Unlock()

			lang, ok := e.detect.DetectFile(change.Path)
			if !ok {
				continue
			}
			ws.mu.Lock()
			ws.fileHash[change.Path] = change.Hash
			ws.languages[change.Path] = lang
			ws.mu.Unlock()

			task := &AnalysisTask{
				TaskID:      uuid.NewString(),
				Priority:    AssignPriority(change.Path),
				WorkspaceID: string(id),
				TaskType:    TaskFullAnalysis,
				FilePath:    change.Path,
				Language:    lang,
				CreatedAt:   time.Now(),
				MaxRetries:  e.cfg.MaxRetries,
			}
			if err := e.queue.Enqueue(task); err != nil {
				return err
			}
		}
	}
	return nil
}

// AnalyzeFile reads file, runs the analyzer, persists its symbols and
// edges via the workspace's DatabaseBackend, and warms the call-hierarchy
// cache for every callable symbol it found.
func (e *Engine) AnalyzeFile(ctx context.Context, id wsid.ID, root, file, language string, taskType TaskType) (*FileAnalysisResult, error) {
	start := time.Now()

	content, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.NewIoError("read", file, err)
	}

	lang, ok := analyzer.LanguageFromExtension(filepath.Ext(file))
	if !ok {
		lang = analyzer.Language(language)
	}

	analysis, err := e.az.Analyze(ctx, file, content, lang)
	if err != nil {
		return &FileAnalysisResult{File: file, Language: language, Error: err.Error(), Duration: time.Since(start)}, errors.NewAnalysisError(file, err)
	}

	backend, err := e.router.CacheForWorkspace(id)
	if err != nil {
		return nil, err
	}

	rel := relativeTo(root, file)
	if err := backend.StoreSymbols(ctx, rel, analysis.Symbols); err != nil {
		return nil, errors.NewStorageError("store_symbols", err)
	}
	if err := backend.StoreEdges(ctx, rel, analysis.Edges); err != nil {
		return nil, errors.NewStorageError("store_edges", err)
	}

	ws, err := e.state(id)
	if err != nil {
		return nil, err
	}
	ws.mu.Lock()
	ws.fileDeps[rel] = ExtractDependencies(language, content)
	ws.languages[rel] = language
	ws.mu.Unlock()

	hash := contentHash(content)
	warmed := 0
	if e.pool.SupportsCallHierarchy(root, language) {
		e.ensureServerReady(ctx, root, language, file, analysis.Callables)
		callables := append([]analyzer.CallableSymbol(nil), analysis.Callables...)
		sort.SliceStable(callables, func(i, j int) bool {
			return callables[i].Complexity > callables[j].Complexity
		})
		for _, sym := range callables {
			if !isCallableKind(sym.Kind) {
				continue
			}
			if e.warmSymbol(ctx, backend, root, language, file, rel, sym, hash) {
				warmed++
			}
		}
	}

	return &FileAnalysisResult{
		File:        file,
		Language:    language,
		SymbolCount: len(analysis.Symbols),
		EdgeCount:   len(analysis.Edges),
		WarmedCount: warmed,
		Duration:    time.Since(start),
	}, nil
}

// ensureServerReady probes language's server for root once with a
// representative function/method symbol before cache warming begins,
// blocking up to readinessMaxAttempts*readinessProbeInterval for it to
// start returning well-formed callHierarchy responses. A freshly spawned
// server answers every request with nulls or empty objects until it's
// finished its own startup indexing; warming symbols against it before
// then would poison the cache with false negatives.
func (e *Engine) ensureServerReady(ctx context.Context, root, language, file string, callables []analyzer.CallableSymbol) {
	key := root + "\x00" + language

	e.readyMu.Lock()
	if e.ready[key] {
		e.readyMu.Unlock()
		return
	}
	e.readyMu.Unlock()

	var probe *analyzer.CallableSymbol
	for i := range callables {
		lower := strings.ToLower(callables[i].Kind)
		if strings.Contains(lower, "function") || strings.Contains(lower, "method") {
			probe = &callables[i]
			break
		}
	}
	if probe == nil {
		e.markReady(key)
		return
	}

	uri := "file://" + file
	for attempt := 1; attempt <= readinessMaxAttempts; attempt++ {
		if e.probeReady(ctx, root, language, uri, *probe) {
			e.logger.Debug("lsp server ready", map[string]interface{}{
				"language": language, "attempts": attempt,
			})
			e.markReady(key)
			return
		}

		select {
		case <-time.After(readinessProbeInterval):
		case <-ctx.Done():
			return
		}
	}

	e.logger.Warn("lsp server not ready after readiness window, proceeding anyway", map[string]interface{}{
		"language": language, "attempts": readinessMaxAttempts,
	})
	e.markReady(key)
}

func (e *Engine) markReady(key string) {
	e.readyMu.Lock()
	e.ready[key] = true
	e.readyMu.Unlock()
}

func (e *Engine) probeReady(ctx context.Context, root, language, uri string, probe analyzer.CallableSymbol) bool {
	probeCtx, cancel := context.WithTimeout(ctx, readinessProbeTimeout)
	incoming, err := e.pool.CallHierarchy(probeCtx, root, language, uri, probe.Line-1, probe.Character, lspclient.CallsIncoming)
	cancel()
	if err != nil {
		return false
	}

	probeCtx, cancel = context.WithTimeout(ctx, readinessProbeTimeout)
	outgoing, err := e.pool.CallHierarchy(probeCtx, root, language, uri, probe.Line-1, probe.Character, lspclient.CallsOutgoing)
	cancel()
	if err != nil {
		return false
	}

	return isArrayResponse(incoming) && isArrayResponse(outgoing)
}

// warmSymbol issues a callHierarchy probe for one callable symbol,
// deduplicating concurrent warm attempts for the same NodeKey via the
// singleflight coordinator, and stores the resulting CallHierarchyInfo in
// the persistent cache.
func (e *Engine) warmSymbol(ctx context.Context, backend database.DatabaseBackend, root, language, file, relFile string, sym analyzer.CallableSymbol, hash string) bool {
	nodeKey := fmt.Sprintf("%s:%s:%s", sym.Name, relFile, hash)

	_, err, _ := e.warm.Do(ctx, nodeKey, func(ctx context.Context) (interface{}, error) {
		uri := "file://" + file
		info, err := e.probeCallHierarchy(ctx, root, language, uri, sym)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(info)
		if err != nil {
			return nil, err
		}

		entry := database.CacheEntry{NodeKey: nodeKey, ValueJSON: string(payload)}
		if err := backend.PutCacheEntry(ctx, entry); err != nil {
			return nil, err
		}
		return info, nil
	})

	if err != nil {
		e.logger.Debug("cache warming skipped", map[string]interface{}{
			"symbol": sym.Name, "file": relFile, "error": err.Error(),
		})
		return false
	}
	return true
}

// probeCallHierarchy retries a symbol's incoming/outgoing call-hierarchy
// lookup against transient null responses and server warm-up, mirroring the
// original indexing worker's per-symbol retry policy: tolerate up to
// warmMaxNullResponses nulls (past that the symbol is treated as genuinely
// unsupported rather than retried forever), back off exponentially capped
// at warmBackoffMax between attempts, and abandon after warmMaxAttempts.
func (e *Engine) probeCallHierarchy(ctx context.Context, root, language, uri string, sym analyzer.CallableSymbol) (map[string]interface{}, error) {
	nullResponses := 0

	for attempt := 1; attempt <= warmMaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, warmCallTimeout)
		incoming, inErr := e.pool.CallHierarchy(callCtx, root, language, uri, sym.Line-1, sym.Character, lspclient.CallsIncoming)
		cancel()

		if inErr == nil {
			callCtx, cancel = context.WithTimeout(ctx, warmCallTimeout)
			outgoing, outErr := e.pool.CallHierarchy(callCtx, root, language, uri, sym.Line-1, sym.Character, lspclient.CallsOutgoing)
			cancel()

			if outErr == nil {
				if isArrayResponse(incoming) && isArrayResponse(outgoing) {
					return map[string]interface{}{"incoming": incoming, "outgoing": outgoing}, nil
				}
				if incoming == nil || outgoing == nil {
					nullResponses++
					if nullResponses >= warmMaxNullResponses {
						return nil, errors.NewUnsupportedError("callHierarchy", language)
					}
				}
			}
		}

		select {
		case <-time.After(computeWarmBackoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("call hierarchy for %s: no valid response after %d attempts", sym.Name, warmMaxAttempts)
}

// rebuildGraphIfStale rebuilds ws.graph from the dependency edges recorded
// by the most recent analyzer passes, if the graph's TTL has elapsed.
func (e *Engine) rebuildGraphIfStale(ws *workspaceState) {
	if !ws.graph.Stale() {
		return
	}
	ws.mu.Lock()
	deps := make(map[string][]string, len(ws.fileDeps))
	for k, v := range ws.fileDeps {
		deps[k] = v
	}
	langs := make(map[string]string, len(ws.languages))
	for k, v := range ws.languages {
		langs[k] = v
	}
	ws.mu.Unlock()

	ws.graph.Rebuild(deps, langs)
}

// GetDependentFiles returns every file transitively depending on changed,
// rebuilding the dependency graph first if it's gone stale.
func (e *Engine) GetDependentFiles(id wsid.ID, changed []string) ([]string, error) {
	ws, err := e.state(id)
	if err != nil {
		return nil, err
	}
	e.rebuildGraphIfStale(ws)
	return ws.graph.GetDependents(changed), nil
}

// QueueDepth reports the number of tasks currently queued across every
// workspace, for operational status endpoints.
func (e *Engine) QueueDepth() int {
	return e.queue.Len()
}

// ExportSCIPDocument reads a file's cached symbols back out of the
// workspace's backend and converts them to a SCIP Document, so external
// SCIP-consuming tooling can be pointed at ckbd's cache without it having
// to understand database.Symbol/Edge directly.
func (e *Engine) ExportSCIPDocument(ctx context.Context, id wsid.ID, relFile string) (*scippb.Document, error) {
	ws, err := e.state(id)
	if err != nil {
		return nil, err
	}

	backend, err := e.router.CacheForWorkspace(id)
	if err != nil {
		return nil, err
	}

	symbols, _, err := backend.GetByFile(ctx, relFile)
	if err != nil {
		return nil, err
	}

	ws.mu.Lock()
	language := ws.languages[relFile]
	ws.mu.Unlock()

	result := &analyzer.AnalysisResult{
		File:     relFile,
		Language: analyzer.Language(language),
		Symbols:  symbols,
	}
	return analyzer.ToSCIPDocument(result), nil
}

// Progress reports totals/queued/failed/throughput for one workspace.
func (e *Engine) Progress(id wsid.ID) (*Progress, error) {
	ws, err := e.state(id)
	if err != nil {
		return nil, err
	}

	ws.mu.Lock()
	total := ws.total
	completed := ws.completed
	failed := ws.failed
	startedAt := ws.startedAt
	ws.mu.Unlock()

	queued := e.queue.Len()

	elapsed := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(completed) / elapsed
	}

	percent := 0.0
	if total > 0 {
		percent = float64(completed) / float64(total) * 100
	}

	remaining := time.Duration(0)
	if throughput > 0 {
		remaining = time.Duration(float64(queued)/throughput) * time.Second
	}

	return &Progress{
		WorkspaceID:        string(id),
		Total:              int(total),
		Queued:             queued,
		Failed:             int(failed),
		Completed:          int(completed),
		PercentComplete:    percent,
		ThroughputPerSec:   throughput,
		EstimatedRemaining: remaining,
	}, nil
}

// StartAnalysisWorkers spins up cfg.WorkerCount workers, each supervised
// so a panic inside task processing respawns the worker instead of
// permanently shrinking the pool's capacity.
func (e *Engine) StartAnalysisWorkers(ctx context.Context) {
	for i := 0; i < e.cfg.WorkerCount; i++ {
		e.wg.Add(1)
		go e.superviseWorker(ctx, i)
	}
}

func (e *Engine) superviseWorker(ctx context.Context, id int) {
	defer e.wg.Done()
	for {
		if e.runWorkerOnce(ctx, id) {
			return
		}
		e.logger.Warn("analysis worker recovered from panic, respawning", map[string]interface{}{"worker": id})
	}
}

// runWorkerOnce runs the worker loop until it exits cleanly (shutdown,
// returns true) or panics (recovered, returns false so the supervisor
// respawns it).
func (e *Engine) runWorkerOnce(ctx context.Context, id int) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			clean = false
		}
	}()

	for {
		if atomic.LoadInt32(&e.paused) == 1 {
			select {
			case <-e.done:
				return true
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		task, ok := e.queue.Dequeue()
		if !ok {
			select {
			case <-e.done:
				return true
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		select {
		case <-e.done:
			return true
		default:
		}

		e.processTask(ctx, task)
	}
}

func (e *Engine) processTask(ctx context.Context, task *AnalysisTask) {
	taskCtx, cancel := context.WithTimeout(ctx, e.cfg.PerTaskTimeout)
	defer cancel()

	id := wsid.ID(task.WorkspaceID)
	ws, err := e.state(id)
	if err != nil {
		e.logger.Error("task for unknown workspace", map[string]interface{}{"workspace": task.WorkspaceID})
		return
	}

	_, err = e.AnalyzeFile(taskCtx, id, ws.root, task.FilePath, task.Language, task.TaskType)

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err != nil {
		e.logger.Warn("analysis task failed", map[string]interface{}{
			"file": task.FilePath, "error": err.Error(), "retry": task.RetryCount,
		})
		if task.RetryCount < task.MaxRetries {
			task.RetryCount++
			backoff := e.cfg.RetryBackoffBase * time.Duration(1<<uint(task.RetryCount-1))
			if backoff > e.cfg.RetryBackoffCap {
				backoff = e.cfg.RetryBackoffCap
			}
			go func(t *AnalysisTask, delay time.Duration) {
				time.Sleep(delay)
				_ = e.queue.Enqueue(t)
			}(task, backoff)
		} else {
			ws.failed++
		}
		return
	}
	ws.completed++
}

// StopAnalysisWorkers broadcasts shutdown and waits up to
// cfg.ShutdownTimeout for every worker to exit, logging (not failing) on
// timeout.
func (e *Engine) StopAnalysisWorkers() {
	close(e.done)

	waited := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(e.cfg.ShutdownTimeout):
		e.logger.Warn("analysis workers did not stop within shutdown timeout", nil)
	}
}

// Pause stops workers from dequeuing new tasks without discarding the
// queue; Resume undoes it.
func (e *Engine) Pause()  { atomic.StoreInt32(&e.paused, 1) }
func (e *Engine) Resume() { atomic.StoreInt32(&e.paused, 0) }

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
