package serverpool

import (
	"context"
	"os"
	"syscall"
	"time"

	gopsutilprocess "github.com/shirou/gopsutil/v3/process"
)

// healthLoop periodically checks every instance's liveness, sweeps resource
// usage against the configured limits, and restarts ones whose circuit
// breaker has tripped, mirroring the teacher's healthCheckLoop/
// checkAllProcesses/handleCrash chain generalized across languages.
func (p *Pool) healthLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.CheckProcessHealth()
			p.checkAll()
		case <-p.done:
			return
		}
	}
}

func (p *Pool) checkAll() {
	p.mu.RLock()
	langs := make([]string, 0, len(p.instances))
	for lang := range p.instances {
		langs = append(langs, lang)
	}
	p.mu.RUnlock()

	for _, lang := range langs {
		p.mu.RLock()
		inst, ok := p.instances[lang]
		p.mu.RUnlock()
		if !ok {
			continue
		}

		if p.isStale(inst) {
			inst.setState(stateUnhealthy)
		}

		if !inst.healthy(p.cfg.MaxConsecutiveFailures) {
			p.handleCrash(lang, inst)
		}
	}
}

func (p *Pool) isStale(inst *instance) bool {
	last := inst.lastResponse()
	if last.IsZero() {
		return false
	}
	return time.Since(last) > p.cfg.ResponseTimeout
}

func (p *Pool) handleCrash(lang string, inst *instance) {
	p.logger.Warn("lsp instance unhealthy, attempting restart", map[string]interface{}{
		"language":            lang,
		"consecutiveFailures": inst.consecutiveFailures(),
	})

	if !inst.canRestart() {
		return
	}

	backoff := p.computeBackoff(inst.consecutiveFailures())
	inst.scheduleRestart(backoff)
	bootstrap := inst.getBootstrapWorkspace()

	p.mu.Lock()
	delete(p.instances, lang)
	p.mu.Unlock()

	go inst.shutdown(context.Background())
	go func() {
		if err := p.EnsureWorkspace(context.Background(), bootstrap, lang); err != nil {
			p.logger.Error("failed to restart lsp instance", map[string]interface{}{
				"language": lang,
				"error":    err.Error(),
			})
		}
	}()
}

// computeBackoff is the same base*2^(n-1)-capped-at-max backoff the
// teacher's supervisor uses for process restarts.
func (p *Pool) computeBackoff(restartCount int) time.Duration {
	if restartCount <= 0 {
		return p.cfg.BaseBackoff
	}

	backoff := p.cfg.BaseBackoff
	for i := 1; i < restartCount && backoff < p.cfg.MaxBackoff; i++ {
		backoff *= 2
	}
	if backoff > p.cfg.MaxBackoff {
		backoff = p.cfg.MaxBackoff
	}
	return backoff
}

// CheckProcessHealth walks every tracked server's child PID, sampling its
// CPU and memory usage. A PID over either limit whose owning server is
// still within its warm-up grace window (the WarmupGrace setting,
// DefaultWarmupGrace by default) is left alone — a freshly spawned server
// indexing a large workspace for the first time is expected to spike — but
// past the grace window it gets SIGTERM and the instance is untracked so
// the next request respawns it fresh. Returns the languages whose process
// was signaled.
func (p *Pool) CheckProcessHealth() []string {
	p.mu.RLock()
	type tracked struct {
		language string
		inst     *instance
	}
	candidates := make([]tracked, 0, len(p.instances))
	for lang, inst := range p.instances {
		candidates = append(candidates, tracked{lang, inst})
	}
	p.mu.RUnlock()

	var killed []string
	for _, c := range candidates {
		pid := c.inst.pid()
		if pid <= 0 {
			continue
		}

		exceeded, err := p.processExceedsLimits(pid)
		if err != nil || !exceeded {
			continue
		}

		if time.Since(c.inst.startedAt()) < p.cfg.WarmupGrace {
			continue
		}

		if err := terminateProcess(pid); err != nil {
			p.logger.Warn("failed to signal unhealthy lsp process", map[string]interface{}{
				"language": c.language,
				"pid":      pid,
				"error":    err.Error(),
			})
			continue
		}

		p.logger.Warn("sent SIGTERM to unhealthy lsp process", map[string]interface{}{
			"language": c.language,
			"pid":      pid,
		})

		p.mu.Lock()
		if p.instances[c.language] == c.inst {
			delete(p.instances, c.language)
		}
		p.mu.Unlock()

		killed = append(killed, c.language)
	}
	return killed
}

// processExceedsLimits samples pid's CPU percentage and resident memory
// against the pool's MaxServerCPUPercent/MaxServerMemoryMB limits.
func (p *Pool) processExceedsLimits(pid int) (bool, error) {
	proc, err := gopsutilprocess.NewProcess(int32(pid))
	if err != nil {
		return false, err
	}

	cpuPercent, err := proc.Percent(0)
	if err != nil {
		return false, err
	}
	if cpuPercent > p.cfg.MaxServerCPUPercent {
		return true, nil
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return false, err
	}
	memoryMB := memInfo.RSS / (1024 * 1024)
	return memoryMB > p.cfg.MaxServerMemoryMB, nil
}

func terminateProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGTERM)
}
