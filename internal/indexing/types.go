// Package indexing discovers files, schedules analysis by priority,
// coordinates a worker pool, drives LSP cache warming, and tracks
// per-workspace dependency cascades.
package indexing

import "time"

// Priority orders the analysis queue: higher values dequeue first.
type Priority int

const (
	PriorityBackground Priority = 1
	PriorityLow        Priority = 25
	PriorityNormal     Priority = 50
	PriorityHigh       Priority = 75
	PriorityCritical   Priority = 100
)

// TaskType identifies why a file is being analyzed.
type TaskType string

const (
	TaskFullAnalysis      TaskType = "full_analysis"
	TaskIncrementalUpdate TaskType = "incremental_update"
	TaskDependencyUpdate  TaskType = "dependency_update"
	TaskReindex           TaskType = "reindex"
)

// AnalysisTask is one unit of queued work. Queue ordering is priority
// desc, then CreatedAt asc, then TaskID asc.
type AnalysisTask struct {
	TaskID      string
	Priority    Priority
	WorkspaceID string
	TaskType    TaskType
	FilePath    string
	Language    string
	CreatedAt   time.Time
	RetryCount  int
	MaxRetries  int
	TriggeredBy []string
}

// Config bundles the engine's tunables, matching the enumerated knobs
// spec.md calls out as the replacement for ad-hoc env-var globals.
type Config struct {
	WorkerCount        int
	MaxQueueDepth      int
	PerTaskTimeout     time.Duration
	DependencyGraphTTL time.Duration
	FileDiscoveryBatch int
	MaxRetries         int
	RetryBackoffBase   time.Duration
	RetryBackoffCap    time.Duration
	ShutdownTimeout    time.Duration
}

const (
	DefaultMaxQueueDepth      = 10000
	DefaultPerTaskTimeout     = 30 * time.Second
	DefaultDependencyGraphTTL = 5 * time.Minute
	DefaultFileDiscoveryBatch = 200
	DefaultMaxRetries         = 3
	DefaultRetryBackoffBase   = 1 * time.Second
	DefaultRetryBackoffCap    = 30 * time.Second
	DefaultShutdownTimeout    = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 2
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.PerTaskTimeout <= 0 {
		c.PerTaskTimeout = DefaultPerTaskTimeout
	}
	if c.DependencyGraphTTL <= 0 {
		c.DependencyGraphTTL = DefaultDependencyGraphTTL
	}
	if c.FileDiscoveryBatch <= 0 {
		c.FileDiscoveryBatch = DefaultFileDiscoveryBatch
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = DefaultRetryBackoffBase
	}
	if c.RetryBackoffCap <= 0 {
		c.RetryBackoffCap = DefaultRetryBackoffCap
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// FileAnalysisResult is what analyzing a single file produces.
type FileAnalysisResult struct {
	File        string
	Language    string
	SymbolCount int
	EdgeCount   int
	WarmedCount int
	Duration    time.Duration
	Error       string
}

// WorkspaceAnalysisResult aggregates the tasks enqueued for one
// analyze_workspace_incremental call.
type WorkspaceAnalysisResult struct {
	WorkspaceID     string
	FilesScanned    int
	TasksEnqueued   int
	DependencyTasks int
}

// Progress reports the engine's state for one workspace.
type Progress struct {
	WorkspaceID        string
	Total              int
	Queued             int
	Failed             int
	Completed          int
	PercentComplete    float64
	ThroughputPerSec   float64
	EstimatedRemaining time.Duration
}

// FileChangeKind mirrors the change kinds process_file_changes handles.
type FileChangeKind string

const (
	ChangeCreate FileChangeKind = "create"
	ChangeUpdate FileChangeKind = "update"
	ChangeDelete FileChangeKind = "delete"
	ChangeMove   FileChangeKind = "move"
)

// FileChange is one detected filesystem change.
type FileChange struct {
	Path    string
	OldPath string // set for ChangeMove
	Kind    FileChangeKind
	Hash    string
}
