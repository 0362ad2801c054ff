// Package config loads clipforge's runtime/environment configuration: the
// media-engine binary path, scratch and cache directories, worker pool
// size override, default render timeout and cache size bound.
//
// Grounded on the teacher's storage.NewConfigEnv (YAML-backed env.yaml,
// defaulted and validated once at startup) generalized from an NVR
// camera-server's env to a render host's env.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v2"
)

// Env is clipforge's process-wide runtime configuration, loaded once at
// startup the way the teacher's storage.ConfigEnv is.
type Env struct {
	// EngineBin is the path to the media-engine executable (an
	// ffmpeg-compatible binary). Required; never defaulted to a bare
	// command name, since the core never interprets PATH lookup rules
	// itself (§1 scope: argument escaping/spawning details belong to the
	// MediaEngine capability, but the binary path is still config).
	EngineBin string `yaml:"engineBin"`

	// ScratchDir roots every render run's per-run scratch directory
	// (§4.7). Defaults to a clipforge-scratch subdirectory of the OS
	// temp dir.
	ScratchDir string `yaml:"scratchDir"`

	// CacheDir roots the render cache (C9): index.json plus blobs/.
	// Defaults to a clipforge-cache subdirectory of the OS temp dir.
	CacheDir string `yaml:"cacheDir"`

	// CacheMaxSizeBytes bounds the cache's total blob size; 0 means
	// unbounded.
	CacheMaxSizeBytes int64 `yaml:"cacheMaxSizeBytes"`

	// WorkerPoolSize overrides the default runtime.NumCPU()-sized
	// pre-render worker pool (§5). 0 means "use the host's logical CPU
	// count".
	WorkerPoolSize int `yaml:"workerPoolSize"`

	// DefaultRenderTimeout bounds each media-engine invocation (§5,
	// §6 EngineTimeout) unless a caller overrides it per-run.
	DefaultRenderTimeout time.Duration `yaml:"defaultRenderTimeout"`

	// CancelPollInterval bounds how quickly a cancellation request is
	// observed between steps and at progress callbacks (§5, ≤250ms).
	CancelPollInterval time.Duration `yaml:"cancelPollInterval"`

	// PreserveScratchOnCancel keeps a cancelled run's scratch directory
	// for post-mortem instead of cleaning it up (§4.7).
	PreserveScratchOnCancel bool `yaml:"preserveScratchOnCancel"`

	ConfigDir string `yaml:"-"`
}

// Load parses and validates raw, the contents of the env.yaml at path
// (path is used only in error messages), applying the same
// defaulted-then-validated shape as the teacher's NewConfigEnv.
func Load(path string, raw []byte) (*Env, error) {
	var env Env
	if err := yaml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	env.ConfigDir = filepath.Dir(path)

	if env.EngineBin == "" {
		return nil, fmt.Errorf("config: engineBin is required")
	}
	if !filepath.IsAbs(env.EngineBin) {
		return nil, fmt.Errorf("config: engineBin %q is not an absolute path", env.EngineBin)
	}
	if env.ScratchDir == "" {
		env.ScratchDir = filepath.Join(os.TempDir(), "clipforge-scratch")
	}
	if env.CacheDir == "" {
		env.CacheDir = filepath.Join(os.TempDir(), "clipforge-cache")
	}
	if env.WorkerPoolSize <= 0 {
		env.WorkerPoolSize = runtime.NumCPU()
	}
	if env.DefaultRenderTimeout <= 0 {
		env.DefaultRenderTimeout = 30 * time.Minute
	}
	if env.CancelPollInterval <= 0 {
		env.CancelPollInterval = 200 * time.Millisecond
	} else if env.CancelPollInterval > 250*time.Millisecond {
		return nil, fmt.Errorf("config: cancelPollInterval %s exceeds the 250ms bound", env.CancelPollInterval)
	}

	return &env, nil
}

// LoadFile reads path from disk and calls Load.
func LoadFile(path string) (*Env, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Load(path, raw)
}

// PrepareDirectories creates the scratch and cache root directories,
// mirroring the teacher's ConfigEnv.PrepareEnvironment.
func (e *Env) PrepareDirectories() error {
	if err := os.MkdirAll(e.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("config: create scratch dir: %w", err)
	}
	if err := os.MkdirAll(e.CacheDir, 0o755); err != nil {
		return fmt.Errorf("config: create cache dir: %w", err)
	}
	return nil
}

// NewRunScratchDir allocates a fresh per-run scratch directory under
// ScratchDir, named by runID.
func (e *Env) NewRunScratchDir(runID string) (string, error) {
	dir := filepath.Join(e.ScratchDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: create run scratch dir: %w", err)
	}
	return dir, nil
}
