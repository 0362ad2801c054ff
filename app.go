// clipforge is a timeline editing and rendering core for a command-line
// non-linear video editor: it maintains an in-memory timeline with undo
// history, persists it through a versioned project codec, and renders
// windows of it by lowering the timeline into a media-engine filtergraph
// and driving that engine to completion.
//
// Wiring is grounded on the teacher's nvr.go (newApp/app/Run): load
// configuration, construct the long-lived collaborators (logger, cache,
// media engine, system sampler), load or create a project, serve an HTTP
// API exposing render progress, and shut down cleanly on SIGINT/SIGTERM.
package clipforge

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"clipforge/pkg/asset"
	"clipforge/pkg/cache"
	"clipforge/pkg/config"
	"clipforge/pkg/history"
	"clipforge/pkg/log"
	"clipforge/pkg/mediaengine"
	"clipforge/pkg/progress"
	"clipforge/pkg/project"
	"clipforge/pkg/render"
	"clipforge/pkg/system"
	"clipforge/pkg/timecode"
	"clipforge/pkg/timeline"
)

// App owns every long-lived collaborator for one running clipforge
// process: the loaded project (Timeline + Registry), its edit History,
// the render Cache, the MediaEngine, the structured Logger, the host
// System sampler, the render Pipeline, and the loaded Config.
type App struct {
	Config  *config.Env
	Log     *log.Logger
	Cache   *cache.Cache
	Engine  mediaengine.Engine
	System  *system.System
	Pipeline *render.Pipeline

	Timeline *timeline.Timeline
	Registry *asset.Registry
	History  *history.History

	projectPath string
	server      *http.Server
	wg          *sync.WaitGroup
	logCancel   context.CancelFunc
}

// Open loads clipforge's runtime configuration from envPath and the
// project document at projectPath (creating an empty one if it does not
// exist), and wires together every long-lived collaborator. Mirrors the
// teacher's newApp: config first, then the collaborators that depend on
// it, then the domain state last.
func Open(envPath, projectPath string) (*App, error) {
	env, err := config.LoadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("clipforge: load config: %w", err)
	}
	if err := env.PrepareDirectories(); err != nil {
		return nil, fmt.Errorf("clipforge: prepare directories: %w", err)
	}

	var wg sync.WaitGroup
	logger, err := log.NewLogger(filepath.Join(env.ConfigDir, "clipforge.log.db"), &wg)
	if err != nil {
		return nil, fmt.Errorf("clipforge: open log: %w", err)
	}
	logCtx, logCancel := context.WithCancel(context.Background())
	if err := logger.Start(logCtx); err != nil {
		logCancel()
		return nil, fmt.Errorf("clipforge: start log: %w", err)
	}
	go logger.LogToStdout(logCtx)

	c, err := cache.Open(env.CacheDir, env.CacheMaxSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("clipforge: open cache: %w", err)
	}

	engine := mediaengine.New()

	tl, registry, err := loadOrCreateProject(projectPath, logger)
	if err != nil {
		c.Close() //nolint:errcheck
		return nil, fmt.Errorf("clipforge: load project: %w", err)
	}

	h := history.New(tl)
	h.OnApplied(func(op history.Operation) {
		logger.Debug().Src("history").Component("history").Msgf("applied %T", op)
	})

	sys := system.New()
	pipeline := render.New(engine, c, env.ScratchDir)
	pipeline.OnStage(func(state render.State, stage render.Stage, runID string) {
		logger.Info().Src("render").Component("render").Run(runID).Msgf("state=%s stage=%s", state, stage)
	})

	return &App{
		Config:      env,
		Log:         logger,
		Cache:       c,
		Engine:      engine,
		System:      sys,
		Pipeline:    pipeline,
		Timeline:    tl,
		Registry:    registry,
		History:     h,
		projectPath: projectPath,
		wg:          &wg,
		logCancel:   logCancel,
	}, nil
}

func loadOrCreateProject(path string, logger *log.Logger) (*timeline.Timeline, *asset.Registry, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		ids := &timecode.IDGenerator{}
		registry := asset.NewRegistry(ids, nil, nil)
		noDuration := func(timecode.AssetId) (timecode.Duration, bool) { return timecode.Duration{}, false }
		return timeline.New(ids, registry, noDuration), registry, nil
	}
	doc, err := project.Load(path, project.Full, func(msg string) {
		logger.Warn().Src("project").Component("project").Msg(msg)
	})
	if err != nil {
		return nil, nil, err
	}
	return project.ToDomain(doc, nil)
}

// Save serialises the current Timeline/Registry into a.projectPath.
func (a *App) Save() error {
	doc := project.FromDomain(a.Timeline, a.Registry, project.Metadata{Name: filepath.Base(a.projectPath)}, nil)
	return project.Save(a.projectPath, doc)
}

// ServeProgress exposes b's ProgressSnapshot stream over addr at
// /api/render/progress, mirroring the teacher's "/api/logs" websocket
// route.
func (a *App) ServeProgress(addr string, b *progress.Broadcaster) {
	mux := http.NewServeMux()
	mux.Handle("/api/render/progress", progress.Handler(b))
	a.server = &http.Server{Addr: addr, Handler: mux}
}

// Run starts the progress HTTP server (if ServeProgress was called) and
// blocks until ctx is cancelled or a SIGINT/SIGTERM is received, then
// shuts the server down gracefully, mirroring the teacher's Run.
func (a *App) Run(ctx context.Context) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	fatal := make(chan error, 1)
	if a.server != nil {
		go func() {
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fatal <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case sig := <-stop:
		a.Log.Info().Src("app").Msgf("received %v, stopping", sig)
	case err := <-fatal:
		a.Close()
		return err
	}

	return a.Close()
}

// Close releases every collaborator App owns: the render cache's index,
// the progress server (if started), and the logger's background
// goroutine.
func (a *App) Close() error {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.server.Shutdown(ctx) //nolint:errcheck
	}
	a.logCancel()
	a.wg.Wait()
	return a.Cache.Close()
}
