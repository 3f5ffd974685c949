package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/atlas/internal/config"
	"github.com/harun/atlas/internal/logger"
	"github.com/harun/atlas/internal/observability"
	"github.com/harun/atlas/internal/tracing"
	"github.com/harun/atlas/pkg/agent"
	"github.com/harun/atlas/pkg/coretools"
	"github.com/harun/atlas/pkg/mcpserver"
	"github.com/harun/atlas/pkg/metadata"
	"github.com/harun/atlas/pkg/middleware"
	"github.com/harun/atlas/pkg/task"
	"github.com/harun/atlas/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

// Options carries process wiring that does not belong in the config file.
type Options struct {
	// ConfigPath enables the config watcher when set.
	ConfigPath string
	Version    string
	Logger     *zerolog.Logger

	// Stdin and Stdout back the stdio transport. They default to the process streams.
	Stdin  io.Reader
	Stdout io.Writer
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running   bool          `json:"running"`
	Uptime    time.Duration `json:"uptime"`
	Agent     string        `json:"agent"`
	Transport string        `json:"transport"`
	Tools     int           `json:"tools"`
	Tasks     int           `json:"tasks"`
}

// Daemon wires the agent, its persistence, telemetry and the MCP server into one process.
type Daemon struct {
	config *config.Config
	opts   Options
	logger zerolog.Logger

	agent     *agent.Agent
	store     task.Store
	janitor   *task.Janitor
	mcp       *mcpserver.Server
	watcher   *ConfigWatcher
	lifecycle *LifecycleManager

	metricsServer   *http.Server
	metricsListener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan error

	startTime time.Time
	running   bool
	stopped   bool
	mu        sync.RWMutex

	tracingEnabled bool
	auditEnabled   bool
}

// New creates a new daemon instance. Nothing listens until Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	base := log.Logger
	if opts.Logger != nil {
		base = *opts.Logger
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config: cfg,
		opts:   opts,
		logger: base.With().Str("component", "daemon").Logger(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan error, 1),
	}

	if err := d.initializeTelemetry(); err != nil {
		d.cleanup()
		return nil, err
	}
	if err := d.initializeCoreModules(base); err != nil {
		d.cleanup()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		d.cleanup()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initializeTelemetry() error {
	observability.EnsureRegistered()

	if d.config.Telemetry.Tracing {
		err := tracing.InitOpenTelemetry(tracing.Config{
			ServiceName: "atlas",
			Exporter:    d.config.Telemetry.TraceExporter,
		})
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.logger.Info().Str("exporter", d.config.Telemetry.TraceExporter).Msg("Tracing initialized")
		}
	}

	if path := d.config.Telemetry.AuditLog; path != "" {
		if err := observability.InitAuditLogger(path); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		d.auditEnabled = true
		d.logger.Info().Str("path", path).Msg("Audit logger initialized")
	}
	return nil
}

func (d *Daemon) initializeCoreModules(base zerolog.Logger) error {
	store, err := OpenStore(d.config.Store)
	if err != nil {
		return err
	}
	d.store = store
	d.logger.Info().Str("driver", d.config.Store.Driver).Msg("Task store initialized")

	a, err := BuildAgent(d.config, store, base)
	if err != nil {
		return err
	}
	d.agent = a
	d.logger.Info().
		Str("agent", a.Config().Name()).
		Int("tools", len(a.Tools())).
		Msg("Agent initialized")

	if d.config.Retention.Schedule != "" && d.config.Retention.TTLMinutes > 0 {
		janitor, err := task.NewJanitor(a.Tracker(), task.JanitorConfig{
			Schedule: d.config.Retention.Schedule,
			TTL:      d.config.Retention.TTL(),
			Logger:   &base,
		})
		if err != nil {
			return fmt.Errorf("failed to create retention janitor: %w", err)
		}
		d.janitor = janitor
	}
	return nil
}

func (d *Daemon) initializeServices() error {
	srv, err := mcpserver.New(d.agent, mcpserver.Options{
		Version: d.opts.Version,
		Logger:  &d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	d.mcp = srv

	if addr := d.config.Telemetry.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		d.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	if d.opts.ConfigPath != "" {
		if _, err := os.Stat(d.opts.ConfigPath); err == nil {
			watcher, err := NewConfigWatcher(ConfigWatcherConfig{
				ConfigPath: d.opts.ConfigPath,
				OnReload:   d.applyReload,
				Logger:     d.logger,
			})
			if err != nil {
				return err
			}
			d.watcher = watcher
		}
	}
	return nil
}

// applyReload applies the parts of a new config that can change at runtime. The agent is
// immutable once built, so only the log level is taken over.
func (d *Daemon) applyReload(cfg *config.Config) error {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return err
	}
	d.mu.Lock()
	d.config.Logging.Level = cfg.Logging.Level
	d.mu.Unlock()
	d.logger.Info().Str("level", cfg.Logging.Level).Msg("Log level updated")
	return nil
}

// OpenStore opens the task store selected by cfg.
func OpenStore(cfg config.StoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "sqlite":
		store, err := task.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open task store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// BuildAgent assembles the configured agent with the core tools and the middleware chain:
// logging, tracing, metrics, rate limiting (when enabled) and parameter validation, outermost first.
func BuildAgent(cfg *config.Config, store task.Store, base zerolog.Logger) (*agent.Agent, error) {
	settings, err := metadata.FromMap(cfg.Agent.Settings)
	if err != nil {
		return nil, fmt.Errorf("invalid agent settings: %w", err)
	}

	toolTimeouts := make(map[string]time.Duration)
	perTool := make(map[string]int)
	for name, tool := range cfg.Pipeline.Tools {
		if tool.TimeoutMs > 0 {
			toolTimeouts[name] = time.Duration(tool.TimeoutMs) * time.Millisecond
		}
		if tool.MaxConcurrent > 0 {
			perTool[name] = tool.MaxConcurrent
		}
	}

	b := agent.NewBuilder(cfg.Agent.Name).
		Description(cfg.Agent.Description).
		Capabilities(cfg.Agent.Capabilities...).
		Settings(settings).
		Store(store).
		Logger(&base).
		PipelineOptions(toolexecutor.Options{
			DefaultTimeout: cfg.Pipeline.DefaultTimeout(),
			ToolTimeouts:   toolTimeouts,
			Limits: toolexecutor.LimiterConfig{
				MaxConcurrent: cfg.Pipeline.MaxConcurrent,
				QueueDepth:    cfg.Pipeline.QueueDepth,
				Overflow:      toolexecutor.OverflowPolicy(cfg.Pipeline.Overflow),
				PerTool:       perTool,
			},
		})
	coretools.RegisterCoreTools(b)

	b.Middleware(middleware.NewLogging(&base)).
		Middleware(middleware.NewTracing()).
		Middleware(middleware.NewMetrics())
	if cfg.RateLimit.Enabled {
		b.Middleware(middleware.NewRateLimit(middleware.RateLimitConfig{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window(),
			MaxInFlight: cfg.RateLimit.MaxInFlight,
		}))
	}
	b.Middleware(middleware.NewValidation(b.Registry()))

	return b.Build()
}

// Agent returns the daemon's agent
func (d *Daemon) Agent() *agent.Agent {
	return d.agent
}

// MCPServer returns the MCP edge
func (d *Daemon) MCPServer() *mcpserver.Server {
	return d.mcp
}

// MetricsAddr returns the bound metrics address once started, empty when disabled.
func (d *Daemon) MetricsAddr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.metricsListener == nil {
		return ""
	}
	return d.metricsListener.Addr().String()
}

// Start starts the background services and the configured MCP transport.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return errors.New("daemon is already running")
	}
	if d.stopped {
		return errors.New("daemon was stopped")
	}

	if err := d.lifecycle.Start(); err != nil {
		return err
	}

	if d.metricsServer != nil {
		listener, err := net.Listen("tcp", d.metricsServer.Addr)
		if err != nil {
			_ = d.lifecycle.Stop()
			return fmt.Errorf("failed to listen on metrics address: %w", err)
		}
		d.metricsListener = listener
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		d.logger.Info().Str("addr", listener.Addr().String()).Msg("Metrics endpoint started")
	}

	if d.janitor != nil {
		d.janitor.Start()
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			d.logger.Warn().Err(err).Msg("Config watcher unavailable, hot reload disabled")
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.done <- d.serve()
	}()

	d.startTime = time.Now()
	d.running = true
	d.logger.Info().
		Str("transport", d.config.Server.Transport).
		Msg("Daemon started")
	return nil
}

func (d *Daemon) serve() error {
	switch d.config.Server.Transport {
	case "http":
		return d.mcp.StartHTTP(d.config.Server.Addr)
	default:
		return d.mcp.ServeStdioWith(d.ctx, d.opts.Stdin, d.opts.Stdout)
	}
}

// Wait blocks until a termination signal arrives, ctx is done or the transport ends (for stdio,
// when the client closes stdin), then stops the daemon.
func (d *Daemon) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
		d.logger.Info().Msg("Context cancelled, shutting down")
	case serveErr = <-d.done:
		if serveErr != nil {
			d.logger.Error().Err(serveErr).Msg("MCP transport failed")
		} else {
			d.logger.Info().Msg("MCP transport closed")
		}
	}

	if err := d.Stop(); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// Stop cancels in-flight tasks and shuts every service down. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	wasRunning := d.running
	d.running = false
	d.stopped = true
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, t := range d.agent.Tasks() {
		if t.Status.IsTerminal() {
			continue
		}
		if err := d.agent.Cancel(ctx, t.ID); err != nil && !errors.Is(err, task.ErrInvalidTransition) {
			errs = append(errs, err)
		}
	}

	d.cancel()
	if err := d.mcp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mcp shutdown: %w", err))
	}
	if d.metricsServer != nil && wasRunning {
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	if d.janitor != nil && wasRunning {
		d.janitor.Stop(ctx)
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	waited := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		d.logger.Warn().Msg("Timed out waiting for transports to stop")
	}

	errs = append(errs, d.cleanup()...)
	if wasRunning {
		if err := d.lifecycle.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	d.logger.Info().Msg("Daemon stopped")
	return errors.Join(errs...)
}

// cleanup releases resources acquired by New.
func (d *Daemon) cleanup() []error {
	var errs []error
	d.cancel()
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
		d.store = nil
	}
	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
		d.tracingEnabled = false
	}
	if d.auditEnabled {
		if err := observability.GetAuditLogger().Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit close: %w", err))
		}
		observability.SetAuditLogger(nil)
		d.auditEnabled = false
	}
	return errs
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:   d.running,
		Agent:     d.agent.Config().Name(),
		Transport: d.config.Server.Transport,
		Tools:     len(d.agent.Tools()),
		Tasks:     d.agent.Tracker().Len(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
	}
	return status
}
