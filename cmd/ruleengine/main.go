package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/marchese29/HubitatRulesMCP/internal/audit"
	"github.com/marchese29/HubitatRulesMCP/internal/common/config"
	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/common/tracing"
	"github.com/marchese29/HubitatRulesMCP/internal/engine"
	"github.com/marchese29/HubitatRulesMCP/internal/eventbus"
	"github.com/marchese29/HubitatRulesMCP/internal/httpapi"
	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
	"github.com/marchese29/HubitatRulesMCP/internal/mcpserver"
	"github.com/marchese29/HubitatRulesMCP/internal/rulehandler"
	"github.com/marchese29/HubitatRulesMCP/internal/scene"
	"github.com/marchese29/HubitatRulesMCP/internal/store"
	"github.com/marchese29/HubitatRulesMCP/internal/timer"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting rule engine service")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect the event bus. An empty NATS URL falls back to an
	// in-process bus, which is all a single-instance deployment needs.
	var bus eventbus.Bus
	if cfg.NATS.URL != "" {
		natsBus, err := eventbus.NewNATSBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		bus = natsBus
		log.Info("connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		bus = eventbus.NewMemoryBus(log)
		log.Info("using in-memory event bus")
	}
	defer bus.Close()

	// 5. Open the persistence store.
	persistence, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer persistence.Close()
	log.Info("opened persistence store", zap.String("driver", cfg.Database.Driver))

	// 6. Hubitat Maker API client.
	client := hubitat.NewHTTPClient(cfg.Hubitat, log)

	// 7. Timer service backs the engine's condition timeout and duration
	// timers; each live timer runs in its own goroutine.
	timers := timer.NewService(log)
	timers.Start()
	defer timers.Stop()

	// 8. Audit service: non-blocking queue writer, also republishing onto
	// the bus so the websocket audit stream stays live.
	auditSvc := audit.NewService(persistence, cfg.Audit.QueueSize, log)
	auditSvc.SetBus(bus)
	auditSvc.Start()
	defer auditSvc.Stop()

	// 9. Condition engine, scene manager, and rule supervisor.
	ruleEngine := engine.New(client, timers, auditSvc, log)
	scenes := scene.NewManager(client)
	handler := rulehandler.NewHandler(ruleEngine, client, scenes, auditSvc, log)

	// 10. Resolve the compiled rule registry and the Install callback both
	// the HTTP and MCP surfaces share.
	registry := newRuleRegistry()
	install := installer(handler, registry)

	// 11. Reload persisted scenes and rules before serving traffic, so a
	// restart doesn't silently drop previously-active automations.
	if err := reloadScenes(ctx, persistence, scenes, log); err != nil {
		log.Error("failed to reload scenes from store", zap.Error(err))
	}
	if err := reloadRules(ctx, persistence, install, log); err != nil {
		log.Error("failed to reload rules from store", zap.Error(err))
	}

	// 12. HTTP server.
	router := httpapi.NewRouter(httpapi.Dependencies{
		Engine:      ruleEngine,
		Handler:     handler,
		Scenes:      scenes,
		Store:       persistence,
		Audit:       auditSvc,
		Bus:         bus,
		Logger:      log,
		MaxDispatch: cfg.Hubitat.MaxDispatch,
		Install:     install,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start http server", zap.Error(err))
		}
	}()

	// 13. Optional MCP tool surface.
	var mcpSrv *mcpserver.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcpserver.New(mcpserver.Config{Port: cfg.MCP.Port}, mcpserver.Deps{
			Handler: handler,
			Scenes:  scenes,
			Store:   persistence,
			Install: install,
		}, log)
		if err := mcpSrv.Start(ctx); err != nil {
			log.Fatal("failed to start mcp server", zap.Error(err))
		}
	}

	// 14. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down rule engine service")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	if mcpSrv != nil {
		if err := mcpSrv.Stop(shutdownCtx); err != nil {
			log.Error("mcp server shutdown error", zap.Error(err))
		}
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}
	for _, name := range handler.GetActiveRules() {
		if err := handler.UninstallRule(name); err != nil {
			log.Warn("failed to uninstall rule during shutdown", zap.String("rule", name), zap.Error(err))
		}
	}

	log.Info("rule engine service stopped")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgresStore(ctx, cfg)
	default:
		return store.NewSQLiteStore(cfg.Path)
	}
}

// reloadScenes recreates every persisted scene in the in-memory manager so
// rule conditions that reference it (Scene.OnSet, Scene.IsSet) work
// immediately after a restart.
func reloadScenes(ctx context.Context, st store.Store, scenes *scene.Manager, log *logger.Logger) error {
	records, err := st.ListScenes(ctx)
	if err != nil {
		return fmt.Errorf("list scenes: %w", err)
	}
	for _, record := range records {
		var deviceStates []scene.DeviceStateRequirement
		if err := json.Unmarshal([]byte(record.DeviceStates), &deviceStates); err != nil {
			log.Error("failed to decode persisted scene", zap.String("scene", record.Name), zap.Error(err))
			continue
		}
		if _, err := scenes.CreateScene(scene.Scene{
			Name:         record.Name,
			Description:  record.Description,
			DeviceStates: deviceStates,
		}); err != nil {
			log.Error("failed to reload scene", zap.String("scene", record.Name), zap.Error(err))
		}
	}
	log.Info("reloaded scenes from store", zap.Int("count", len(records)))
	return nil
}

// reloadRules reinstalls every persisted rule whose name resolves against
// the compiled registry. Rules with no matching registry entry are left
// persisted but uninstalled, same as if install had never been called.
func reloadRules(ctx context.Context, st store.Store, install func(ctx context.Context, name string) error, log *logger.Logger) error {
	records, err := st.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	installed := 0
	for _, record := range records {
		if err := install(ctx, record.Name); err != nil {
			log.Warn("skipping rule with no compiled definition", zap.String("rule", record.Name), zap.Error(err))
			continue
		}
		installed++
	}
	log.Info("reloaded rules from store", zap.Int("total", len(records)), zap.Int("installed", installed))
	return nil
}
