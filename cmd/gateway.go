package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openclaw/clawd/internal/admin"
	"github.com/openclaw/clawd/internal/bus"
	"github.com/openclaw/clawd/internal/channels"
	"github.com/openclaw/clawd/internal/channels/discord"
	"github.com/openclaw/clawd/internal/channels/telegram"
	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/internal/gateway"
	"github.com/openclaw/clawd/internal/gateway/methods"
	"github.com/openclaw/clawd/internal/heartbeat"
	"github.com/openclaw/clawd/internal/logs"
	"github.com/openclaw/clawd/internal/mcp"
	"github.com/openclaw/clawd/internal/models"
	"github.com/openclaw/clawd/internal/netguard"
	"github.com/openclaw/clawd/internal/nodes"
	"github.com/openclaw/clawd/internal/oauth"
	"github.com/openclaw/clawd/internal/pairing"
	"github.com/openclaw/clawd/internal/restart"
	"github.com/openclaw/clawd/internal/secrets"
	"github.com/openclaw/clawd/internal/sessions"
	"github.com/openclaw/clawd/internal/skills"
	"github.com/openclaw/clawd/internal/telemetry"
	"github.com/openclaw/clawd/internal/tools"
	"github.com/openclaw/clawd/internal/update"
	"github.com/openclaw/clawd/pkg/protocol"
)

func runGateway() {
	cfgPath := resolveConfigPath()
	store := config.NewStore(cfgPath)

	snap, err := store.ReadSnapshot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		os.Exit(1)
	}
	if !snap.Exists {
		fmt.Println("No configuration found. Run the setup wizard first:")
		fmt.Println()
		fmt.Println("  clawd init")
		os.Exit(1)
	}
	if !snap.Valid {
		fmt.Fprintf(os.Stderr, "config %s is invalid:\n", cfgPath)
		for _, issue := range snap.Issues {
			fmt.Fprintf(os.Stderr, "  - %s\n", issue)
		}
		os.Exit(1)
	}
	cfg := snap.Config

	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry first so everything after it can carry spans.
	otelShutdown, err := telemetry.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("telemetry.init_failed", "error", err)
	} else {
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			otelShutdown(shCtx)
		}()
	}

	// One-shot restart sentinel left by the previous incarnation.
	sessStore := sessions.NewStore(config.SessionStorePath(cfg))
	if sentinel, err := restart.ConsumeSentinel(config.RestartSentinelPath()); err != nil {
		slog.Warn("restart.sentinel_read_failed", "error", err)
	} else if sentinel != nil {
		slog.Info("restart.resumed",
			"mode", sentinel.Stats.Mode,
			"reason", sentinel.Stats.Reason,
			"session", sentinel.SessionKey,
		)
		if sentinel.SessionKey != "" {
			dc := sentinel.DeliveryContext
			if dc == nil {
				dc = &restart.DeliveryContext{}
			}
			if _, err := sessStore.Touch(sentinel.SessionKey, dc.Channel, dc.To, dc.AccountID); err != nil {
				slog.Warn("restart.session_touch_failed", "session", sentinel.SessionKey, "error", err)
			}
		}
	}

	pub := bus.New()
	nodeReg := nodes.NewRegistry()
	server := gateway.NewServer(store, cfg, pub, nodeReg, Version)

	// Legacy node-suffixed session keys migrate to their canonical form
	// once per boot. Best effort.
	if migrated, err := sessStore.MigrateLegacyNodeKeys(nodeReg.DisplayName); err != nil {
		slog.Warn("sessions.migrate_failed", "error", err)
	} else if migrated > 0 {
		slog.Info("sessions.legacy_keys_migrated", "count", migrated)
	}

	restartSched := restart.NewScheduler(config.RestartSentinelPath())
	reloader := gateway.NewReloader(server, restartSched, snap)
	watcher := config.NewWatcher(store, reloader.OnSnapshot)

	// Event/log history. The gateway keeps running without it.
	var logStore *logs.Store
	if ls, err := logs.Open(config.LogStorePath(), cfg.Logging.MaxEvents); err != nil {
		slog.Warn("logs.open_failed", "path", config.LogStorePath(), "error", err)
	} else {
		logStore = ls
		defer logStore.Close()
		pub.Subscribe("history", func(event bus.Event) {
			logStore.AppendEvent(event.Name, event.SessionKey, event.Payload)
		})
	}

	guard := &netguard.Guard{AllowPrivate: cfg.Tools.Web.Fetch.AllowPrivateNetwork}
	sec := secrets.NewStore(config.SecretsDir())
	hub := mcp.NewHub(store, sec,
		mcp.NewHTTPClient(guard),
		mcp.NewMarketClient(guard, cfg.MCP.RegistryBaseURL),
		restartSched,
	)

	// Tools fabric: builtins, hub providers, companion nodes, and the
	// locally launched MCP servers.
	fabric := tools.New()
	builtins := tools.NewBuiltinSource()
	tools.RegisterWebFetch(builtins, func() config.WebFetchConfig { return server.Cfg().Tools.Web.Fetch })
	tools.RegisterImageProbe(builtins, func() config.ImageToolConfig { return server.Cfg().Tools.Image })
	tools.RegisterBrowserRender(builtins, func() config.BrowserToolConfig { return server.Cfg().Tools.Browser })
	tools.RegisterGatewayRestart(builtins, restartSched, nodeReg.DisplayName)
	tools.RegisterSessionTools(builtins, sessStore)
	fabric.AddSource(builtins)
	fabric.AddSource(mcp.NewHubSource(hub))
	fabric.AddSource(tools.NewCompanionSource(nodeReg))

	localMCP := mcp.NewLocalManager()
	if len(cfg.MCP.Servers) > 0 {
		if err := localMCP.Start(ctx, cfg.MCP.Servers); err != nil {
			slog.Warn("mcp.local_startup_errors", "error", err)
		}
		defer localMCP.Stop()
		fabric.AddSource(localMCP)
	}

	agentBus := bus.NewAgentBus(pub, bus.AgentBusOptions{
		SendToSession: func(sessionKey, event string, payload interface{}) {
			server.SendToSession(sessionKey, bus.Event{Name: event, Payload: payload, SessionKey: sessionKey})
		},
		SessionID: func(sessionKey string) (string, bool) {
			entry, ok := sessStore.Get(sessionKey)
			return entry.SessionID, ok
		},
		Resolve: func(runID, sessionID string) (bus.ChatLink, bool) {
			key, _, ok := sessStore.ResolveBySessionID(sessionID)
			if !ok {
				return bus.ChatLink{}, false
			}
			return bus.ChatLink{SessionKey: key, ClientRunID: runID}, true
		},
		ShowHeartbeatOK: func() bool { return server.Cfg().HeartbeatVisibility.ShowOKEnabled() },
		Verbose: func(sessionKey string) bool {
			level := server.Cfg().Agents.Defaults.VerboseLevel
			if entry, ok := sessStore.Get(sessionKey); ok && entry.VerboseLevel != "" {
				level = entry.VerboseLevel
			}
			return level == "on"
		},
	})

	var sink channels.LogSink
	if logStore != nil {
		sink = logStore
	}
	chanReg := channels.NewRegistry(sink)
	chanReg.Register(telegram.New(func() config.TelegramConfig { return server.Cfg().Channels.Telegram }))
	chanReg.Register(discord.New(func() config.DiscordConfig { return server.Cfg().Channels.Discord }))

	oauthMgr := oauth.NewManager(
		oauth.NewProfileStore(config.AuthProfilesPath()),
		func(provider string, ok bool) {
			pub.Broadcast(bus.Event{Name: protocol.EventOAuthUpdated, Payload: map[string]interface{}{
				"provider": provider,
				"ok":       ok,
			}})
		},
		oauth.ProfileBinder(store),
	)

	catalogTTL := models.DefaultTTL
	if cfg.Models.RefreshInterval != "" {
		if d, err := time.ParseDuration(cfg.Models.RefreshInterval); err == nil && d > 0 {
			catalogTTL = d
		} else if err != nil {
			slog.Warn("models.bad_refresh_interval", "value", cfg.Models.RefreshInterval, "error", err)
		}
	}
	fetcher := models.StaticFetcher()
	if cfg.Models.CatalogURL != "" {
		fetcher = models.HTTPFetcher(guard, cfg.Models.CatalogURL)
	}
	catalog := models.NewCatalog(config.ModelCatalogPath(), catalogTTL, fetcher)

	updater := update.NewRunner(func() config.UpdateConfig { return server.Cfg().Update }, guard, Version)
	skillsSvc := skills.NewService(func() config.SkillsConfig { return server.Cfg().Skills })
	pairingSvc := pairing.NewService(store)

	hbSched := heartbeat.NewScheduler(
		func() *config.HeartbeatConfig { return server.Cfg().Agents.Defaults.Heartbeat },
		heartbeatRunner(nodeReg, sessStore, agentBus),
		pub,
	)

	methods.RegisterAll(server.Router(), &methods.Deps{
		Store:     store,
		Server:    server,
		Pub:       pub,
		AgentBus:  agentBus,
		Hub:       hub,
		Fabric:    fabric,
		Nodes:     nodeReg,
		Sessions:  sessStore,
		Channels:  chanReg,
		OAuth:     oauthMgr,
		Logs:      logStore,
		Catalog:   catalog,
		Update:    updater,
		Skills:    skillsSvc,
		Pairing:   pairingSvc,
		Scheduler: restartSched,
		Version:   Version,
		StartedAt: time.Now(),
	})

	adminSrv := admin.NewServer(config.AdminPipePath(), store, nodeReg, oauthMgr, reloader.OnSnapshot,
		Version, func() int { return server.Cfg().Gateway.Port })

	chanReg.StartConfigured(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		chanReg.StopAll(stopCtx)
	}()

	slog.Info("gateway.starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"host", cfg.Gateway.Host,
		"port", cfg.Gateway.Port,
		"config", cfgPath,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	g.Go(func() error { return adminSrv.Start(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error { return hbSched.Run(ctx) })

	// Optional tailnet listener, sharing the gateway mux. Compiled via
	// build tags: `go build -tags tsnet` to enable.
	if cfg.Tailscale.Hostname != "" {
		ln, closer, err := gateway.TailscaleListener(cfg.Tailscale, cfg.Gateway.Port)
		if err != nil {
			slog.Warn("tailscale.unavailable", "error", err)
		} else {
			defer closer()
			tsSrv := &http.Server{Handler: server.BuildMux()}
			g.Go(func() error {
				go func() {
					<-ctx.Done()
					shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					tsSrv.Shutdown(shCtx)
				}()
				if err := tsSrv.Serve(ln); err != http.ErrServerClosed {
					return fmt.Errorf("tailscale listener: %w", err)
				}
				return nil
			})
			if cfg.Gateway.Host == "0.0.0.0" {
				slog.Info("tailscale enabled; consider gateway.host=127.0.0.1 for localhost-only + tailnet access")
			}
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("gateway.stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway.stopped")
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

// heartbeatRunner dispatches one heartbeat run through a connected
// agent runtime, the same path chat.send takes.
func heartbeatRunner(nodeReg *nodes.Registry, sessStore *sessions.Store, agentBus *bus.AgentBus) heartbeat.Runner {
	return func(ctx context.Context, hb config.HeartbeatConfig, prompt string) error {
		sessionKey := hb.Session
		if sessionKey == "" || sessionKey == "main" {
			sessionKey = sessions.BuildAgentMainSessionKey("main", "")
		}
		entry, err := sessStore.EnsureEntry(sessionKey)
		if err != nil {
			return fmt.Errorf("ensure heartbeat session: %w", err)
		}

		connected := nodeReg.ListConnected()
		if len(connected) == 0 {
			return fmt.Errorf("no agent runtime connected")
		}

		runID := uuid.NewString()
		agentBus.RegisterChatRun(entry.SessionID, bus.ChatLink{SessionKey: sessionKey, ClientRunID: runID, Heartbeat: true})

		result, err := nodeReg.Invoke(ctx, nodes.InvokeRequest{
			NodeID:  connected[0].NodeID,
			Command: "chat.send",
			Params: map[string]interface{}{
				"sessionKey": sessionKey,
				"sessionId":  entry.SessionID,
				"runId":      runID,
				"message":    prompt,
				"origin":     "heartbeat",
				"target":     hb.Target,
				"to":         hb.To,
			},
		})
		if err != nil {
			return err
		}
		if !result.OK {
			msg := "agent runtime rejected the heartbeat run"
			if result.Error != nil {
				msg = result.Error.Message
			}
			return errors.New(msg)
		}
		return nil
	}
}
