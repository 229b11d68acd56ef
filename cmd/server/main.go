package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/craft-world/internal/api"
	"github.com/annel0/craft-world/internal/auth"
	"github.com/annel0/craft-world/internal/cache"
	"github.com/annel0/craft-world/internal/config"
	"github.com/annel0/craft-world/internal/deltalog"
	"github.com/annel0/craft-world/internal/eventbus"
	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/network"
	"github.com/annel0/craft-world/internal/observability"
	"github.com/annel0/craft-world/internal/storage"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/noise"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или CRAFT_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logOpts, err := cfg.Logging.Options()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := logging.InitDefaultLogger("server", logOpts); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseLogger()

	logging.Info("🎮 Запуск сервера мира craft-world")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(ctx context.Context, cfg *config.Config) error {
	nodeID := "craft-" + uuid.NewString()[:8]

	// === ТРЕЙСИНГ ===
	if cfg.Tracing.Endpoint != "" {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	// === ЖУРНАЛ ПРАВОК И МИР ===
	editLog, err := deltalog.Open(deltalog.Options{
		Driver:     cfg.Storage.Driver,
		Path:       cfg.Storage.Path,
		DSN:        cfg.Storage.DSN,
		SyncWrites: cfg.Storage.SyncWrites,
	})
	if err != nil {
		return err
	}
	defer editLog.Close()

	w, err := world.New(ctx, noise.New(cfg.World.Noise), deltalog.Instrument(editLog, cfg.Storage.Driver))
	if err != nil {
		return err
	}

	// === ПОЛОЖЕНИЯ ИГРОКОВ ===
	positions, err := storage.Open(cfg.Players)
	if err != nil {
		return err
	}
	if positions != nil {
		defer positions.Close()
		logging.Info("🧭 Положения игроков: %s", cfg.Players.Driver)
	}

	// === КЕШ ДАМПОВ ===
	dumps, err := cache.Open(cfg.Cache)
	if err != nil {
		return err
	}
	if dumps != nil {
		defer dumps.Close()
		logging.Info("🗃️  Кеш дампов: %s", cfg.Cache.Driver)
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return err
	}
	var webhooks *api.WebhookManager
	if bus != nil {
		defer bus.Close()
		if _, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
			return err
		}
		exporter := eventbus.NewMetricsExporter(bus, 10*time.Second)
		exporter.Start()
		defer exporter.Stop()

		webhooks = api.NewWebhookManager()
		if err := webhooks.Start(ctx, bus); err != nil {
			return err
		}
		defer webhooks.Stop()
	}

	// === СЕРВЕР СИНХРОНИЗАЦИИ ===
	sc := cfg.Server
	srv := network.NewServer(w, network.Options{
		Addr:             sc.Addr(),
		Transport:        sc.Transport,
		WSPath:           sc.WSPath,
		MaxLineBytes:     sc.MaxLineBytes,
		OutboundQueue:    sc.OutboundQueue,
		ViewRadius:       sc.ViewRadius,
		PositionInterval: time.Duration(sc.PositionIntervalMs) * time.Millisecond,
		BatchWindow:      time.Duration(sc.BatchWindowMs) * time.Millisecond,
		BatchMax:         sc.BatchMax,
		DayLength:        time.Duration(sc.DayLengthS) * time.Second,
		TimeInterval:     time.Duration(sc.TimeIntervalS) * time.Second,
		NodeID:           nodeID,
		Positions:        positions,
	}, dumps, bus)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Close()

	// === REST API ===
	if cfg.API.Enabled {
		signer := auth.NewSigner(cfg.API.GetJWTSecret(), "craft-world")
		if !signer.Enabled() {
			logging.Warn("🔐 api.jwt_secret не задан: POST /api/edits отключён")
		}
		rest := api.NewRestServer(api.Config{
			Addr:     ":" + strconv.Itoa(cfg.API.GetPort()),
			Server:   srv,
			Signer:   signer,
			Webhooks: webhooks,
		})
		go func() {
			if err := rest.Start(); err != nil {
				logging.Error("❌ REST API: %v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rest.Stop(sctx); err != nil {
				logging.Error("❌ Ошибка остановки REST API: %v", err)
			}
		}()
		logging.Info("   🌐 REST API: http://localhost:%d", cfg.API.GetPort())
		logging.Info("   ❤️  Health check: http://localhost:%d/health", cfg.API.GetPort())
	}

	logging.Info("✅ Все сервисы запущены (узел %s)", nodeID)
	logging.Info("   🎮 Протокол: %s %s", sc.Transport, sc.Addr())

	<-ctx.Done()
	logging.Info("📡 Получен сигнал завершения, остановка сервисов...")
	return nil
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return eventbus.NewMemoryBus(1024), nil
	case "nats":
		jb, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
		if err != nil {
			return nil, err
		}
		return jb, nil
	}
	return nil, nil
}
