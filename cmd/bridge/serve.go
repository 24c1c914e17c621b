package bridge

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/chatmediator/wecom-bridge/access"
	"github.com/chatmediator/wecom-bridge/agent"
	"github.com/chatmediator/wecom-bridge/aggregator"
	"github.com/chatmediator/wecom-bridge/config"
	"github.com/chatmediator/wecom-bridge/dedup"
	"github.com/chatmediator/wecom-bridge/domain"
	"github.com/chatmediator/wecom-bridge/domain/kv"
	"github.com/chatmediator/wecom-bridge/domain/queue"
	"github.com/chatmediator/wecom-bridge/filter"
	"github.com/chatmediator/wecom-bridge/history"
	"github.com/chatmediator/wecom-bridge/infrastructure/memkv"
	"github.com/chatmediator/wecom-bridge/infrastructure/memqueue"
	"github.com/chatmediator/wecom-bridge/infrastructure/valkey"
	"github.com/chatmediator/wecom-bridge/infrastructure/valkeyqueue"
	"github.com/chatmediator/wecom-bridge/infrastructure/valkeystore"
	"github.com/chatmediator/wecom-bridge/monitor"
	"github.com/chatmediator/wecom-bridge/pacer"
	"github.com/chatmediator/wecom-bridge/pipeline"
	"github.com/chatmediator/wecom-bridge/transport"
	rest "github.com/chatmediator/wecom-bridge/ui/rest"
	"github.com/chatmediator/wecom-bridge/ui/rest/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP webhook ingress and drain workers",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	ctx := context.Background()

	var vkClient *valkey.Client
	var kvStore kv.Store
	var jobQueue queue.Queue

	if cfg.ValkeyEnabled {
		var err error
		vkClient, err = valkey.NewClient(valkey.Config{
			Address:        cfg.ValkeyAddress,
			Password:       cfg.ValkeyPassword,
			DB:             cfg.ValkeyDB,
			KeyPrefix:      cfg.ValkeyKeyPrefix,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			logrus.WithError(err).Warn("[STARTUP] failed to connect to Valkey, falling back to in-memory store and queue")
		}
	}

	if vkClient != nil {
		kvStore = valkeystore.New(vkClient)
		jobQueue = valkeyqueue.New(vkClient)
		logrus.Info("[STARTUP] using Valkey-backed KV store and job queue")
	} else {
		kvStore = memkv.New()
		jobQueue = memqueue.New()
		logrus.Info("[STARTUP] using in-memory KV store and job queue")
	}

	db, err := openAccessDB(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("[STARTUP] failed to open access database")
	}
	if err := db.AutoMigrate(&access.PausedUser{}, &access.BlacklistedGroup{}, &access.BlockedEnterpriseGroup{}); err != nil {
		logrus.WithError(err).Fatal("[STARTUP] failed to migrate access database")
	}
	accessCache := access.New(db)

	tunablesStore := config.NewTunablesStore(cfg.Tunables)
	if vkClient != nil {
		tunablesStore.AttachValkey(vkClient)
	}

	mon := monitor.New(200, cfg.ServerID)
	if vkClient != nil {
		mon.AttachValkey(vkClient)
	}

	dedupStore := dedup.New(kvStore, cfg.DedupTTL)
	historyStore := history.New(kvStore, cfg.HistoryCap, cfg.HistoryTTL)
	filterChain := filter.New(accessCache)

	var fallback agent.FallbackProvider
	switch cfg.FallbackProvider {
	case "openai":
		fallback = agent.NewOpenAIFallback(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.FallbackText)
	case "gemini":
		fallback = agent.NewGeminiFallback(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.FallbackText)
	default:
		fallback = agent.NewStaticFallback(cfg.FallbackText)
	}
	brandConfig := agent.NewKVBrandConfig(kvStore)
	agentClient := agent.NewClient(cfg.AgentBaseURL, cfg.AgentAPIKey, cfg.AgentTimeout)
	gateway := agent.NewGateway(agentClient, brandConfig, fallback, mon)

	sendClient := transport.NewSendClient(cfg.SendEndpoint, cfg.SendToken, cfg.SendTimeout)
	pacerTunables := func() domain.Tunables { return tunablesStore.Get() }
	msgPacer := pacer.New(sendClient, pacerTunables, func(e domain.MonitoringEvent) { mon.Record(e) })

	var pipe *pipeline.Pipeline
	aggTunables := func() domain.Tunables { return tunablesStore.Get() }
	agg := aggregator.New(kvStore, jobQueue, aggTunables, func(ctx context.Context, chatID string, batch []domain.InboundRecord) error {
		return pipe.Process(ctx, chatID, batch)
	})
	pipe = pipeline.New(dedupStore, historyStore, filterChain, agg, gateway, msgPacer, fallback, mon, domain.ScenarioCandidateConsultation)

	agg.RegisterWorker(cfg.Tunables.WorkerConcurrency)
	if err := jobQueue.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("[STARTUP] failed to start job queue")
	}

	sweeper := aggregator.NewSweeper(agg)
	go sweeper.Run(ctx)

	app := fiber.New(fiber.Config{
		EnableTrustedProxyCheck: true,
	})
	app.Use(middleware.Recovery())
	if cfg.Debug {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{AllowOrigins: "*"}))

	rest.InitRestWebhook(app, pipe)
	rest.InitRestAdmin(app, mon)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[SERVE] shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.WithError(err).Error("[SERVE] error during fiber shutdown")
		}
		if vkClient != nil {
			vkClient.Close()
		}
	}()

	if err := app.Listen(":" + cfg.AppPort); err != nil {
		logrus.WithError(err).Fatal("[SERVE] failed to listen")
	}
}

func openAccessDB(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.AccessDBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.AccessDBDSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.AccessDBDSN)
	default:
		return nil, fmt.Errorf("unsupported access db driver: %s", cfg.AccessDBDriver)
	}
	return gorm.Open(dialector, &gorm.Config{})
}
