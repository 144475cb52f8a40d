package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/will7455/shieldy/internal/bot"
	"github.com/will7455/shieldy/internal/captcha"
	"github.com/will7455/shieldy/internal/config"
	"github.com/will7455/shieldy/internal/db/sqlite"
	adminHandlers "github.com/will7455/shieldy/internal/handlers/admin"
	chatHandlers "github.com/will7455/shieldy/internal/handlers/chat"
	"github.com/will7455/shieldy/internal/infra"
	"github.com/will7455/shieldy/internal/infrastructure/telegram"
	"github.com/will7455/shieldy/internal/lifecycle"
	"github.com/will7455/shieldy/internal/observability"
	"github.com/will7455/shieldy/internal/purge"
	"github.com/will7455/shieldy/internal/registry"
	"github.com/will7455/shieldy/internal/reputation"
)

const (
	shutdownTimeout   = 15 * time.Second
	updateConcurrency = 16
)

func main() {
	cfg, err := config.Load()
	log.SetFormatter(&config.NbFormatter{})
	log.SetOutput(os.Stdout)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithField("error", err.Error()).Fatal("bot stopped")
	}
	log.Info("bot stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	observability.MustRegister(prometheus.DefaultRegisterer)
	shutdownTracing := observability.InitTracing()

	workDir, err := infra.GetWorkDir(cfg.DotPath)
	if err != nil {
		return err
	}
	dbClient, err := sqlite.NewSQLiteClient(ctx, workDir, cfg.DBName)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.WithField("error", err.Error()).Error("cant close db")
		}
	}()

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return err
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	log.WithField("bot", botAPI.Self.UserName).Info("authorized")

	service := bot.NewService(botAPI, dbClient, cfg.DefaultLanguage)
	platform := telegram.NewOperations(botAPI)

	candidates := registry.New(dbClient)
	cas := reputation.NewCAS(cfg.Reputation.CASURL, cfg.Reputation.Timeout, cfg.Reputation.ExportRefresh)
	purger := purge.New(dbClient, platform, cfg.MessageLogTTL)
	admin := adminHandlers.NewAdmin(platform, service)
	gatekeeper := chatHandlers.NewGatekeeper(chatHandlers.Dependencies{
		Platform:   platform,
		Policies:   service,
		Reputation: cas,
		Challenges: captcha.NewGenerator(),
		Purger:     purger,
		Help:       admin,
		Registry:   candidates,
		Guard:      registry.NewGuard(),
	}, cfg.Gatekeeper)
	admin.SetApprover(gatekeeper)

	bot.RegisterUpdateHandler("recorder", purger)
	bot.RegisterUpdateHandler("gatekeeper", gatekeeper)
	bot.RegisterUpdateHandler("admin", admin)
	updateProcessor := bot.NewUpdateProcessor(cfg.EnabledHandlers)

	components := lifecycle.NewRuntime()
	components.Register("registry", candidates)
	components.Register("reputation", cas)
	components.Register("purge", purger)
	components.Register("gatekeeper", gatekeeper)
	components.Register("metrics", observability.NewMetricsServer(cfg.MetricsAddr))
	components.Register("tracing", lifecycle.Func{OnStop: shutdownTracing})

	if err := components.Start(ctx); err != nil {
		return err
	}
	log.WithField("components", components.Components()).Info("started")

	processUpdates(ctx, botAPI, updateProcessor)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return components.Stop(stopCtx)
}

func processUpdates(ctx context.Context, botAPI *api.BotAPI, updateProcessor *bot.UpdateProcessor) {
	entry := log.WithField("method", "processUpdates")

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message", "callback_query"}

	var eg errgroup.Group
	eg.SetLimit(updateConcurrency)
	defer func() { _ = eg.Wait() }()

	for {
		updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)
		for update := range updateChan {
			updateConfig.Offset = update.UpdateID + 1
			eg.Go(func() error {
				err := infra.Recover("process_update", func() error {
					return updateProcessor.Process(ctx, &update)
				})
				if err != nil {
					observability.Report(entry.WithField("update_id", update.UpdateID), "process_update", err)
				}
				return nil
			})
		}

		err := <-errorChan
		if ctx.Err() != nil {
			entry.Debug("no more updates")
			return
		}
		if err != nil {
			observability.Report(entry, "get_updates", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}
