package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/usecase"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/conf"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/data"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/infra/feishu"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/infra/probe"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/infra/provider"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/infra/tools"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/server"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/service"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run every online tenant and the ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// newUsecases wires the business layer on top of the repositories
func newUsecases(cfg *conf.Config, repos *data.Repositories, providers *provider.Gateway, registry *tools.Registry, log logrus.FieldLogger) *biz.Usecases {
	ledger := usecase.NewUsageLedger(repos.Limit, repos.Usage, usecase.LedgerConfig{
		CountUnreportedTokens: cfg.Ledger.CountUnreportedTokens,
	}, log)
	replies := cfg.ToReplyConfig()
	knowledge := usecase.NewKnowledgeUsecase(repos.Knowledge, providers, replies.Extraction, log)
	return &biz.Usecases{
		Flow:         usecase.NewFlowUsecase(repos.Flow, repos.State, &http.Client{Timeout: cfg.Tools.Timeout}, log),
		Conversation: usecase.NewConversationUsecase(repos.Session, providers, registry, ledger, knowledge, usecase.NewPromptBuilder(cfg.ToPromptConfig()), replies, log),
		Ledger:       ledger,
		Knowledge:    knowledge,
		Purge:        usecase.NewPurgeUsecase(cfg.Purge.DeleteDelay, log),
	}
}

func serve(ctx context.Context, cfg *conf.Config) error {
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	sink := service.NewLogSink(service.MaxLogRecords)
	log.AddHook(sink)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := data.NewRepositories(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repos.Close()
	log.WithField("path", cfg.Database.Path).Info("database ready")

	dedupe, closeDedupe, err := data.NewDedupeStore(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("dedupe store: %w", err)
	}
	defer closeDedupe()

	registry, err := tools.NewRegistry(cfg.Tools, log)
	if err != nil {
		return err
	}
	providers := provider.NewGateway(cfg.Prompts.Providers, cfg.Ledger.ProviderTimeout)
	prober := probe.NewProber(cfg.Monitor.Headless, 0, log)
	defer prober.Close()

	uc := newUsecases(cfg, repos, providers, registry, log)
	manager := service.NewManager(
		repos.Bot,
		feishu.NewGateway(cfg.Gateway.BaseURL, log),
		prober,
		dedupe,
		uc,
		service.NewRegistry(),
		sink,
		service.ManagerConfig{
			Monitor: service.MonitorConfig{
				InitialDelay: cfg.Monitor.InitialDelay,
				MinInterval:  cfg.Monitor.MinInterval,
				MaxInterval:  cfg.Monitor.MaxInterval,
				CheckTimeout: service.DefaultMonitorConfig.CheckTimeout,
			},
			DedupeTTL: cfg.Dedupe.TTL,
		},
		log,
	)

	resets := service.NewLimitResetRunner(uc.Ledger, cfg.Ledger.ResetInterval, log)
	resets.Start()
	defer resets.Stop()

	started := manager.StartAll(ctx)
	log.WithField("count", started).Info("tenants resumed")

	api := server.NewHTTPServer(cfg.HTTP.Addr, manager, repos.Bot, uc.Ledger, sink, log)
	errCh := make(chan error, 1)
	go func() { errCh <- api.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		if err != nil {
			log.WithError(err).Error("ops api failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if stopErr := api.Stop(shutdownCtx); stopErr != nil {
		log.WithError(stopErr).Warn("ops api shutdown")
	}
	manager.StopAll(shutdownCtx)
	manager.WaitDetached()
	return err
}
