package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"softphone-queue/internal/audit"
	"softphone-queue/internal/auth"
	"softphone-queue/internal/calls"
	"softphone-queue/internal/config"
	"softphone-queue/internal/httpapi"
	"softphone-queue/internal/realtime"
	"softphone-queue/internal/reporting"
	"softphone-queue/internal/telephony"
	"softphone-queue/pkg/logger"
	"softphone-queue/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	store := calls.NewPostgresStore(db)
	if err := store.EnsureSchema(rootCtx); err != nil {
		log.Error("calls schema failed", "err", err)
		os.Exit(1)
	}
	auditRepo := audit.NewPostgresRepo(db)
	if err := auditRepo.EnsureSchema(rootCtx); err != nil {
		log.Error("audit schema failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	bus, err := realtime.OpenBus(rootCtx, rdb, cfg.Realtime.Channel, realtime.NewHub(cfg.Realtime.AllowedOrigins))
	if err != nil {
		log.Error("realtime bus failed", "err", err)
		os.Exit(1)
	}
	defer bus.Close()

	var phone calls.Controller
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		phone = telephony.NewTwilioController(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	} else {
		log.Warn("twilio credentials missing; ended calls will not be hung up at the provider")
	}

	auditSvc := audit.NewService(auditRepo)
	machine := calls.NewMachine(store, realtime.NewBroadcaster(store, bus.Publisher()), phone, auditSvc)
	machine.OpTimeout = cfg.Queue.OpTimeout

	reaper := &calls.Reaper{Store: store, Retention: cfg.Queue.TerminalRetention, Interval: cfg.Queue.ReapInterval}
	go reaper.Run(rootCtx)

	tokens, err := auth.NewVoiceTokenIssuer(cfg.Twilio)
	if err != nil {
		log.Warn("voice tokens disabled", "err", err)
	}

	api := httpapi.Handlers{
		Queue:   machine,
		Tokens:  tokens,
		Audit:   auditSvc,
		Reports: reporting.NewService(auditRepo),
		Checks: map[string]func(context.Context) error{
			"postgres": func(ctx context.Context) error { return utils.HealthCheck(ctx, db, time.Second) },
			"redis":    func(ctx context.Context) error { return utils.PingRedis(ctx, rdb, time.Second) },
		},
	}
	hooks := telephony.WebhookHandler{
		Dispatcher: telephony.Dispatcher{
			Normalizer: telephony.Normalizer{ServiceNumber: cfg.Twilio.Number},
			Machine:    machine,
		},
		CallbackURL: cfg.CallbackURL,
	}

	var webhookMW []gin.HandlerFunc
	if cfg.Twilio.ValidateSignature {
		webhookMW = append(webhookMW, telephony.RequireTwilioSignature(cfg.Twilio.AuthToken, cfg.App.PublicBaseURL))
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, api, hooks, bus.Hub(), webhookMW...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Websocket writes carry their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "channel", cfg.Realtime.Channel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Drop websocket subscribers first; Shutdown does not wait for hijacked connections.
	if err := bus.Close(); err != nil {
		log.Error("realtime bus close failed", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
