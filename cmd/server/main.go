package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"

	"gardian_admin/internal/admins"
	"gardian_admin/internal/blob"
	"gardian_admin/internal/captcha"
	"gardian_admin/internal/config"
	"gardian_admin/internal/controllers"
	"gardian_admin/internal/events"
	"gardian_admin/internal/feed"
	"gardian_admin/internal/identity"
	"gardian_admin/internal/logger"
	"gardian_admin/internal/loginflow"
	"gardian_admin/internal/middleware"
	"gardian_admin/internal/reports"
	"gardian_admin/internal/routes"
	"gardian_admin/internal/session"
	"gardian_admin/internal/sms"
	"gardian_admin/internal/store"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()

	// Initialize structured logging to file
	logger.Setup(logger.Options{File: cfg.LogFile, Level: cfg.LogLevel, Stdout: cfg.LogStdout})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, func(), error) {
	switch cfg.DataBackend {
	case "postgres":
		db, err := config.InitDB()
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgres(db, config.DSN()), func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}, nil
	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		return store.NewFirestore(client), func() { client.Close() }, nil
	case "memory":
		logrus.Warn("Using the in-memory data backend; nothing is persisted.")
		return store.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown DATA_BACKEND %q", cfg.DataBackend)
}

func run(ctx context.Context, cfg *config.Config) error {
	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	rdb, err := config.NewRedis(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var sender sms.Sender = sms.LogSender{}
	if cfg.SMSGatewayURL != "" {
		sender = sms.NewGatewaySender(cfg.SMSGatewayURL, cfg.SMSAPIKey, cfg.SMSSender)
	} else {
		logrus.Warn("SMS_GATEWAY_URL not set; verification codes are written to the log.")
	}

	var verifier captcha.Verifier = captcha.NopVerifier{}
	if cfg.CaptchaSecret != "" {
		verifier = captcha.NewSiteVerifier(cfg.CaptchaVerifyURL, cfg.CaptchaSecret)
	}

	var pub events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		np, err := events.Connect(cfg.NATSURL)
		if err != nil {
			return err
		}
		pub = np
	}
	defer pub.Close()

	blobs, err := blob.NewDiskStore(cfg.BlobDir, cfg.BlobBaseURL)
	if err != nil {
		return err
	}

	provider := identity.NewProvider(backend, rdb, sender, identity.Options{
		JWTSecret:  cfg.JWTSecret,
		SessionTTL: cfg.SessionTTL,
		CodeTTL:    cfg.CodeTTL,
	})
	sessions := session.NewStore(provider, backend)
	reportFeed := feed.New(backend, backend, feed.Options{CacheProfiles: cfg.FeedJoinCache})
	roster := admins.NewService(backend, provider, pub, cfg.InitialAdminPassword)
	flows := loginflow.NewRegistry(provider, backend, verifier, events.LoginRecorder{Publisher: pub}, loginflow.Options{
		ResendCooldown: cfg.ResendCooldown,
		IdleTTL:        cfg.FlowIdleTTL,
		CaptchaSiteKey: cfg.CaptchaSiteKey,
	})
	hub := controllers.NewReportHub(sessions, cfg.CORSOrigins)

	go sessions.Run(ctx)
	go reportFeed.Run(ctx)
	go roster.Run(ctx)
	go flows.Run(ctx)
	go hub.Run(ctx, reportFeed)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := routes.SetupRouter(routes.Deps{
		Auth:    &controllers.AuthController{Flows: flows, Sessions: sessions, CookieSecure: cfg.CookieSecure},
		Reports: &controllers.ReportController{Feed: reportFeed, Reports: reports.NewService(backend, blobs, pub), Location: cfg.Location()},
		Users:   &controllers.UserController{Admins: roster},
		Pages:   &controllers.PageController{StaticDir: cfg.StaticDir},
		Hub:     hub,

		Sessions:    sessions,
		BlobDir:     blobs.Dir(),
		BlobPrefix:  cfg.BlobBaseURL,
		StaticDir:   cfg.StaticDir,
		AccessLog:   cfg.HTTPAccessLog,
		MaxUploadMB: cfg.MaxUploadMB,
	})

	// Wrap with CORS
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           middleware.EnableCORS(cfg.CORSOrigins)(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", cfg.HTTPAddr).Info("Server running")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logrus.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
