package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/courtpulse/bookingsync/internal/auth"
	"github.com/courtpulse/bookingsync/internal/config"
	"github.com/courtpulse/bookingsync/internal/events"
	"github.com/courtpulse/bookingsync/internal/extract"
	"github.com/courtpulse/bookingsync/internal/providers/gmail"
	"github.com/courtpulse/bookingsync/internal/store"
	"github.com/courtpulse/bookingsync/internal/sync"
	"github.com/courtpulse/bookingsync/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting booking sync listener")

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleCallbackURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := tokens.NewManager(oauthCfg, st, cfg.RefreshMargin, logger)
	defer manager.Close()

	// Arm the refresh timer from whatever credential survived the last run.
	if err := manager.Bootstrap(ctx); err != nil {
		logger.Warn("credential bootstrap failed, waiting for authorization", "error", err)
	}

	provider, err := gmail.New(ctx, manager, cfg.PubSubTopic)
	if err != nil {
		logger.Error("failed to create gmail adapter", "error", err)
		os.Exit(1)
	}

	engine := sync.NewEngine(provider, manager, st, extract.NewPipeline(), logger)

	var verifier *auth.PushVerifier
	if cfg.PushAudience != "" {
		verifier, err = auth.NewPushVerifier(cfg.PushAudience)
		if err != nil {
			logger.Error("failed to create push verifier", "error", err)
			os.Exit(1)
		}
		logger.Info("push authentication enabled", "audience", cfg.PushAudience)
	}

	if cfg.PublishEnabled() {
		publisher, err := events.NewPublisher(cfg.NATSURL)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		if err := publisher.EnsureStream(ctx); err != nil {
			logger.Error("failed to ensure event stream", "error", err)
			os.Exit(1)
		}

		go events.NewDispatcher(publisher, st, logger).Run(ctx)
		logger.Info("booking event publishing enabled")
	}

	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Push deliveries are acknowledged immediately; processing happens
	// after the response, never before.
	r.POST("/webhook/gmail", func(c *gin.Context) {
		if verifier != nil {
			if err := verifier.VerifyRequest(c.Request); err != nil {
				logger.Warn("rejected push delivery", "error", err)
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid push token"})
				return
			}
		}

		var env sync.PushEnvelope
		if err := c.ShouldBindJSON(&env); err != nil {
			logger.Warn("malformed push envelope, dropping", "error", err)
			c.String(http.StatusOK, "OK")
			return
		}

		c.String(http.StatusOK, "OK")

		go engine.OnNotification(context.WithoutCancel(ctx), env)
	})

	r.GET("/auth/google", func(c *gin.Context) {
		url := oauthCfg.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		c.Redirect(http.StatusTemporaryRedirect, url)
	})

	r.GET("/auth/google/callback", func(c *gin.Context) {
		code := c.Query("code")
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
			return
		}

		tok, err := oauthCfg.Exchange(c.Request.Context(), code)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		if err := manager.Save(c.Request.Context(), store.Tokens{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// A fresh authorization starts a fresh watch.
		historyID, err := provider.RegisterWatch(c.Request.Context())
		if err != nil {
			logger.Error("failed to register watch after authorization", "error", err)
			c.JSON(http.StatusOK, gin.H{"status": "authorized", "watch": "failed"})
			return
		}
		if err := st.SaveCursor(c.Request.Context(), historyID); err != nil {
			logger.Error("failed to save cursor after watch registration", "error", err)
		}

		c.JSON(http.StatusOK, gin.H{"status": "authorized", "history_id": historyID})
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
