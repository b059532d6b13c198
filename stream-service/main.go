package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"rfq-sync/config"
	"rfq-sync/push"
)

func main() {
	cfg, err := config.LoadStream()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	config.SetupLogging(cfg.Debug)
	logger := log.StandardLogger()

	redisOpts, err := config.RedisOptions(cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	var auth *push.Auth
	if cfg.Auth.TestMode {
		log.Warn("AUTH0_TEST_MODE enabled, accepting HS256 test tokens")
		auth = push.NewTestAuth([]byte(cfg.Auth.TestSecret), cfg.Auth.Audience, "")
	} else {
		jwks, err := keyfunc.Get(cfg.Auth.JWKSURL(), keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = push.NewAuth(jwks, cfg.Auth.Audience, cfg.Auth.Issuer())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := push.NewHub(logger)
	go push.Relay(ctx, rc, cfg.PushChannel, hub, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	push.Register(e, hub, auth, cfg.KeepAlive)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("stream service: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("stream service stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.Shutdown(shutdownCtx)
}
