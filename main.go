package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"support-chat/config"
	"support-chat/models"
	"support-chat/realtime"
	"support-chat/routes"
	"support-chat/services"
	"support-chat/store"
	"support-chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := config.NewLogger(cfg)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	utils.SetDebug(cfg.IsDevelopment())

	// 初始化数据库
	db, err := config.InitDB(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	// 自动迁移
	if err := models.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var revocations services.RevocationList
	rdb, err := config.InitRedis(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	if rdb != nil {
		defer rdb.Close()
		revocations = services.NewRedisRevocations(rdb)
	} else {
		log.Warn().Msg("REDIS_URL not set, revocation lookups disabled")
	}

	presence := realtime.NewPresence()
	router := realtime.NewRouter(presence, log)
	st := store.New(db, store.WithPageLimits(cfg.Chat.ConversationPageMax, cfg.Chat.MessagePageMax))
	chat := services.NewChatService(st, presence, realtime.NewTimers(), router, cfg.Chat, log)
	verifier := services.NewJWTVerifier(cfg.JWTSecret, revocations)

	// 注册路由
	r := routes.RegisterRoutes(routes.Deps{
		Config:   cfg,
		Chat:     chat,
		Gateway:  services.NewGateway(chat, cfg.WS, log),
		Verifier: verifier,
		Log:      log,
	})

	srv := newHTTPServer(cfg, r)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("chat server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
}

func newHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
