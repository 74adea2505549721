package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"ssepush-lite/internal/auth"
	"ssepush-lite/internal/config"
	"ssepush-lite/internal/hub"
	"ssepush-lite/internal/logging"
	"ssepush-lite/internal/middleware"
	"ssepush-lite/internal/model"
	"ssepush-lite/internal/server"
	"ssepush-lite/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logrus.Fatal(err)
	}
	log, err := logging.New(cfg.LogLevel, "text")
	if err != nil {
		logrus.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)

	tokenCfg := auth.DefaultTokenConfig(cfg.MasterSecret, cfg.PublicURL+"/push/stream")
	tokenCfg.Expiry = cfg.CredentialExpiry

	st := store.NewWithOptions(store.Options{
		StateFile: cfg.StateFile,
		Logger:    log,
		Issuer: func(id string) (model.Credentials, error) {
			return auth.IssueCredentials(id, tokenCfg)
		},
	})

	router := server.NewRouter(server.Deps{
		Store:       st,
		Hub:         hub.New(),
		TokenConfig: tokenCfg,
		Keys:        middleware.AppKeys{AppID: cfg.AppID, AppKey: cfg.AppKey, MasterKey: cfg.MasterKey},
		Log:         log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Run(ctx, cfg, router, log); err != nil {
		log.Fatal(err)
	}
}
