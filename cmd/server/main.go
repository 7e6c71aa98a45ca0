package main

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/roumaissazd/ApplicationSummerIntership/internal/config"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/db"
	clog "github.com/roumaissazd/ApplicationSummerIntership/internal/log"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/server"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/ws"
)

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	hub := ws.NewHub()
	defer hub.Stop()

	typing := ws.NewTypingBroadcaster(hub, time.Duration(cfg.TypingTTLSeconds)*time.Second)
	typing.Start()
	defer typing.Stop()

	r := server.SetupRouter(cfg, gdb, hub, typing)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
