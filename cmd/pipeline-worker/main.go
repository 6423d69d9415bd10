package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/app"
	"github.com/hackgods/appointment-saga/internal/config"
	"github.com/hackgods/appointment-saga/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load error")
	}
	if err := cfg.ValidateShared(); err != nil {
		logrus.WithError(err).Fatal("config not usable by a split deployment")
	}

	log := logging.New(cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"env":       cfg.Env,
		"event_bus": cfg.EventBus,
		"ack_mode":  cfg.AckMode,
		"batch":     cfg.BatchSize,
	}).Info("pipeline-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buildCtx, cancelBuild := context.WithTimeout(rootCtx, 30*time.Second)
	c, err := app.Build(buildCtx, cfg, log)
	if err == nil {
		err = c.BootstrapRegional(buildCtx)
	}
	cancelBuild()
	if err != nil {
		if c != nil {
			_ = c.Close()
		}
		log.WithError(err).Fatal("startup failed")
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.WithError(err).Error("error closing resources")
		}
	}()

	if err := c.RunPipeline(rootCtx); err != nil {
		log.WithError(err).Error("pipeline stopped with error")
		return
	}
	log.Info("pipeline-worker stopped")
}
