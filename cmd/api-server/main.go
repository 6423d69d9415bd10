package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/app"
	"github.com/hackgods/appointment-saga/internal/config"
	"github.com/hackgods/appointment-saga/internal/logging"
)

var version = "dev"

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
		"env":           cfg.Env,
		"http_port":     cfg.HTTPPort,
		"primary_store": cfg.PrimaryStore,
		"queue_backend": cfg.QueueBackend,
	}).Info("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buildCtx, cancelBuild := context.WithTimeout(rootCtx, 30*time.Second)
	c, err := app.Build(buildCtx, cfg, log)
	cancelBuild()
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.WithError(err).Error("error closing resources")
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           c.HTTPHandler(version),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.WithError(err).Error("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}

	log.Info("api-server stopped")
}
