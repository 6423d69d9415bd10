package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/app"
	"github.com/hackgods/appointment-saga/internal/config"
	"github.com/hackgods/appointment-saga/internal/logging"
	"github.com/hackgods/appointment-saga/internal/queue"
	redisclient "github.com/hackgods/appointment-saga/internal/redis"
)

func main() {
	redrive := flag.Bool("redrive", false, "move dead-lettered messages back to their queues and exit")
	maxRedrive := flag.Int("max", 1000, "maximum messages to redrive per queue")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load error")
	}

	log := logging.New(cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"env":      cfg.Env,
		"interval": cfg.JanitorInterval,
		"redrive":  *redrive,
	}).Info("queue-janitor starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: 4,
	})
	if err != nil {
		log.WithError(err).Fatal("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.WithError(err).Error("error closing redis")
		}
	}()

	policy := app.QueuePolicy(cfg)
	policy.OnDeadLetter = func(name string, n int) {
		log.WithFields(logrus.Fields{"queue": name, "count": n}).Warn("messages dead-lettered")
	}
	var queues []queue.Queue
	for _, name := range []string{cfg.QueuePE, cfg.QueueCL, cfg.QueueConfirmation} {
		queues = append(queues, queue.NewRedisQueue(rdb, name, policy))
	}
	janitor := queue.NewJanitor(cfg.JanitorInterval, log, queues...)

	if *redrive {
		n, err := janitor.RedriveAll(rootCtx, *maxRedrive)
		if err != nil {
			log.WithError(err).Fatal("redrive failed")
		}
		log.WithField("redriven", n).Info("redrive complete")
		return
	}

	if err := janitor.Run(rootCtx); err != nil {
		log.WithError(err).Error("janitor stopped with error")
	}
}
