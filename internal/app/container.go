// Package app wires every stage of the saga from configuration. A process
// builds one Container and hands its parts to the stages it runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/api"
	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/config"
	"github.com/hackgods/appointment-saga/internal/db"
	"github.com/hackgods/appointment-saga/internal/eventbus"
	"github.com/hackgods/appointment-saga/internal/metrics"
	"github.com/hackgods/appointment-saga/internal/notify"
	"github.com/hackgods/appointment-saga/internal/queue"
	redisclient "github.com/hackgods/appointment-saga/internal/redis"
	"github.com/hackgods/appointment-saga/internal/regional"
	"github.com/hackgods/appointment-saga/internal/router"
)

type Container struct {
	Config   config.Config
	Log      *logrus.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Pipeline

	// Redis is nil when neither the primary store nor the queues use it.
	Redis   *redis.Client
	Primary appointment.Repository
	Service *appointment.Service
	Topic   *router.Topic

	CountryQueues map[appointment.Country]queue.Queue
	Confirmation  queue.Queue

	Bus eventbus.ConfirmedPublisher

	Regional map[appointment.Country]regional.Repository
	Reporter *notify.BestEffort

	closers []func() error
}

func Build(ctx context.Context, cfg config.Config, log *logrus.Logger) (*Container, error) {
	c := &Container{
		Config:        cfg,
		Log:           log,
		Registry:      prometheus.NewRegistry(),
		CountryQueues: make(map[appointment.Country]queue.Queue, len(appointment.Countries)),
		Regional:      make(map[appointment.Country]regional.Repository, len(appointment.Countries)),
	}
	built := false
	defer func() {
		if !built {
			_ = c.Close()
		}
	}()

	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.NewWithRegisterer(c.Registry)

	if cfg.PrimaryStore == "redis" || cfg.QueueBackend == "redis" {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		c.Redis = rdb
		c.closers = append(c.closers, rdb.Close)
		log.WithField("addr", cfg.RedisAddr).Info("connected to redis")
	}

	if err := c.buildPrimary(); err != nil {
		return nil, err
	}
	c.buildQueues()
	if err := c.buildRegional(ctx); err != nil {
		return nil, err
	}
	c.buildBus()

	var notifier notify.Notifier = notify.NewLogNotifier(log.WithField("channel", cfg.ErrorChannel))
	if c.Redis != nil {
		notifier = notify.NewRedisNotifier(c.Redis, cfg.ErrorChannel)
	}
	c.Reporter = notify.NewBestEffort(notifier, log, c.Metrics)

	subs := make([]router.Subscription, 0, len(appointment.Countries))
	for _, country := range appointment.Countries {
		subs = append(subs, router.Subscription{
			Name:    c.CountryQueues[country].Name(),
			Country: country,
			Target:  c.CountryQueues[country],
		})
	}
	c.Topic = router.NewTopic(cfg.CreatedTopic, log, subs...)

	var locker redisclient.Locker
	if cfg.SlotLockEnabled && c.Redis != nil {
		locker = redisclient.NewRedisScheduleLocker(c.Redis, cfg.LockTTL)
	}
	c.Service = appointment.NewService(c.Primary, c.Topic, locker, log, appointment.WithMetrics(c.Metrics))

	built = true
	return c, nil
}

func (c *Container) buildPrimary() error {
	switch c.Config.PrimaryStore {
	case "leveldb":
		repo, err := appointment.OpenLevelDB(c.Config.LevelDBPath)
		if err != nil {
			return err
		}
		c.Primary = repo
		c.closers = append(c.closers, repo.Close)
	default:
		c.Primary = appointment.NewRedisRepository(c.Redis)
	}
	return nil
}

// QueuePolicy is the delivery policy shared by the country and confirmation queues.
func QueuePolicy(cfg config.Config) queue.Policy {
	return queue.Policy{
		VisibilityTimeout: cfg.VisibilityTimeout,
		MaxReceives:       cfg.MaxReceives,
		Retention:         cfg.Retention,
	}
}

func (c *Container) newQueue(name string) queue.Queue {
	policy := QueuePolicy(c.Config)
	policy.OnDeadLetter = c.Metrics.AddDeadLettered
	if c.Config.QueueBackend == "memory" {
		return queue.NewMemoryQueue(name, policy)
	}
	return queue.NewRedisQueue(c.Redis, name, policy)
}

func (c *Container) buildQueues() {
	names := map[appointment.Country]string{
		appointment.CountryPE: c.Config.QueuePE,
		appointment.CountryCL: c.Config.QueueCL,
	}
	for _, country := range appointment.Countries {
		c.CountryQueues[country] = c.newQueue(names[country])
	}
	c.Confirmation = c.newQueue(c.Config.QueueConfirmation)
}

func (c *Container) buildRegional(ctx context.Context) error {
	for _, country := range appointment.Countries {
		if c.Config.RegionalStore == "memory" {
			c.Regional[country] = regional.NewMemoryRepository()
			continue
		}

		settings, _ := c.Config.RegionalFor(string(country))
		pool, err := db.ConnectPostgres(ctx, settings.DSN(), db.PoolOptions{})
		if err != nil {
			return fmt.Errorf("regional store %s: %w", country, err)
		}
		c.closers = append(c.closers, func() error { pool.Close(); return nil })
		c.Regional[country] = regional.NewPgRepository(pool)

		c.Log.WithFields(logrus.Fields{
			"country":  country,
			"host":     settings.Host,
			"database": settings.Database,
		}).Info("connected to regional store")
	}
	return nil
}

// buildBus creates the publishing side only. The Kafka writer dials lazily,
// so a process that never publishes never touches the brokers.
func (c *Container) buildBus() {
	if c.Config.EventBus == "local" {
		c.Bus = eventbus.NewLocalBus(eventbus.DefaultSource, c.Log, eventbus.ConfirmationRule(c.Confirmation))
		return
	}

	bus := eventbus.NewKafkaBus(c.Config.KafkaBrokers, c.Config.ConfirmationTopic, eventbus.DefaultSource, c.Log)
	c.Bus = bus
	c.closers = append(c.closers, bus.Close)
}

// newBridge returns nil for the local bus. A Kafka reader joins the consumer
// group as soon as it is created, so only pipeline processes may call this.
func (c *Container) newBridge() *eventbus.Bridge {
	if c.Config.EventBus == "local" {
		return nil
	}
	return eventbus.NewBridge(
		c.Config.KafkaBrokers, c.Config.ConfirmationTopic, c.Config.KafkaGroupID,
		c.Log, eventbus.ConfirmationRule(c.Confirmation),
	)
}

// BootstrapRegional creates the regional schema in every Postgres store.
func (c *Container) BootstrapRegional(ctx context.Context) error {
	for country, repo := range c.Regional {
		pg, ok := repo.(*regional.PgRepository)
		if !ok {
			continue
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("regional store %s: %w", country, err)
		}
	}
	return nil
}

// Queues returns the country queues followed by the confirmation queue.
func (c *Container) Queues() []queue.Queue {
	out := make([]queue.Queue, 0, len(c.CountryQueues)+1)
	for _, country := range appointment.Countries {
		out = append(out, c.CountryQueues[country])
	}
	return append(out, c.Confirmation)
}

func (c *Container) HTTPHandler(version string) http.Handler {
	checks := []api.Check{{Name: "primary", Pinger: c.Primary, Critical: true}}
	if c.Redis != nil {
		checks = append(checks, api.Check{
			Name:     "redis",
			Pinger:   api.PingFunc(func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }),
			Critical: c.Config.QueueBackend == "redis",
		})
	}

	return api.NewRouter(api.RouterConfig{
		Service:  c.Service,
		Checks:   checks,
		Log:      c.Log,
		Gatherer: c.Registry,
		Env:      c.Config.Env,
		Version:  version,
	})
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
