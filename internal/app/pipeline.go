package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/processor"
	"github.com/hackgods/appointment-saga/internal/queue"
	"github.com/hackgods/appointment-saga/internal/reconciler"
)

func (c *Container) consumerConfig(stage string) queue.ConsumerConfig {
	return queue.ConsumerConfig{
		Stage:             stage,
		BatchSize:         c.Config.BatchSize,
		InvocationTimeout: c.Config.InvocationTimeout,
		PollInterval:      c.Config.PollInterval,
		AckMode:           queue.ParseAckMode(c.Config.AckMode),
	}
}

// Consumers builds one consumer per country processor plus the reconciler.
func (c *Container) Consumers() ([]*queue.Consumer, error) {
	consumers := make([]*queue.Consumer, 0, len(appointment.Countries)+1)

	for _, country := range appointment.Countries {
		strategy, err := processor.StrategyFor(country)
		if err != nil {
			return nil, err
		}
		deps := processor.Deps{Regional: c.Regional[country], Bus: c.Bus}
		h := processor.NewHandler(deps, strategy, c.Reporter, c.Log)
		consumers = append(consumers, queue.NewConsumer(
			c.CountryQueues[country], h, c.consumerConfig(processor.Stage(country)), c.Log, c.Metrics,
		))
	}

	h := reconciler.NewHandler(c.Service, c.Reporter, c.Log)
	consumers = append(consumers, queue.NewConsumer(
		c.Confirmation, h, c.consumerConfig(reconciler.Stage), c.Log, c.Metrics,
	))
	return consumers, nil
}

func (c *Container) Janitor() *queue.Janitor {
	return queue.NewJanitor(c.Config.JanitorInterval, c.Log, c.Queues()...)
}

// RunPipeline runs every consumer, the bus bridge and the janitor until ctx
// ends or one of them fails.
func (c *Container) RunPipeline(ctx context.Context) error {
	consumers, err := c.Consumers()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, consumer := range consumers {
		g.Go(func() error { return consumer.Run(ctx) })
	}
	if bridge := c.newBridge(); bridge != nil {
		defer func() {
			if err := bridge.Close(); err != nil {
				c.Log.WithError(err).Warn("closing bridge reader")
			}
		}()
		g.Go(func() error { return bridge.Run(ctx) })
	}
	janitor := c.Janitor()
	g.Go(func() error { return janitor.Run(ctx) })

	return g.Wait()
}
