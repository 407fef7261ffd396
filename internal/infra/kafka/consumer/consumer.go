package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/segment-recolor/internal/config"
)

const fetchBackoff = 500 * time.Millisecond

// jobHandler processes one job message. A non-nil error leaves the message
// uncommitted so it is redelivered.
type jobHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer reads job messages from Kafka and hands them to a jobHandler.
type Consumer struct {
	Client   *wbfkafka.Consumer
	handler  jobHandler
	cfg      *config.Kafka
	strategy retry.Strategy
}

// New creates a new Consumer on the jobs topic of cfg.
func New(cfg *config.Kafka, s retry.Strategy, h jobHandler) *Consumer {
	return &Consumer{
		Client:   wbfkafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID),
		handler:  h,
		cfg:      cfg,
		strategy: s,
	}
}

// Consume fetches, handles and commits messages one at a time until ctx is
// cancelled. A job that is running when ctx is cancelled is allowed to finish
// before Consume returns.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().
		Str("topic", c.cfg.Topic).
		Str("group_id", c.cfg.GroupID).
		Msg("starting job consumer")

	for {
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping job consumer")
			return
		}

		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.Client.Fetch(ctx)
			return fetchErr
		}, c.strategy)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zlog.Logger.Err(err).Msg("failed to fetch job message")
			time.Sleep(fetchBackoff)
			continue
		}

		if err := c.handler.Handle(ctx, msg); err != nil {
			zlog.Logger.Err(err).
				Int64("offset", msg.Offset).
				Str("key", string(msg.Key)).
				Msg("failed to handle job message")
			continue
		}

		// The job is done; commit even if shutdown started meanwhile.
		commitCtx := context.WithoutCancel(ctx)
		err = retry.Do(func() error {
			return c.Client.Commit(commitCtx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Int64("offset", msg.Offset).Msg("failed to commit job message after retries")
			continue
		}

		zlog.Logger.Info().
			Int64("offset", msg.Offset).
			Str("key", string(msg.Key)).
			Msg("job message handled")
	}
}
