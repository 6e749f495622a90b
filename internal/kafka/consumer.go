package kafka

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message was processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

const (
	retryMin = 100 * time.Millisecond
	retryMax = 5 * time.Second
)

type Consumer struct {
	r       *kafka.Reader
	workers int
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers}
}

// Start dispatches messages to a pool of workers until ctx is done. A
// partition is always served by the same worker, which retries a failed
// message until it succeeds, so no offset is committed past a failure.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	shards := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if !handleWithRetry(ctx, h, m, retryMin) {
					return
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					zlog.Error().Err(err).Int("worker", id).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("commit message")
				}
			}
		}(i, shards[i])
	}
	defer wg.Wait()
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case shards[shard(m.Partition, c.workers)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func shard(partition, workers int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % workers
}

// handleWithRetry runs h until it succeeds, backing off from wait up to
// retryMax. It reports false when ctx ends first.
func handleWithRetry(ctx context.Context, h Handler, m kafka.Message, wait time.Duration) bool {
	for attempt := 1; ; attempt++ {
		err := h(ExtractTrace(ctx, m.Headers), m)
		if err == nil {
			return true
		}
		zlog.Error().Err(err).
			Int("partition", m.Partition).
			Int64("offset", m.Offset).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("handle message")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		if wait *= 2; wait > retryMax {
			wait = retryMax
		}
	}
}
