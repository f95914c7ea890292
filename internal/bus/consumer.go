package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/domain"
)

// SignalHandler processes one decoded signal. ack marks the message's
// offset; the handler must invoke it once the signal has been handed off
// downstream. Offsets for signals still sitting in an in-memory batch stay
// uncommitted, so a crash before the flush redelivers them.
type SignalHandler func(ctx context.Context, signal *domain.Signal, ack func())

// Consumer runs a consumer group session against the signals topic.
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler SignalHandler
	log     zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer joins the named consumer group.
func NewConsumer(brokers []string, groupID, topic string, handler SignalHandler, log zerolog.Logger) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return &Consumer{
		group:   group,
		topic:   topic,
		handler: handler,
		log:     log.With().Str("component", "bus.consumer").Str("group", groupID).Logger(),
	}, nil
}

// Start consumes until Stop is called. Rebalances re-enter Consume in a
// loop as sarama requires.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, &groupHandler{consumer: c, ctx: ctx}); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.log.Error().Err(err).Msg("consumer group session failed")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	c.log.Info().Str("topic", c.topic).Msg("signal consumer started")
}

// Stop leaves the group and waits for the session to end.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.group.Close(); err != nil {
		c.log.Error().Err(err).Msg("failed to close consumer group")
	}
	c.wg.Wait()
}

type groupHandler struct {
	consumer *Consumer
	ctx      context.Context
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			var signal domain.Signal
			if err := json.Unmarshal(msg.Value, &signal); err != nil {
				h.consumer.log.Error().Err(err).
					Int64("offset", msg.Offset).
					Msg("dropping undecodable signal")
				session.MarkMessage(msg, "")
				continue
			}
			m := msg
			h.consumer.handler(h.ctx, &signal, func() { session.MarkMessage(m, "") })
		case <-session.Context().Done():
			return nil
		}
	}
}
