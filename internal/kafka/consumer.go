package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/domain"
)

// TransactionHandler processes transaction requests
type TransactionHandler interface {
	ProcessTransactionBatch(ctx context.Context, batch domain.BatchTransactionRequest) []domain.TransactionResult
}

// Consumer consumes transaction messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       TransactionHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool

	received  atomic.Int64
	malformed atomic.Int64
	applied   atomic.Int64
	rejected  atomic.Int64
	batches   atomic.Int64
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler TransactionHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	<-c.ready
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches decoded transactions and marks their offsets only
// once the batch has been applied, so a crash replays rather than loses
// them. Malformed messages are marked immediately.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c := h.consumer
	batch := make([]domain.TransactionRequest, 0, c.config.BatchSize)
	pending := make([]*sarama.ConsumerMessage, 0, c.config.BatchSize)
	batchTimer := time.NewTimer(c.config.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.applyBatch(batch)
		for _, m := range pending {
			session.MarkMessage(m, "")
		}
		batch = batch[:0]
		pending = pending[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(c.config.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}
			c.received.Add(1)

			req, err := DecodeTransaction(message.Value)
			if err != nil {
				c.malformed.Add(1)
				c.logger.Warn("invalid transaction message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			batch = append(batch, req)
			pending = append(pending, message)
			if len(batch) >= c.config.BatchSize {
				flush()
				batchTimer.Reset(c.config.BatchTimeout)
			}
		}
	}
}

func (c *Consumer) applyBatch(batch []domain.TransactionRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := c.handler.ProcessTransactionBatch(ctx, domain.BatchTransactionRequest{Transactions: batch})
	var rejected int64
	for _, r := range results {
		if !r.Record.Success {
			rejected++
		}
	}
	c.applied.Add(int64(len(results)) - rejected)
	c.rejected.Add(rejected)
	c.batches.Add(1)
	c.logger.Debug("processed batch", "batch_size", len(batch), "rejected", rejected)
}

// ConsumerStats counts ingested messages since start
type ConsumerStats struct {
	Received  int64 `json:"received"`
	Malformed int64 `json:"malformed"`
	Applied   int64 `json:"applied"`
	Rejected  int64 `json:"rejected"`
	Batches   int64 `json:"batches"`
}

// Stats returns the ingestion counters
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Received:  c.received.Load(),
		Malformed: c.malformed.Load(),
		Applied:   c.applied.Load(),
		Rejected:  c.rejected.Load(),
		Batches:   c.batches.Load(),
	}
}

// TransactionMessage is the message format on the transactions topic
type TransactionMessage struct {
	PlayerID      string                 `json:"player_id"`
	Currency      string                 `json:"currency"`
	Amount        int64                  `json:"amount"`
	Source        string                 `json:"source"`
	Context       map[string]interface{} `json:"context,omitempty"`
	AllowRollback *bool                  `json:"allow_rollback,omitempty"`
}

// DecodeTransaction parses and validates one message. Amount and balance
// checks are left to the ledger so they are journaled.
func DecodeTransaction(value []byte) (domain.TransactionRequest, error) {
	var msg TransactionMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return domain.TransactionRequest{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if msg.PlayerID == "" {
		return domain.TransactionRequest{}, fmt.Errorf("%w: player_id is required", domain.ErrInvalidRequest)
	}
	if _, err := domain.ResolveCurrency(msg.Currency); err != nil {
		return domain.TransactionRequest{}, err
	}
	if msg.Source == "" {
		msg.Source = "kafka"
	}
	return domain.TransactionRequest{
		PlayerID:      msg.PlayerID,
		Currency:      msg.Currency,
		Amount:        msg.Amount,
		Source:        msg.Source,
		Context:       msg.Context,
		AllowRollback: msg.AllowRollback,
	}, nil
}
