package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	Brokers   []string
	Topic     string
	PollEvery time.Duration
	BatchSize int
}

// Publisher relays committed audit rows to Kafka and marks them published.
type Publisher struct {
	pool      *pgxpool.Pool
	repo      *Repository
	logger    *zap.Logger
	writer    messageWriter
	pollEvery time.Duration
	batchSize int
}

func NewPublisher(pool *pgxpool.Pool, repo *Repository, logger *zap.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	var writer messageWriter
	if len(cfg.Brokers) > 0 {
		writer = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
	}

	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		writer:    writer,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run polls until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		p.logger.Warn("audit relay disabled, no kafka brokers configured")
		return
	}
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("close kafka writer", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("audit relay stopping")
			return
		case <-ticker.C:
			start := time.Now()
			n, err := p.PublishBatch(ctx)
			if err != nil {
				p.logger.Error("audit relay batch failed", zap.Error(err))
				continue
			}
			if n > 0 {
				p.logger.Info("audit events relayed", zap.Int("count", n), zap.Duration("took", time.Since(start)))
			}
		}
	}
}

// PublishBatch relays one batch inside a transaction. Rows are marked only
// after Kafka acknowledged them, so a crash re-sends rather than drops.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin relay transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, 0, len(records))
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		msg, err := toMessage(rec)
		if err != nil {
			return 0, err
		}
		msgs = append(msgs, msg)
		ids = append(ids, rec.ID)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("write audit messages: %w", err)
	}

	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit relay transaction: %w", err)
	}
	return len(records), nil
}

type messagePayload struct {
	ID         int64           `json:"id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   *int64          `json:"entityId,omitempty"`
	ActorID    int64           `json:"actorId"`
	Meta       json.RawMessage `json:"meta"`
	At         time.Time       `json:"at"`
}

// toMessage keys by entity so events about one entity stay ordered within a partition.
func toMessage(rec Record) (kafka.Message, error) {
	meta := rec.Meta
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	value, err := json.Marshal(messagePayload{
		ID:         rec.ID,
		Action:     rec.Action,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		ActorID:    rec.ActorID,
		Meta:       meta,
		At:         rec.OccurredAt.UTC(),
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal audit event %d: %w", rec.ID, err)
	}

	key := rec.EntityType
	if rec.EntityID != nil {
		key += ":" + strconv.FormatInt(*rec.EntityID, 10)
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(strconv.FormatInt(rec.ID, 10))},
			{Key: "action", Value: []byte(rec.Action)},
		},
		Time: rec.OccurredAt.UTC(),
	}, nil
}
