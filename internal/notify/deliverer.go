package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/metrics"
)

// Publisher hands an outbox entry to a downstream transport.
type Publisher interface {
	Publish(ctx context.Context, entry Entry) error
}

// RedisPublisher publishes entries on a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "care:notifications"
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, entry Entry) error {
	body, err := entry.Body()
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// SQSAPI is the subset of the SQS client used by SQSPublisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSPublisher struct {
	client   SQSAPI
	queueURL string
}

func NewSQSPublisher(client SQSAPI, queueURL string) *SQSPublisher {
	if client == nil {
		panic("notify: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("notify: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{client: client, queueURL: queueURL}
}

func (p *SQSPublisher) Publish(ctx context.Context, entry Entry) error {
	body, err := entry.Body()
	if err != nil {
		return err
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(entry.Type))},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

// LogPublisher is the transport for local runs.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, entry Entry) error {
	p.logger.Info("notification delivered",
		zap.String("event_id", entry.ID.String()),
		zap.String("type", string(entry.Type)),
		zap.String("recipient_id", entry.RecipientID.String()),
	)
	return nil
}

// Deliverer polls the outbox and publishes pending entries.
type Deliverer struct {
	store     OutboxStore
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Collector
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store OutboxStore, publisher Publisher, logger *zap.Logger, m *metrics.Collector) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		batchSize: 50,
		interval:  2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Start drains the outbox every interval until ctx is done.
func (d *Deliverer) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain publishes one batch and returns how many entries were delivered.
func (d *Deliverer) Drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, entry := range entries {
		if err := d.publisher.Publish(ctx, entry); err != nil {
			d.metrics.OutboxDelivery("failed")
			d.logger.Error("outbox delivery failed",
				zap.String("event_id", entry.ID.String()),
				zap.String("type", string(entry.Type)),
				zap.Int("attempts", entry.Attempts+1),
				zap.Error(err),
			)
			if err := d.store.MarkFailed(ctx, entry.ID); err != nil {
				d.logger.Error("failed to record delivery attempt", zap.String("event_id", entry.ID.String()), zap.Error(err))
			}
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error("failed to mark outbox delivered", zap.String("event_id", entry.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			delivered++
			d.metrics.OutboxDelivery("delivered")
			d.logger.Debug("outbox delivered", zap.String("event_id", entry.ID.String()), zap.String("type", string(entry.Type)))
		}
	}
	return delivered
}
