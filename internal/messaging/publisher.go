package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// UpdateKind - тип уведомления об изменении забега.
type UpdateKind string

const (
	UpdateEntrance     UpdateKind = "dungeon.entrance"
	UpdateBalanced     UpdateKind = "dungeon.balanced"
	UpdateFloorCleared UpdateKind = "dungeon.floor_cleared"
)

// DungeonUpdate - уведомление для внешних систем, применяющих награды и спавн.
type DungeonUpdate struct {
	MessageID string     `json:"message_id"`
	Kind      UpdateKind `json:"kind"`
	DungeonID int64      `json:"dungeon_id"`
	Floor     int        `json:"floor"`
	PlayerIDs []int      `json:"player_ids"`
	Summary   string     `json:"summary,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// DungeonPublisher публикует уведомления о забеге.
type DungeonPublisher interface {
	PublishDungeonUpdate(ctx context.Context, update DungeonUpdate) error
}

const (
	publishAttempts = 3
	publishTimeout  = 10 * time.Second
	appID           = "dungeon-server"
)

type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQDungeonPublisher открывает канал и объявляет durable-очередь уведомлений.
func NewRabbitMQDungeonPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (DungeonPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("dungeon publisher: failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("dungeon publisher: failed to declare queue '%s': %w", queueName, err)
	}
	logger = logger.Named("DungeonPublisher")
	logger.Info("Queue declared", zap.String("queue", queueName))
	return &rabbitMQPublisher{channel: ch, queueName: queueName, logger: logger}, nil
}

func (p *rabbitMQPublisher) PublishDungeonUpdate(ctx context.Context, update DungeonUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode dungeon update %s: %w", update.MessageID, err)
	}
	if err := p.publishMessage(ctx, update.MessageID, body); err != nil {
		p.logger.Error("Failed to publish dungeon update",
			zap.String("message_id", update.MessageID),
			zap.String("kind", string(update.Kind)),
			zap.Error(err))
		return err
	}
	return nil
}

func (p *rabbitMQPublisher) publishMessage(ctx context.Context, messageID string, body []byte) error {
	if p.channel == nil {
		return errors.New("rabbitmq channel is not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // default exchange
			p.queueName, // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    messageID,
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        appID,
			},
		)
		if err == nil {
			p.logger.Debug("Message published", zap.String("queue", p.queueName), zap.Int("attempt", attempt))
			return nil
		}
		p.logger.Warn("Publish attempt failed", zap.String("queue", p.queueName), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish to %s cancelled: %w", p.queueName, ctx.Err())
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("failed to publish to %s after retries: %w", p.queueName, err)
}

type nopPublisher struct {
	logger *zap.Logger
}

// NewNopPublisher - публикатор для запуска без брокера: уведомления только логируются.
func NewNopPublisher(logger *zap.Logger) DungeonPublisher {
	return &nopPublisher{logger: logger.Named("NopPublisher")}
}

func (p *nopPublisher) PublishDungeonUpdate(ctx context.Context, update DungeonUpdate) error {
	p.logger.Debug("Dungeon update (no broker)", zap.String("kind", string(update.Kind)), zap.Int64("dungeon_id", update.DungeonID))
	return nil
}
