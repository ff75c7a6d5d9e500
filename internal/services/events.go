package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/lostradar/lostradar/internal/models"
)

// RabbitMQPublisher announces item lifecycle events on a topic exchange so
// downstream consumers (matching notifiers, open-data exporters) can react
// without polling. The service runs fine without a broker; construction is
// skipped entirely when no URL is configured.
type RabbitMQPublisher struct {
	// mu guards conn and channel: the reconnect goroutine swaps them
	// while request goroutines publish.
	mu           sync.RWMutex
	conn         *amqp.Connection
	channel      *amqp.Channel
	exchangeName string
	url          string
}

// NewRabbitMQPublisher connects and declares the exchange.
func NewRabbitMQPublisher(url, exchangeName string) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := &RabbitMQPublisher{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		url:          url,
	}

	go p.handleReconnect()

	log.Info().Str("exchange", exchangeName).Msg("RabbitMQ publisher initialized")
	return p, nil
}

type itemIndexedEvent struct {
	ItemID    string    `json:"item_id"`
	Title     string    `json:"title"`
	Location  string    `json:"location"`
	ItemType  string    `json:"item_type"`
	ImageURL  string    `json:"image_url"`
	OwnerID   string    `json:"owner_id"`
	Timestamp time.Time `json:"timestamp"`
}

type itemDeletedEvent struct {
	ItemID    string    `json:"item_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ItemIndexed publishes item.indexed. Best effort: failures are logged,
// never propagated to the ingestion outcome.
func (p *RabbitMQPublisher) ItemIndexed(ctx context.Context, item *models.Item) {
	event := itemIndexedEvent{
		ItemID:    item.ID,
		Title:     item.Title,
		Location:  item.Location,
		ItemType:  string(item.Type),
		ImageURL:  item.ImageURL,
		OwnerID:   item.OwnerID,
		Timestamp: time.Now().UTC(),
	}
	if err := p.publish(ctx, "item.indexed", event); err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("Failed to publish item.indexed")
	}
}

// ItemDeleted publishes item.deleted. Best effort.
func (p *RabbitMQPublisher) ItemDeleted(ctx context.Context, itemID string) {
	event := itemDeletedEvent{ItemID: itemID, Timestamp: time.Now().UTC()}
	if err := p.publish(ctx, "item.deleted", event); err != nil {
		log.Error().Err(err).Str("item_id", itemID).Msg("Failed to publish item.deleted")
	}
}

func (p *RabbitMQPublisher) publish(ctx context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	channel := p.currentChannel()
	if channel == nil {
		return fmt.Errorf("channel is not open")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = channel.PublishWithContext(
		ctx,
		p.exchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			MessageId:    fmt.Sprintf("%d", time.Now().UnixNano()),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	log.Debug().
		Str("routing_key", routingKey).
		Str("exchange", p.exchangeName).
		Msg("Event published")

	return nil
}

func (p *RabbitMQPublisher) currentChannel() *amqp.Channel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.channel
}

func (p *RabbitMQPublisher) swapHandles(conn *amqp.Connection, channel *amqp.Channel) {
	p.mu.Lock()
	p.conn = conn
	p.channel = channel
	p.mu.Unlock()
}

// handleReconnect re-dials and redeclares the exchange when the broker
// connection drops.
func (p *RabbitMQPublisher) handleReconnect() {
	closeChan := make(chan *amqp.Error)
	p.mu.RLock()
	p.conn.NotifyClose(closeChan)
	p.mu.RUnlock()

	for closeErr := range closeChan {
		if closeErr == nil {
			continue
		}
		log.Error().Err(closeErr).Msg("RabbitMQ connection closed, reconnecting")

		for {
			time.Sleep(5 * time.Second)

			conn, err := amqp.Dial(p.url)
			if err != nil {
				log.Error().Err(err).Msg("Failed to reconnect to RabbitMQ")
				continue
			}

			channel, err := conn.Channel()
			if err != nil {
				conn.Close()
				log.Error().Err(err).Msg("Failed to open channel")
				continue
			}

			if err := channel.ExchangeDeclare(p.exchangeName, "topic", true, false, false, false, nil); err != nil {
				channel.Close()
				conn.Close()
				log.Error().Err(err).Msg("Failed to declare exchange")
				continue
			}

			p.swapHandles(conn, channel)

			log.Info().Msg("Reconnected to RabbitMQ")

			closeChan = make(chan *amqp.Error)
			conn.NotifyClose(closeChan)
			break
		}
	}
}

// Close closes the channel and connection.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ channel")
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ connection")
			return err
		}
	}
	return nil
}

// HealthCheck verifies the broker connection.
func (p *RabbitMQPublisher) HealthCheck() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("RabbitMQ connection is closed")
	}
	if p.channel == nil {
		return fmt.Errorf("RabbitMQ channel is nil")
	}
	return nil
}
