package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rinkside/rinkside/internal/auth"
	"github.com/rinkside/rinkside/internal/upload"
	"github.com/rinkside/rinkside/pkg/config"
	"github.com/rinkside/rinkside/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	// VideoUploadedRoutingKey is used for every finished upload, picked up by the analysis worker
	VideoUploadedRoutingKey = "video.uploaded"

	publishTimeout = 5 * time.Second
)

// Channel is the subset of *amqp.Channel the publisher needs
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher announces finished uploads on a topic exchange
type Publisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
}

// NewPublisher dials the broker and declares the events exchange
func NewPublisher(cfg *config.EventsConfig) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to message broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := NewPublisherWithChannel(channel, cfg.Exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisherWithChannel declares the exchange on an existing channel
func NewPublisherWithChannel(channel Channel, exchange string) (*Publisher, error) {
	err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = channel.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Publisher{channel: channel, exchange: exchange}, nil
}

// OnUploadComplete publishes a video.uploaded event for the finished upload
func (p *Publisher) OnUploadComplete(ctx context.Context, result *upload.Result) error {
	event := types.VideoUploadedEvent{
		UploadID:   result.UploadID,
		FileKey:    result.FileKey,
		FileName:   result.FileName,
		FileSize:   result.FileSize,
		MimeType:   result.MimeType,
		URL:        result.URL,
		Checksum:   result.Checksum,
		UploadedBy: auth.SubjectFromContext(ctx),
		OccurredAt: result.CompletedAt.UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		VideoUploadedRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    result.UploadID,
			Timestamp:    event.OccurredAt,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", VideoUploadedRoutingKey, err)
	}

	log.Debug().Str("upload_id", result.UploadID).Str("exchange", p.exchange).Msg("Published upload event")
	return nil
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
