package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const (
	EventBookingConfirmation = "booking.confirmation"
	EventProviderBooking     = "booking.provider"
)

type envelope struct {
	Event      string         `json:"event"`
	OccurredAt time.Time      `json:"occurred_at"`
	Booking    BookingDetails `json:"booking"`
}

// KafkaDispatcher publishes booking events to <prefix>.booking.confirmation
// and <prefix>.booking.provider, keyed by booking id.
type KafkaDispatcher struct {
	producer    sarama.SyncProducer
	topicPrefix string
	log         *zap.Logger
}

func NewKafkaDispatcher(brokers []string, topicPrefix string, log *zap.Logger) (*KafkaDispatcher, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "clinic-scheduling"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return NewKafkaDispatcherWithProducer(producer, topicPrefix, log), nil
}

func NewKafkaDispatcherWithProducer(producer sarama.SyncProducer, topicPrefix string, log *zap.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer:    producer,
		topicPrefix: topicPrefix,
		log:         log.With(zap.String("dispatcher", "kafka")),
	}
}

func (d *KafkaDispatcher) SendBookingConfirmation(ctx context.Context, details BookingDetails) error {
	return d.publish(ctx, EventBookingConfirmation, details)
}

func (d *KafkaDispatcher) SendProviderNotification(ctx context.Context, details BookingDetails) error {
	return d.publish(ctx, EventProviderBooking, details)
}

// Topic returns the topic an event is published to.
func (d *KafkaDispatcher) Topic(event string) string {
	if d.topicPrefix == "" {
		return event
	}
	return d.topicPrefix + "." + event
}

func (d *KafkaDispatcher) publish(ctx context.Context, event string, details BookingDetails) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(envelope{Event: event, OccurredAt: time.Now().UTC(), Booking: details})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: d.Topic(event),
		Key:   sarama.StringEncoder(details.BookingID.String()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(event)},
		},
	}

	partition, offset, err := d.producer.SendMessage(msg)
	if err != nil {
		d.log.Error("Failed to publish booking event",
			zap.Error(err),
			zap.String("event", event),
			zap.String("booking_id", details.BookingID.String()),
		)
		return fmt.Errorf("publish %s event for booking %s: %w", event, details.BookingID, err)
	}

	d.log.Debug("Booking event published",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (d *KafkaDispatcher) Close() error {
	if d.producer == nil {
		return nil
	}
	return d.producer.Close()
}
