package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleDetails() BookingDetails {
	email := "guest@example.com"
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return BookingDetails{
		BookingID:  uuid.New(),
		Reference:  "APT-20261019-090000-000001",
		Status:     "CONFIRMED",
		SlotID:     uuid.New(),
		ProviderID: uuid.New(),
		GuestEmail: &email,
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Price:      50,
	}
}

func TestKafkaDispatcherPublishesEnvelope(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	dispatcher := NewKafkaDispatcherWithProducer(producer, "scheduling", zap.NewNop())
	details := sampleDetails()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.Event != EventBookingConfirmation {
			return errors.New("unexpected event " + env.Event)
		}
		if env.Booking.BookingID != details.BookingID {
			return errors.New("unexpected booking id")
		}
		return nil
	})
	producer.ExpectSendMessageAndSucceed()

	require.NoError(t, dispatcher.SendBookingConfirmation(context.Background(), details))
	require.NoError(t, dispatcher.SendProviderNotification(context.Background(), details))
	require.NoError(t, dispatcher.Close())
}

func TestKafkaDispatcherReturnsProducerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	dispatcher := NewKafkaDispatcherWithProducer(producer, "scheduling", zap.NewNop())

	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	err := dispatcher.SendProviderNotification(context.Background(), sampleDetails())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	require.NoError(t, dispatcher.Close())
}

func TestKafkaDispatcherTopic(t *testing.T) {
	d := &KafkaDispatcher{topicPrefix: "scheduling"}
	assert.Equal(t, "scheduling.booking.confirmation", d.Topic(EventBookingConfirmation))

	d.topicPrefix = ""
	assert.Equal(t, "booking.provider", d.Topic(EventProviderBooking))
}

func TestKafkaDispatcherSkipsCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	dispatcher := NewKafkaDispatcherWithProducer(producer, "scheduling", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := dispatcher.SendBookingConfirmation(ctx, sampleDetails())
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, dispatcher.Close())
}

func TestLogDispatcher(t *testing.T) {
	d := NewLogDispatcher(zap.NewNop())
	assert.NoError(t, d.SendBookingConfirmation(context.Background(), sampleDetails()))
	assert.NoError(t, d.SendProviderNotification(context.Background(), sampleDetails()))
}
