package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"shipper-agent/internal/config"
	"shipper-agent/internal/logger"
	"shipper-agent/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Producer publishes dispatch events.
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer creates a Kafka producer.
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info("Kafka producer created successfully")

	return &Producer{
		producer: producer,
		log:      log,
		topics:   &cfg.Topics,
	}, nil
}

// Close closes the producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}

// PublishOrderDecision publishes an accept or reject decision with its
// response-time metric.
func (p *Producer) PublishOrderDecision(eventType models.EventType, orderID, shipperID string, responseTimeSeconds int) error {
	return p.publishEvent(p.topics.Shippers, eventType, models.OrderDecisionEvent{
		OrderID:             orderID,
		ShipperID:           shipperID,
		ResponseTimeSeconds: responseTimeSeconds,
		Timestamp:           time.Now(),
	})
}

// PublishOrderProgress publishes a pickup, delivery or cancellation.
func (p *Producer) PublishOrderProgress(eventType models.EventType, orderID, shipperID string) error {
	return p.publishEvent(p.topics.Shippers, eventType, models.OrderProgressEvent{
		OrderID:   orderID,
		ShipperID: shipperID,
		Timestamp: time.Now(),
	})
}

// PublishShipperLocation publishes a shipper position report.
func (p *Producer) PublishShipperLocation(shipperID string, latitude, longitude float64) error {
	return p.publishEvent(p.topics.Locations, models.EventTypeLocationUpdated, models.ShipperLocationEvent{
		ShipperID: shipperID,
		Latitude:  latitude,
		Longitude: longitude,
		Timestamp: time.Now(),
	})
}

// publishEvent wraps the payload in the event envelope and sends it.
func (p *Producer) publishEvent(topic string, eventType models.EventType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	event := models.Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.ID.String()),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(event.Type),
			},
			{
				Key:   []byte("timestamp"),
				Value: []byte(event.Timestamp.Format(time.RFC3339)),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}

	p.log.WithField("topic", topic).
		WithField("partition", partition).
		WithField("offset", offset).
		WithField("event_type", event.Type).
		WithField("event_id", event.ID).
		Debug("Event published successfully")

	return nil
}
