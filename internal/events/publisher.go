// Package events publishes consensus-confirmed entry/exit events to
// Kafka for external consumers (dashboards, analytics). Publishing is
// best-effort: a broker outage never blocks detection processing.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mohammed-Mafaz/Parking-System/internal/domain/parking"
)

type message struct {
	EventID   string    `json:"event_id"`
	Plate     string    `json:"plate"`
	CameraID  string    `json:"camera_id"`
	Type      string    `json:"type"`
	EventTime time.Time `json:"event_time"`
}

type Publisher struct {
	producer *kafka.Producer
	topic    string
	done     chan struct{}
	log      zerolog.Logger
}

func NewPublisher(bootstrapServers, topic string, log zerolog.Logger) (*Publisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	p := &Publisher{
		producer: producer,
		topic:    topic,
		done:     make(chan struct{}),
		log:      log,
	}
	go p.handleDeliveryReports()
	return p, nil
}

func (p *Publisher) handleDeliveryReports() {
	defer close(p.done)
	for e := range p.producer.Events() {
		m, ok := e.(*kafka.Message)
		if !ok {
			continue
		}
		if m.TopicPartition.Error != nil {
			p.log.Error().
				Err(m.TopicPartition.Error).
				Str("key", string(m.Key)).
				Msg("event delivery failed")
		}
	}
}

// PublishConfirmed enqueues one confirmed event, keyed by plate so all
// events for a vehicle land on the same partition in order.
func (p *Publisher) PublishConfirmed(e *parking.ConfirmedEvent) error {
	payload, err := json.Marshal(message{
		EventID:   uuid.New().String(),
		Plate:     e.Plate,
		CameraID:  e.CameraID,
		Type:      string(e.Type),
		EventTime: e.EventTime,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	return p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(e.Plate),
		Value:          payload,
	}, nil)
}

// Close flushes queued events and shuts the producer down.
func (p *Publisher) Close() {
	remaining := p.producer.Flush(int((10 * time.Second).Milliseconds()))
	if remaining > 0 {
		p.log.Warn().Int("remaining", remaining).Msg("events still queued after flush timeout")
	}
	p.producer.Close()
	<-p.done
}
