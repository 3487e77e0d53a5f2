package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"docqa/internal/model"
)

const EventCollectionReady = "collection.ready"

// EventPublisher broadcasts collection events to every process bound to the exchange.
type EventPublisher struct {
	conn     *amqp.Connection
	exchange string
}

func NewEventPublisher(conn *amqp.Connection, exchange string) *EventPublisher {
	return &EventPublisher{
		conn:     conn,
		exchange: exchange,
	}
}

func (p *EventPublisher) PublishCollectionReady(ctx context.Context, event model.CollectionEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, p.exchange); err != nil {
		return err
	}

	payload, err := EncodeEvent(event)
	if err != nil {
		return err
	}

	if err := ch.PublishWithContext(
		ctx,
		p.exchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         EventCollectionReady,
			AppId:        event.Origin,
			Timestamp:    time.Now().UTC(),
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish collection event failed: %w", err)
	}
	return nil
}

func EncodeEvent(event model.CollectionEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal collection event failed: %w", err)
	}
	return payload, nil
}

func DecodeEvent(body []byte) (model.CollectionEvent, error) {
	var event model.CollectionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return event, fmt.Errorf("decode collection event failed: %w", err)
	}
	if event.CollectionName == "" {
		return event, fmt.Errorf("decode collection event failed: missing collection_name")
	}
	return event, nil
}
