package worker

import (
	"context"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"docqa/internal/platform/rabbitmq"
	"docqa/internal/registry"
)

// RegistrySyncWorker marks collections built by other processes ready in the local
// registry. Each worker owns an exclusive, auto-deleted queue bound to the fanout
// exchange, so every process sees every event.
type RegistrySyncWorker struct {
	conn     *amqp.Connection
	exchange string
	registry registry.Registry
	origin   string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistrySyncWorker(conn *amqp.Connection, exchange string, reg registry.Registry, origin string) *RegistrySyncWorker {
	return &RegistrySyncWorker{
		conn:     conn,
		exchange: exchange,
		registry: reg,
		origin:   origin,
	}
}

func (w *RegistrySyncWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	deliveries, err := w.subscribe(ch)
	if err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.Handle(workerCtx, d.Body); err != nil {
					log.Printf("registry sync worker: %v", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *RegistrySyncWorker) subscribe(ch *amqp.Channel) (<-chan amqp.Delivery, error) {
	if err := ch.ExchangeDeclare(w.exchange, rabbitmq.ExchangeKind, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange failed: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",
		false,
		true,
		true,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare worker queue failed: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", w.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume queue failed: %w", err)
	}
	return deliveries, nil
}

// Handle applies one event body. Events this process published are ignored.
func (w *RegistrySyncWorker) Handle(ctx context.Context, body []byte) error {
	event, err := rabbitmq.DecodeEvent(body)
	if err != nil {
		return err
	}
	if event.Origin != "" && event.Origin == w.origin {
		return nil
	}
	if err := w.registry.MarkReady(ctx, event.CollectionName); err != nil {
		return fmt.Errorf("mark collection %s ready failed: %w", event.CollectionName, err)
	}
	log.Printf("registry sync: collection=%s ready (from %s)", event.CollectionName, event.Origin)
	return nil
}

func (w *RegistrySyncWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
