package bus

import (
	"context"
	"log"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"roomchat-service/internal/observability"
)

const originHeader = "origin"

// RelayFabric extends a LocalFabric across processes through a RabbitMQ
// topic exchange. Every local broadcast is mirrored to the exchange;
// broadcasts consumed from sibling instances are injected into the local
// fabric. The origin header keeps an instance from echoing its own
// publishes back to itself.
type RelayFabric struct {
	local      *LocalFabric
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	instanceID string
}

// NewRelayFabric connects to the broker and starts consuming remote
// broadcasts.
func NewRelayFabric(local *LocalFabric, amqpURL, exchange string) (*RelayFabric, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.QueueBind(queue.Name, "#", exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	f := &RelayFabric{
		local:      local,
		conn:       conn,
		ch:         ch,
		exchange:   exchange,
		instanceID: uuid.NewString(),
	}
	go f.consume(deliveries)

	log.Printf("relay fabric connected exchange=%s instance=%s", exchange, f.instanceID)
	return f, nil
}

// Join delegates to the local fabric; membership stays per-process.
func (f *RelayFabric) Join(group string) *Subscription {
	return f.local.Join(group)
}

// Leave delegates to the local fabric.
func (f *RelayFabric) Leave(group string, sub *Subscription) {
	f.local.Leave(group, sub)
}

// Broadcast delivers locally, then mirrors to the exchange with the
// group as routing key. Publish failures are logged and counted, never
// surfaced to the publisher.
func (f *RelayFabric) Broadcast(group string, payload []byte) {
	f.local.Broadcast(group, payload)

	err := f.ch.PublishWithContext(context.Background(), f.exchange, group, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
		Headers:     amqp.Table{originHeader: f.instanceID},
	})
	if err != nil {
		log.Printf("relay publish failed group=%s: %v", group, err)
		observability.IncAMQPPublishError()
	}
}

func (f *RelayFabric) consume(deliveries <-chan amqp.Delivery) {
	for msg := range deliveries {
		if origin, ok := msg.Headers[originHeader].(string); ok && origin == f.instanceID {
			continue
		}
		f.local.Broadcast(msg.RoutingKey, msg.Body)
	}
}

// Close tears down the broker connection.
func (f *RelayFabric) Close() error {
	if f.ch != nil {
		_ = f.ch.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
