package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/internal/util"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue = "ingest_queue"
	RemoveQueue = "remove_queue"
)

// Queues lists every work queue the worker consumes.
var Queues = []string{IngestQueue, RemoveQueue}

func Init() (*amqp091.Connection, error) {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnvString("RABBITMQ_HOST", "localhost")
	port := util.GetEnvString("RABBITMQ_PORT", "5672")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq at %s:%s: %w", host, port, err)
	}
	return conn, nil
}

// SetupQueues declares every queue with its dead letter and retry queue.
// Retry queues hold a message for ten seconds and then hand it back to the
// work queue.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(10000),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
	}

	return nil
}

func PublishFIFO(ctx context.Context, ch *amqp091.Channel, queueName string, data []byte) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		publishing,
	)
}

// Handler processes one message body from queueName.
type Handler func(ctx context.Context, queueName string, body []byte) error

// Consume delivers messages of all queues to handle, one at a time. It
// returns when ctx ends or a delivery channel closes.
func Consume(ctx context.Context, conn *amqp091.Connection, queueNames []string, handle Handler) error {
	consumerCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer consumerCh.Close()

	// prefetch 1 across the channel so only one message is in flight
	if err := consumerCh.Qos(1, 0, true); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	type queuedMessage struct {
		msg       amqp091.Delivery
		queueName string
	}
	messageChan := make(chan queuedMessage)
	closed := make(chan string, len(queueNames))

	for _, queueName := range queueNames {
		msgs, err := consumerCh.Consume(
			queueName,
			queueName+"_consumer",
			false, // autoAck
			false, // exclusive
			false, // noLocal
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queueName, err)
		}

		go func(qName string, msgs <-chan amqp091.Delivery) {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						closed <- qName
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: qName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(queueName, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue][Consume] stopping")
			return nil
		case qName := <-closed:
			return fmt.Errorf("delivery channel of %s closed", qName)
		case qm := <-messageChan:
			start := time.Now()
			logger.Info("[Queue][Consume] received message", "queue", qm.queueName)

			if err := handle(ctx, qm.queueName, qm.msg.Body); err != nil {
				logger.Error("[Queue][Consume] processing failed", "queue", qm.queueName, "err", err)
				HandleProcessingError(ctx, consumerCh, qm.msg, qm.queueName, err)
				continue
			}
			if err := qm.msg.Ack(false); err != nil {
				logger.Error("[Queue][Consume] ack failed", "err", err)
			}
			logger.Info("[Queue][Consume] message processed", "queue", qm.queueName, "duration", time.Since(start))
		}
	}
}
