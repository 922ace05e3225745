package queue

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/graph"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const maxRetries = 10

// Retryable reports whether a failed message should be delivered again.
// Only lock contention is retried; every other update failure leaves the
// graph untouched and goes to the dead letter queue for inspection.
func Retryable(err error) bool {
	return errors.Is(err, graph.ErrUpdateInProgress)
}

// HandleProcessingError sends a failed message to its retry queue or, once
// retries are exhausted or the failure is permanent, to its dead letter
// queue.
func HandleProcessingError(ctx context.Context, ch *amqp091.Channel, msg amqp091.Delivery, queueName string, cause error) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	headers := msg.Headers
	if headers == nil {
		headers = amqp091.Table{}
	}

	target := queueName + "_retry"
	if !Retryable(cause) || retries >= maxRetries {
		target = queueName + "_dlq"
		headers["x-error"] = cause.Error()
	} else {
		headers["x-retries"] = int32(retries + 1)
	}

	logger.Info("[Queue][Retry] requeueing message", "target", target, "retries", retries)
	pubErr := ch.PublishWithContext(
		ctx,
		"",
		target,
		false,
		false,
		amqp091.Publishing{
			ContentType: msg.ContentType,
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue][Retry] publish failed", "target", target, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
