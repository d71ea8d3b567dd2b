package rabbitmq

import (
	"context"
	"encoding/json"

	"cadbridge/internal/domain/entity"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type JobSubmitter interface {
	SubmitJob(ctx context.Context, jobID string) error
}

// SubmissionConsumer drains translation.requested messages and hands each
// job to the submitter. Malformed messages are dead-lettered; submitter
// infrastructure errors requeue the message.
type SubmissionConsumer struct {
	channel     *amqp.Channel
	exchange    string
	routingKey  string
	queue       string
	submitter   JobSubmitter
	prefetchCnt int
	log         *logrus.Entry
}

func NewSubmissionConsumer(conn *amqp.Connection, exchange, routingKey, queue string, submitter JobSubmitter, lg *logrus.Logger) (*SubmissionConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	consumer := &SubmissionConsumer{
		channel:     ch,
		exchange:    exchange,
		routingKey:  routingKey,
		queue:       queue,
		submitter:   submitter,
		prefetchCnt: 8,
		log:         lg.WithField("component", "submission_consumer"),
	}

	_, err = ch.QueueDeclare(
		queue,
		true, // durable
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	if err := ch.QueueBind(
		queue,
		routingKey,
		exchange,
		false,
		nil,
	); err != nil {
		return nil, err
	}

	if err := ch.Qos(consumer.prefetchCnt, 0, false); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *SubmissionConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Info("submission consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.log.Warn("broker channel closed")
				return nil
			}

			var req entity.TranslationRequestedMessage
			if err := json.Unmarshal(msg.Body, &req); err != nil {
				c.log.WithError(err).Warn("malformed submission request dropped")
				msg.Nack(false, false)
				continue
			}

			go func(jobID string, msg amqp.Delivery) {
				if err := c.submitter.SubmitJob(ctx, jobID); err != nil {
					c.log.WithError(err).WithField("job_id", jobID).Error("submission failed, requeueing")
					msg.Nack(false, true)
					return
				}
				msg.Ack(false)
			}(req.JobID, msg)
		}
	}
}
