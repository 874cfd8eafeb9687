package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dinamicdatalab/comments-report/common"
	"github.com/dinamicdatalab/comments-report/models"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

var ErrPublish = errors.New("run event publish failed")

// channel es el subconjunto de *amqp.Channel que se usa aquí
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitMQService struct {
	conn    *amqp.Connection
	channel channel
	queue   string
	logger  *common.Logger
}

func NewRabbitMQService(url, queue string, timeout time.Duration, logger *common.Logger) (*RabbitMQService, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to RabbitMQ: %w", ErrPublish, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to open channel: %w", ErrPublish, err)
	}

	// La cola es durable: los consumidores pueden llegar después de la corrida
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%w: failed to declare queue %s: %w", ErrPublish, queue, err)
	}

	svc := NewRabbitMQServiceWithChannel(ch, queue, logger)
	svc.conn = conn
	return svc, nil
}

func NewRabbitMQServiceWithChannel(ch channel, queue string, logger *common.Logger) *RabbitMQService {
	return &RabbitMQService{channel: ch, queue: queue, logger: logger}
}

func (r *RabbitMQService) PublishRunSummary(summary models.RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal summary: %w", ErrPublish, err)
	}

	err = r.channel.Publish("", r.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    summary.RunID,
		Timestamp:    summary.StartedAt,
		Type:         "report.completed",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to publish message: %w", ErrPublish, err)
	}

	r.logger.WithStep("publish").WithFields(logrus.Fields{
		"queue":  r.queue,
		"run_id": summary.RunID,
	}).Info("Published run summary to queue")
	return nil
}

func (r *RabbitMQService) Close() {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
