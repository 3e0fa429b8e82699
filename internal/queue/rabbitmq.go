package queue

import (
	"github.com/pkg/errors"
	"github.com/streadway/amqp"
	"gopkg.in/yaml.v2"
)

type rabbitmq struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitMQ(url string) (Channel, error) {
	conn, err := amqp.Dial(url)

	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to rabbitmq")
	}

	ch, err := conn.Channel()

	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "unable to open rabbitmq channel")
	}

	return &rabbitmq{conn: conn, ch: ch}, nil
}

func (r *rabbitmq) CreateQueue(queue string) error {
	_, err := r.ch.QueueDeclare(queue, true, false, false, false, nil)
	return errors.Wrapf(err, "unable to declare queue '%s'", queue)
}

func (r *rabbitmq) Consume(queue string, data interface{}) (bool, Delivery, error) {
	msg, ok, err := r.ch.Get(queue, false)

	if err != nil {
		return false, nil, errors.Wrapf(err, "unable to get message from '%s'", queue)
	}

	if !ok {
		return false, nil, nil
	}

	delivery := &rabbitmqDelivery{msg: msg}

	if err = yaml.Unmarshal(msg.Body, data); err != nil {
		_ = delivery.Nack(false)
		return false, nil, errors.Wrapf(err, "unable to decode message from '%s'", queue)
	}

	return true, delivery, nil
}

func (r *rabbitmq) Publish(queue string, data interface{}) error {
	body, err := yaml.Marshal(data)

	if err != nil {
		return errors.Wrap(err, "unable to encode message")
	}

	err = r.ch.Publish("", queue, false, false, amqp.Publishing{
		ContentType:  "text/yaml",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})

	return errors.Wrapf(err, "unable to publish in '%s'", queue)
}

func (r *rabbitmq) Close() error {
	if err := r.ch.Close(); err != nil {
		_ = r.conn.Close()
		return err
	}

	return r.conn.Close()
}
