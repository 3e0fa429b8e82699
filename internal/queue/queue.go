// Package queue carries transcode requests and responses over a message broker. Message bodies
// are YAML documents.
package queue

const (
	RequestQueue  = "transcode.request"
	ResponseQueue = "transcode.response"
)

type Channel interface {
	// Consume fetches at most one message from queue and decodes it into data. ok is false when
	// the queue is empty. The message must be acknowledged through the returned Delivery.
	Consume(queue string, data interface{}) (ok bool, delivery Delivery, err error)
	Publish(queue string, data interface{}) (err error)
	CreateQueue(queue string) (err error)
	Close() error
}

type Delivery interface {
	Ack() error
	Nack(requeue bool) error
}
