package queue

import (
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Memory is an in-process Channel with the same YAML round trip and ack semantics as the
// broker. A nacked message with requeue goes back to the head of its queue.
type Memory struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

func NewMemory() *Memory {
	return &Memory{queues: map[string][][]byte{}}
}

func (m *Memory) CreateQueue(queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queue]; !ok {
		m.queues[queue] = nil
	}

	return nil
}

func (m *Memory) Publish(queue string, data interface{}) error {
	body, err := yaml.Marshal(data)

	if err != nil {
		return errors.Wrap(err, "unable to encode message")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queues[queue] = append(m.queues[queue], body)

	return nil
}

func (m *Memory) Consume(queue string, data interface{}) (bool, Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	messages := m.queues[queue]

	if len(messages) == 0 {
		return false, nil, nil
	}

	body := messages[0]
	m.queues[queue] = messages[1:]

	if err := yaml.Unmarshal(body, data); err != nil {
		return false, nil, errors.Wrapf(err, "unable to decode message from '%s'", queue)
	}

	return true, &memoryDelivery{queue: m, name: queue, body: body}, nil
}

// Len is the number of messages waiting in queue.
func (m *Memory) Len(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queues[queue])
}

func (m *Memory) Close() error {
	return nil
}

type memoryDelivery struct {
	queue *Memory
	name  string
	body  []byte
	done  bool
}

func (d *memoryDelivery) Ack() error {
	if d.done {
		return errors.New("message already acknowledged")
	}

	d.done = true

	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	if d.done {
		return errors.New("message already acknowledged")
	}

	d.done = true

	if requeue {
		d.queue.mu.Lock()
		d.queue.queues[d.name] = append([][]byte{d.body}, d.queue.queues[d.name]...)
		d.queue.mu.Unlock()
	}

	return nil
}
