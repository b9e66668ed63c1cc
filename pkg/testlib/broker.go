package testlib

import (
	"errors"
	"sync"

	"github.com/bizflycloud/edna/pkg/broker"
)

var _ broker.Broker = (*Broker)(nil)

// Published is a message sent through Broker.Publish.
type Published struct {
	Topic   string
	Payload []byte
}

// Broker is an in-memory broker.Broker.
type Broker struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]broker.Handler
	published []Published
}

func NewBroker() *Broker {
	return &Broker{handlers: make(map[string]broker.Handler)}
}

func (b *Broker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Broker) ConnectAndSubscribe(h broker.Handler, topics []string) error {
	if err := b.Connect(); err != nil {
		return err
	}
	return b.Subscribe(topics, h)
}

func (b *Broker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *Broker) Publish(topic string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return errors.New("not connected")
	}
	var buf []byte
	switch p := payload.(type) {
	case []byte:
		buf = p
	case string:
		buf = []byte(p)
	default:
		return errors.New("unsupported payload type")
	}
	b.published = append(b.published, Published{Topic: topic, Payload: buf})
	return nil
}

func (b *Broker) Subscribe(topics []string, h broker.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return errors.New("not connected")
	}
	for _, t := range topics {
		b.handlers[t] = h
	}
	return nil
}

func (b *Broker) String() string {
	return "Broker [memory]"
}

// Deliver hands payload to the handler subscribed on topic.
func (b *Broker) Deliver(topic string, payload []byte) error {
	b.mu.Lock()
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	if !ok {
		return errors.New("no subscriber on " + topic)
	}
	return h(broker.Event{Topic: topic, Payload: payload, Ack: func() {}})
}

// Subscribed reports whether a handler is registered on topic.
func (b *Broker) Subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

// Published returns a copy of the messages published so far.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}
