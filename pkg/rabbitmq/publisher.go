package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

// IPublisher is what the services depend on; tests swap in a recorder.
type IPublisher interface {
	PublishMessage(message interface{}) error
	PublishTo(topic string, message interface{}) error
	Close()
}

// Publisher publishes on a default topic, or on an explicit one via PublishTo.
type Publisher struct {
	client mqtt.Client
	topic  string
}

func NewPublisher(client mqtt.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

func (p *Publisher) PublishMessage(message interface{}) error {
	return p.PublishTo(p.topic, message)
}

// PublishTo sends strings and byte slices verbatim and anything else as JSON.
func (p *Publisher) PublishTo(topic string, message interface{}) error {
	payload, err := Encode(message)
	if err != nil {
		return err
	}
	token := p.client.Publish(topic, QosFor(topic), false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timed out after %s", topic, publishTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", topic, token.Error())
	}
	log.Printf("mqtt: published %d bytes to %s", len(payload), topic)
	return nil
}

func (p *Publisher) Close() {
	CloseRabbitMQConn(p.client)
}

func Encode(message interface{}) ([]byte, error) {
	switch m := message.(type) {
	case string:
		return []byte(m), nil
	case []byte:
		return m, nil
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode %T: %w", message, err)
		}
		return b, nil
	}
}
