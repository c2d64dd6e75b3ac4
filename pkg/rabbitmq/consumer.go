package rabbitmq

import (
	"context"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	TopicReadings  = "sensor/readings"
	TopicDecisions = "event/irrigationDecision"
	TopicAdjust    = "event/adjustment"
	TopicLink      = "event/linkStatus"
	TopicPumpCmd   = "command/pump"
)

// Handler receives the subscribed topic filter and the message.
type Handler func(topic string, message mqtt.Message) error

type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler Handler)
}

type Consumer struct {
	client  mqtt.Client
	handler Handler
	topic   string
}

func NewConsumer(client mqtt.Client, topic string, handler Handler) *Consumer {
	return &Consumer{client: client, topic: topic, handler: handler}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// QosFor picks at-least-once for events and commands, at-most-once for raw readings.
func QosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, TopicDecisions) ||
		strings.HasPrefix(t, TopicAdjust) ||
		strings.HasPrefix(t, TopicLink) ||
		strings.HasPrefix(t, TopicPumpCmd) {
		return 1
	}
	return 0
}

// ConsumeMessage subscribes and blocks until ctx is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	token := c.client.Subscribe(c.topic, QosFor(c.topic), func(_ mqtt.Client, message mqtt.Message) {
		if c.handler == nil {
			log.Printf("mqtt: no handler set for topic %s", c.topic)
			return
		}
		if err := c.handler(c.topic, message); err != nil {
			log.Printf("mqtt: handling message on %s: %v", message.Topic(), err)
		}
	})
	if token.Wait() && token.Error() != nil {
		log.Printf("mqtt: subscribe %s: %v", c.topic, token.Error())
		return
	}
	log.Printf("mqtt: subscribed to %s", c.topic)

	<-ctx.Done()

	c.client.Unsubscribe(c.topic).Wait()
}
