package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Backplane carries room events between instances of the service. Every
// instance publishes to it and delivers what it receives to local sessions.
type Backplane interface {
	Publish(ctx context.Context, room string, ev Event) error
	// Subscribe starts delivering events for all rooms to fn and returns once
	// the subscription is established. Delivery stops when ctx is done.
	Subscribe(ctx context.Context, fn func(room string, ev Event)) error
	Close() error
}

// RedisBackplane fans out over Redis PUBLISH/PSUBSCRIBE, one channel per room.
type RedisBackplane struct {
	client *redis.Client
	prefix string
}

func NewRedisBackplane(client *redis.Client, prefix string) *RedisBackplane {
	if prefix == "" {
		prefix = "schoolbus:room:"
	}
	return &RedisBackplane{client: client, prefix: prefix}
}

func (b *RedisBackplane) Publish(ctx context.Context, room string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.prefix+room, payload).Err()
}

func (b *RedisBackplane) Subscribe(ctx context.Context, fn func(room string, ev Event)) error {
	ps := b.client.PSubscribe(ctx, b.prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	ch := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.WithError(err).Warn("backplane: dropping malformed event")
					continue
				}
				fn(strings.TrimPrefix(msg.Channel, b.prefix), ev)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (b *RedisBackplane) Close() error { return nil }

// MQTTBackplane fans out over an MQTT broker, one topic per room.
type MQTTBackplane struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewMQTTBackplane connects to broker (e.g. tcp://mosquitto:1883).
func NewMQTTBackplane(broker, clientID string) (*MQTTBackplane, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetConnectTimeout(10 * time.Second)
	client := mqtt.NewClient(opts)
	b := &MQTTBackplane{client: client, prefix: "schoolbus/rooms/", qos: 1, timeout: 10 * time.Second}
	if err := b.wait(client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func (b *MQTTBackplane) wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(b.timeout) {
		return errors.New("mqtt: timed out")
	}
	return tok.Error()
}

func (b *MQTTBackplane) Publish(_ context.Context, room string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.wait(b.client.Publish(b.prefix+room, b.qos, false, payload))
}

func (b *MQTTBackplane) Subscribe(ctx context.Context, fn func(room string, ev Event)) error {
	topic := b.prefix + "#"
	err := b.wait(b.client.Subscribe(topic, b.qos, func(_ mqtt.Client, m mqtt.Message) {
		var ev Event
		if err := json.Unmarshal(m.Payload(), &ev); err != nil {
			log.WithError(err).Warn("backplane: dropping malformed event")
			return
		}
		fn(strings.TrimPrefix(m.Topic(), b.prefix), ev)
	}))
	if err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}
	go func() {
		<-ctx.Done()
		b.client.Unsubscribe(topic)
	}()
	return nil
}

func (b *MQTTBackplane) Close() error {
	b.client.Disconnect(250)
	return nil
}
