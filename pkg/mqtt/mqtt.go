// Package mqtt is a property state store over MQTT broker.
//
// Every property has state topic "<prefix>/<device>/<channel>/<property>",
// retained states are cached, writes are published to the state topic with
// "/set" suffix. Payload is a JSON value, optionally wrapped in JSON object
// (zigbee2mqtt style) and selected with gjson path.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/fastybird/hapbridge/pkg/hap"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	ConnectTimeout = time.Second * 10
	PublishTimeout = time.Second * 5
)

var ErrNotConnected = errors.New("mqtt: not connected")

type Config struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	Path     string `yaml:"path"` // gjson path inside payload, ex. "state"
	QoS      byte   `yaml:"qos"`
}

type Store struct {
	Topic string
	Path  string
	QoS   byte

	Log zerolog.Logger

	client paho.Client

	values   map[hap.PropertyRef]any
	onUpdate func(ref hap.PropertyRef, value any)
	mu       sync.RWMutex
}

// Connect to broker and subscribe to all states under the topic prefix.
// Subscription is restored on every reconnect.
func Connect(cfg Config, log zerolog.Logger) (*Store, error) {
	s := &Store{
		Topic: strings.TrimRight(cfg.Topic, "/"),
		Path:  cfg.Path,
		QoS:   cfg.QoS,
		Log:   log,
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(ConnectTimeout).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.Log.Warn().Err(err).Msgf("[mqtt] connection lost")
		})

	s.client = paho.NewClient(opts)

	token := s.client.Connect()
	if !token.WaitTimeout(ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect timeout: %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", err)
	}

	return s, nil
}

func (s *Store) onConnect(client paho.Client) {
	topic := s.Topic + "/+/+/+"

	token := client.Subscribe(topic, s.QoS, func(_ paho.Client, msg paho.Message) {
		s.HandleMessage(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		s.Log.Error().Err(token.Error()).Msgf("[mqtt] subscribe %s", topic)
		return
	}

	s.Log.Debug().Msgf("[mqtt] subscribed %s", topic)
}

// HandleMessage caches state from topic and calls OnUpdate on change
func (s *Store) HandleMessage(topic string, payload []byte) {
	ref, ok := ParseTopic(s.Topic, topic)
	if !ok {
		return
	}

	value := DecodePayload(payload, s.Path)
	if value == nil {
		s.Log.Trace().Msgf("[mqtt] skip empty value %s", topic)
		return
	}

	s.mu.Lock()
	if s.values == nil {
		s.values = map[hap.PropertyRef]any{}
	}
	prev, exists := s.values[ref]
	s.values[ref] = value
	onUpdate := s.onUpdate
	s.mu.Unlock()

	if exists && reflect.DeepEqual(prev, value) {
		return
	}

	s.Log.Trace().Msgf("[mqtt] update %s=%v", ref, value)

	if onUpdate != nil {
		onUpdate(ref, value)
	}
}

// OnUpdate sets handler for pushed state changes. States received before
// are only cached.
func (s *Store) OnUpdate(handler func(ref hap.PropertyRef, value any)) {
	s.mu.Lock()
	s.onUpdate = handler
	s.mu.Unlock()
}

func (s *Store) ReadValue(_ context.Context, ref hap.PropertyRef) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.values[ref]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("mqtt: no state for %s", ref)
}

// WriteValue publishes value to the set topic and waits for delivery
// to broker. Cache is updated when device reports new state.
func (s *Store) WriteValue(ctx context.Context, ref hap.PropertyRef, value any) error {
	if s.client == nil {
		return ErrNotConnected
	}

	payload, err := EncodePayload(value)
	if err != nil {
		return err
	}

	topic := StateTopic(s.Topic, ref) + "/set"
	token := s.client.Publish(topic, s.QoS, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publish %s: %w", topic, ctx.Err())
	case <-time.After(PublishTimeout):
		return fmt.Errorf("mqtt: publish %s: timeout", topic)
	}

	if err = token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}

	s.Log.Trace().Msgf("[mqtt] publish %s=%s", topic, payload)
	return nil
}

func (s *Store) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

func StateTopic(prefix string, ref hap.PropertyRef) string {
	return prefix + "/" + ref.Device + "/" + ref.Channel + "/" + ref.Property
}

// ParseTopic returns property reference for "<prefix>/<device>/<channel>/<property>"
func ParseTopic(prefix, topic string) (hap.PropertyRef, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return hap.PropertyRef{}, false
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return hap.PropertyRef{}, false
	}

	return hap.PropertyRef{Device: parts[0], Channel: parts[1], Property: parts[2]}, true
}

// DecodePayload returns JSON value or raw string for non JSON payloads
func DecodePayload(payload []byte, path string) any {
	if len(payload) == 0 {
		return nil
	}

	if path != "" {
		return gjson.GetBytes(payload, path).Value()
	}

	if !gjson.ValidBytes(payload) {
		return string(payload)
	}

	return gjson.ParseBytes(payload).Value()
}

// EncodePayload writes strings as is and other values as JSON
func EncodePayload(value any) ([]byte, error) {
	if s, ok := value.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(value)
}
