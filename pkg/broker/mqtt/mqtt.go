package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/broker"
)

const (
	clientDisconnectWaitTimeout = 250
	lastWillStatement           = `{"status": "OFFLINE"}`
)

var _ broker.Broker = (*MQTTBroker)(nil)

var ErrNoConnection = errors.New("no connection to broker server")

var tokenWaitTimeout = 3 * time.Second

// MQTTBroker implements broker.Broker on an MQTT server.
type MQTTBroker struct {
	uri      *url.URL
	username string
	password string
	clientID string
	client   mqtt.Client
	qos      byte
	retained bool
	logger   *zap.Logger

	// resubscribed on every (re)connect
	subscribeTopics  []string
	subscribeHandler broker.Handler
}

// NewBroker creates new mqtt broker.
func NewBroker(opts ...Option) (*MQTTBroker, error) {
	m := &MQTTBroker{qos: 1}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.uri == nil {
		return nil, errors.New("broker url is required")
	}
	if m.clientID == "" {
		m.clientID = "edna"
	}
	if m.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		m.logger = l
	}
	return m, nil
}

// serverURL maps mqtt:// and mqtts:// to the schemes paho dials.
func (m *MQTTBroker) serverURL() string {
	switch strings.ToLower(m.uri.Scheme) {
	case "mqtts", "ssl", "tls":
		return "ssl://" + m.uri.Host
	case "ws", "wss":
		return m.uri.Scheme + "://" + m.uri.Host + m.uri.Path
	default:
		return "tcp://" + m.uri.Host
	}
}

func (m *MQTTBroker) opts() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.serverURL())
	username := m.username
	if u := m.uri.User.Username(); u != "" {
		username = u
	}
	opts.SetUsername(username)
	password := m.password
	if p, isSet := m.uri.User.Password(); isSet {
		password = p
	}
	opts.SetPassword(password)
	opts.SetClientID(m.clientID)
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		m.logger.Info("Connected to broker", zap.String("client_id", m.clientID))
		if m.subscribeHandler != nil && len(m.subscribeTopics) > 0 {
			if err := m.Subscribe(m.subscribeTopics, m.subscribeHandler); err != nil {
				m.logger.Error("Subscribe to topics failed", zap.Error(err), zap.Strings("topics", m.subscribeTopics))
				return
			}
			m.logger.Debug("Subscribed to topics", zap.Strings("topics", m.subscribeTopics))
		}
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		m.logger.Error("Connection lost with broker", zap.Error(err))
	}
	opts.OnReconnecting = func(client mqtt.Client, opts *mqtt.ClientOptions) {
		m.logger.Warn("Trying to reconnect to broker")
	}

	opts.SetWill(m.willTopic(), lastWillStatement, 0, false)
	return opts
}

func (m *MQTTBroker) willTopic() string {
	return "edna/agent/" + m.clientID
}

// ConnectAndSubscribe connects and subscribes to subTopics again on every
// reconnect.
func (m *MQTTBroker) ConnectAndSubscribe(subHandler broker.Handler, subTopics []string) error {
	m.subscribeHandler = subHandler
	m.subscribeTopics = subTopics
	return m.Connect()
}

func (m *MQTTBroker) Connect() error {
	client := mqtt.NewClient(m.opts())
	token := client.Connect()
	for !token.WaitTimeout(tokenWaitTimeout) {
	}
	if err := token.Error(); err != nil {
		return err
	}
	m.client = client
	return nil
}

func (m *MQTTBroker) Disconnect() error {
	if m.client == nil {
		return ErrNoConnection
	}
	m.client.Disconnect(clientDisconnectWaitTimeout)
	return nil
}

func (m *MQTTBroker) Publish(topic string, payload interface{}) error {
	if m.client == nil {
		return ErrNoConnection
	}
	token := m.client.Publish(topic, m.qos, m.retained, payload)
	for !token.WaitTimeout(tokenWaitTimeout) {
	}
	return token.Error()
}

func (m *MQTTBroker) Subscribe(topics []string, h broker.Handler) error {
	if m.client == nil {
		return ErrNoConnection
	}
	if len(topics) == 0 {
		return errors.New("no topics provided")
	}
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = m.qos
	}

	token := m.client.SubscribeMultiple(filters, func(client mqtt.Client, msg mqtt.Message) {
		if err := h(broker.Event{
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			Duplicate: msg.Duplicate(),
			Qos:       msg.Qos(),
			Retained:  msg.Retained(),
			Ack:       msg.Ack,
		}); err != nil {
			m.logger.Error("Handle broker event failed", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	for !token.WaitTimeout(tokenWaitTimeout) {
	}
	return token.Error()
}

func (m *MQTTBroker) String() string {
	return fmt.Sprintf("Broker [%s]", m.clientID)
}
