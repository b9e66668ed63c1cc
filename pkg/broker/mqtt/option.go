package mqtt

import (
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

type Option func(m *MQTTBroker) error

// WithURL returns an Option which set the broker url.
func WithURL(u string) Option {
	return func(m *MQTTBroker) error {
		if u == "" {
			return errors.New("empty broker url")
		}
		uri, err := url.Parse(u)
		if err != nil {
			return err
		}
		if uri.Host == "" {
			return fmt.Errorf("broker url %q has no host", u)
		}
		m.uri = uri
		return nil
	}
}

// WithClientID returns an Option which set the broker client id.
func WithClientID(id string) Option {
	return func(m *MQTTBroker) error {
		m.clientID = id
		return nil
	}
}

// WithCredentials sets the username and password used when the url
// carries none.
func WithCredentials(username, password string) Option {
	return func(m *MQTTBroker) error {
		m.username = username
		m.password = password
		return nil
	}
}

// WithQoS sets the QoS of publications and subscriptions.
func WithQoS(qos byte) Option {
	return func(m *MQTTBroker) error {
		if qos > 2 {
			return fmt.Errorf("invalid qos %d", qos)
		}
		m.qos = qos
		return nil
	}
}

// WithLogger returns an Option which set the broker logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *MQTTBroker) error {
		m.logger = logger
		return nil
	}
}
