package executor

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/models"
)

// Option configures an Executor.
type Option func(e *Executor) error

// WithLogger sets the executor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) error {
		e.logger = logger
		return nil
	}
}

// WithTimeouts sets the connect, per-command and whole-device timeouts.
// Zero values keep the defaults.
func WithTimeouts(connect, command, device time.Duration) Option {
	return func(e *Executor) error {
		if connect < 0 || command < 0 || device < 0 {
			return errors.New("executor: negative timeout")
		}
		if connect > 0 {
			e.connectTimeout = connect
		}
		if command > 0 {
			e.commandTimeout = command
		}
		if device > 0 {
			e.deviceTimeout = device
		}
		return nil
	}
}

// WithDefaultTransport sets the transport used by devices that do not
// name one.
func WithDefaultTransport(transport string) Option {
	return func(e *Executor) error {
		switch transport {
		case "":
		case models.TransportSSH, models.TransportTelnet:
			e.transport = transport
		default:
			return fmt.Errorf("%w: %q", models.ErrInvalidTransport, transport)
		}
		return nil
	}
}

// WithKnownHostsFile enables SSH host key checking against path.
func WithKnownHostsFile(path string) Option {
	return func(e *Executor) error {
		e.knownHostsFile = path
		return nil
	}
}

// WithLegacyAlgorithms offers SHA1 key exchanges and CBC ciphers still
// found on older network gear.
func WithLegacyAlgorithms(enabled bool) Option {
	return func(e *Executor) error {
		e.legacyAlgorithms = enabled
		return nil
	}
}
