// Package executor pulls configuration from one device over an
// interactive CLI session.
package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/scrapli/scrapligo/channel"
	"github.com/scrapli/scrapligo/driver/generic"
	scraplilogging "github.com/scrapli/scrapligo/logging"
	"github.com/scrapli/scrapligo/util"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/devicemodel"
	"github.com/bizflycloud/edna/pkg/models"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultCommandTimeout = 90 * time.Second
	defaultDeviceTimeout  = 5 * time.Minute
)

type phase int

const (
	phaseConnect phase = iota
	phaseEnable
	phaseCommand
)

type timeouts struct {
	connect time.Duration
	command time.Duration
}

// Executor runs a device model's commands against devices.
type Executor struct {
	connectTimeout   time.Duration
	commandTimeout   time.Duration
	deviceTimeout    time.Duration
	transport        string
	knownHostsFile   string
	legacyAlgorithms bool
	channelLog       *scraplilogging.Instance
	logger           *zap.Logger
}

// New creates an Executor. Devices use SSH unless they name a transport.
func New(opts ...Option) (*Executor, error) {
	e := &Executor{
		connectTimeout: defaultConnectTimeout,
		commandTimeout: defaultCommandTimeout,
		deviceTimeout:  defaultDeviceTimeout,
		transport:      models.TransportSSH,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		e.logger = l
	}
	if e.logger.Core().Enabled(zap.DebugLevel) {
		l, err := newChannelLog(e.logger.Named("channel"))
		if err != nil {
			e.logger.Warn("Failed to enable channel debug log", zap.Error(err))
		} else {
			e.channelLog = l
		}
	}
	return e, nil
}

// Run backs up one device. It never returns an error: failures are
// reported in the record.
func (e *Executor) Run(ctx context.Context, device *models.Device, model devicemodel.Model) *models.Record {
	started := time.Now()
	logger := e.logger.With(zap.String("device", device.Name), zap.String("host", device.Host), zap.String("device_type", device.DeviceType))

	content, err := e.run(ctx, device, model, logger)
	if err != nil {
		rec := models.NewFailedRecord(device.Name, started, err)
		logger.Warn("Device backup failed", zap.String("error_kind", string(rec.ErrorKind)), zap.Error(err), zap.Duration("elapsed", rec.ElapsedTime))
		return rec
	}
	rec := &models.Record{
		DeviceName:   device.Name,
		CreationTime: started,
		ElapsedTime:  time.Since(started),
		Status:       models.StatusSuccess,
		Content:      []byte(content),
	}
	logger.Info("Device backup pulled", zap.Int("bytes", len(rec.Content)), zap.Duration("elapsed", rec.ElapsedTime))
	return rec
}

func (e *Executor) run(ctx context.Context, device *models.Device, model devicemodel.Model, logger *zap.Logger) (string, error) {
	t := timeouts{connect: e.connectTimeout, command: e.commandTimeout}
	if device.Timeout > 0 {
		t.connect, t.command = device.Timeout, device.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, e.deviceTimeout)
	defer cancel()

	transportName := device.Transport
	if transportName == "" {
		transportName = e.transport
	}
	if _, ok := transportTypes[transportName]; !ok {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidTransport, transportName)
	}
	dialect := devicemodel.DialectOf(model)

	d, err := generic.NewDriver(device.Host, e.driverOptions(device, transportName, dialect, t)...)
	if err != nil {
		return "", fmt.Errorf("create driver: %w", err)
	}
	s := &session{d: d}
	defer s.close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-stop:
		}
	}()
	fail := func(ph phase, err error) (string, error) {
		if ctx.Err() != nil {
			err = fmt.Errorf("%v: %w", err, ctx.Err())
		}
		return "", classify(ph, err)
	}

	logger.Debug("Connecting", zap.String("transport", transportName))
	if err := s.open(ctx); err != nil {
		return fail(phaseConnect, err)
	}
	prompt, err := d.GetPrompt()
	if err != nil {
		return fail(phaseConnect, fmt.Errorf("read prompt: %w", err))
	}

	if device.EnableSecret != "" && dialect.PrivilegedPrompt != nil && dialect.EnableCommand != "" &&
		!dialect.PrivilegedPrompt.MatchString(prompt) {
		logger.Debug("Entering privileged mode")
		prompt, err = enable(d, dialect, device.EnableSecret)
		if err != nil {
			return fail(phaseEnable, err)
		}
	}

	exact, err := exactPrompt(prompt)
	if err != nil {
		return fail(phaseConnect, err)
	}
	d.Channel.PromptPattern = exact
	logger.Debug("Prompt detected", zap.String("prompt", strings.TrimSpace(prompt)))

	for _, cmd := range dialect.Setup {
		if _, err := d.SendCommand(cmd); err != nil {
			return fail(phaseCommand, fmt.Errorf("%s: %w", cmd, err))
		}
	}

	commands := model.Commands()
	blocks := make([]string, 0, len(commands))
	for _, cmd := range commands {
		resp, err := d.SendCommand(cmd)
		if err != nil {
			return fail(phaseCommand, fmt.Errorf("%s: %w", cmd, err))
		}
		blocks = append(blocks, fmt.Sprintf("! Command: %s\n%s\n", cmd, commandOutput(cmd, string(resp.RawResult), exact)))
	}
	return model.ProcessConfig(strings.Join(blocks, "\n")), nil
}

func enable(d *generic.Driver, dialect devicemodel.Dialect, secret string) (string, error) {
	_, err := d.SendInteractive([]*channel.SendInteractiveEvent{
		{ChannelInput: dialect.EnableCommand, ChannelResponse: "assword"},
		{ChannelInput: secret, HideInput: true},
	})
	if err != nil {
		return "", err
	}
	prompt, err := d.GetPrompt()
	if err != nil {
		return "", err
	}
	if !dialect.PrivilegedPrompt.MatchString(prompt) {
		return "", fmt.Errorf("%w: still unprivileged after %q", models.ErrPrivilegeFailed, dialect.EnableCommand)
	}
	return prompt, nil
}

// commandOutput strips the echoed command line and the prompt that ends
// raw. Everything in between is kept as the device sent it.
func commandOutput(cmd, raw string, prompt *regexp.Regexp) string {
	raw = strings.TrimLeft(raw, "\r\n")
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		if strings.HasSuffix(strings.TrimSpace(raw[:i]), cmd) {
			raw = raw[i+1:]
		}
	} else if strings.HasSuffix(strings.TrimSpace(raw), cmd) {
		return ""
	}

	raw = strings.TrimRight(raw, "\r\n")
	last := raw
	body := ""
	if i := strings.LastIndexByte(raw, '\n'); i >= 0 {
		body, last = raw[:i], raw[i+1:]
	}
	if prompt != nil && prompt.MatchString(strings.TrimRight(last, "\r")) {
		raw = body
	}
	return strings.TrimRight(raw, "\r\n")
}

var (
	authRejected = regexp.MustCompile(`(?i)unable to authenticate|authentication failed|permission denied`)
	timedOut     = regexp.MustCompile(`(?i)time(d)? ?out`)
)

// classify tags err with the error kind of the phase it happened in.
func classify(ph phase, err error) error {
	switch ph {
	case phaseConnect:
		switch {
		case errors.Is(err, models.ErrAuthFailed), errors.Is(err, models.ErrConnectTimeout):
			return err
		case errors.Is(err, util.ErrAuthError), authRejected.MatchString(err.Error()):
			return fmt.Errorf("%w: %v", models.ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %v", models.ErrConnectTimeout, err)
	case phaseEnable:
		switch {
		case errors.Is(err, models.ErrPrivilegeFailed):
			return err
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w: %v", models.ErrCommandTimeout, err)
		}
		return fmt.Errorf("%w: %v", models.ErrPrivilegeFailed, err)
	default:
		if errors.Is(err, util.ErrTimeoutError) || errors.Is(err, context.DeadlineExceeded) || timedOut.MatchString(err.Error()) {
			return fmt.Errorf("%w: %v", models.ErrCommandTimeout, err)
		}
		return err
	}
}

// session guards the driver against a close racing the open.
type session struct {
	d *generic.Driver

	mu     sync.Mutex
	opened bool
	closed bool
}

// open returns when the driver is open or ctx is done. A driver that
// finishes opening after that is closed right away.
func (s *session) open(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		err := s.d.Open()
		if err == nil {
			s.mu.Lock()
			s.opened = true
			if s.closed {
				_ = s.d.Close()
			}
			s.mu.Unlock()
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.close()
		return ctx.Err()
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.opened {
		_ = s.d.Close()
	}
}
